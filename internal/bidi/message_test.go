package bidi

import "testing"

func TestParseCommandDecodesMethodAndParams(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"id":7,"method":"session.subscribe","params":{"events":["network"]}}`))
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if cmd.ID != 7 || cmd.Method != "session.subscribe" {
		t.Errorf("got id=%d method=%q, want 7/session.subscribe", cmd.ID, cmd.Method)
	}
}

func TestParseCommandMissingMethodErrors(t *testing.T) {
	if _, err := ParseCommand([]byte(`{"id":1,"params":{}}`)); err == nil {
		t.Error("expected an error for a frame with no method")
	}
}

func TestParseCommandInvalidJSONErrors(t *testing.T) {
	if _, err := ParseCommand([]byte(`not json`)); err == nil {
		t.Error("expected an error for unparseable JSON")
	}
}

func TestNewSuccessDefaultsNilResultToEmptyObject(t *testing.T) {
	res := NewSuccess(3, nil)
	if res.Type != "success" || res.ID != 3 {
		t.Fatalf("unexpected envelope %+v", res)
	}
	if res.Result == nil {
		t.Error("a nil result should default to an empty object, not nil")
	}
}

func TestNewErrorAndNewEventShapes(t *testing.T) {
	errRes := NewError(5, "no such intercept", "intercept \"x\" does not exist")
	if errRes.Type != "error" || errRes.ID != 5 || errRes.Error != "no such intercept" {
		t.Errorf("unexpected error envelope %+v", errRes)
	}

	ev := NewEvent("network.beforeRequestSent", map[string]string{"context": "c1"})
	if ev.Type != "event" || ev.Method != "network.beforeRequestSent" {
		t.Errorf("unexpected event envelope %+v", ev)
	}
}
