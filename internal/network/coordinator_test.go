package network

import (
	"context"
	"testing"

	cdpfetch "github.com/chromedp/cdproto/fetch"
	cdpnetwork "github.com/chromedp/cdproto/network"

	"bidimapper/internal/runner"
	"bidimapper/internal/target"
)

type fakeCtxResolver struct {
	ancestry    map[string][]string
	descendants map[string][]string
	topLevel    map[string]string
}

func (f *fakeCtxResolver) AncestorChain(id string) []string  { return f.ancestry[id] }
func (f *fakeCtxResolver) Descendants(id string) []string    { return f.descendants[id] }
func (f *fakeCtxResolver) FindTopLevelContextID(id string) string {
	if v, ok := f.topLevel[id]; ok {
		return v
	}
	return id
}

type recordedEvent struct {
	method, contextID string
	params             interface{}
}

type recordingSink struct {
	events []recordedEvent
}

func (s *recordingSink) EmitEvent(method, contextID string, params interface{}) {
	s.events = append(s.events, recordedEvent{method, contextID, params})
}

func newTestCoordinator() (*Coordinator, *recordingSink) {
	storage := NewStorage()
	sink := &recordingSink{}
	subs := runner.NewSubscriptionManager(fakeSubAncestry{})
	subs.Subscribe([]string{"network"}, nil)
	events := runner.NewEventManager(subs, sink, 1024)
	ctxs := &fakeCtxResolver{ancestry: map[string][]string{"ctx-1": {"ctx-1"}}}
	return NewCoordinator(storage, events, subs, ctxs, nil), sink
}

// fakeSubAncestry satisfies runner.Ancestry with no ancestors beyond self.
type fakeSubAncestry struct{}

func (fakeSubAncestry) AncestorChain(id string) []string { return []string{id} }

func TestHandleRequestWillBeSentEmitsBeforeRequestSent(t *testing.T) {
	c, sink := newTestCoordinator()

	ev := &cdpnetwork.EventRequestWillBeSent{
		RequestID: "req-1",
		Request: &cdpnetwork.Request{
			URL:     "https://example.com/",
			Method:  "GET",
			Headers: cdpnetwork.Headers{"Accept": "text/html"},
		},
	}
	c.HandleRequestWillBeSent(context.Background(), "sess-1", "target-1", "ctx-1", ev)

	req := c.storage.Get("req-1")
	if req == nil {
		t.Fatal("expected the request to be tracked")
	}
	if req.Phase != PhaseBeforeRequestSent {
		t.Errorf("phase = %v, want PhaseBeforeRequestSent", req.Phase)
	}
	if len(sink.events) != 1 || sink.events[0].method != "network.beforeRequestSent" {
		t.Fatalf("expected one beforeRequestSent event, got %v", sink.events)
	}
}

func TestHandleRequestWillBeSentRedirectRestartsLifecycle(t *testing.T) {
	c, sink := newTestCoordinator()

	first := &cdpnetwork.EventRequestWillBeSent{
		RequestID: "req-1",
		Request:   &cdpnetwork.Request{URL: "https://example.com/a", Method: "GET"},
	}
	c.HandleRequestWillBeSent(context.Background(), "sess-1", "target-1", "ctx-1", first)

	redirect := &cdpnetwork.EventRequestWillBeSent{
		RequestID:        "req-1",
		Request:          &cdpnetwork.Request{URL: "https://example.com/b", Method: "GET"},
		RedirectResponse: &cdpnetwork.Response{Status: 302},
	}
	c.HandleRequestWillBeSent(context.Background(), "sess-1", "target-1", "ctx-1", redirect)

	req := c.storage.Get("req-1")
	if req == nil {
		t.Fatal("request should still be tracked under the same id across a redirect")
	}
	if req.RedirectCount != 1 {
		t.Errorf("RedirectCount = %d, want 1", req.RedirectCount)
	}
	if req.URL != "https://example.com/b" {
		t.Errorf("URL = %q, want the redirected location", req.URL)
	}
	if req.StatusCode != 302 {
		t.Errorf("StatusCode = %d, want the redirect leg's status recorded before reset", req.StatusCode)
	}
	if len(sink.events) != 3 {
		t.Fatalf("expected responseStarted for the completed leg plus beforeRequestSent for the new one, got %d events", len(sink.events))
	}
	if sink.events[1].method != "network.responseStarted" {
		t.Errorf("events[1] = %q, want network.responseStarted to close out the redirected leg", sink.events[1].method)
	}
	if sink.events[2].method != "network.beforeRequestSent" {
		t.Errorf("events[2] = %q, want network.beforeRequestSent to open the new leg", sink.events[2].method)
	}
}

func TestExtraInfoArrivingBeforePrimaryEventIsNotLost(t *testing.T) {
	c, _ := newTestCoordinator()

	c.HandleRequestWillBeSentExtraInfo("sess-1", "target-1", "ctx-1", &cdpnetwork.EventRequestWillBeSentExtraInfo{
		RequestID: "req-1",
		Headers:   cdpnetwork.Headers{"Cookie": "a=b"},
	})

	req := c.storage.Get("req-1")
	if req == nil {
		t.Fatal("a placeholder request should be created for extra-info arriving early")
	}
	if req.RequestExtraInfo["Cookie"] != "a=b" {
		t.Errorf("RequestExtraInfo = %v, want the merged header", req.RequestExtraInfo)
	}

	ev := &cdpnetwork.EventRequestWillBeSent{
		RequestID: "req-1",
		Request:   &cdpnetwork.Request{URL: "https://example.com/", Method: "GET"},
	}
	c.HandleRequestWillBeSent(context.Background(), "sess-1", "target-1", "ctx-1", ev)

	if c.storage.Get("req-1").RequestExtraInfo["Cookie"] != "a=b" {
		t.Error("the early extra-info merge should survive the primary event arriving afterwards")
	}
}

func TestHandleResponseReceivedSetsStatusAndPhase(t *testing.T) {
	c, sink := newTestCoordinator()
	c.storage.Insert("sess-1", NewRequest("req-1", "sess-1", "ctx-1", "target-1"))

	c.HandleResponseReceived(&cdpnetwork.EventResponseReceived{
		RequestID: "req-1",
		Response:  &cdpnetwork.Response{Status: 200},
	})

	req := c.storage.Get("req-1")
	if req.StatusCode != 200 || req.Phase != PhaseResponseStarted {
		t.Errorf("got status=%d phase=%v, want 200/responseStarted", req.StatusCode, req.Phase)
	}
	if len(sink.events) != 1 || sink.events[0].method != "network.responseStarted" {
		t.Fatalf("expected a responseStarted event, got %v", sink.events)
	}
}

func TestHandleResponseReceivedUnknownRequestIsNoop(t *testing.T) {
	c, sink := newTestCoordinator()
	c.HandleResponseReceived(&cdpnetwork.EventResponseReceived{RequestID: "missing", Response: &cdpnetwork.Response{}})
	if len(sink.events) != 0 {
		t.Error("an unknown request id should not emit anything")
	}
}

func TestHandleRequestServedFromCacheRemovesRequest(t *testing.T) {
	c, _ := newTestCoordinator()
	c.storage.Insert("sess-1", NewRequest("req-1", "sess-1", "ctx-1", "target-1"))

	c.HandleRequestServedFromCache(&cdpnetwork.EventRequestServedFromCache{RequestID: "req-1"})

	if c.storage.Get("req-1") != nil {
		t.Error("a cache-served request should be removed from tracking")
	}
}

func TestHandleLoadingFailedEmitsFetchErrorAndRemoves(t *testing.T) {
	c, sink := newTestCoordinator()
	req := NewRequest("req-1", "sess-1", "ctx-1", "target-1")
	c.storage.Insert("sess-1", req)

	c.HandleLoadingFailed(&cdpnetwork.EventLoadingFailed{RequestID: "req-1", ErrorText: "net::ERR_FAILED"})

	if len(sink.events) != 1 || sink.events[0].method != "network.fetchError" {
		t.Fatalf("expected a fetchError event, got %v", sink.events)
	}
	params := sink.events[0].params.(FetchErrorParams)
	if params.Error != "net::ERR_FAILED" {
		t.Errorf("Error = %q, want the CDP error text", params.Error)
	}
	if c.storage.Get("req-1") != nil {
		t.Error("a terminally-failed request should be removed from tracking")
	}
}

func TestHandleLoadingFinishedEmitsResponseCompletedAndRemoves(t *testing.T) {
	c, sink := newTestCoordinator()
	req := NewRequest("req-1", "sess-1", "ctx-1", "target-1")
	req.StatusCode = 200
	c.storage.Insert("sess-1", req)

	c.HandleLoadingFinished(&cdpnetwork.EventLoadingFinished{RequestID: "req-1"})

	if len(sink.events) != 1 || sink.events[0].method != "network.responseCompleted" {
		t.Fatalf("expected a responseCompleted event, got %v", sink.events)
	}
	params := sink.events[0].params.(ResponseCompletedParams)
	if params.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want the status recorded at responseStarted", params.StatusCode)
	}
	if c.storage.Get("req-1") != nil {
		t.Error("a terminally-completed request should be removed from tracking")
	}
}

func TestHandleFetchRequestPausedTracksByFetchID(t *testing.T) {
	c, _ := newTestCoordinator()
	c.storage.Insert("sess-1", NewRequest("req-1", "sess-1", "ctx-1", "target-1"))

	c.HandleFetchRequestPaused(context.Background(), nil, &cdpfetch.EventRequestPaused{
		RequestID: "fetch-1",
		NetworkID: "req-1",
		Request:   &cdpnetwork.Request{URL: "https://example.com/"},
	})

	if c.storage.GetByFetchID("fetch-1") == nil {
		t.Fatal("expected the request to be indexed by its new fetch id")
	}
}

func TestHandleFetchRequestPausedCreatesRecordWhenUnknown(t *testing.T) {
	c, _ := newTestCoordinator()
	tgt := &target.Target{ID: "target-1", SessionID: "sess-1"}

	c.HandleFetchRequestPaused(context.Background(), tgt, &cdpfetch.EventRequestPaused{
		RequestID: "fetch-1",
		Request:   &cdpnetwork.Request{URL: "https://example.com/", Method: "GET"},
	})

	req := c.storage.GetByFetchID("fetch-1")
	if req == nil {
		t.Fatal("a request paused with no prior Network event should still get tracked")
	}
	if req.URL != "https://example.com/" {
		t.Errorf("URL = %q, want the paused request's URL", req.URL)
	}
}

func TestDisposeSessionRemovesAllRequestsForSession(t *testing.T) {
	c, sink := newTestCoordinator()
	c.storage.Insert("sess-1", NewRequest("a", "sess-1", "ctx-1", "target-1"))
	c.storage.Insert("sess-1", NewRequest("b", "sess-1", "ctx-1", "target-1"))
	c.storage.Insert("sess-2", NewRequest("c", "sess-2", "ctx-1", "target-1"))

	c.DisposeSession("sess-1")

	if c.storage.Get("a") != nil || c.storage.Get("b") != nil {
		t.Error("every request tied to the detached session should be removed")
	}
	if c.storage.Get("c") == nil {
		t.Error("requests belonging to other sessions must survive")
	}

	var fetchErrors int
	for _, e := range sink.events {
		if e.method == "network.fetchError" {
			fetchErrors++
		}
	}
	if fetchErrors != 2 {
		t.Errorf("expected a fetchError for each disposed request, got %d", fetchErrors)
	}
}

func TestDisposeSessionSkipsFetchErrorForAlreadyTerminalRequests(t *testing.T) {
	c, sink := newTestCoordinator()
	req := NewRequest("a", "sess-1", "ctx-1", "target-1")
	req.Phase = PhaseTerminal
	c.storage.Insert("sess-1", req)

	c.DisposeSession("sess-1")

	for _, e := range sink.events {
		if e.method == "network.fetchError" {
			t.Error("a request already settled should not get a second terminal event")
		}
	}
}
