package bidierror

import (
	"errors"
	"testing"
)

func TestErrorFormatsCodeAndMessage(t *testing.T) {
	err := New(NoSuchFrame, "no such context with id %q", "abc")
	if err.Error() != `no such frame: no such context with id "abc"` {
		t.Errorf("unexpected Error() string: %s", err.Error())
	}
	if err.Code != NoSuchFrame {
		t.Errorf("Code = %s, want %s", err.Code, NoSuchFrame)
	}
}

func TestWrapKeepsCauseReachable(t *testing.T) {
	cause := errors.New("underlying failure")
	err := Wrap(UnknownError, cause, "something broke")

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if got := err.Unwrap(); got != cause {
		t.Errorf("Unwrap() = %v, want %v", got, cause)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		code Code
	}{
		{"no such frame", NoSuchFrameErr("ctx-1"), NoSuchFrame},
		{"no such intercept", NoSuchInterceptErr("bogus"), NoSuchIntercept},
		{"no such alert", NoSuchAlertErr("ctx-1"), NoSuchAlert},
		{"no such script", NoSuchScriptErr("script-1"), NoSuchScript},
		{"no such user context", NoSuchUserContextErr("uc-1"), NoSuchUserContext},
		{"unknown command", UnknownCommandErr("foo.bar"), UnknownCommand},
		{"invalid argument", InvalidArgumentErr("bad: %s", "reason"), InvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %s, want %s", tt.err.Code, tt.code)
			}
			if tt.err.Message == "" {
				t.Error("Message should not be empty")
			}
		})
	}
}

// TestNoSuchInterceptMessageMentionsID covers spec.md S6: removing an
// unknown intercept must surface the id in the message.
func TestNoSuchInterceptMessageMentionsID(t *testing.T) {
	err := NoSuchInterceptErr("bogus")
	if err.Code != NoSuchIntercept {
		t.Errorf("Code = %s, want %s", err.Code, NoSuchIntercept)
	}
	want := `intercept "bogus" does not exist`
	if err.Message != want {
		t.Errorf("Message = %q, want %q", err.Message, want)
	}
}
