// Package bidierror defines the BiDi error codes the command dispatcher can
// translate into an ErrorResult, per spec §7.
package bidierror

import "fmt"

// Code is one of the ErrorCode strings the BiDi spec mandates.
type Code string

const (
	InvalidArgument  Code = "invalid argument"
	NoSuchFrame      Code = "no such frame"
	NoSuchScript     Code = "no such script"
	NoSuchIntercept  Code = "no such intercept"
	NoSuchUserContext Code = "no such user context"
	NoSuchAlert      Code = "no such alert"
	UnknownCommand   Code = "unknown command"
	UnknownError     Code = "unknown error"
)

// Error is a client-facing BiDi error: its Code and Message are surfaced
// verbatim to the caller. Internal errors should not be wrapped in an Error
// unless they are meant to cross the command-dispatcher boundary.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a client-facing error with the given code and message.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a client-facing code/message to an internal cause, keeping
// the cause reachable via errors.Unwrap for logging.
func Wrap(code Code, cause error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

func NoSuchFrameErr(contextID string) *Error {
	return New(NoSuchFrame, "no such context with id %q", contextID)
}

func NoSuchInterceptErr(interceptID string) *Error {
	return New(NoSuchIntercept, "intercept %q does not exist", interceptID)
}

func NoSuchAlertErr(contextID string) *Error {
	return New(NoSuchAlert, "no dialog is showing in context %q", contextID)
}

func NoSuchScriptErr(scriptID string) *Error {
	return New(NoSuchScript, "preload script %q does not exist", scriptID)
}

func NoSuchUserContextErr(userContextID string) *Error {
	return New(NoSuchUserContext, "no such user context %q", userContextID)
}

func UnknownCommandErr(method string) *Error {
	return New(UnknownCommand, "unknown command %q", method)
}

func InvalidArgumentErr(format string, args ...interface{}) *Error {
	return New(InvalidArgument, format, args...)
}
