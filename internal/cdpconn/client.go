package cdpconn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"
)

var errClosed = errors.New("cdp connection closed")

// CloseError wraps whatever CDP reported when a command failed because its
// target or session had already gone away. Spec §4.2's failure policy
// ("close"-class errors resolve the unblock deferred as success, not
// error) depends on distinguishing this from a genuine protocol error.
type CloseError struct {
	Message string
}

func (e *CloseError) Error() string { return e.Message }

// Client is a session-scoped view of a Connection. It implements
// cdp.Executor, so any github.com/chromedp/cdproto command can be issued
// through it directly via action.Do(cdp.WithExecutor(ctx, client)), the
// idiom used throughout the example corpus (chromedp, grafana-xk6-browser).
type Client struct {
	conn      *Connection
	sessionID string
}

// SessionID returns the CDP session this client is bound to, "" for the
// root browser session.
func (c *Client) SessionID() string { return c.sessionID }

// Execute implements cdp.Executor.
func (c *Client) Execute(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	result, err := c.SendCommand(ctx, method, params)
	if err != nil {
		return err
	}
	if res != nil && len(result) > 0 {
		if err := easyjson.Unmarshal(result, res); err != nil {
			return fmt.Errorf("unmarshalling result of %s: %w", method, err)
		}
	}
	return nil
}

// SendCommand sends a raw CDP command and returns its raw JSON result, or
// an error — a *CloseError if the failure looks like "target vanished"
// rather than a genuine protocol error (spec §4.2, §7).
func (c *Client) SendCommand(ctx context.Context, method string, params easyjson.Marshaler) (json.RawMessage, error) {
	id := c.conn.nextMessageID()

	var paramsBytes easyjson.RawMessage
	if params != nil {
		b, err := easyjson.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshalling params for %s: %w", method, err)
		}
		paramsBytes = b
	}

	msg := &cdproto.Message{
		ID:     id,
		Method: cdproto.MethodType(method),
		Params: paramsBytes,
	}
	if c.sessionID != "" {
		msg.SessionID = target.SessionID(c.sessionID)
	}

	payload, err := easyjson.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshalling message for %s: %w", method, err)
	}

	ch := c.conn.registerPending(id)
	if err := c.conn.sendRaw(payload); err != nil {
		c.conn.resolvePending(id, nil)
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok || resp == nil {
			return nil, &CloseError{Message: "target detached before command completed"}
		}
		if resp.Error != nil {
			if looksLikeCloseError(resp.Error.Message) {
				return nil, &CloseError{Message: resp.Error.Message}
			}
			return nil, fmt.Errorf("cdp error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return json.RawMessage(resp.Result), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsCloseError reports whether err represents the target/session having
// already vanished, rather than a genuine protocol error. Per spec §4.2's
// failure policy, close-class errors during unblock resolve as success.
func (c *Client) IsCloseError(err error) bool {
	if err == nil {
		return false
	}
	var ce *CloseError
	if errors.As(err, &ce) {
		return true
	}
	return looksLikeCloseError(err.Error())
}

func looksLikeCloseError(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "not attached to an active page") ||
		strings.Contains(lower, "no target with given id found") ||
		strings.Contains(lower, "session with given id not found") ||
		strings.Contains(lower, "target closed")
}
