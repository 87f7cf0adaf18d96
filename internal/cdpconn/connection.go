// Package cdpconn implements the mapper's outbound CDP transport: a single
// flattened-mode websocket to the browser, demultiplexed by sessionId into
// per-target Client views. This is the "CdpConnection"/"CdpClient" contract
// spec §6 describes, built on github.com/chromedp/cdproto for typed
// command/event payloads and github.com/gorilla/websocket for the socket
// itself — the latter reusing the teacher's Client.ReadPump/WritePump shape
// (bounded send channel, ping ticker, read-deadline-on-pong) adapted from
// one fan-out connection serving many BiDi clients to one dialed connection
// serving many CDP sessions.
package cdpconn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"bidimapper/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// EventHandler is invoked on the connection's read goroutine for every
// decoded CDP event. sessionID is "" for events delivered on the root
// browser session (e.g. Target.attachedToTarget). method and rawParams are
// the wire values the event was decoded from, carried alongside the typed
// event so a caller wanting a verbatim passthrough (the admin "cdp" module
// tunnel, spec §4.7) doesn't need to re-marshal it. Implementations should
// hand off to the single-threaded runner rather than mutate shared state
// directly.
type EventHandler func(sessionID, method string, rawParams json.RawMessage, event interface{})

// Connection is one dialed websocket to the browser's CDP endpoint,
// multiplexing every attached session's traffic (flattened mode).
type Connection struct {
	conn   *websocket.Conn
	send   chan []byte
	nextID int64

	mu      sync.Mutex
	pending map[int64]chan *cdproto.Message
	closed  bool

	onEvent EventHandler
	log     *zap.Logger
}

// Dial connects to browserURL (the base CDP endpoint; /json/version is used
// to resolve the real websocket URL, as the teacher's GetBrowserInfo does)
// and starts the read/write pumps.
func Dial(ctx context.Context, browserURL string, timeout time.Duration, onEvent EventHandler) (*Connection, error) {
	wsURL, err := resolveWebSocketURL(browserURL)
	if err != nil {
		return nil, fmt.Errorf("resolving browser websocket url: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing browser websocket: %w", err)
	}

	c := &Connection{
		conn:    conn,
		send:    make(chan []byte, 256),
		pending: make(map[int64]chan *cdproto.Message),
		onEvent: onEvent,
		log:     logging.For(logging.NamespaceCDP, "connection"),
	}

	go c.readPump()
	go c.writePump()

	return c, nil
}

// resolveWebSocketURL mirrors the teacher's GetBrowserInfo: fetch
// /json/version and use the webSocketDebuggerUrl it reports, since the
// caller-supplied URL is usually an http(s) base, not the real ws endpoint.
func resolveWebSocketURL(browserURL string) (string, error) {
	base := browserURL
	if strings.HasPrefix(base, "ws:") {
		base = "http:" + base[3:]
	} else if strings.HasPrefix(base, "wss:") {
		base = "https:" + base[4:]
	}
	if idx := strings.Index(base, "/json/"); idx != -1 {
		base = base[:idx]
	}
	base = strings.TrimSuffix(base, "/")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(base + "/json/version")
	if err != nil {
		return "", fmt.Errorf("fetching /json/version: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("parsing /json/version: %w", err)
	}
	if result.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("browser did not report a webSocketDebuggerUrl")
	}

	parsedOriginal, err := url.Parse(browserURL)
	if err == nil {
		if parsedWS, err := url.Parse(result.WebSocketDebuggerURL); err == nil {
			parsedWS.Host = parsedOriginal.Host
			return parsedWS.String(), nil
		}
	}
	return result.WebSocketDebuggerURL, nil
}

// BrowserClient returns the root session client (sessionId omitted).
func (c *Connection) BrowserClient() *Client {
	return &Client{conn: c, sessionID: ""}
}

// GetClient returns a view of the connection scoped to sessionID. Every
// command sent through it carries sessionId; every event routed to it by
// the read pump is the one tagged with that sessionId.
func (c *Connection) GetClient(sessionID string) *Client {
	return &Client{conn: c, sessionID: sessionID}
}

// Close closes the underlying websocket; pending commands resolve with a
// close-class error.
func (c *Connection) Close() error {
	c.mu.Lock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Connection) nextMessageID() int64 {
	return atomic.AddInt64(&c.nextID, 1)
}

func (c *Connection) sendRaw(payload []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClosed
	}
	c.mu.Unlock()

	select {
	case c.send <- payload:
		return nil
	default:
		return fmt.Errorf("cdp connection: send buffer full")
	}
}

func (c *Connection) registerPending(id int64) chan *cdproto.Message {
	ch := make(chan *cdproto.Message, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	return ch
}

func (c *Connection) resolvePending(id int64, msg *cdproto.Message) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		ch <- msg
	}
}

func (c *Connection) readPump() {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.log.Debug("read pump exiting", zap.Error(err))
			c.Close()
			return
		}
		c.handleIncoming(data)
	}
}

func (c *Connection) handleIncoming(data []byte) {
	var msg cdproto.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Warn("failed to decode cdp message", zap.Error(err))
		return
	}

	if msg.ID != 0 {
		c.resolvePending(int64(msg.ID), &msg)
		return
	}
	if msg.Method == "" {
		return
	}

	event, err := cdproto.UnmarshalMessage(&msg)
	if err != nil {
		c.log.Debug("failed to decode cdp event, passing through raw", zap.String("method", string(msg.Method)), zap.Error(err))
		event = RawEvent{method: string(msg.Method), params: json.RawMessage(msg.Params)}
	}

	if c.onEvent != nil {
		c.onEvent(string(msg.SessionID), string(msg.Method), json.RawMessage(msg.Params), event)
	}
}

// RawEvent is the event value passed to the EventHandler when an event's
// domain/method is not one cdproto models (or a future CDP addition it
// doesn't yet know about). The handler receives the raw params alongside
// it for every event, decoded or not.
type RawEvent struct {
	method string
	params json.RawMessage
}

func (r RawEvent) Method() string          { return r.method }
func (r RawEvent) Params() json.RawMessage { return r.params }

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Debug("write pump exiting", zap.Error(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
