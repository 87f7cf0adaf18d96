// Package transport implements the BiDi-facing side of the mapper: a
// websocket server accepting one test-automation client (spec §6,
// "Persisted state: None" — a mapper serves exactly one BiDi session for
// its lifetime) and framing commands/results/events per internal/bidi.
// Adapted from the teacher's browser.Client Read/WritePump shape
// (internal/browser/client.go), now serving BiDi frames outbound instead
// of relaying raw CDP.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"bidimapper/internal/bidi"
	"bidimapper/internal/bidierror"
	"bidimapper/internal/logging"
	"bidimapper/internal/runner"
)

// DispatcherFactory builds the command dispatcher once the single BiDi
// client has connected, wiring the processor's event sink to that
// connection (spec §6: a mapper is a single ephemeral BiDi session, so the
// whole processor graph is constructed on first connect, not at startup).
type DispatcherFactory func(sink runner.Sink) *bidi.Dispatcher

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server accepts the single BiDi client connection and drives it through a
// bidi.Dispatcher built by factory once that connection exists. Runs as an
// http.Handler.
type Server struct {
	factory        DispatcherFactory
	maxMessageSize int64
	commandTimeout time.Duration

	mu     sync.Mutex
	taken  bool

	log *zap.Logger
}

func NewServer(factory DispatcherFactory, maxMessageSize int64, commandTimeout time.Duration) *Server {
	return &Server{
		factory:        factory,
		maxMessageSize: maxMessageSize,
		commandTimeout: commandTimeout,
		log:            logging.For(logging.NamespaceBiDi, "transport"),
	}
}

// ServeHTTP upgrades the connection and runs its read/write pumps until it
// closes. Implements http.Handler so it can be mounted directly on a mux.
// Only the first connection is accepted; per spec §6 the mapper serves a
// single ephemeral BiDi session for its lifetime.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.taken {
		s.mu.Unlock()
		http.Error(w, "mapper already has an active BiDi session", http.StatusConflict)
		return
	}
	s.taken = true
	s.mu.Unlock()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &clientConn{
		conn:       conn,
		send:       make(chan []byte, 256),
		cmdTimeout: s.commandTimeout,
		log:        s.log,
	}
	if s.maxMessageSize > 0 {
		conn.SetReadLimit(s.maxMessageSize)
	}
	c.dispatcher = s.factory(c)
	if c.dispatcher == nil {
		s.log.Warn("dispatcher factory returned nil, closing connection")
		conn.Close()
		return
	}

	go c.writePump()
	c.readPump()
}

// clientConn is one BiDi client's socket plumbing, mirroring the teacher's
// Client.ReadPump/WritePump (ping ticker, read-deadline-on-pong, bounded
// send channel) adapted to emit bidi.SuccessResult/ErrorResult/Event
// frames instead of raw CDP passthrough.
type clientConn struct {
	conn       *websocket.Conn
	send       chan []byte
	dispatcher *bidi.Dispatcher
	cmdTimeout time.Duration
	log        *zap.Logger
}

// EmitEvent implements runner.Sink: frames and enqueues a BiDi event.
// Called from the processor's runner goroutine.
func (c *clientConn) EmitEvent(method, contextID string, params interface{}) {
	frame, err := json.Marshal(bidi.NewEvent(method, params))
	if err != nil {
		c.log.Warn("failed to marshal event", zap.String("method", method), zap.Error(err))
		return
	}
	c.enqueue(frame)
}

func (c *clientConn) enqueue(payload []byte) {
	select {
	case c.send <- payload:
	default:
		c.log.Warn("client send buffer full, dropping frame")
	}
}

func (c *clientConn) readPump() {
	defer close(c.send)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.log.Debug("client read pump exiting", zap.Error(err))
			return
		}
		c.handleFrame(data)
	}
}

func (c *clientConn) handleFrame(data []byte) {
	cmd, err := bidi.ParseCommand(data)
	if err != nil {
		// No id could be read from the frame, so the error frame carries none.
		frame, _ := json.Marshal(struct {
			Type    string `json:"type"`
			Error   string `json:"error"`
			Message string `json:"message"`
		}{"error", string(bidierror.InvalidArgument), err.Error()})
		c.enqueue(frame)
		return
	}

	ctx := context.Background()
	if c.cmdTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cmdTimeout)
		defer cancel()
	}

	result, err := c.dispatcher.Dispatch(ctx, cmd)
	if err != nil {
		code, message := bidierror.InvalidArgument, err.Error()
		if be, ok := asBidiError(err); ok {
			code, message = be.Code, be.Message
		}
		frame, _ := json.Marshal(bidi.NewError(cmd.ID, string(code), message))
		c.enqueue(frame)
		return
	}

	frame, err := json.Marshal(bidi.NewSuccess(cmd.ID, result))
	if err != nil {
		c.log.Warn("failed to marshal success result", zap.Error(err))
		return
	}
	c.enqueue(frame)
}

func asBidiError(err error) (*bidierror.Error, bool) {
	be, ok := err.(*bidierror.Error)
	return be, ok
}

func (c *clientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
