package runner

import (
	"go.uber.org/zap"

	"bidimapper/internal/logging"
)

// Sink receives fully-formed BiDi events ready to frame and send to the
// client. Only one is active per mapper process, since a mapper is a single
// ephemeral BiDi session (spec §6, "Persisted state: None").
type Sink interface {
	EmitEvent(method string, contextID string, params interface{})
}

// bufferableModules are the BiDi modules the spec requires buffering for
// (spec §4.6: "chiefly log.* and network.*"). Events on other modules that
// arrive before any matching subscriber exists are simply dropped.
var bufferableModules = map[string]struct{}{
	"log":     {},
	"network": {},
}

type bufferedEvent struct {
	method    string
	contextID string
	params    interface{}
}

type bufferKey struct {
	module    string
	contextID string
}

// EventManager buffers, orders, and dispatches BiDi events, respecting
// subscriptions (spec §4.6).
type EventManager struct {
	subs        *SubscriptionManager
	sink        Sink
	bufferLimit int

	buffers   map[bufferKey][]bufferedEvent
	destroyed map[string]struct{}

	log *zap.Logger
}

func NewEventManager(subs *SubscriptionManager, sink Sink, bufferLimit int) *EventManager {
	return &EventManager{
		subs:        subs,
		sink:        sink,
		bufferLimit: bufferLimit,
		buffers:     make(map[bufferKey][]bufferedEvent),
		destroyed:   make(map[string]struct{}),
		log:         logging.For(logging.NamespaceBiDi, "event-manager"),
	}
}

// RegisterEvent delivers method/params immediately if a matching
// subscription already exists; otherwise it buffers the event (if its
// module is bufferable) for delivery once a matching subscription appears.
// Must be called on the runner goroutine.
func (m *EventManager) RegisterEvent(method, contextID string, params interface{}) {
	if contextID != "" {
		if _, gone := m.destroyed[contextID]; gone {
			return // spec: no event after contextDestroyed for that context
		}
	}

	if m.subs.IsSubscribedTo(method, contextID) {
		m.sink.EmitEvent(method, contextID, params)
		return
	}

	module := moduleOf(method)
	if _, bufferable := bufferableModules[module]; !bufferable {
		return
	}

	key := bufferKey{module: module, contextID: contextID}
	buf := m.buffers[key]
	buf = append(buf, bufferedEvent{method: method, contextID: contextID, params: params})
	if len(buf) > m.bufferLimit {
		dropped := len(buf) - m.bufferLimit
		m.log.Debug("dropping oldest buffered events", zap.Int("count", dropped), zap.String("module", module))
		buf = buf[dropped:]
	}
	m.buffers[key] = buf
}

// Subscribe adds a subscription and replays any buffered events that now
// match, in their original insertion order, before returning. Must be
// called on the runner goroutine so that no live event can interleave with
// the replay.
func (m *EventManager) Subscribe(namesOrEvents []string, contexts []string) string {
	id := m.subs.Subscribe(namesOrEvents, contexts)
	m.replayMatching()
	return id
}

func (m *EventManager) Unsubscribe(ids []string) {
	m.subs.Unsubscribe(ids)
}

func (m *EventManager) replayMatching() {
	for key, events := range m.buffers {
		var remaining []bufferedEvent
		for _, evt := range events {
			if m.subs.IsSubscribedTo(evt.method, evt.contextID) {
				m.sink.EmitEvent(evt.method, evt.contextID, evt.params)
				continue
			}
			remaining = append(remaining, evt)
		}
		if len(remaining) == 0 {
			delete(m.buffers, key)
		} else {
			m.buffers[key] = remaining
		}
	}
}

// MarkContextDestroyed records that contextID's tree has been torn down:
// its buffers are dropped and no further event for it will be delivered.
// Callers must emit browsingContext.contextDestroyed themselves before
// calling this: once marked, RegisterEvent drops every event for contextID,
// per spec §3 invariant (c).
func (m *EventManager) MarkContextDestroyed(contextID string) {
	m.destroyed[contextID] = struct{}{}
	for key := range m.buffers {
		if key.contextID == contextID {
			delete(m.buffers, key)
		}
	}
}
