package runner

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Ancestry resolves a context id to its ancestor chain: the id itself
// first, then each parent up to the root. The subscription manager only needs this one
// operation from internal/storage.ContextStorage, kept as an interface so
// this package does not import storage.
type Ancestry interface {
	AncestorChain(contextID string) []string
}

type subscription struct {
	id       string
	names    map[string]struct{}
	contexts map[string]struct{} // empty = global
}

// SubscriptionManager tracks which BiDi modules/events are subscribed, for
// which context subtrees (spec §4.6).
type SubscriptionManager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	ancestry      Ancestry
}

func NewSubscriptionManager(ancestry Ancestry) *SubscriptionManager {
	return &SubscriptionManager{
		subscriptions: make(map[string]*subscription),
		ancestry:      ancestry,
	}
}

// Subscribe registers a subscription for the given modules/event names and
// context ids (empty contexts means global) and returns its id.
func (m *SubscriptionManager) Subscribe(namesOrEvents []string, contexts []string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := &subscription{
		id:       uuid.NewString(),
		names:    toSet(namesOrEvents),
		contexts: toSet(contexts),
	}
	m.subscriptions[sub.id] = sub
	return sub.id
}

// Unsubscribe removes the given subscription ids.
func (m *SubscriptionManager) Unsubscribe(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.subscriptions, id)
	}
}

// IsSubscribedTo reports whether any live subscription matches eventName
// (exact event name, e.g. "network.beforeRequestSent", or its module,
// e.g. "network") for contextID, where a subscription matches a context if
// it is global or covers contextID or one of its ancestors.
func (m *SubscriptionManager) IsSubscribedTo(eventName, contextID string) bool {
	module := moduleOf(eventName)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.subscriptions) == 0 {
		return false
	}

	var chain []string
	if contextID != "" && m.ancestry != nil {
		chain = m.ancestry.AncestorChain(contextID)
	} else if contextID != "" {
		chain = []string{contextID}
	}

	for _, sub := range m.subscriptions {
		if !sub.matchesName(eventName, module) {
			continue
		}
		if sub.matchesContext(contextID, chain) {
			return true
		}
	}
	return false
}

// IsModuleSubscribedForSubtree reports whether any subscriber is subscribed
// to module (e.g. "network") anywhere within the subtree rooted at
// topLevelID. This differs from IsSubscribedTo, which asks about one
// specific context; this is used to decide whether to enable a whole CDP
// domain for a target (spec §4.2 step 4, §4.4 network-domain coupling),
// where a subscription scoped to any descendant context must still count.
func (m *SubscriptionManager) IsModuleSubscribedForSubtree(module string, topLevelID string, descendants func(string) []string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subscriptions {
		if !sub.matchesName(module, module) {
			continue
		}
		if len(sub.contexts) == 0 {
			return true
		}
		for ctxID := range sub.contexts {
			if ctxID == topLevelID {
				return true
			}
			if descendants != nil {
				for _, d := range descendants(topLevelID) {
					if ctxID == d {
						return true
					}
				}
			}
		}
	}
	return false
}

func (s *subscription) matchesName(eventName, module string) bool {
	if _, ok := s.names[eventName]; ok {
		return true
	}
	if _, ok := s.names[module]; ok {
		return true
	}
	return false
}

func (s *subscription) matchesContext(contextID string, chain []string) bool {
	if len(s.contexts) == 0 {
		return true // global
	}
	if contextID == "" {
		return false
	}
	for _, ancestorID := range chain {
		if _, ok := s.contexts[ancestorID]; ok {
			return true
		}
	}
	return false
}

func moduleOf(eventName string) string {
	if idx := strings.IndexByte(eventName, '.'); idx != -1 {
		return eventName[:idx]
	}
	return eventName
}

func toSet(vals []string) map[string]struct{} {
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		set[v] = struct{}{}
	}
	return set
}
