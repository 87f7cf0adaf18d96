package runner

import "testing"

// fakeAncestry is a hand-written stand-in for storage.ContextStorage.
type fakeAncestry map[string][]string

func (f fakeAncestry) AncestorChain(contextID string) []string { return f[contextID] }

func TestIsSubscribedToGlobalSubscriptionMatchesEverything(t *testing.T) {
	m := NewSubscriptionManager(fakeAncestry{})
	m.Subscribe([]string{"network"}, nil)

	if !m.IsSubscribedTo("network.beforeRequestSent", "any-context") {
		t.Error("global subscription should match any context")
	}
	if m.IsSubscribedTo("log.entryAdded", "any-context") {
		t.Error("subscription to a different module should not match")
	}
}

func TestIsSubscribedToExactEventName(t *testing.T) {
	m := NewSubscriptionManager(fakeAncestry{})
	m.Subscribe([]string{"network.beforeRequestSent"}, nil)

	if !m.IsSubscribedTo("network.beforeRequestSent", "") {
		t.Error("exact event name subscription should match")
	}
	if m.IsSubscribedTo("network.responseStarted", "") {
		t.Error("a different event in the same module should not match an exact subscription")
	}
}

func TestIsSubscribedToContextScopedMatchesAncestors(t *testing.T) {
	ancestry := fakeAncestry{"leaf": {"leaf", "root"}}
	m := NewSubscriptionManager(ancestry)
	m.Subscribe([]string{"network"}, []string{"root"})

	if !m.IsSubscribedTo("network.beforeRequestSent", "leaf") {
		t.Error("a subscription on an ancestor context should cover its descendants")
	}
	if m.IsSubscribedTo("network.beforeRequestSent", "other") {
		t.Error("an unrelated context should not match")
	}
}

func TestUnsubscribeRemovesSubscription(t *testing.T) {
	m := NewSubscriptionManager(fakeAncestry{})
	id := m.Subscribe([]string{"network"}, nil)
	m.Unsubscribe([]string{id})

	if m.IsSubscribedTo("network.beforeRequestSent", "") {
		t.Error("unsubscribed subscription should no longer match")
	}
}

func TestIsModuleSubscribedForSubtreeGlobal(t *testing.T) {
	m := NewSubscriptionManager(fakeAncestry{})
	m.Subscribe([]string{"network"}, nil)

	if !m.IsModuleSubscribedForSubtree("network", "top", nil) {
		t.Error("global subscription should count for any subtree")
	}
}

func TestIsModuleSubscribedForSubtreeDescendant(t *testing.T) {
	m := NewSubscriptionManager(fakeAncestry{})
	m.Subscribe([]string{"network"}, []string{"child"})

	descendants := func(topLevelID string) []string {
		if topLevelID == "top" {
			return []string{"child", "grandchild"}
		}
		return nil
	}

	if !m.IsModuleSubscribedForSubtree("network", "top", descendants) {
		t.Error("a subscription scoped to a descendant should still count for the top-level target")
	}
	if m.IsModuleSubscribedForSubtree("network", "other-top", descendants) {
		t.Error("an unrelated top-level target should not count")
	}
}
