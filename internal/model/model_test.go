package model

import "testing"

func TestIsTopLevel(t *testing.T) {
	top := &BrowsingContext{ID: "top"}
	if !top.IsTopLevel() {
		t.Error("a context with no ParentID should be top-level")
	}
	child := &BrowsingContext{ID: "child", ParentID: "top"}
	if child.IsTopLevel() {
		t.Error("a context with a ParentID should not be top-level")
	}
}

func TestInterceptMatchesPhase(t *testing.T) {
	ic := &Intercept{Phases: map[InterceptPhase]struct{}{PhaseBeforeRequestSent: {}}}
	if !ic.MatchesPhase(PhaseBeforeRequestSent) {
		t.Error("expected the registered phase to match")
	}
	if ic.MatchesPhase(PhaseAuthRequired) {
		t.Error("an unregistered phase should not match")
	}
}

func TestPreloadScriptAppliesToContext(t *testing.T) {
	global := &PreloadScript{ID: "global"}
	if !global.AppliesToContext("any-context") {
		t.Error("a script with no ContextID should apply everywhere")
	}

	scoped := &PreloadScript{ID: "scoped", ContextID: "ctx-1"}
	if !scoped.AppliesToContext("ctx-1") {
		t.Error("a scoped script should apply to its own context")
	}
	if scoped.AppliesToContext("ctx-2") {
		t.Error("a scoped script should not apply to an unrelated context")
	}
}
