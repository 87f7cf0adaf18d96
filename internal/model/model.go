// Package model defines the BiDi-level data model the mapper maintains:
// browsing contexts, realms, intercepts, preload scripts, and subscriptions.
// Types here are plain data; the storages that index them live in
// internal/storage and internal/network.
package model

import (
	"time"

	"bidimapper/internal/urlpattern"
)

// DefaultUserContext is the sentinel user-context id used when CDP reports
// no explicit browserContextId (the browser's default profile partition).
const DefaultUserContext = "default"

// ReadinessState is a BrowsingContext's document readiness.
type ReadinessState string

const (
	ReadinessNone        ReadinessState = "none"
	ReadinessInteractive ReadinessState = "interactive"
	ReadinessComplete    ReadinessState = "complete"
)

// BrowsingContext is a window, tab, or frame.
type BrowsingContext struct {
	ID            string
	ParentID      string // "" if top-level
	UserContextID string
	URL           string
	Readiness     ReadinessState
	Children      map[string]struct{}

	// TargetID is the id of the owning CdpTarget. For a non-top-level
	// context this is its nearest top-level ancestor's target id, unless it
	// has undergone an OOPIF swap and owns its own target.
	TargetID string

	// PendingDialog holds the most recent unanswered javascriptDialogOpening
	// event for this context, or nil if no dialog is showing.
	PendingDialog *Dialog

	CreatedAt time.Time
}

// Dialog records an open, unanswered Page.javascriptDialogOpening.
type Dialog struct {
	Type          string
	Message       string
	DefaultPrompt string
}

// IsTopLevel reports whether the context has no parent.
func (c *BrowsingContext) IsTopLevel() bool { return c.ParentID == "" }

// RealmType distinguishes the kinds of execution realm CDP exposes.
type RealmType string

const (
	RealmWindow         RealmType = "window"
	RealmDedicatedWorker RealmType = "dedicated-worker"
	RealmSharedWorker   RealmType = "shared-worker"
	RealmServiceWorker  RealmType = "service-worker"
)

// Realm is a JavaScript execution environment.
type Realm struct {
	ID        string
	Type      RealmType
	ContextID string // window realms only
	Sandbox   string // "" for the default realm of a context
	Origin    string

	ExecutionContextID int64
	SessionID           string // CDP session that owns this realm

	// Owners are the parent realms of a worker realm (empty for window
	// realms and shared workers, which have no owner).
	Owners map[string]struct{}
}

// InterceptPhase is a point at which a request can be paused for a BiDi
// client decision.
type InterceptPhase string

const (
	PhaseBeforeRequestSent InterceptPhase = "beforeRequestSent"
	PhaseResponseStarted   InterceptPhase = "responseStarted"
	PhaseAuthRequired      InterceptPhase = "authRequired"
)

// Intercept is a BiDi-level network filter.
type Intercept struct {
	ID       string
	Patterns []urlpattern.Pattern // empty = match all
	Phases   map[InterceptPhase]struct{}
	Contexts map[string]struct{} // empty = global
}

// MatchesPhase reports whether the intercept is active for phase.
func (i *Intercept) MatchesPhase(phase InterceptPhase) bool {
	_, ok := i.Phases[phase]
	return ok
}

// PreloadScript is JavaScript installed to run before any page script.
type PreloadScript struct {
	ID        string
	Source    string
	Sandbox   string
	Channels  []string
	ContextID string // "" = global (all contexts)

	// InstalledIDs maps target id -> the CDP-assigned script identifier for
	// this preload script on that target.
	InstalledIDs map[string]string
}

// AppliesToContext reports whether the script should be installed on a
// target whose top-level browsing context is ctxID.
func (p *PreloadScript) AppliesToContext(ctxID string) bool {
	return p.ContextID == "" || p.ContextID == ctxID
}

// Subscription is a tuple of (module-or-event name, context id set).
type Subscription struct {
	ID       string
	Names    map[string]struct{} // module names ("network") or exact event names ("network.beforeRequestSent")
	Contexts map[string]struct{} // empty = global
}
