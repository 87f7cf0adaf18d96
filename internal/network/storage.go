// Package network implements NetworkStorage and the per-request lifecycle
// FSM (spec §4.4/§4.5): the intercept registry, Fetch/Network domain
// coordination per CdpTarget, and in-flight request tracking with redirect
// and extra-info handling.
package network

import (
	"sync"

	"github.com/google/uuid"

	"bidimapper/internal/bidierror"
	"bidimapper/internal/model"
	"bidimapper/internal/target"
	"bidimapper/internal/urlpattern"
)

// Storage is the intercept registry and in-flight request table. Mutation
// happens only on the runner goroutine; the mutex guards concurrent reads
// from the admin introspection server.
type Storage struct {
	mu sync.RWMutex

	intercepts map[string]*model.Intercept

	// requests indexes by BiDi request id (= CDP requestId).
	requests map[string]*Request
	// byFetchID indexes the same requests by their current Fetch.requestId,
	// set only while paused.
	byFetchID map[string]*Request
	// bySession tracks live requests per CDP session, for disposal on detach.
	bySession map[string]map[string]struct{}
}

func NewStorage() *Storage {
	return &Storage{
		intercepts: make(map[string]*model.Intercept),
		requests:   make(map[string]*Request),
		byFetchID:  make(map[string]*Request),
		bySession:  make(map[string]map[string]struct{}),
	}
}

// AddIntercept registers a new intercept and returns its id.
func (s *Storage) AddIntercept(patterns []urlpattern.Pattern, phases []model.InterceptPhase, contexts []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	phaseSet := make(map[model.InterceptPhase]struct{}, len(phases))
	for _, p := range phases {
		phaseSet[p] = struct{}{}
	}
	ctxSet := make(map[string]struct{}, len(contexts))
	for _, c := range contexts {
		ctxSet[c] = struct{}{}
	}

	s.intercepts[id] = &model.Intercept{
		ID:       id,
		Patterns: patterns,
		Phases:   phaseSet,
		Contexts: ctxSet,
	}
	return id
}

// RemoveIntercept deletes an intercept, or fails with NoSuchIntercept.
func (s *Storage) RemoveIntercept(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.intercepts[id]; !ok {
		return bidierror.NoSuchInterceptErr(id)
	}
	delete(s.intercepts, id)
	return nil
}

// InterceptionStages ORs together the phases of every intercept scoped to
// topLevelID or global, per spec §4.4.
func (s *Storage) InterceptionStages(topLevelID string, inSubtree func(scopeID string) bool) target.FetchStages {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stages target.FetchStages
	for _, ic := range s.intercepts {
		if !s.interceptScopes(ic, topLevelID, inSubtree) {
			continue
		}
		if ic.MatchesPhase(model.PhaseBeforeRequestSent) {
			stages.Request = true
		}
		if ic.MatchesPhase(model.PhaseResponseStarted) {
			stages.Response = true
		}
		if ic.MatchesPhase(model.PhaseAuthRequired) {
			stages.Auth = true
		}
	}
	return stages
}

func (s *Storage) interceptScopes(ic *model.Intercept, topLevelID string, inSubtree func(string) bool) bool {
	if len(ic.Contexts) == 0 {
		return true
	}
	for ctxID := range ic.Contexts {
		if ctxID == topLevelID {
			return true
		}
		if inSubtree != nil && inSubtree(ctxID) {
			return true
		}
	}
	return false
}

// BlockedBy returns the ids of every intercept active for phase whose url
// patterns match rawURL and whose context scope includes contextID.
func (s *Storage) BlockedBy(phase model.InterceptPhase, rawURL, contextID string, ancestry func(string) []string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chain []string
	if ancestry != nil {
		chain = ancestry(contextID)
	} else {
		chain = []string{contextID}
	}

	var blocked []string
	for id, ic := range s.intercepts {
		if !ic.MatchesPhase(phase) {
			continue
		}
		if !urlpattern.MatchesAny(ic.Patterns, rawURL) {
			continue
		}
		if !contextInScope(ic.Contexts, chain) {
			continue
		}
		blocked = append(blocked, id)
	}
	return blocked
}

func contextInScope(scope map[string]struct{}, chain []string) bool {
	if len(scope) == 0 {
		return true
	}
	for _, id := range chain {
		if _, ok := scope[id]; ok {
			return true
		}
	}
	return false
}

// Intercepts returns a snapshot of all registered intercepts, for admin
// introspection.
func (s *Storage) Intercepts() []*model.Intercept {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Intercept, 0, len(s.intercepts))
	for _, ic := range s.intercepts {
		out = append(out, ic)
	}
	return out
}

// Insert adds a newly-created request to the table, indexed by session for
// disposal-on-detach.
func (s *Storage) Insert(sessionID string, req *Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req
	set, ok := s.bySession[sessionID]
	if !ok {
		set = make(map[string]struct{})
		s.bySession[sessionID] = set
	}
	set[req.ID] = struct{}{}
}

// Get returns the request by BiDi/CDP request id, or nil.
func (s *Storage) Get(id string) *Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requests[id]
}

// GetByFetchID returns the request currently paused with the given
// Fetch.requestId, or nil.
func (s *Storage) GetByFetchID(fetchID string) *Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byFetchID[fetchID]
}

// SetFetchID updates the paused-request index when req pauses or resumes.
func (s *Storage) SetFetchID(req *Request, fetchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.fetchID != "" {
		delete(s.byFetchID, req.fetchID)
	}
	req.fetchID = fetchID
	if fetchID != "" {
		s.byFetchID[fetchID] = req
	}
}

// Remove deletes a terminal request from every index.
func (s *Storage) Remove(req *Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, req.ID)
	if req.fetchID != "" {
		delete(s.byFetchID, req.fetchID)
	}
	for _, set := range s.bySession {
		delete(set, req.ID)
	}
}

// RequestsForSession returns every live request tied to sessionID, for
// disposal on detach (spec §4.5 "Disposal").
func (s *Storage) RequestsForSession(sessionID string) []*Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.bySession[sessionID]
	out := make([]*Request, 0, len(ids))
	for id := range ids {
		if req, ok := s.requests[id]; ok {
			out = append(out, req)
		}
	}
	return out
}

// allForTarget scans for live requests owned by targetID. Used only for the
// deferred-Fetch-disable check (spec §4.4), not a hot path.
func (s *Storage) allForTarget(targetID string) []*Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Request
	for _, req := range s.requests {
		if req.TargetID == targetID {
			out = append(out, req)
		}
	}
	return out
}
