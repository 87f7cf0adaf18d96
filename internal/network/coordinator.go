package network

import (
	"context"
	"fmt"

	cdpfetch "github.com/chromedp/cdproto/fetch"
	cdpnetwork "github.com/chromedp/cdproto/network"
	"go.uber.org/zap"

	"bidimapper/internal/logging"
	"bidimapper/internal/model"
	"bidimapper/internal/runner"
	"bidimapper/internal/target"
)

// ContextResolver is the subset of storage.ContextStorage the coordinator
// needs, kept as an interface so this package has no import-time
// dependency on internal/storage.
type ContextResolver interface {
	AncestorChain(contextID string) []string
	Descendants(contextID string) []string
	FindTopLevelContextID(contextID string) string
}

// TargetResolver looks up the live Target owning a CDP target id, so the
// coordinator can issue Fetch continuation commands against it.
type TargetResolver interface {
	ByTargetID(targetID string) *target.Target
}

// Coordinator drives the NetworkRequest lifecycle FSM (spec §4.5) and the
// per-target Fetch/Network domain synchronisation (spec §4.4). It runs
// exclusively on the single-threaded runner.
type Coordinator struct {
	storage *Storage
	events  *runner.EventManager
	subs    *runner.SubscriptionManager
	ctxs    ContextResolver
	targets TargetResolver

	log *zap.Logger
}

func NewCoordinator(storage *Storage, events *runner.EventManager, subs *runner.SubscriptionManager, ctxs ContextResolver, targets TargetResolver) *Coordinator {
	return &Coordinator{
		storage: storage,
		events:  events,
		subs:    subs,
		ctxs:    ctxs,
		targets: targets,
		log:     logging.For(logging.NamespaceNetwork, "coordinator"),
	}
}

// ancestryFor adapts ContextResolver.AncestorChain to the func(string)
// []string shape Storage.BlockedBy expects.
func (c *Coordinator) ancestryFor(contextID string) []string {
	if c.ctxs == nil {
		return []string{contextID}
	}
	return c.ctxs.AncestorChain(contextID)
}

// HandleRequestWillBeSent implements the Initial state's transition (spec
// §4.5), including the redirect-restart case.
func (c *Coordinator) HandleRequestWillBeSent(ctx context.Context, sessionID, targetID, contextID string, ev *cdpnetwork.EventRequestWillBeSent) {
	id := string(ev.RequestID)

	if existing := c.storage.Get(id); existing != nil && ev.RedirectResponse != nil {
		c.finishRedirectLeg(existing, ev.RedirectResponse)
		existing.RedirectCount++
		c.resetForRedirect(existing, ev)
		c.emitBeforeRequestSent(existing, contextID)
		return
	}

	req := c.storage.Get(id)
	isNew := req == nil
	if isNew {
		req = NewRequest(id, sessionID, contextID, targetID)
	} else {
		// An extra-info event arrived first and created the record; keep
		// what it merged and fill in the primary event's fields.
		req.ContextID, req.TargetID = contextID, targetID
	}
	req.URL = ev.Request.URL
	req.Method = ev.Request.Method
	for k, v := range ev.Request.Headers {
		req.Headers[k] = fmt.Sprintf("%v", v)
	}
	if isNew {
		c.storage.Insert(sessionID, req)
	}
	c.emitBeforeRequestSent(req, contextID)
}

func (c *Coordinator) resetForRedirect(req *Request, ev *cdpnetwork.EventRequestWillBeSent) {
	req.URL = ev.Request.URL
	req.Method = ev.Request.Method
	req.Headers = make(map[string]string, len(ev.Request.Headers))
	for k, v := range ev.Request.Headers {
		req.Headers[k] = fmt.Sprintf("%v", v)
	}
	req.Phase = PhaseInitial
	req.RequestExtraInfo = nil
	req.ResponseExtraInfo = nil
	req.BlockedBy = make(map[string]struct{})
}

// finishRedirectLeg closes out the leg that just completed with a redirect:
// it records the redirecting response's status and emits the responseStarted
// the client never otherwise sees, since CDP reports a redirect as a new
// requestWillBeSent rather than a responseReceived for the old leg (spec
// §4.5, Scenario S3).
func (c *Coordinator) finishRedirectLeg(req *Request, redirect *cdpnetwork.Response) {
	req.StatusCode = int(redirect.Status)

	blockedBy := c.storage.BlockedBy(model.PhaseResponseStarted, req.URL, req.ContextID, c.ancestryFor)
	req.SetBlockedBy(blockedBy)
	req.Phase = PhaseResponseStarted

	c.events.RegisterEvent("network.responseStarted", req.ContextID, ResponseStartedParams{
		Context:    req.ContextID,
		Request:    requestInfo(req),
		StatusCode: req.StatusCode,
		IsBlocked:  len(blockedBy) > 0,
		Intercepts: blockedBy,
	})
}

func (c *Coordinator) emitBeforeRequestSent(req *Request, contextID string) {
	blockedBy := c.storage.BlockedBy(model.PhaseBeforeRequestSent, req.URL, contextID, c.ancestryFor)
	req.SetBlockedBy(blockedBy)
	req.Phase = PhaseBeforeRequestSent

	c.events.RegisterEvent("network.beforeRequestSent", contextID, BeforeRequestSentParams{
		Context:    contextID,
		Request:    requestInfo(req),
		IsBlocked:  len(blockedBy) > 0,
		Intercepts: blockedBy,
	})
}

// HandleRequestWillBeSentExtraInfo merges extra-info headers regardless of
// arrival order relative to the primary event (spec §4.5, SPEC_FULL §4.5):
// if the request record doesn't exist yet, a placeholder is created so the
// merge is never lost.
func (c *Coordinator) HandleRequestWillBeSentExtraInfo(sessionID, targetID, contextID string, ev *cdpnetwork.EventRequestWillBeSentExtraInfo) {
	id := string(ev.RequestID)
	req := c.storage.Get(id)
	if req == nil {
		req = NewRequest(id, sessionID, contextID, targetID)
		c.storage.Insert(sessionID, req)
	}
	headers := make(map[string]string, len(ev.Headers))
	for k, v := range ev.Headers {
		headers[k] = fmt.Sprintf("%v", v)
	}
	req.MergeRequestExtraInfo(headers)
}

// HandleResponseReceivedExtraInfo merges response extra-info headers.
func (c *Coordinator) HandleResponseReceivedExtraInfo(ev *cdpnetwork.EventResponseReceivedExtraInfo) {
	req := c.storage.Get(string(ev.RequestID))
	if req == nil {
		return
	}
	headers := make(map[string]string, len(ev.Headers))
	for k, v := range ev.Headers {
		headers[k] = fmt.Sprintf("%v", v)
	}
	req.MergeResponseExtraInfo(headers)
}

// HandleResponseReceived implements the responseStarted transition.
func (c *Coordinator) HandleResponseReceived(ev *cdpnetwork.EventResponseReceived) {
	req := c.storage.Get(string(ev.RequestID))
	if req == nil {
		return
	}
	req.StatusCode = int(ev.Response.Status)

	blockedBy := c.storage.BlockedBy(model.PhaseResponseStarted, req.URL, req.ContextID, c.ancestryFor)
	req.SetBlockedBy(blockedBy)
	req.Phase = PhaseResponseStarted

	c.events.RegisterEvent("network.responseStarted", req.ContextID, ResponseStartedParams{
		Context:    req.ContextID,
		Request:    requestInfo(req),
		StatusCode: req.StatusCode,
		IsBlocked:  len(blockedBy) > 0,
		Intercepts: blockedBy,
	})
}

// HandleRequestServedFromCache marks the request short-circuited; no paused
// handling follows for it (spec §4.5).
func (c *Coordinator) HandleRequestServedFromCache(ev *cdpnetwork.EventRequestServedFromCache) {
	req := c.storage.Get(string(ev.RequestID))
	if req == nil {
		return
	}
	req.FromCache = true
	req.Phase = PhaseTerminal
	c.storage.Remove(req)
}

// HandleLoadingFailed implements the terminal fetchError transition.
func (c *Coordinator) HandleLoadingFailed(ev *cdpnetwork.EventLoadingFailed) {
	req := c.storage.Get(string(ev.RequestID))
	if req == nil {
		return
	}
	req.Phase = PhaseTerminal

	c.events.RegisterEvent("network.fetchError", req.ContextID, FetchErrorParams{
		Context: req.ContextID,
		Request: requestInfo(req),
		Error:   ev.ErrorText,
	})
	c.storage.Remove(req)
}

// HandleLoadingFinished implements the terminal responseCompleted transition
// (spec §4.5, §8 Invariant 5: exactly one terminal network event per
// request).
func (c *Coordinator) HandleLoadingFinished(ev *cdpnetwork.EventLoadingFinished) {
	req := c.storage.Get(string(ev.RequestID))
	if req == nil {
		return
	}
	req.Phase = PhaseTerminal

	c.events.RegisterEvent("network.responseCompleted", req.ContextID, ResponseCompletedParams{
		Context:    req.ContextID,
		Request:    requestInfo(req),
		StatusCode: req.StatusCode,
	})
	c.storage.Remove(req)
}

// HandleFetchRequestPaused records the Fetch request id of a paused request
// on its NetworkRequest, creating the record if none exists yet. It does
// not change the request's lifecycle phase.
func (c *Coordinator) HandleFetchRequestPaused(ctx context.Context, t *target.Target, ev *cdpfetch.EventRequestPaused) {
	id := string(ev.NetworkID)
	if id == "" {
		id = string(ev.RequestID)
	}
	req := c.storage.Get(id)
	if req == nil {
		req = NewRequest(id, t.SessionID, "", t.ID)
		req.URL = ev.Request.URL
		req.Method = ev.Request.Method
		c.storage.Insert(t.SessionID, req)
	}
	c.storage.SetFetchID(req, string(ev.RequestID))
}

// HandleAuthRequired implements the authRequired transition. If no blocked-
// by intercept matches, the mapper resolves the challenge itself with the
// default behaviour so the browser's own flow is not stalled (spec §4.5).
func (c *Coordinator) HandleAuthRequired(ctx context.Context, t *target.Target, ev *cdpfetch.EventAuthRequired) {
	id := string(ev.RequestID)
	req := c.storage.GetByFetchID(id)
	if req == nil {
		req = NewRequest(id, t.SessionID, "", t.ID)
		c.storage.Insert(t.SessionID, req)
		c.storage.SetFetchID(req, id)
	}

	blockedBy := c.storage.BlockedBy(model.PhaseAuthRequired, req.URL, req.ContextID, c.ancestryFor)
	req.SetBlockedBy(blockedBy)
	req.Phase = PhaseAuthRequired

	if len(blockedBy) == 0 {
		_ = cdpfetch.ContinueWithAuth(ev.RequestID, &cdpfetch.AuthChallengeResponse{
			Response: cdpfetch.AuthChallengeResponseResponseDefault,
		}).Do(target.WithExecutor(ctx, t))
		return
	}

	c.events.RegisterEvent("network.authRequired", req.ContextID, AuthRequiredParams{
		Context:    req.ContextID,
		Request:    requestInfo(req),
		IsBlocked:  true,
		Intercepts: blockedBy,
	})
}

// ContinueRequest implements network.continueRequest.
func (c *Coordinator) ContinueRequest(ctx context.Context, req *Request, t *target.Target) error {
	fetchID := req.FetchID()
	if fetchID == "" {
		return nil
	}
	return cdpfetch.ContinueRequest(cdpfetch.RequestID(fetchID)).Do(target.WithExecutor(ctx, t))
}

// FailRequest implements network.failRequest.
func (c *Coordinator) FailRequest(ctx context.Context, req *Request, t *target.Target, reason cdpnetwork.ErrorReason) error {
	fetchID := req.FetchID()
	if fetchID == "" {
		return nil
	}
	err := cdpfetch.FailRequest(cdpfetch.RequestID(fetchID), reason).Do(target.WithExecutor(ctx, t))
	c.storage.Remove(req)
	return err
}

// ProvideResponse implements network.provideResponse (Fetch.fulfillRequest).
func (c *Coordinator) ProvideResponse(ctx context.Context, req *Request, t *target.Target, statusCode int64, headers []*cdpfetch.HeaderEntry, body []byte) error {
	fetchID := req.FetchID()
	if fetchID == "" {
		return nil
	}
	cmd := cdpfetch.FulfillRequest(cdpfetch.RequestID(fetchID), statusCode).WithResponseHeaders(headers)
	if len(body) > 0 {
		cmd = cmd.WithBody(string(body))
	}
	err := cmd.Do(target.WithExecutor(ctx, t))
	c.storage.Remove(req)
	return err
}

// ContinueWithAuth implements network.continueWithAuth.
func (c *Coordinator) ContinueWithAuth(ctx context.Context, req *Request, t *target.Target, resp *cdpfetch.AuthChallengeResponse) error {
	fetchID := req.FetchID()
	if fetchID == "" {
		return nil
	}
	return cdpfetch.ContinueWithAuth(cdpfetch.RequestID(fetchID), resp).Do(target.WithExecutor(ctx, t))
}

// DisposeSession settles and removes every request tied to sessionID when
// its CDP session detaches (spec §4.5 "Disposal"): any request not already
// terminal gets a network.fetchError so a BiDi promise awaiting one of its
// phases is never left unsettled (Invariant 5).
func (c *Coordinator) DisposeSession(sessionID string) {
	for _, req := range c.storage.RequestsForSession(sessionID) {
		if req.Phase != PhaseTerminal {
			req.Phase = PhaseTerminal
			c.events.RegisterEvent("network.fetchError", req.ContextID, FetchErrorParams{
				Context: req.ContextID,
				Request: requestInfo(req),
				Error:   "net::ERR_ABORTED",
			})
		}
		c.storage.Remove(req)
	}
}

func requestInfo(req *Request) RequestInfo {
	return RequestInfo{
		Request:       req.ID,
		URL:           req.URL,
		Method:        req.Method,
		Headers:       req.Headers,
		RedirectCount: req.RedirectCount,
	}
}
