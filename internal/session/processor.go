// Package session implements the BrowsingContextProcessor (spec §4.3): the
// command handlers that internal/bidi's dispatcher calls, and the CDP event
// reactor that creates/disposes
// browsing contexts and realms, drives per-target unblock, and routes
// dialog/network/preload-script concerns to their owning components.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	cdpfetch "github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/inspector"
	cdpnetwork "github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	cdptarget "github.com/chromedp/cdproto/target"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"bidimapper/internal/bidierror"
	"bidimapper/internal/cdpconn"
	"bidimapper/internal/cdpdomain"
	"bidimapper/internal/logging"
	"bidimapper/internal/model"
	"bidimapper/internal/network"
	"bidimapper/internal/runner"
	"bidimapper/internal/storage"
	"bidimapper/internal/target"
	"bidimapper/internal/urlpattern"
)

// InputDispatcher is the external collaborator that actually executes
// input.performActions (explicit non-goal of this core). The processor
// only guarantees command ordering relative to script.*/browsingContext.*
// on the same context (SPEC_FULL §3.1); it never interprets the actions
// itself.
type InputDispatcher interface {
	PerformActions(ctx context.Context, t *target.Target, params json.RawMessage) (interface{}, error)
}

// Processor is the BrowsingContextProcessor: it owns every storage and
// reacts to CDP events, all serialised through a single runner.Runner.
type Processor struct {
	cfg    Config
	runner *runner.Runner

	contexts *storage.ContextStorage
	realms   *storage.RealmStorage
	preloads *storage.PreloadScriptStorage

	netStorage *network.Storage
	netCoord   *network.Coordinator

	subs   *runner.SubscriptionManager
	events *runner.EventManager

	conn          *cdpconn.Connection
	browserClient *cdpconn.Client
	selfTargetID  string
	browserInfo   *cdpdomain.BrowserInfoFetcher

	input InputDispatcher

	mu          sync.RWMutex
	targets     map[string]*target.Target // by CDP target id
	workerOwner map[string]map[string]struct{} // targetID -> owner realm ids

	// pendingCreates lets CreateBrowsingContext block until the target it
	// asked CDP to create has actually attached (browsingContext.create's
	// result carries the new context id, not just an ack).
	pendingCreates map[string]chan struct{}

	log *zap.Logger
}

// Config carries the session-scoped flags the processor needs from
// internal/config without importing it directly (config is a leaf
// consumed by cmd/bidimapper, which wires this in).
type Config struct {
	AcceptInsecureCerts bool
	EventBufferPerContext int
}

// NewProcessor wires up every storage and manager. sink receives fully
// formed BiDi events for framing onto the client transport.
func NewProcessor(cfg Config, conn *cdpconn.Connection, selfTargetID string, sink runner.Sink, input InputDispatcher) *Processor {
	contexts := storage.NewContextStorage()
	subs := runner.NewSubscriptionManager(contexts)
	bufLimit := cfg.EventBufferPerContext
	if bufLimit <= 0 {
		bufLimit = 1024
	}
	events := runner.NewEventManager(subs, sink, bufLimit)

	p := &Processor{
		cfg:           cfg,
		runner:        runner.New(),
		contexts:      contexts,
		realms:        storage.NewRealmStorage(),
		preloads:      storage.NewPreloadScriptStorage(),
		netStorage:    network.NewStorage(),
		subs:          subs,
		events:        events,
		conn:          conn,
		browserClient: conn.BrowserClient(),
		selfTargetID:  selfTargetID,
		input:         input,
		targets:       make(map[string]*target.Target),
		workerOwner:   make(map[string]map[string]struct{}),
		log:           logging.For(logging.NamespaceBiDi, "processor"),
	}
	p.browserInfo = cdpdomain.NewBrowserInfoFetcher(p.browserClient)
	p.netCoord = network.NewCoordinator(p.netStorage, events, subs, contexts, p)
	return p
}

// BrowserInfo exposes the browser's version info for the admin introspection
// API, deduping concurrent callers onto a single Browser.getVersion round
// trip.
func (p *Processor) BrowserInfo(ctx context.Context) (cdpdomain.BrowserInfo, error) {
	return p.browserInfo.GetBrowserInfo(ctx)
}

// Start begins the processor's single-threaded runner. Call before any CDP
// event or BiDi command reaches the processor.
func (p *Processor) Start(ctx context.Context) { go p.runner.Start(ctx) }

// ByTargetID implements network.TargetResolver.
func (p *Processor) ByTargetID(targetID string) *target.Target {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.targets[targetID]
}

func (p *Processor) putTarget(t *target.Target) {
	p.mu.Lock()
	p.targets[t.ID] = t
	p.mu.Unlock()
}

func (p *Processor) dropTarget(id string) {
	p.mu.Lock()
	delete(p.targets, id)
	p.mu.Unlock()
}

// AllTargets returns a snapshot of every attached target, for the admin
// introspection API.
func (p *Processor) AllTargets() []*target.Target {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*target.Target, 0, len(p.targets))
	for _, t := range p.targets {
		out = append(out, t)
	}
	return out
}

// Contexts exposes the context storage for the admin introspection API.
func (p *Processor) Contexts() *storage.ContextStorage { return p.contexts }

// Intercepts exposes the network storage's intercept list for the admin
// introspection API.
func (p *Processor) Intercepts() []*model.Intercept { return p.netStorage.Intercepts() }

// PreloadScripts exposes the preload script storage for the admin
// introspection API.
func (p *Processor) PreloadScripts() []*model.PreloadScript { return p.preloads.All() }

// HandleCDPEvent is the EventHandler passed to cdpconn.Dial. It re-enters
// the single-threaded runner so every mutation below happens serialised
// (spec §5).
func (p *Processor) HandleCDPEvent(sessionID, method string, rawParams json.RawMessage, event interface{}) {
	p.runner.Go(func() {
		p.relayCDPPassthrough(method, rawParams)
		p.dispatchCDPEvent(sessionID, event)
	})
}

// relayCDPPassthrough mirrors every CDP event the mapper observes to BiDi
// clients subscribed to the synthetic "cdp" module (spec §4.7), verbatim in
// params. No-op if nothing is subscribed.
func (p *Processor) relayCDPPassthrough(method string, rawParams json.RawMessage) {
	if method == "" {
		return
	}
	bidiMethod := "cdp." + method
	if !p.subs.IsSubscribedTo(bidiMethod, "") {
		return
	}
	p.events.RegisterEvent(bidiMethod, "", json.RawMessage(rawParams))
}

func (p *Processor) dispatchCDPEvent(sessionID string, event interface{}) {
	switch ev := event.(type) {
	case *cdptarget.EventAttachedToTarget:
		p.onAttachedToTarget(sessionID, ev)
	case *cdptarget.EventDetachedFromTarget:
		p.onDetachedFromTarget(ev)
	case *page.EventFrameAttached:
		p.onFrameAttached(sessionID, ev)
	case *page.EventFrameDetached:
		p.onFrameDetached(ev)
	case *page.EventJavascriptDialogOpening:
		p.onDialogOpening(sessionID, ev)
	case *inspector.EventTargetCrashed:
		p.onTargetCrashed(sessionID)
	case *runtime.EventExecutionContextCreated:
		p.onExecutionContextCreated(sessionID, ev)
	case *runtime.EventExecutionContextDestroyed:
		p.realms.RemoveByExecutionContext(sessionID, int64(ev.ExecutionContextID))
	case *runtime.EventExecutionContextsCleared:
		p.realms.RemoveBySession(sessionID)
	case *page.EventFrameNavigated:
		p.onFrameNavigated(ev)
	case *cdpnetwork.EventRequestWillBeSent:
		p.onRequestWillBeSent(sessionID, ev)
	case *cdpnetwork.EventRequestWillBeSentExtraInfo:
		p.netCoord.HandleRequestWillBeSentExtraInfo(sessionID, p.targetIDForSession(sessionID), p.contextIDForSession(sessionID), ev)
	case *cdpnetwork.EventResponseReceived:
		p.netCoord.HandleResponseReceived(ev)
	case *cdpnetwork.EventResponseReceivedExtraInfo:
		p.netCoord.HandleResponseReceivedExtraInfo(ev)
	case *cdpnetwork.EventLoadingFailed:
		p.netCoord.HandleLoadingFailed(ev)
	case *cdpnetwork.EventLoadingFinished:
		p.netCoord.HandleLoadingFinished(ev)
	case *cdpnetwork.EventRequestServedFromCache:
		p.netCoord.HandleRequestServedFromCache(ev)
	case *cdpfetch.EventRequestPaused:
		if t := p.targetForSession(sessionID); t != nil {
			p.netCoord.HandleFetchRequestPaused(context.Background(), t, ev)
		}
	case *cdpfetch.EventAuthRequired:
		if t := p.targetForSession(sessionID); t != nil {
			p.netCoord.HandleAuthRequired(context.Background(), t, ev)
		}
	default:
		// Unmodelled or generic cdp.<event>; relayCDPPassthrough already
		// mirrored it to any "cdp"-module subscriber, nothing else to react to.
	}
}

func (p *Processor) targetForSession(sessionID string) *target.Target {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, t := range p.targets {
		if t.SessionID == sessionID {
			return t
		}
	}
	return nil
}

func (p *Processor) targetIDForSession(sessionID string) string {
	if t := p.targetForSession(sessionID); t != nil {
		return t.ID
	}
	return ""
}

func (p *Processor) contextIDForSession(sessionID string) string {
	if t := p.targetForSession(sessionID); t != nil {
		if ctx := p.contexts.FindByTargetID(t.ID); ctx != nil {
			return ctx.ID
		}
	}
	return ""
}

// onAttachedToTarget implements spec §4.3's attach handling. arrivalSession
// is the session the attachedToTarget event arrived on (the parent target's
// session, or the root browser session for a top-level attach);
// ev.SessionID is the newly attached target's own session.
func (p *Processor) onAttachedToTarget(arrivalSession string, ev *cdptarget.EventAttachedToTarget) {
	info := ev.TargetInfo
	if info == nil {
		return
	}
	childSession := string(ev.SessionID)
	if string(info.TargetID) == p.selfTargetID {
		p.releaseAndDetach(childSession)
		return
	}

	switch info.Type {
	case "page", "iframe":
		p.attachBrowsingContextTarget(childSession, info)
	case "worker", "service_worker":
		p.attachWorkerTarget(childSession, arrivalSession, info, false)
	case "shared_worker":
		p.attachWorkerTarget(childSession, arrivalSession, info, true)
	default:
		p.releaseAndDetach(childSession)
	}
}

func (p *Processor) releaseAndDetach(sessionID string) {
	client := p.conn.GetClient(sessionID)
	ctx := context.Background()
	_ = runtime.RunIfWaitingForDebugger().Do(cdp.WithExecutor(ctx, client))
	_ = cdptarget.DetachFromTarget().WithSessionID(cdptarget.SessionID(sessionID)).Do(cdp.WithExecutor(ctx, p.browserClient))
}

func (p *Processor) attachBrowsingContextTarget(sessionID string, info *cdptarget.Info) {
	client := p.conn.GetClient(sessionID)
	targetID := string(info.TargetID)

	userContextID := string(info.BrowserContextID)
	if userContextID == "" {
		userContextID = model.DefaultUserContext
	}

	existing := p.contexts.FindByID(targetID)
	topLevelID := targetID
	if existing != nil {
		// OOPIF swap: rebind CdpTarget, keep the context.
		existing.TargetID = targetID
		if tl := p.contexts.FindTopLevelContextID(existing.ID); tl != "" {
			topLevelID = tl
		}
	} else {
		p.contexts.Insert(&model.BrowsingContext{
			ID:            targetID,
			UserContextID: userContextID,
			Readiness:     model.ReadinessNone,
			Children:      make(map[string]struct{}),
			TargetID:      targetID,
			CreatedAt:     now(),
		})
	}

	t := target.New(targetID, sessionID, topLevelID, client, p.browserClient, p.cfg.AcceptInsecureCerts)
	p.putTarget(t)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := t.Unblock(ctx, p, p.netCoord); err != nil {
			p.log.Warn("target unblock failed", zap.String("target", targetID), zap.Error(err))
		}
		if info, err := p.browserInfo.GetBrowserInfo(ctx); err == nil {
			p.log.Debug("target unblocked", zap.String("target", targetID), zap.String("browserProduct", info.Product))
		}
		p.signalContextAttached(targetID)
	}()
}

func (p *Processor) attachWorkerTarget(sessionID, openerSession string, info *cdptarget.Info, shared bool) {
	client := p.conn.GetClient(sessionID)
	targetID := string(info.TargetID)

	if !shared {
		owners := p.realms.FindBySession(openerSession)
		if len(owners) == 0 {
			// Opener already gone; the worker is as good as terminated.
			p.releaseAndDetach(sessionID)
			return
		}
		ownerIDs := make(map[string]struct{}, len(owners))
		for _, r := range owners {
			ownerIDs[r.ID] = struct{}{}
		}
		p.mu.Lock()
		p.workerOwner[targetID] = ownerIDs
		p.mu.Unlock()
	}

	t := target.New(targetID, sessionID, targetID, client, p.browserClient, p.cfg.AcceptInsecureCerts)
	p.putTarget(t)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = t.Unblock(ctx, nil, nil)
	}()
}

func (p *Processor) onDetachedFromTarget(ev *cdptarget.EventDetachedFromTarget) {
	sessionID := string(ev.SessionID)
	t := p.targetForSession(sessionID)

	p.netCoord.DisposeSession(sessionID)
	p.realms.RemoveBySession(sessionID)

	if t == nil {
		return
	}
	p.dropTarget(t.ID)
	p.preloads.RemoveTargetBinding(t.ID)

	if ctx := p.contexts.FindByID(t.ID); ctx != nil {
		p.disposeContext(ctx.ID)
	}
}

func (p *Processor) disposeContext(id string) {
	removed := p.contexts.Remove(id)
	for _, rid := range removed {
		p.realms.RemoveByContext(rid)
		p.events.RegisterEvent("browsingContext.contextDestroyed", rid, map[string]string{"context": rid})
		p.events.MarkContextDestroyed(rid)
	}
}

// onFrameNavigated implements spec §3 Realm invariant (b): navigating a
// context invalidates its realms before CDP creates the new document's
// execution contexts (Runtime.executionContextCreated events that follow).
func (p *Processor) onFrameNavigated(ev *page.EventFrameNavigated) {
	if ev.Frame == nil {
		return
	}
	p.realms.RemoveByContext(string(ev.Frame.ID))
}

func (p *Processor) onFrameAttached(sessionID string, ev *page.EventFrameAttached) {
	parent := p.contexts.FindByID(string(ev.ParentFrameID))
	if parent == nil {
		return
	}
	child := &model.BrowsingContext{
		ID:            string(ev.FrameID),
		ParentID:      parent.ID,
		UserContextID: parent.UserContextID,
		Readiness:     model.ReadinessNone,
		Children:      make(map[string]struct{}),
		TargetID:      parent.TargetID,
		CreatedAt:     now(),
	}
	p.contexts.Insert(child)
	p.events.RegisterEvent("browsingContext.contextCreated", child.ID, map[string]string{"context": child.ID, "parent": parent.ID})
}

func (p *Processor) onFrameDetached(ev *page.EventFrameDetached) {
	if ev.Reason == page.FrameDetachedReasonSwap {
		return
	}
	p.disposeContext(string(ev.FrameID))
}

func (p *Processor) onDialogOpening(sessionID string, ev *page.EventJavascriptDialogOpening) {
	ctx := p.contexts.FindByTargetID(p.targetIDForSession(sessionID))
	if ctx == nil {
		return
	}
	ctx.PendingDialog = &model.Dialog{
		Type:          string(ev.Type),
		Message:       ev.Message,
		DefaultPrompt: ev.DefaultPrompt,
	}
	p.events.RegisterEvent("browsingContext.userPromptOpened", ctx.ID, map[string]interface{}{
		"context": ctx.ID,
		"type":    ev.Type,
		"message": ev.Message,
	})
}

func (p *Processor) onTargetCrashed(sessionID string) {
	p.realms.RemoveBySession(sessionID)
}

func (p *Processor) onExecutionContextCreated(sessionID string, ev *runtime.EventExecutionContextCreated) {
	t := p.targetForSession(sessionID)
	if t == nil {
		return
	}
	aux := ev.Context.AuxData
	var isDefault bool
	if aux != nil {
		var decoded struct {
			IsDefault bool `json:"isDefault"`
		}
		if err := json.Unmarshal(aux, &decoded); err == nil {
			isDefault = decoded.IsDefault
		}
	}

	ctx := p.contexts.FindByTargetID(t.ID)
	realmType := model.RealmDedicatedWorker
	contextID := ""
	if ctx != nil && isDefault {
		realmType = model.RealmWindow
		contextID = ctx.ID
	}

	p.mu.RLock()
	owners := p.workerOwner[t.ID]
	p.mu.RUnlock()

	p.realms.Insert(&model.Realm{
		ID:                 fmt.Sprintf("realm-%d", ev.Context.ID),
		Type:               realmType,
		ContextID:          contextID,
		Owners:             owners,
		Origin:             ev.Context.Origin,
		ExecutionContextID: int64(ev.Context.ID),
		SessionID:          sessionID,
	})
}

func (p *Processor) onRequestWillBeSent(sessionID string, ev *cdpnetwork.EventRequestWillBeSent) {
	t := p.targetForSession(sessionID)
	if t == nil {
		return
	}
	ctx := p.contexts.FindByTargetID(t.TopLevelID)
	contextID := ""
	if ctx != nil {
		contextID = ctx.ID
	}
	p.netCoord.HandleRequestWillBeSent(context.Background(), sessionID, t.ID, contextID, ev)
}

func now() time.Time { return time.Now() }

// InstallPreloadScripts implements target.PreloadInstaller: install every
// preload script matching t's top-level context before the caller releases
// runIfWaitingForDebugger (spec §4.2 step 6, §3 "PreloadScript" invariant).
func (p *Processor) InstallPreloadScripts(ctx context.Context, t *target.Target) error {
	topCtx := p.contexts.FindByID(t.TopLevelID)
	contextID := ""
	if topCtx != nil {
		contextID = topCtx.ID
	}

	for _, ps := range p.preloads.MatchingContext(contextID) {
		res, err := page.AddScriptToEvaluateOnNewDocument(ps.Source).
			WithWorldName(ps.Sandbox).
			Do(cdp.WithExecutor(ctx, t.Client))
		if err != nil {
			return err
		}
		ps.InstalledIDs[t.ID] = string(res)
	}
	return nil
}

// AddPreloadScript implements script.addPreloadScript: registers the script
// then installs it immediately on every live target whose top-level context
// matches, so a script added after a context already exists still runs on
// that context's next navigation (spec §3 "PreloadScript"; future attaches
// pick it up via InstallPreloadScripts).
func (p *Processor) AddPreloadScript(ctx context.Context, source, sandbox string, contexts []string) (string, error) {
	contextID := ""
	if len(contexts) > 0 {
		contextID = contexts[0]
	}

	ps := &model.PreloadScript{
		ID:           uuid.NewString(),
		Source:       source,
		Sandbox:      sandbox,
		ContextID:    contextID,
		InstalledIDs: make(map[string]string),
	}
	p.preloads.Add(ps)

	for _, t := range p.snapshotTargets() {
		topCtx := p.contexts.FindByID(t.TopLevelID)
		tcID := ""
		if topCtx != nil {
			tcID = topCtx.ID
		}
		if !ps.AppliesToContext(tcID) {
			continue
		}
		res, err := page.AddScriptToEvaluateOnNewDocument(ps.Source).
			WithWorldName(ps.Sandbox).
			Do(cdp.WithExecutor(ctx, t.Client))
		if err != nil {
			p.log.Warn("preload script install failed", zap.String("target", t.ID), zap.Error(err))
			continue
		}
		ps.InstalledIDs[t.ID] = string(res)
	}
	return ps.ID, nil
}

// RemovePreloadScript implements script.removePreloadScript: uninstalls it
// from every target that still has it bound, then drops it from the
// registry.
func (p *Processor) RemovePreloadScript(ctx context.Context, id string) error {
	ps, err := p.preloads.Get(id)
	if err != nil {
		return err
	}

	for _, t := range p.snapshotTargets() {
		scriptID, ok := ps.InstalledIDs[t.ID]
		if !ok {
			continue
		}
		if err := page.RemoveScriptToEvaluateOnNewDocument(page.ScriptIdentifier(scriptID)).Do(cdp.WithExecutor(ctx, t.Client)); err != nil {
			p.log.Warn("preload script removal failed", zap.String("target", t.ID), zap.Error(err))
		}
	}
	return p.preloads.Remove(id)
}

// CreateBrowsingContext implements browsingContext.create (Scenario S1):
// issues Target.createTarget and blocks until the resulting context has
// attached and finished unblocking, returning its id.
func (p *Processor) CreateBrowsingContext(ctx context.Context, contextType string) (string, error) {
	res, err := cdptarget.CreateTarget("about:blank").WithNewWindow(false).Do(cdp.WithExecutor(ctx, p.browserClient))
	if err != nil {
		return "", err
	}
	targetID := string(res)

	wait := p.awaitContextAttached(targetID)
	select {
	case <-wait:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(30 * time.Second):
		p.cancelAwaitContextAttached(targetID)
		return "", bidierror.New(bidierror.UnknownError, "timed out waiting for new browsing context %q to attach", targetID)
	}
	return targetID, nil
}

// awaitContextAttached registers a waiter signalled by attachBrowsingContextTarget
// once the new context for targetID is in storage and its target's unblock
// sequence has returned.
func (p *Processor) awaitContextAttached(targetID string) <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pendingCreates == nil {
		p.pendingCreates = make(map[string]chan struct{})
	}
	ch := make(chan struct{})
	p.pendingCreates[targetID] = ch
	return ch
}

func (p *Processor) cancelAwaitContextAttached(targetID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pendingCreates, targetID)
}

func (p *Processor) signalContextAttached(targetID string) {
	p.mu.Lock()
	ch, ok := p.pendingCreates[targetID]
	if ok {
		delete(p.pendingCreates, targetID)
	}
	p.mu.Unlock()
	if ok {
		close(ch)
	}
}

// SetViewport implements browsingContext.setViewport. The source only ever
// supported overriding the top-level viewport; a non-top-level context is
// rejected (SPEC_FULL §9, spec §9).
func (p *Processor) SetViewport(ctx context.Context, contextID string, width, height int64, devicePixelRatio float64) error {
	bc, err := p.contexts.GetByID(contextID)
	if err != nil {
		return err
	}
	if !bc.IsTopLevel() {
		return bidierror.InvalidArgumentErr("browsingContext.setViewport: context %q is not top-level", contextID)
	}

	t := p.ByTargetID(bc.TargetID)
	if t == nil {
		return bidierror.NoSuchFrameErr(contextID)
	}

	if width <= 0 || height <= 0 {
		// A zero size resets the override back to the actual window size.
		return emulation.SetDeviceMetricsOverride(0, 0, 0, false).Do(cdp.WithExecutor(ctx, t.Client))
	}
	return emulation.SetDeviceMetricsOverride(width, height, devicePixelRatio, false).Do(cdp.WithExecutor(ctx, t.Client))
}

// AddIntercept implements network.addIntercept: registers the intercept
// then resynchronises every live target's Fetch state (spec §4.4).
func (p *Processor) AddIntercept(ctx context.Context, patterns []urlpattern.Pattern, phases []model.InterceptPhase, contexts []string) (string, error) {
	id := p.netStorage.AddIntercept(patterns, phases, contexts)
	p.syncAllTargets(ctx)
	return id, nil
}

// RemoveIntercept implements network.removeIntercept.
func (p *Processor) RemoveIntercept(ctx context.Context, id string) error {
	if err := p.netStorage.RemoveIntercept(id); err != nil {
		return err
	}
	p.syncAllTargets(ctx)
	return nil
}

// ContinueRequest implements network.continueRequest.
func (p *Processor) ContinueRequest(ctx context.Context, requestID string) error {
	req, t, err := p.resolveRequest(requestID)
	if err != nil {
		return err
	}
	return p.netCoord.ContinueRequest(ctx, req, t)
}

// FailRequest implements network.failRequest.
func (p *Processor) FailRequest(ctx context.Context, requestID string) error {
	req, t, err := p.resolveRequest(requestID)
	if err != nil {
		return err
	}
	return p.netCoord.FailRequest(ctx, req, t, cdpnetwork.ErrorReasonFailed)
}

// ProvideResponse implements network.provideResponse.
func (p *Processor) ProvideResponse(ctx context.Context, requestID string, statusCode int, headers map[string]string, body []byte) error {
	req, t, err := p.resolveRequest(requestID)
	if err != nil {
		return err
	}
	var entries []*cdpfetch.HeaderEntry
	for k, v := range headers {
		entries = append(entries, &cdpfetch.HeaderEntry{Name: k, Value: v})
	}
	return p.netCoord.ProvideResponse(ctx, req, t, int64(statusCode), entries, body)
}

// ContinueWithAuth implements network.continueWithAuth.
func (p *Processor) ContinueWithAuth(ctx context.Context, requestID, action, username, password string) error {
	req, t, err := p.resolveRequest(requestID)
	if err != nil {
		return err
	}
	resp := &cdpfetch.AuthChallengeResponse{Response: cdpfetch.AuthChallengeResponseResponse(action)}
	if action == "provideCredentials" {
		resp.Username = username
		resp.Password = password
	}
	return p.netCoord.ContinueWithAuth(ctx, req, t, resp)
}

func (p *Processor) resolveRequest(requestID string) (*network.Request, *target.Target, error) {
	req := p.netStorage.Get(requestID)
	if req == nil {
		return nil, nil, bidierror.InvalidArgumentErr("no such network request %q", requestID)
	}
	t := p.ByTargetID(req.TargetID)
	if t == nil {
		return nil, nil, bidierror.InvalidArgumentErr("network request %q has no live target", requestID)
	}
	return req, t, nil
}

// snapshotTargets returns every live target, for callers that need to fan a
// change out across all of them without holding the target map's lock.
func (p *Processor) snapshotTargets() []*target.Target {
	p.mu.RLock()
	defer p.mu.RUnlock()
	targets := make([]*target.Target, 0, len(p.targets))
	for _, t := range p.targets {
		targets = append(targets, t)
	}
	return targets
}

func (p *Processor) syncAllTargets(ctx context.Context) {
	for _, t := range p.snapshotTargets() {
		if !t.Done() {
			continue
		}
		if err := p.netCoord.SyncTarget(ctx, t); err != nil {
			p.log.Warn("network sync failed", zap.String("target", t.ID), zap.Error(err))
		}
	}
}

// HandleUserPrompt implements browsingContext.handleUserPrompt (SPEC_FULL
// §3.1): maps to Page.handleJavaScriptDialog, translating CDP's "no dialog
// showing" failure into the BiDi no-such-alert error.
func (p *Processor) HandleUserPrompt(ctx context.Context, contextID string, accept bool, userText string) error {
	bc, err := p.contexts.GetByID(contextID)
	if err != nil {
		return err
	}
	if bc.PendingDialog == nil {
		return bidierror.NoSuchAlertErr(contextID)
	}

	t := p.ByTargetID(bc.TargetID)
	if t == nil {
		return bidierror.NoSuchFrameErr(contextID)
	}

	cmd := page.HandleJavaScriptDialog(accept)
	if userText != "" {
		cmd = cmd.WithPromptText(userText)
	}
	if err := cmd.Do(cdp.WithExecutor(ctx, t.Client)); err != nil {
		if looksLikeNoDialog(err) {
			return bidierror.NoSuchAlertErr(contextID)
		}
		return err
	}
	bc.PendingDialog = nil
	return nil
}

func looksLikeNoDialog(err error) bool {
	return err != nil && strings.Contains(err.Error(), "No dialog is showing")
}

// PerformActions implements input.performActions' ordering contract
// (SPEC_FULL §3.1): forwarded to the external InputDispatcher collaborator
// while still executing on the single-threaded runner, so a subsequent
// script.callFunction on the same context observes its side effects.
func (p *Processor) PerformActions(ctx context.Context, contextID string, params json.RawMessage) (interface{}, error) {
	if p.input == nil {
		return nil, bidierror.UnknownCommandErr("input.performActions")
	}
	bc, err := p.contexts.GetByID(contextID)
	if err != nil {
		return nil, err
	}
	t := p.ByTargetID(bc.TargetID)
	if t == nil {
		return nil, bidierror.NoSuchFrameErr(contextID)
	}
	return p.input.PerformActions(ctx, t, params)
}

// Subscribe implements session.subscribe.
func (p *Processor) Subscribe(namesOrEvents []string, contexts []string) string {
	id := p.events.Subscribe(namesOrEvents, contexts)
	ctx := context.Background()
	p.syncAllTargets(ctx)
	return id
}

// Unsubscribe implements session.unsubscribe.
func (p *Processor) Unsubscribe(ids []string) {
	p.events.Unsubscribe(ids)
	p.syncAllTargets(context.Background())
}

// Runner exposes the processor's single-threaded runner so the BiDi command
// dispatcher can serialise command handling through it (spec §5).
func (p *Processor) Runner() *runner.Runner { return p.runner }
