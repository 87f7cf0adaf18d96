// Package target implements the per-target CDP session and its unblock
// state machine (spec §4.2): enabling domains in the right order,
// auto-attaching descendants, installing preload scripts, all before
// releasing runIfWaitingForDebugger.
package target

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/security"
	cdptarget "github.com/chromedp/cdproto/target"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bidimapper/internal/cdpconn"
	"bidimapper/internal/logging"
)

// FetchStages mirrors spec §3's three-bool fetch-stage vector.
type FetchStages struct {
	Request  bool
	Response bool
	Auth     bool
}

// Any reports whether at least one stage is active.
func (f FetchStages) Any() bool { return f.Request || f.Response || f.Auth }

// PreloadInstaller installs preload scripts on a newly-unblocked target and
// waits for their CDP script ids. Implemented by internal/session so that
// this package does not depend on internal/storage.
type PreloadInstaller interface {
	InstallPreloadScripts(ctx context.Context, t *Target) error
}

// NetworkSync computes and applies the desired Fetch/Network domain state
// for a target. Implemented by internal/network so this package has no
// import cycle with it (internal/network also needs *Target to issue
// Fetch.enable/disable).
type NetworkSync interface {
	SyncTarget(ctx context.Context, t *Target) error
}

// Target is a per-CDP-target session and its unblock FSM (spec §3/§4.2).
type Target struct {
	ID            string // CDP target id
	SessionID     string
	TopLevelID    string // nearest top-level ancestor's target id, or ID itself
	Client        *cdpconn.Client
	BrowserClient *cdpconn.Client

	AcceptInsecureCerts bool

	mu             sync.Mutex
	networkEnabled bool
	fetchStages    FetchStages

	unblockOnce sync.Once
	unblockDone chan struct{}
	unblockErr  error

	log *zap.Logger
}

// New constructs a Target. Call Unblock to run the entry-action sequence.
func New(id, sessionID, topLevelID string, client, browserClient *cdpconn.Client, acceptInsecureCerts bool) *Target {
	return &Target{
		ID:                  id,
		SessionID:           sessionID,
		TopLevelID:          topLevelID,
		Client:              client,
		BrowserClient:       browserClient,
		AcceptInsecureCerts: acceptInsecureCerts,
		unblockDone:         make(chan struct{}),
		log:                 logging.For(logging.NamespaceTarget, id),
	}
}

// NetworkEnabled reports whether the Network domain is currently enabled.
func (t *Target) NetworkEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.networkEnabled
}

// FetchStages returns the currently-applied fetch stage vector.
func (t *Target) FetchStages() FetchStages {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fetchStages
}

// SetDomainState records the domain state that was just applied to CDP.
// Called by internal/network after a successful Fetch/Network sync.
func (t *Target) SetDomainState(networkEnabled bool, stages FetchStages) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.networkEnabled = networkEnabled
	t.fetchStages = stages
}

// Unblock runs the entry-action sequence of spec §4.2. preload and netSync
// may be nil in tests that don't exercise them. Unblock resolves exactly
// once: concurrent callers all observe the same result.
func (t *Target) Unblock(ctx context.Context, preload PreloadInstaller, netSync NetworkSync) error {
	t.unblockOnce.Do(func() {
		t.unblockErr = t.runUnblockSequence(ctx, preload, netSync)
		close(t.unblockDone)
	})
	<-t.unblockDone
	return t.unblockErr
}

// Done reports whether Unblock has resolved, without blocking.
func (t *Target) Done() bool {
	select {
	case <-t.unblockDone:
		return true
	default:
		return false
	}
}

func (t *Target) runUnblockSequence(ctx context.Context, preload PreloadInstaller, netSync NetworkSync) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return t.wrapClose(runtime.Enable().Do(withExecutor(gctx, t.Client))) })
	g.Go(func() error { return t.wrapClose(t.enablePageAndLifecycle(gctx)) })
	g.Go(func() error { return t.wrapClose(t.setIgnoreCertErrors(gctx)) })
	g.Go(func() error {
		if netSync == nil {
			return nil
		}
		return t.wrapClose(netSync.SyncTarget(gctx, t))
	})
	g.Go(func() error { return t.wrapClose(t.setAutoAttach(gctx)) })
	g.Go(func() error {
		if preload == nil {
			return nil
		}
		return t.wrapClose(preload.InstallPreloadScripts(gctx, t))
	})

	if err := g.Wait(); err != nil {
		if t.Client.IsCloseError(err) {
			t.log.Debug("target vanished during unblock, treating as benign")
			return nil
		}
		t.log.Warn("unblock sequence failed", zap.Error(err))
		return err
	}

	if err := runtime.RunIfWaitingForDebugger().Do(withExecutor(ctx, t.Client)); err != nil && !t.Client.IsCloseError(err) {
		return err
	}
	return nil
}

// wrapClose turns a close-class error into nil so errgroup doesn't cancel
// the sibling steps just because the target already vanished; the overall
// Unblock still resolves success per spec §4.2's failure policy.
func (t *Target) wrapClose(err error) error {
	if err == nil {
		return nil
	}
	if t.Client.IsCloseError(err) {
		return nil
	}
	return err
}

func withExecutor(ctx context.Context, c *cdpconn.Client) context.Context {
	return cdp.WithExecutor(ctx, c)
}

// WithExecutor returns ctx wired so that a cdproto command's Do(ctx) issues
// through t's session client. Exported for internal/network, which issues
// Fetch continuation commands directly against a target.
func WithExecutor(ctx context.Context, t *Target) context.Context {
	return withExecutor(ctx, t.Client)
}

func (t *Target) enablePageAndLifecycle(ctx context.Context) error {
	if err := page.Enable().Do(withExecutor(ctx, t.Client)); err != nil {
		return err
	}
	return page.SetLifecycleEventsEnabled(true).Do(withExecutor(ctx, t.Client))
}

func (t *Target) setIgnoreCertErrors(ctx context.Context) error {
	if !t.AcceptInsecureCerts {
		return nil
	}
	return security.SetIgnoreCertificateErrors(true).Do(withExecutor(ctx, t.Client))
}

func (t *Target) setAutoAttach(ctx context.Context) error {
	return cdptarget.SetAutoAttach(true, true).WithFlatten(true).Do(withExecutor(ctx, t.Client))
}

// EnableNetwork issues Network.enable.
func (t *Target) EnableNetwork(ctx context.Context) error {
	return network.Enable().Do(withExecutor(ctx, t.Client))
}

// DisableNetwork issues Network.disable.
func (t *Target) DisableNetwork(ctx context.Context) error {
	return network.Disable().Do(withExecutor(ctx, t.Client))
}

// EnableFetch issues Fetch.enable with url patterns derived from stages.
func (t *Target) EnableFetch(ctx context.Context, stages FetchStages) error {
	var patterns []*fetch.RequestPattern
	if stages.Request || stages.Auth {
		patterns = append(patterns, &fetch.RequestPattern{URLPattern: "*", RequestStage: fetch.RequestStageRequest})
	}
	if stages.Response {
		patterns = append(patterns, &fetch.RequestPattern{URLPattern: "*", RequestStage: fetch.RequestStageResponse})
	}
	return fetch.Enable().WithPatterns(patterns).WithHandleAuthRequests(stages.Auth).Do(withExecutor(ctx, t.Client))
}

// DisableFetch issues Fetch.disable.
func (t *Target) DisableFetch(ctx context.Context) error {
	return fetch.Disable().Do(withExecutor(ctx, t.Client))
}

// EnableInspector issues Inspector.enable, used to observe targetCrashed.
func (t *Target) EnableInspector(ctx context.Context) error {
	return inspector.Enable().Do(withExecutor(ctx, t.Client))
}
