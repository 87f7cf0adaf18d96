// Command bidimapper runs the WebDriver BiDi <-> CDP mapper: it dials a
// browser's CDP endpoint and serves exactly one BiDi client over a
// websocket, plus a read-only admin HTTP introspection surface. Adapted
// from the teacher's cmd/browsermux/main.go (config load, signal handling,
// graceful HTTP shutdown), minus webhook registration, which has no
// equivalent here (see internal/admin's doc comment).
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"bidimapper/internal/admin"
	"bidimapper/internal/bidi"
	"bidimapper/internal/cdpconn"
	"bidimapper/internal/cdpdomain"
	"bidimapper/internal/config"
	"bidimapper/internal/logging"
	"bidimapper/internal/model"
	"bidimapper/internal/runner"
	"bidimapper/internal/session"
	"bidimapper/internal/storage"
	"bidimapper/internal/target"
	"bidimapper/internal/transport"
)

func main() {
	log := logging.For(logging.NamespaceBiDi, "main")
	log.Info("starting bidimapper")

	cfg, err := config.Load()
	if err != nil {
		log.Warn("failed to load config, using defaults", zap.Error(err))
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	holder := &processorHolder{}

	admSrv := admin.NewServer(holder, ":"+cfg.AdminPort)
	go func() {
		if err := admSrv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal("admin server failed", zap.Error(err))
		}
	}()

	factory := func(sink runner.Sink) *bidi.Dispatcher {
		conn, err := cdpconn.Dial(ctx, cfg.BrowserURL, time.Duration(cfg.ConnectionTimeoutSeconds)*time.Second, holder.handleCDPEvent)
		if err != nil {
			log.Error("failed to dial browser CDP endpoint", zap.Error(err))
			return nil
		}

		sessionCfg := session.Config{
			AcceptInsecureCerts:   cfg.AcceptInsecureCerts,
			EventBufferPerContext: cfg.LogBufferPerContext,
		}
		proc := session.NewProcessor(sessionCfg, conn, cfg.SelfTargetID, sink, nil)
		holder.set(proc)
		proc.Start(ctx)

		return bidi.NewDispatcher(proc)
	}

	transportSrv := transport.NewServer(factory, int64(cfg.MaxMessageSize), time.Duration(cfg.ConnectionTimeoutSeconds)*time.Second)
	bidiHTTP := &http.Server{Addr: ":" + cfg.BiDiPort, Handler: transportSrv}

	go func() {
		if err := bidiHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("bidi server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := bidiHTTP.Shutdown(shutdownCtx); err != nil {
		log.Warn("bidi server shutdown error", zap.Error(err))
	}
	if err := admSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("admin server shutdown error", zap.Error(err))
	}
	cancel()

	log.Info("stopped")
}

// processorHolder bridges the startup ordering gap: the admin server and
// the CDP connection's event handler both need a *session.Processor, but it
// can only be constructed once the single BiDi client connects and the
// transport factory runs. Until then, reads see an empty snapshot and CDP
// events are dropped.
type processorHolder struct {
	mu   sync.RWMutex
	proc *session.Processor
}

func (h *processorHolder) set(p *session.Processor) {
	h.mu.Lock()
	h.proc = p
	h.mu.Unlock()
}

func (h *processorHolder) get() *session.Processor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.proc
}

func (h *processorHolder) handleCDPEvent(sessionID, method string, rawParams json.RawMessage, event interface{}) {
	if p := h.get(); p != nil {
		p.HandleCDPEvent(sessionID, method, rawParams, event)
	}
}

func (h *processorHolder) Contexts() *storage.ContextStorage {
	if p := h.get(); p != nil {
		return p.Contexts()
	}
	return storage.NewContextStorage()
}

func (h *processorHolder) AllTargets() []*target.Target {
	if p := h.get(); p != nil {
		return p.AllTargets()
	}
	return nil
}

func (h *processorHolder) Intercepts() []*model.Intercept {
	if p := h.get(); p != nil {
		return p.Intercepts()
	}
	return nil
}

func (h *processorHolder) PreloadScripts() []*model.PreloadScript {
	if p := h.get(); p != nil {
		return p.PreloadScripts()
	}
	return nil
}

func (h *processorHolder) BrowserInfo(ctx context.Context) (cdpdomain.BrowserInfo, error) {
	if p := h.get(); p != nil {
		return p.BrowserInfo(ctx)
	}
	return cdpdomain.BrowserInfo{}, nil
}

var _ admin.Processor = (*processorHolder)(nil)
