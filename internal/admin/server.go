// Package admin implements the mapper's read-only HTTP introspection
// surface (SPEC_FULL §4.7): a small gorilla/mux router exposing the live
// browsing-context tree, target table, intercepts, and preload scripts.
// Adapted from the teacher's internal/api.Server (router setup,
// Logging/Recovery middleware, /health) minus the browser-proxying and
// webhook-delivery concerns, which don't apply to a single ephemeral BiDi
// session: there is no durable out-of-band subscriber to notify, and no
// devtools frontend to proxy.
package admin

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"bidimapper/internal/cdpdomain"
	"bidimapper/internal/logging"
	"bidimapper/internal/model"
	"bidimapper/internal/storage"
	"bidimapper/internal/target"
)

// Processor is the subset of internal/session.Processor the admin server
// reads from, kept as an interface so this package does not depend on
// internal/session, cdproto, or internal/network. internal/cdpdomain is none
// of those — BrowserInfo's return type is a plain struct, not a cdproto one.
type Processor interface {
	Contexts() *storage.ContextStorage
	AllTargets() []*target.Target
	Intercepts() []*model.Intercept
	PreloadScripts() []*model.PreloadScript
	BrowserInfo(ctx context.Context) (cdpdomain.BrowserInfo, error)
}

// Server is the admin HTTP introspection endpoint. Unlike internal/transport
// it accepts any number of concurrent requests — it only reads snapshots,
// never touches protocol state.
type Server struct {
	router *mux.Router
	server *http.Server
	proc   Processor
	log    *zap.Logger
}

func NewServer(proc Processor, addr string) *Server {
	router := mux.NewRouter()
	s := &Server{
		router: router,
		proc:   proc,
		log:    logging.For(logging.NamespaceAdmin, "server"),
		server: &http.Server{
			Addr:    addr,
			Handler: router,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(func(next http.Handler) http.Handler { return logRequest(s.log, next) })
	s.router.Use(func(next http.Handler) http.Handler { return recovery(s.log, next) })

	s.router.HandleFunc("/admin/contexts", s.handleContexts).Methods("GET")
	s.router.HandleFunc("/admin/targets", s.handleTargets).Methods("GET")
	s.router.HandleFunc("/admin/intercepts", s.handleIntercepts).Methods("GET")
	s.router.HandleFunc("/admin/preload-scripts", s.handlePreloadScripts).Methods("GET")
	s.router.HandleFunc("/admin/browser", s.handleBrowserInfo).Methods("GET")

	s.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")
}

func (s *Server) Start() error {
	s.log.Info("starting admin server", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
