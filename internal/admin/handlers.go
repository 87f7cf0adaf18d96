package admin

import "net/http"

type browserInfoDTO struct {
	Product         string `json:"product"`
	ProtocolVersion string `json:"protocolVersion"`
	UserAgent       string `json:"userAgent"`
}

func (s *Server) handleBrowserInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.proc.BrowserInfo(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, browserInfoDTO{
		Product:         info.Product,
		ProtocolVersion: info.ProtocolVersion,
		UserAgent:       info.UserAgent,
	})
}

type contextDTO struct {
	ID        string   `json:"id"`
	ParentID  string   `json:"parentId,omitempty"`
	URL       string   `json:"url"`
	Readiness string   `json:"readiness"`
	TargetID  string   `json:"targetId"`
	Children  []string `json:"children"`
}

func (s *Server) handleContexts(w http.ResponseWriter, r *http.Request) {
	all := s.proc.Contexts().AllContexts()
	out := make([]contextDTO, 0, len(all))
	for _, c := range all {
		children := make([]string, 0, len(c.Children))
		for id := range c.Children {
			children = append(children, id)
		}
		out = append(out, contextDTO{
			ID:        c.ID,
			ParentID:  c.ParentID,
			URL:       c.URL,
			Readiness: string(c.Readiness),
			TargetID:  c.TargetID,
			Children:  children,
		})
	}
	writeJSON(w, out)
}

type targetDTO struct {
	ID                  string `json:"id"`
	SessionID           string `json:"sessionId"`
	TopLevelID          string `json:"topLevelId"`
	Unblocked           bool   `json:"unblocked"`
	NetworkEnabled      bool   `json:"networkEnabled"`
	FetchRequest        bool   `json:"fetchRequest"`
	FetchResponse       bool   `json:"fetchResponse"`
	FetchAuth           bool   `json:"fetchAuth"`
	AcceptInsecureCerts bool   `json:"acceptInsecureCerts"`
}

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	all := s.proc.AllTargets()
	out := make([]targetDTO, 0, len(all))
	for _, t := range all {
		stages := t.FetchStages()
		out = append(out, targetDTO{
			ID:                  t.ID,
			SessionID:           t.SessionID,
			TopLevelID:          t.TopLevelID,
			Unblocked:           t.Done(),
			NetworkEnabled:      t.NetworkEnabled(),
			FetchRequest:        stages.Request,
			FetchResponse:       stages.Response,
			FetchAuth:           stages.Auth,
			AcceptInsecureCerts: t.AcceptInsecureCerts,
		})
	}
	writeJSON(w, out)
}

type interceptDTO struct {
	ID       string   `json:"id"`
	Phases   []string `json:"phases"`
	Contexts []string `json:"contexts,omitempty"`
	Global   bool     `json:"global"`
}

func (s *Server) handleIntercepts(w http.ResponseWriter, r *http.Request) {
	all := s.proc.Intercepts()
	out := make([]interceptDTO, 0, len(all))
	for _, i := range all {
		phases := make([]string, 0, len(i.Phases))
		for p := range i.Phases {
			phases = append(phases, string(p))
		}
		contexts := make([]string, 0, len(i.Contexts))
		for c := range i.Contexts {
			contexts = append(contexts, c)
		}
		out = append(out, interceptDTO{
			ID:       i.ID,
			Phases:   phases,
			Contexts: contexts,
			Global:   len(i.Contexts) == 0,
		})
	}
	writeJSON(w, out)
}

type preloadScriptDTO struct {
	ID          string   `json:"id"`
	ContextID   string   `json:"contextId,omitempty"`
	Global      bool     `json:"global"`
	Sandbox     string   `json:"sandbox,omitempty"`
	Channels    []string `json:"channels,omitempty"`
	InstalledOn []string `json:"installedOn"`
}

func (s *Server) handlePreloadScripts(w http.ResponseWriter, r *http.Request) {
	all := s.proc.PreloadScripts()
	out := make([]preloadScriptDTO, 0, len(all))
	for _, p := range all {
		installedOn := make([]string, 0, len(p.InstalledIDs))
		for targetID := range p.InstalledIDs {
			installedOn = append(installedOn, targetID)
		}
		out = append(out, preloadScriptDTO{
			ID:          p.ID,
			ContextID:   p.ContextID,
			Global:      p.ContextID == "",
			Sandbox:     p.Sandbox,
			Channels:    p.Channels,
			InstalledOn: installedOn,
		})
	}
	writeJSON(w, out)
}
