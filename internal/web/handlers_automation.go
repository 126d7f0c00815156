package web

import (
	"errors"
	"net/http"
	"slices"

	"lifx-lan/internal/automation"
)

// inlineScriptID names the pseudo-script whose code is posted with the run
// request.
const inlineScriptID = "_inline"

// scriptView is a stored script plus whether the engine is running it.
type scriptView struct {
	*automation.Script
	Running bool `json:"running"`
}

type createAutomationRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	LuaCode     string `json:"lua_code"`
	Enabled     bool   `json:"enabled"`
}

// updateAutomationRequest changes only the fields present in the body.
type updateAutomationRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	LuaCode     *string `json:"lua_code"`
	Enabled     *bool   `json:"enabled"`
}

func (req updateAutomationRequest) apply(s *automation.Script) {
	if req.Name != nil && *req.Name != "" {
		s.Meta.Name = *req.Name
	}
	if req.Description != nil {
		s.Meta.Description = *req.Description
	}
	if req.LuaCode != nil {
		s.LuaCode = *req.LuaCode
	}
	if req.Enabled != nil {
		s.Meta.Enabled = *req.Enabled
	}
}

func (s *Server) writeScriptError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, automation.ErrScriptNotFound):
		status = http.StatusNotFound
	case errors.Is(err, automation.ErrInvalidID), errors.Is(err, automation.ErrSyntax):
		status = http.StatusBadRequest
	default:
		s.logger.Error("automation request failed", "err", err)
		s.writeJSON(w, status, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// scripts wraps handlers that need the script manager.
func (s *Server) scripts(h func(w http.ResponseWriter, r *http.Request, mgr *automation.Manager)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.scriptMgr == nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "automations not available"})
			return
		}
		h(w, r, s.scriptMgr)
	}
}

func (s *Server) view(script *automation.Script) scriptView {
	v := scriptView{Script: script}
	if s.autoEngine != nil {
		v.Running = slices.Contains(s.autoEngine.Running(), script.ID)
	}
	return v
}

// store saves script, brings the engine in line with it and answers with
// the stored version.
func (s *Server) store(w http.ResponseWriter, mgr *automation.Manager, script *automation.Script, status int) {
	saved, err := mgr.Save(script)
	if err != nil {
		s.writeScriptError(w, err)
		return
	}
	if s.autoEngine != nil {
		if err := s.autoEngine.ReloadScript(saved.ID); err != nil {
			s.logger.Warn("script saved but not started", "id", saved.ID, "err", err)
		}
	}
	s.writeJSON(w, status, s.view(saved))
}

func (s *Server) handleAPIListAutomations(w http.ResponseWriter, r *http.Request) {
	views := []scriptView{}
	if s.scriptMgr != nil {
		scripts, err := s.scriptMgr.List()
		if err != nil {
			s.writeScriptError(w, err)
			return
		}
		for _, script := range scripts {
			views = append(views, s.view(script))
		}
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAPIGetAutomation(w http.ResponseWriter, r *http.Request, mgr *automation.Manager) {
	script, err := mgr.Get(r.PathValue("id"))
	if err != nil {
		s.writeScriptError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.view(script))
}

func (s *Server) handleAPICreateAutomation(w http.ResponseWriter, r *http.Request, mgr *automation.Manager) {
	var req createAutomationRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	s.store(w, mgr, &automation.Script{
		Meta:    automation.ScriptMeta{Name: req.Name, Description: req.Description, Enabled: req.Enabled},
		LuaCode: req.LuaCode,
	}, http.StatusCreated)
}

func (s *Server) handleAPIUpdateAutomation(w http.ResponseWriter, r *http.Request, mgr *automation.Manager) {
	script, err := mgr.Get(r.PathValue("id"))
	if err != nil {
		s.writeScriptError(w, err)
		return
	}
	var req updateAutomationRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.apply(script)
	s.store(w, mgr, script, http.StatusOK)
}

func (s *Server) handleAPIToggleAutomation(w http.ResponseWriter, r *http.Request, mgr *automation.Manager) {
	script, err := mgr.Get(r.PathValue("id"))
	if err != nil {
		s.writeScriptError(w, err)
		return
	}
	script.Meta.Enabled = !script.Meta.Enabled
	s.store(w, mgr, script, http.StatusOK)
}

func (s *Server) handleAPIDeleteAutomation(w http.ResponseWriter, r *http.Request, mgr *automation.Manager) {
	id := r.PathValue("id")
	if err := mgr.Delete(id); err != nil {
		s.writeScriptError(w, err)
		return
	}
	if s.autoEngine != nil {
		s.autoEngine.StopScript(id)
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAPIRunAutomation dry-runs a stored script, or the posted lua_code
// when the id is _inline.
func (s *Server) handleAPIRunAutomation(w http.ResponseWriter, r *http.Request) {
	if s.autoEngine == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "automation engine not available"})
		return
	}
	if id := r.PathValue("id"); id != inlineScriptID {
		s.writeJSON(w, http.StatusOK, s.autoEngine.RunScript(id))
		return
	}
	var req struct {
		LuaCode string `json:"lua_code"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.autoEngine.RunLuaCode(req.LuaCode))
}
