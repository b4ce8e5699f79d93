package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mailburst/mailburst/internal/store"
)

// handleListTemplates handles GET /api/templates
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.templates.List()
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to list templates")
		return
	}
	if templates == nil {
		templates = []store.Template{}
	}
	s.sendJSON(w, http.StatusOK, templates)
}

// handleCreateTemplate handles POST /api/templates
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl store.Template
	if err := json.NewDecoder(r.Body).Decode(&tpl); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if tpl.Name == "" || tpl.Subject == "" || tpl.Body == "" {
		s.sendError(w, http.StatusBadRequest, "name, subject and body are required")
		return
	}

	if err := s.templates.Create(&tpl); err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to create template")
		return
	}

	s.logger.Info("template created", "id", tpl.ID, "name", tpl.Name)
	s.sendJSON(w, http.StatusOK, tpl)
}

// handleGetTemplate handles GET /api/templates/{id}
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid template id")
		return
	}

	tpl, err := s.templates.GetByID(id)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to load template")
		return
	}
	if tpl == nil {
		s.sendError(w, http.StatusNotFound, "template not found")
		return
	}
	s.sendJSON(w, http.StatusOK, tpl)
}

// handleDeleteTemplate handles DELETE /api/templates/{id}
func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid template id")
		return
	}
	if err := s.templates.Delete(id); err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to delete template")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]bool{"success": true})
}
