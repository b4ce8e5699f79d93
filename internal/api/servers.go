package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mailburst/mailburst/internal/store"
)

// TestServerResponse answers POST /api/smtp/configs/{id}/test
type TestServerResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Logs    []string `json:"logs"`
}

func (s *Server) serverID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid config id")
		return 0, false
	}
	return id, true
}

func validateServerConfig(cfg *store.ServerConfig) string {
	if cfg.Host == "" {
		return "host is required"
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return "port must be between 1 and 65535"
	}
	if cfg.FromEmail == "" {
		return "fromEmail is required"
	}
	return ""
}

// handleListServers handles GET /api/smtp/configs
func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	configs, err := s.servers.List()
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to list configs")
		return
	}
	if configs == nil {
		configs = []store.ServerConfig{}
	}
	s.sendJSON(w, http.StatusOK, configs)
}

// handleCreateServer handles POST /api/smtp/configs
func (s *Server) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var cfg store.ServerConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateServerConfig(&cfg); msg != "" {
		s.sendError(w, http.StatusBadRequest, msg)
		return
	}

	if err := s.servers.Create(&cfg); err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to create config")
		return
	}

	s.logger.Info("smtp config created", "id", cfg.ID, "name", cfg.Name, "host", cfg.Host)
	s.sendJSON(w, http.StatusOK, cfg)
}

// handleUpdateServer handles PUT /api/smtp/configs/{id}
func (s *Server) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.serverID(w, r)
	if !ok {
		return
	}

	existing, err := s.servers.GetByID(id)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to load config")
		return
	}
	if existing == nil {
		s.sendError(w, http.StatusNotFound, "config not found")
		return
	}

	var cfg store.ServerConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateServerConfig(&cfg); msg != "" {
		s.sendError(w, http.StatusBadRequest, msg)
		return
	}

	cfg.ID = id
	cfg.SentCount = existing.SentCount
	if err := s.servers.Update(&cfg); err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to update config")
		return
	}

	s.logger.Info("smtp config updated", "id", cfg.ID, "name", cfg.Name)
	s.sendJSON(w, http.StatusOK, cfg)
}

// handleDeleteServer handles DELETE /api/smtp/configs/{id}
func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.serverID(w, r)
	if !ok {
		return
	}
	if err := s.servers.Delete(id); err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to delete config")
		return
	}
	s.logger.Info("smtp config deleted", "id", id)
	s.sendJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleTestServer handles POST /api/smtp/configs/{id}/test. It
// connects and authenticates without sending mail, and returns the
// protocol transcript either way.
func (s *Server) handleTestServer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.serverID(w, r)
	if !ok {
		return
	}

	cfg, err := s.servers.GetByID(id)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to load config")
		return
	}
	if cfg == nil {
		s.sendError(w, http.StatusNotFound, "config not found")
		return
	}

	logs, probeErr := s.dialer.Probe(*cfg)
	if probeErr != nil {
		s.sendJSON(w, http.StatusOK, TestServerResponse{
			Success: false,
			Message: probeErr.Error(),
			Logs:    logs,
		})
		return
	}

	s.sendJSON(w, http.StatusOK, TestServerResponse{
		Success: true,
		Message: "Connection successful",
		Logs:    logs,
	})
}

// handleResetSentCounts handles POST /api/smtp/reset-sent-counts
func (s *Server) handleResetSentCounts(w http.ResponseWriter, r *http.Request) {
	if err := s.servers.ResetCounts(); err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to reset sent counts")
		return
	}
	s.logger.Info("sent counts reset")
	s.sendJSON(w, http.StatusOK, map[string]bool{"success": true})
}
