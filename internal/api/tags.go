package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mailburst/mailburst/internal/vault"
)

// TagResponse is one tag with its pool usage
type TagResponse struct {
	ID        uint64 `json:"id"`
	Name      string `json:"name"`
	Total     int    `json:"total"`
	Remaining int    `json:"remaining"`
}

// TagDetailResponse is the body for GET /api/tags/{id}
type TagDetailResponse struct {
	Tag    vault.Tag       `json:"tag"`
	Values []vault.Value   `json:"values"`
	Counts vault.TagCounts `json:"counts"`
}

func (s *Server) tagID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid tag id")
		return 0, false
	}
	return id, true
}

// handleListTags handles GET /api/tags
func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, counts, err := s.vault.ListTags()
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to list tags")
		return
	}

	resp := make([]TagResponse, 0, len(tags))
	for _, t := range tags {
		c := counts[t.ID]
		resp = append(resp, TagResponse{
			ID:        t.ID,
			Name:      t.Name,
			Total:     c.Total,
			Remaining: c.Remaining,
		})
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleCreateTag handles POST /api/tags
func (s *Server) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.sendError(w, http.StatusBadRequest, "name is required")
		return
	}

	tag, err := s.vault.CreateTag(req.Name)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("tag created", "id", tag.ID, "name", tag.Name)
	s.sendJSON(w, http.StatusOK, tag)
}

// handleGetTag handles GET /api/tags/{id}
func (s *Server) handleGetTag(w http.ResponseWriter, r *http.Request) {
	id, ok := s.tagID(w, r)
	if !ok {
		return
	}

	tag, err := s.vault.GetTag(id)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to load tag")
		return
	}
	if tag == nil {
		s.sendError(w, http.StatusNotFound, "tag not found")
		return
	}

	values, err := s.vault.Values(id)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to load tag values")
		return
	}
	counts, err := s.vault.Counts(id)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to count tag values")
		return
	}

	s.sendJSON(w, http.StatusOK, TagDetailResponse{
		Tag:    *tag,
		Values: values,
		Counts: counts,
	})
}

// handleDeleteTag handles DELETE /api/tags/{id}
func (s *Server) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	id, ok := s.tagID(w, r)
	if !ok {
		return
	}
	if err := s.vault.DeleteTag(id); err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to delete tag")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleAddTagValues handles POST /api/tags/{id}/values
func (s *Server) handleAddTagValues(w http.ResponseWriter, r *http.Request) {
	id, ok := s.tagID(w, r)
	if !ok {
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	added, err := s.vault.AddValues(id, req.Text)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("tag values added", "tag_id", id, "added", added)
	s.sendJSON(w, http.StatusOK, map[string]any{"success": true, "added": added})
}

// handleResetTag handles POST /api/tags/{id}/reset
func (s *Server) handleResetTag(w http.ResponseWriter, r *http.Request) {
	id, ok := s.tagID(w, r)
	if !ok {
		return
	}
	if err := s.vault.Reset(id); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info("tag reset", "tag_id", id)
	s.sendJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleDownloadTag handles GET /api/tags/{id}/download, returning the
// remaining unused values as a line-delimited file.
func (s *Server) handleDownloadTag(w http.ResponseWriter, r *http.Request) {
	id, ok := s.tagID(w, r)
	if !ok {
		return
	}

	tag, err := s.vault.GetTag(id)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to load tag")
		return
	}
	if tag == nil {
		s.sendError(w, http.StatusNotFound, "tag not found")
		return
	}

	values, err := s.vault.Unused(id)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to load tag values")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", tag.Name+"-unused.txt"))
	for _, v := range values {
		fmt.Fprintln(w, v)
	}
}
