package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/snarg/echonet/internal/registry"
	"github.com/snarg/echonet/internal/store"
)

// RegisterRequest is the POST /register body.
type RegisterRequest struct {
	Name    string   `json:"name"`
	BaseURL string   `json:"base_url"`
	Phrases []string `json:"phrases"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	t := store.Target{Name: req.Name, BaseURL: req.BaseURL, Phrases: req.Phrases}
	if err := s.deps.Registry.Upsert(t); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	name := strings.ToLower(strings.TrimSpace(req.Name))
	registered, err := s.deps.Registry.Get(name)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "target registered but not readable")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"registered": registered.Name,
		"listen_url": registered.ListenURL(),
		"phrases":    registered.Phrases,
	})
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.deps.Registry.List()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list targets")
		return
	}

	type targetView struct {
		Name      string   `json:"name"`
		BaseURL   string   `json:"base_url"`
		ListenURL string   `json:"listen_url"`
		Phrases   []string `json:"phrases"`
	}
	views := make([]targetView, 0, len(targets))
	for _, t := range targets {
		views = append(views, targetView{
			Name:      t.Name,
			BaseURL:   t.BaseURL,
			ListenURL: t.ListenURL(),
			Phrases:   t.Phrases,
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "targets": views})
}

func (s *Server) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.deps.Registry.Delete(name); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "target '"+name+"' not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to delete target")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": strings.ToLower(name)})
}
