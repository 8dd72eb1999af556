package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"sessions": s.deps.Engine.Sessions().Infos(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	s.deps.Engine.Sessions().End(sourceID)
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "ended": sourceID})
}
