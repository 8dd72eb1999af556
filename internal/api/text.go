package api

import (
	"net/http"

	"github.com/snarg/echonet/internal/router"
)

// handleText injects a text event straight into the routing engine,
// bypassing the audio pipeline. The decision is returned verbatim.
func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	var ev router.TextEvent
	if err := DecodeJSON(r, &ev); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if ev.SourceID == "" {
		WriteError(w, http.StatusBadRequest, "source_id is required")
		return
	}

	d := s.deps.Engine.Route(r.Context(), ev, s.deps.State.IsActive())
	WriteJSON(w, http.StatusOK, d)
}
