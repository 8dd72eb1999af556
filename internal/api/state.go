package api

import (
	"errors"
	"net/http"

	"github.com/snarg/echonet/internal/registry"
	"github.com/snarg/echonet/internal/state"
)

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	settings, err := s.deps.Store.AllSettings()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to read settings")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"listen_mode": string(s.deps.State.ListenMode()),
		"settings":    settings,
	})
}

// StateUpdate is the PUT /state body. The target must already be
// registered; state changes come from known services only.
type StateUpdate struct {
	Target string `json:"target"`
	Source string `json:"source"`
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handlePutState(w http.ResponseWriter, r *http.Request) {
	var upd StateUpdate
	if err := DecodeJSON(r, &upd); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	mode, err := state.ParseMode(upd.State)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := s.deps.Registry.Get(upd.Target); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			WriteError(w, http.StatusNotFound,
				"target '"+upd.Target+"' not found; register it first")
			return
		}
		WriteError(w, http.StatusInternalServerError, "target lookup failed")
		return
	}

	reason := upd.Reason
	if reason == "" {
		reason = "state change requested by " + upd.Target
	}
	if err := s.deps.State.SetListenMode(mode, upd.Source+":"+upd.Target, reason); err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to persist state")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"listen_mode": string(mode),
		"target":      upd.Target,
		"source":      upd.Source,
	})
}

func (s *Server) handleStateHistory(w http.ResponseWriter, r *http.Request) {
	name, _ := QueryString(r, "name")
	limit, _ := QueryInt(r, "limit")

	changes, err := s.deps.Store.History(name, limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"count":   len(changes),
		"changes": changes,
	})
}
