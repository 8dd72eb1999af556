package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/snarg/echonet/internal/state"
)

// Runtime-configurable keys and how their JSON values are applied. The
// listen mode has its own endpoint with target validation and is not
// settable here.
var configKeys = map[string]func(s *Server, raw json.RawMessage) error{
	state.KeyPrerollEnabled: func(s *Server, raw json.RawMessage) error {
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		return s.deps.State.SetPrerollEnabled(v, "api", "config update")
	},
	state.KeyPrerollSeconds: func(s *Server, raw json.RawMessage) error {
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		return s.deps.State.SetPrerollSeconds(v, "api", "config update")
	},
	state.KeyAudioDeviceIndex: func(s *Server, raw json.RawMessage) error {
		var v int
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		return s.deps.State.SetAudioDeviceIndex(v, "api", "config update")
	},
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	snapshot := s.deps.State.Snapshot()

	keys := make([]string, 0, len(configKeys))
	for k := range configKeys {
		keys = append(keys, k)
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"settings": snapshot,
		"writable": keys,
	})
}

// ConfigUpdate is the PUT /config/{key} body. Value is typed per key.
type ConfigUpdate struct {
	Value json.RawMessage `json:"value"`
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	apply, ok := configKeys[key]
	if !ok {
		WriteError(w, http.StatusBadRequest, "unknown or read-only config key "+strconv.Quote(key))
		return
	}

	var upd ConfigUpdate
	if err := DecodeJSON(r, &upd); err != nil || len(upd.Value) == 0 {
		WriteError(w, http.StatusBadRequest, "body must be {\"value\": ...}")
		return
	}

	if err := apply(s, upd.Value); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "key": key})
}
