package api

import (
	"net/http"
	"time"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := s.deps.Store.HealthCheck(r.Context()) == nil
	status := http.StatusOK
	if !dbOK {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, map[string]any{
		"ok":       dbOK,
		"service":  "echonet",
		"version":  s.deps.Version,
		"uptime_s": int64(time.Since(s.deps.StartTime).Seconds()),
		"database": boolStatus(dbOK),
	})
}

// handleHandshake reports identity, capabilities and routing config so
// peers found over discovery can verify what they connected to.
func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.Config
	WriteJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": "echonet",
		"version": s.deps.Version,
		"discovery": map[string]any{
			"enabled":       cfg.DiscoveryEnabled,
			"instance_name": cfg.DiscoveryName,
			"zone":          cfg.DiscoveryZone,
			"subzone":       cfg.DiscoverySubzone,
			"port":          cfg.HTTPPort(),
		},
		"capabilities": map[string]bool{
			"asr":                true,
			"target_routing":     true,
			"session_management": true,
			"state_tracking":     true,
		},
		"config": map[string]any{
			"session_ttl_s":  cfg.SessionTTLSeconds,
			"cancel_phrases": cfg.CancelPhraseList(),
			"source_id":      cfg.SourceID,
		},
	})
}

func boolStatus(ok bool) string {
	if ok {
		return "up"
	}
	return "down"
}
