package api

import (
	"io"
	"net/http"
	"time"

	"github.com/snarg/echonet/internal/audio"
	"github.com/snarg/echonet/internal/router"
)

const maxTestUploadBytes = 32 << 20

// handleTestTranscribe transcribes an uploaded WAV without touching the
// microphone. With ?route=true the transcript also goes through the
// routing engine, so the whole pipeline past capture is exercisable
// from curl.
func (s *Server) handleTestTranscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxTestUploadBytes); err != nil {
		WriteError(w, http.StatusBadRequest, "expected multipart form with a 'file' part")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "missing 'file' part")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxTestUploadBytes))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	pcm, sampleRate, err := audio.DecodeWAV(data)
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid WAV file", err.Error())
		return
	}

	result, err := s.deps.Transcriber.Transcribe(r.Context(), pcm, sampleRate, s.deps.Config.WhisperLanguage)
	if err != nil {
		WriteErrorDetail(w, http.StatusBadGateway, "transcription failed", err.Error())
		return
	}

	resp := map[string]any{
		"ok":         true,
		"text":       result.Text,
		"confidence": result.Confidence,
		"duration_s": result.Duration,
	}

	if route, _ := QueryBool(r, "route"); route && result.Text != "" {
		ev := router.TextEvent{
			SourceID:   s.deps.Config.SourceID,
			Room:       s.deps.Config.Room,
			TS:         time.Now().UnixMilli(),
			Text:       result.Text,
			Confidence: result.Confidence,
		}
		resp["decision"] = s.deps.Engine.Route(r.Context(), ev, s.deps.State.IsActive())
	}
	WriteJSON(w, http.StatusOK, resp)
}
