// Package worker runs the capture → transcribe → route loop that turns
// microphone audio into routed text events. One worker owns the
// microphone; the listen mode decides how each pass behaves.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/echonet/internal/audio"
	"github.com/snarg/echonet/internal/config"
	"github.com/snarg/echonet/internal/metrics"
	"github.com/snarg/echonet/internal/router"
	"github.com/snarg/echonet/internal/state"
	"github.com/snarg/echonet/internal/transcribe"
	"github.com/snarg/echonet/internal/vad"
)

// Capturer records one speech segment. *audio.Recorder satisfies this;
// tests substitute a fake.
type Capturer interface {
	RecordUntilSilence(ctx context.Context, deviceIndex int, opts audio.CaptureOpts) ([]float32, error)
}

// Router is the slice of the routing engine the worker needs.
type Router interface {
	Route(ctx context.Context, ev router.TextEvent, active bool) router.Decision
}

// Trigger mode caps a single capture well below the active-mode limit:
// a wake-phrase utterance is short, a dictation burst is not.
const triggerMaxDuration = 10.0

const inactiveIdle = 500 * time.Millisecond

// Device errors back off before the next attempt; after enough failures
// in a row the worker abandons the configured device for the system
// default.
var captureBackoff = []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second}

const maxDeviceFailures = 3

type Worker struct {
	cfg         *config.Config
	state       *state.Manager
	capturer    Capturer
	transcriber transcribe.Transcriber
	router      Router
	detector    vad.SpeechDetector
	log         zerolog.Logger

	ring        *audio.RingBuffer
	ringSeconds float64

	failures   int
	useDefault bool
	lastIndex  int
}

func New(cfg *config.Config, st *state.Manager, capt Capturer, tr transcribe.Transcriber, rt Router, detector vad.SpeechDetector, log zerolog.Logger) *Worker {
	return &Worker{
		cfg:         cfg,
		state:       st,
		capturer:    capt,
		transcriber: tr,
		router:      rt,
		detector:    detector,
		log:         log,
	}
}

// Run loops until the context is cancelled. Mode changes are picked up
// between passes; a settings-change notification cuts the inactive idle
// short so mode flips take effect promptly.
func (w *Worker) Run(ctx context.Context) error {
	changes, cancel := w.state.Subscribe()
	defer cancel()

	w.log.Info().Str("source_id", w.cfg.SourceID).Msg("asr worker started")
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		mode := w.state.ListenMode()
		switch mode {
		case state.ModeInactive:
			if w.ring != nil {
				w.ring.Clear()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-changes:
			case <-time.After(inactiveIdle):
			}

		case state.ModeTrigger:
			w.capturePass(ctx, state.ModeTrigger)

		case state.ModeActive:
			outcome := w.capturePass(ctx, state.ModeActive)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Active mode is single-shot: one utterance, then back
			// to trigger no matter how the capture went.
			if err := w.state.SetListenMode(state.ModeTrigger, "asr_worker", "active_mode_"+outcome); err != nil {
				w.log.Error().Err(err).Msg("auto-reset to trigger mode failed")
			}
		}
	}
}

// capturePass runs one capture/transcribe/route cycle and returns the
// outcome: completed, empty, no_audio or error.
func (w *Worker) capturePass(ctx context.Context, mode state.Mode) string {
	opts := audio.CaptureOpts{
		SampleRate:      w.cfg.AudioSampleRate,
		SilenceDuration: w.cfg.AudioSilenceDur,
		MinDuration:     w.cfg.AudioMinDur,
		MaxDuration:     w.cfg.AudioMaxDur,
		EnergyThreshold: w.cfg.AudioEnergyThresh,
		Detector:        w.detector,
	}
	if mode == state.ModeTrigger {
		opts.MaxDuration = triggerMaxDuration
		if w.state.PrerollEnabled() {
			ring := w.ensureRing()
			opts.Preroll = ring.Snapshot()
			opts.Ring = ring
		}
	}

	pcm, err := w.capturer.RecordUntilSilence(ctx, w.deviceIndex(), opts)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return "error"
		}
		w.captureFailed(ctx, err)
		return "error"
	}
	w.failures = 0

	if len(pcm) == 0 {
		metrics.CapturesTotal.WithLabelValues("no_speech").Inc()
		return "no_audio"
	}
	metrics.CapturesTotal.WithLabelValues("captured").Inc()

	result, err := w.transcriber.Transcribe(ctx, pcm, w.cfg.AudioSampleRate, w.cfg.WhisperLanguage)
	if err != nil {
		w.log.Warn().Err(err).Msg("transcription failed, segment dropped")
		metrics.CapturesTotal.WithLabelValues("transcribe_error").Inc()
		return "error"
	}
	metrics.TranscriptionsTotal.Inc()

	if result.Text == "" {
		return "empty"
	}

	ev := router.TextEvent{
		SourceID:   w.cfg.SourceID,
		Room:       w.cfg.Room,
		TS:         time.Now().UnixMilli(),
		Text:       result.Text,
		Confidence: result.Confidence,
	}
	w.router.Route(ctx, ev, mode == state.ModeActive)
	return "completed"
}

func (w *Worker) captureFailed(ctx context.Context, err error) {
	w.failures++
	metrics.CapturesTotal.WithLabelValues("device_error").Inc()

	delay := captureBackoff[len(captureBackoff)-1]
	if w.failures <= len(captureBackoff) {
		delay = captureBackoff[w.failures-1]
	}
	w.log.Warn().Err(err).Int("failures", w.failures).Dur("backoff", delay).Msg("capture failed")

	if !w.useDefault && w.failures >= maxDeviceFailures {
		w.useDefault = true
		w.log.Warn().Int("device_index", w.state.AudioDeviceIndex()).
			Msg("device keeps failing, falling back to system default")
	}

	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// deviceIndex resolves the capture device for the next pass. A settings
// change clears the default-device fallback so the new selection gets a
// fresh chance.
func (w *Worker) deviceIndex() int {
	idx := w.state.AudioDeviceIndex()
	if idx != w.lastIndex {
		w.lastIndex = idx
		w.useDefault = false
		w.failures = 0
	}
	if w.useDefault {
		return -1
	}
	return idx
}

// ensureRing returns the pre-roll ring, rebuilding it when the
// configured window length changed.
func (w *Worker) ensureRing() *audio.RingBuffer {
	seconds := w.state.PrerollSeconds()
	if w.ring == nil || seconds != w.ringSeconds {
		w.ring = audio.NewRingBufferSeconds(seconds, w.cfg.AudioSampleRate)
		w.ringSeconds = seconds
	}
	return w.ring
}
