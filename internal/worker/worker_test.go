package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/echonet/internal/audio"
	"github.com/snarg/echonet/internal/config"
	"github.com/snarg/echonet/internal/router"
	"github.com/snarg/echonet/internal/state"
	"github.com/snarg/echonet/internal/store"
	"github.com/snarg/echonet/internal/transcribe"
)

type fakeCapturer struct {
	mu      sync.Mutex
	pcm     []float32
	err     error
	calls   int
	lastIdx int
	lastOpt audio.CaptureOpts
}

func (f *fakeCapturer) RecordUntilSilence(ctx context.Context, deviceIndex int, opts audio.CaptureOpts) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastIdx = deviceIndex
	f.lastOpt = opts
	return f.pcm, f.err
}

func (f *fakeCapturer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTranscriber struct {
	result transcribe.Result
	err    error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, pcm []float32, sampleRate int, language string) (transcribe.Result, error) {
	return f.result, f.err
}

type fakeRouter struct {
	mu     sync.Mutex
	events []router.TextEvent
	active []bool
}

func (f *fakeRouter) Route(ctx context.Context, ev router.TextEvent, active bool) router.Decision {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	f.active = append(f.active, active)
	return router.Decision{Handled: true}
}

func (f *fakeRouter) routed() []router.TextEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]router.TextEvent(nil), f.events...)
}

type fixture struct {
	worker   *Worker
	state    *state.Manager
	store    *store.Store
	capturer *fakeCapturer
	asr      *fakeTranscriber
	router   *fakeRouter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(st.Close)

	cfg := &config.Config{
		AudioSampleRate:   16000,
		AudioSilenceDur:   1.0,
		AudioMinDur:       0.5,
		AudioMaxDur:       30,
		AudioEnergyThresh: 0.01,
		WhisperLanguage:   "auto",
		SourceID:          "local-mic",
		Room:              "office",
	}

	f := &fixture{
		state:    state.NewManager(st, zerolog.Nop()),
		store:    st,
		capturer: &fakeCapturer{pcm: make([]float32, 16000)},
		asr:      &fakeTranscriber{result: transcribe.Result{Text: "hello", Confidence: 0.8}},
		router:   &fakeRouter{},
	}
	f.worker = New(cfg, f.state, f.capturer, f.asr, f.router, nil, zerolog.Nop())
	return f
}

func TestCapturePassOutcomes(t *testing.T) {
	t.Run("completed_routes_event", func(t *testing.T) {
		f := newFixture(t)
		if got := f.worker.capturePass(context.Background(), state.ModeTrigger); got != "completed" {
			t.Errorf("outcome = %q, want completed", got)
		}
		events := f.router.routed()
		if len(events) != 1 {
			t.Fatalf("routed %d events, want 1", len(events))
		}
		ev := events[0]
		if ev.SourceID != "local-mic" || ev.Room != "office" || ev.Text != "hello" || ev.Confidence != 0.8 {
			t.Errorf("event = %+v", ev)
		}
		if ev.TS == 0 {
			t.Error("event timestamp not set")
		}
	})

	t.Run("no_audio_discarded", func(t *testing.T) {
		f := newFixture(t)
		f.capturer.pcm = nil
		if got := f.worker.capturePass(context.Background(), state.ModeTrigger); got != "no_audio" {
			t.Errorf("outcome = %q, want no_audio", got)
		}
		if len(f.router.routed()) != 0 {
			t.Error("routed event for empty capture")
		}
	})

	t.Run("empty_transcript_discarded", func(t *testing.T) {
		f := newFixture(t)
		f.asr.result = transcribe.Result{Text: ""}
		if got := f.worker.capturePass(context.Background(), state.ModeTrigger); got != "empty" {
			t.Errorf("outcome = %q, want empty", got)
		}
		if len(f.router.routed()) != 0 {
			t.Error("routed event for empty transcript")
		}
	})

	t.Run("transcribe_error_discarded", func(t *testing.T) {
		f := newFixture(t)
		f.asr.err = errors.New("whisper down")
		if got := f.worker.capturePass(context.Background(), state.ModeTrigger); got != "error" {
			t.Errorf("outcome = %q, want error", got)
		}
		if len(f.router.routed()) != 0 {
			t.Error("routed event despite transcription failure")
		}
	})

	t.Run("active_mode_flag_passed_to_router", func(t *testing.T) {
		f := newFixture(t)
		f.worker.capturePass(context.Background(), state.ModeActive)
		if len(f.router.active) != 1 || !f.router.active[0] {
			t.Error("active flag not passed through")
		}
		if f.capturer.lastOpt.MaxDuration != 30 {
			t.Errorf("active max duration = %g, want 30", f.capturer.lastOpt.MaxDuration)
		}
	})

	t.Run("trigger_mode_caps_duration", func(t *testing.T) {
		f := newFixture(t)
		f.worker.capturePass(context.Background(), state.ModeTrigger)
		if f.capturer.lastOpt.MaxDuration != triggerMaxDuration {
			t.Errorf("trigger max duration = %g, want %g", f.capturer.lastOpt.MaxDuration, triggerMaxDuration)
		}
	})
}

func TestPrerollWiring(t *testing.T) {
	f := newFixture(t)

	t.Run("disabled_by_default", func(t *testing.T) {
		f.worker.capturePass(context.Background(), state.ModeTrigger)
		if f.capturer.lastOpt.Ring != nil {
			t.Error("ring wired with preroll disabled")
		}
	})

	t.Run("enabled_feeds_ring", func(t *testing.T) {
		if err := f.state.SetPrerollEnabled(true, "test", ""); err != nil {
			t.Fatalf("SetPrerollEnabled: %v", err)
		}
		f.worker.capturePass(context.Background(), state.ModeTrigger)
		if f.capturer.lastOpt.Ring == nil {
			t.Fatal("ring not wired with preroll enabled")
		}
		if f.capturer.lastOpt.Ring.Cap() != 2*16000 {
			t.Errorf("ring cap = %d, want 2s at 16kHz", f.capturer.lastOpt.Ring.Cap())
		}
	})

	t.Run("ring_resized_on_setting_change", func(t *testing.T) {
		if err := f.state.SetPrerollSeconds(4, "test", ""); err != nil {
			t.Fatalf("SetPrerollSeconds: %v", err)
		}
		f.worker.capturePass(context.Background(), state.ModeTrigger)
		if f.capturer.lastOpt.Ring.Cap() != 4*16000 {
			t.Errorf("ring cap = %d, want 4s at 16kHz", f.capturer.lastOpt.Ring.Cap())
		}
	})
}

func TestDeviceFallback(t *testing.T) {
	f := newFixture(t)
	f.capturer.err = errors.New("device busy")

	// Shrink the backoff so the test does not sleep for real.
	saved := captureBackoff
	captureBackoff = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	defer func() { captureBackoff = saved }()

	if err := f.state.SetAudioDeviceIndex(2, "test", ""); err != nil {
		t.Fatalf("SetAudioDeviceIndex: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < maxDeviceFailures; i++ {
		if got := f.worker.capturePass(ctx, state.ModeTrigger); got != "error" {
			t.Fatalf("pass %d outcome = %q", i, got)
		}
	}
	if f.capturer.lastIdx != 2 {
		t.Errorf("failing passes used index %d, want 2", f.capturer.lastIdx)
	}

	// Next pass falls back to the system default.
	f.worker.capturePass(ctx, state.ModeTrigger)
	if f.capturer.lastIdx != -1 {
		t.Errorf("fallback pass used index %d, want -1", f.capturer.lastIdx)
	}

	// Selecting a device again clears the fallback.
	if err := f.state.SetAudioDeviceIndex(5, "test", ""); err != nil {
		t.Fatalf("SetAudioDeviceIndex: %v", err)
	}
	f.capturer.err = nil
	f.worker.capturePass(ctx, state.ModeTrigger)
	if f.capturer.lastIdx != 5 {
		t.Errorf("post-reselect pass used index %d, want 5", f.capturer.lastIdx)
	}
}

func TestRunActiveModeAutoResets(t *testing.T) {
	f := newFixture(t)
	if err := f.state.SetListenMode(state.ModeActive, "test", "start active"); err != nil {
		t.Fatalf("SetListenMode: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for f.state.ListenMode() != state.ModeTrigger {
		select {
		case <-deadline:
			t.Fatal("worker never reset active mode to trigger")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v", err)
	}

	changes, err := f.store.History(state.KeyListenMode, 5)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	latest := changes[0]
	if latest.NewValue != "trigger" || latest.Source != "asr_worker" {
		t.Errorf("auto-reset change = %+v", latest)
	}
	if latest.Reason != "active_mode_completed" {
		t.Errorf("reason = %q, want active_mode_completed", latest.Reason)
	}
}

func TestRunInactiveDoesNotCapture(t *testing.T) {
	f := newFixture(t)
	if err := f.state.SetListenMode(state.ModeInactive, "test", ""); err != nil {
		t.Fatalf("SetListenMode: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	f.worker.Run(ctx)

	if f.capturer.callCount() != 0 {
		t.Errorf("capturer called %d times in inactive mode", f.capturer.callCount())
	}
}
