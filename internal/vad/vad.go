// Package vad decides when a speech segment ends. It combines a cheap
// per-chunk RMS energy pre-filter with an optional ML speech detector
// applied at chunk boundaries, and implements the endpointing rule: a
// segment ends once a contiguous silent span reaches the configured
// silence duration and the recording has lasted at least the minimum
// duration, with a hard cap at the maximum duration.
package vad

import (
	"context"
	"math"
)

// SpeechDetector is the ML stage: given a chunk of PCM, report whether
// it contains speech (as opposed to music, HVAC or other energy).
type SpeechDetector interface {
	DetectSpeech(ctx context.Context, pcm []float32, sampleRate int) (bool, error)
}

// RMS computes the root-mean-square energy of a frame.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Config holds the endpointing parameters. Durations are in seconds.
type Config struct {
	SampleRate      int
	SilenceDuration float64
	MinDuration     float64
	MaxDuration     float64
	// StartupWindow is how long to wait for the first speech chunk
	// before giving up on the segment entirely.
	StartupWindow   float64
	EnergyThreshold float64
	// ChunkDuration is the detector granularity. Zero picks 0.5s when a
	// detector is set (it needs enough context) and 0.1s otherwise.
	ChunkDuration float64
	Detector      SpeechDetector
}

func (c *Config) applyDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.SilenceDuration == 0 {
		c.SilenceDuration = 1.0
	}
	if c.MinDuration == 0 {
		c.MinDuration = 0.5
	}
	if c.MaxDuration == 0 {
		c.MaxDuration = 30
	}
	if c.StartupWindow == 0 {
		c.StartupWindow = 3
	}
	if c.ChunkDuration == 0 {
		if c.Detector != nil {
			c.ChunkDuration = 0.5
		} else {
			c.ChunkDuration = 0.1
		}
	}
}

// Status is the endpointer's verdict after consuming audio.
type Status int

const (
	// StatusContinue means the segment is still open.
	StatusContinue Status = iota
	// StatusEndOfSpeech means the silence rule fired.
	StatusEndOfSpeech
	// StatusMaxDuration means the hard cap was hit.
	StatusMaxDuration
	// StatusNoSpeech means no speech arrived within the startup window.
	StatusNoSpeech
)

func (s Status) String() string {
	switch s {
	case StatusContinue:
		return "continue"
	case StatusEndOfSpeech:
		return "end_of_speech"
	case StatusMaxDuration:
		return "max_duration"
	case StatusNoSpeech:
		return "no_speech"
	}
	return "unknown"
}

// Endpointer consumes PCM incrementally and reports when the segment is
// over. Not safe for concurrent use; one recording owns one endpointer.
type Endpointer struct {
	cfg          Config
	chunkSamples int

	pending    []float32
	elapsed    float64
	silence    float64
	speechSeen bool
}

func NewEndpointer(cfg Config) *Endpointer {
	cfg.applyDefaults()
	return &Endpointer{
		cfg:          cfg,
		chunkSamples: int(cfg.ChunkDuration * float64(cfg.SampleRate)),
	}
}

// Feed consumes samples and returns the segment status. Terminal
// statuses are sticky for the recording; callers stop on the first one.
func (e *Endpointer) Feed(ctx context.Context, samples []float32) (Status, error) {
	e.pending = append(e.pending, samples...)

	for len(e.pending) >= e.chunkSamples {
		chunk := e.pending[:e.chunkSamples]
		e.pending = e.pending[e.chunkSamples:]

		dur := float64(e.chunkSamples) / float64(e.cfg.SampleRate)
		if status := e.observe(e.isSpeech(ctx, chunk), dur); status != StatusContinue {
			return status, nil
		}
	}
	return StatusContinue, nil
}

// Flush evaluates any trailing partial chunk, for sources that end
// mid-chunk (file playback in tests).
func (e *Endpointer) Flush(ctx context.Context) Status {
	if len(e.pending) == 0 {
		return StatusContinue
	}
	chunk := e.pending
	e.pending = nil
	return e.observe(e.isSpeech(ctx, chunk), float64(len(chunk))/float64(e.cfg.SampleRate))
}

// Elapsed reports how much audio has been consumed, in seconds.
func (e *Endpointer) Elapsed() float64 {
	return e.elapsed
}

// SpeechSeen reports whether any chunk was classified as speech.
func (e *Endpointer) SpeechSeen() bool {
	return e.speechSeen
}

func (e *Endpointer) isSpeech(ctx context.Context, chunk []float32) bool {
	// Energy pre-filter: below the threshold nothing is worth the
	// detector's time.
	if RMS(chunk) < e.cfg.EnergyThreshold {
		return false
	}
	if e.cfg.Detector == nil {
		return true
	}
	speech, err := e.cfg.Detector.DetectSpeech(ctx, chunk, e.cfg.SampleRate)
	if err != nil {
		// Detector trouble degrades to the energy verdict.
		return true
	}
	return speech
}

func (e *Endpointer) observe(speech bool, dur float64) Status {
	e.elapsed += dur

	if speech {
		e.speechSeen = true
		e.silence = 0
	} else {
		e.silence += dur
	}

	if !e.speechSeen {
		if e.elapsed >= e.cfg.StartupWindow {
			return StatusNoSpeech
		}
		if e.elapsed >= e.cfg.MaxDuration {
			return StatusNoSpeech
		}
		return StatusContinue
	}

	if e.elapsed >= e.cfg.MinDuration && e.silence >= e.cfg.SilenceDuration {
		return StatusEndOfSpeech
	}
	if e.elapsed >= e.cfg.MaxDuration {
		return StatusMaxDuration
	}
	return StatusContinue
}
