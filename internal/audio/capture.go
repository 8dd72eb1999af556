// Package audio owns device enumeration, the capture loop and the
// rolling pre-roll buffer. Audio is captured in the canonical format:
// 16 kHz mono, float32 samples in [-1, 1].
package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
	"github.com/snarg/echonet/internal/vad"
)

const (
	CanonicalSampleRate = 16000
	CanonicalChannels   = 1
)

// CaptureOpts parameterizes one RecordUntilSilence call.
type CaptureOpts struct {
	SampleRate      int
	SilenceDuration float64
	MinDuration     float64
	MaxDuration     float64
	StartupWindow   float64
	EnergyThreshold float64
	// Detector enables the ML speech-detection stage.
	Detector vad.SpeechDetector
	// Preroll, when non-empty, is prepended to the returned buffer.
	Preroll []float32
	// Ring, when set, receives every captured frame so the next
	// recording can use it as pre-roll.
	Ring *RingBuffer
}

// Recorder records speech segments from a capture device, ending them
// with the VAD endpointer.
type Recorder struct {
	devices *Devices
	log     zerolog.Logger
}

func NewRecorder(devices *Devices, log zerolog.Logger) *Recorder {
	return &Recorder{devices: devices, log: log}
}

// RecordUntilSilence opens the device, streams frames through the
// endpointer, and returns the captured segment with any pre-roll
// prepended. It returns (nil, nil) when no speech arrives within the
// startup window. The device is released before returning, on every
// path.
func (r *Recorder) RecordUntilSilence(ctx context.Context, deviceIndex int, opts CaptureOpts) ([]float32, error) {
	if opts.SampleRate == 0 {
		opts.SampleRate = CanonicalSampleRate
	}

	id, err := r.devices.deviceID(deviceIndex)
	if err != nil {
		return nil, err
	}

	frames := make(chan []float32, 64)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = CanonicalChannels
	deviceConfig.SampleRate = uint32(opts.SampleRate)
	deviceConfig.Alsa.NoMMap = 1
	if id != nil {
		deviceConfig.Capture.DeviceID = id.Pointer()
	}

	onFrames := func(_, input []byte, frameCount uint32) {
		samples := decodeF32(input)
		select {
		case frames <- samples:
		default:
			// Drop on backpressure; the endpointer tolerates gaps.
		}
	}

	device, err := malgo.InitDevice(r.devices.ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onFrames})
	if err != nil {
		return nil, fmt.Errorf("open capture device %d: %w", deviceIndex, err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return nil, fmt.Errorf("start capture device %d: %w", deviceIndex, err)
	}

	return recordFromFrames(ctx, frames, opts, r.log)
}

// recordFromFrames runs the endpointing loop over a frame stream. Split
// from the device plumbing so the loop is testable without hardware.
func recordFromFrames(ctx context.Context, frames <-chan []float32, opts CaptureOpts, log zerolog.Logger) ([]float32, error) {
	ep := vad.NewEndpointer(vad.Config{
		SampleRate:      opts.SampleRate,
		SilenceDuration: opts.SilenceDuration,
		MinDuration:     opts.MinDuration,
		MaxDuration:     opts.MaxDuration,
		StartupWindow:   opts.StartupWindow,
		EnergyThreshold: opts.EnergyThreshold,
		Detector:        opts.Detector,
	})

	var captured []float32
	stall := time.NewTimer(2 * time.Second)
	defer stall.Stop()

	for {
		select {
		case <-ctx.Done():
			// Cooperative stop: abandon the in-flight segment.
			return nil, ctx.Err()

		case frame, ok := <-frames:
			if !ok {
				if st := ep.Flush(ctx); st == vad.StatusEndOfSpeech || st == vad.StatusMaxDuration {
					return assemble(opts.Preroll, captured), nil
				}
				if ep.SpeechSeen() {
					return assemble(opts.Preroll, captured), nil
				}
				return nil, nil
			}

			captured = append(captured, frame...)
			if opts.Ring != nil {
				opts.Ring.Append(frame)
			}

			status, err := ep.Feed(ctx, frame)
			if err != nil {
				return nil, err
			}
			switch status {
			case vad.StatusEndOfSpeech:
				log.Debug().Float64("elapsed_s", ep.Elapsed()).Msg("end of speech")
				return assemble(opts.Preroll, captured), nil
			case vad.StatusMaxDuration:
				log.Debug().Float64("elapsed_s", ep.Elapsed()).Msg("max capture duration reached")
				return assemble(opts.Preroll, captured), nil
			case vad.StatusNoSpeech:
				log.Debug().Float64("elapsed_s", ep.Elapsed()).Msg("no speech within startup window")
				return nil, nil
			}

			if !stall.Stop() {
				select {
				case <-stall.C:
				default:
				}
			}
			stall.Reset(2 * time.Second)

		case <-stall.C:
			return nil, fmt.Errorf("capture stalled: no frames for 2s")
		}
	}
}

func assemble(preroll, captured []float32) []float32 {
	if len(captured) == 0 {
		return nil
	}
	if len(preroll) == 0 {
		return captured
	}
	out := make([]float32, 0, len(preroll)+len(captured))
	out = append(out, preroll...)
	out = append(out, captured...)
	return out
}

func decodeF32(raw []byte) []float32 {
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples
}
