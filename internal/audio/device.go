package audio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

// Device describes one capture device. Index is its position in the
// enumeration order and is what the settings store records. Channels and
// SampleRate report the canonical format devices are opened with.
type Device struct {
	Index      int    `json:"index"`
	Name       string `json:"name"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sample_rate"`
	IsDefault  bool   `json:"is_default"`
}

// Devices wraps the miniaudio context for enumeration and device opening.
type Devices struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
	log zerolog.Logger
}

// NewDevices initializes the audio backend.
func NewDevices(log zerolog.Logger) (*Devices, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &Devices{ctx: ctx, log: log}, nil
}

// Close releases the audio backend.
func (d *Devices) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx != nil {
		_ = d.ctx.Uninit()
		d.ctx.Free()
		d.ctx = nil
	}
}

// List enumerates capture devices.
func (d *Devices) List() ([]Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	infos, err := d.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate capture devices: %w", err)
	}

	devices := make([]Device, 0, len(infos))
	for i, info := range infos {
		devices = append(devices, Device{
			Index:      i,
			Name:       info.Name(),
			Channels:   CanonicalChannels,
			SampleRate: CanonicalSampleRate,
			IsDefault:  info.IsDefault != 0,
		})
	}
	return devices, nil
}

// Default returns the system default capture device, if any.
func (d *Devices) Default() (Device, bool, error) {
	devices, err := d.List()
	if err != nil {
		return Device{}, false, err
	}
	for _, dev := range devices {
		if dev.IsDefault {
			return dev, true, nil
		}
	}
	return Device{}, false, nil
}

// deviceID resolves an enumeration index to a backend device id.
// A negative index selects the system default (nil id).
func (d *Devices) deviceID(index int) (*malgo.DeviceID, error) {
	if index < 0 {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	infos, err := d.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate capture devices: %w", err)
	}
	if index >= len(infos) {
		return nil, fmt.Errorf("audio device index %d out of range (%d devices)", index, len(infos))
	}
	id := infos[index].ID
	return &id, nil
}
