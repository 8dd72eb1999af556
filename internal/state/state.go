// Package state is the typed facade over the settings store: the listen
// mode state machine, audio device selection and pre-roll configuration,
// plus change notification for the ASR worker.
package state

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/snarg/echonet/internal/metrics"
	"github.com/snarg/echonet/internal/store"
)

// Mode is the listen-mode enum.
type Mode string

const (
	ModeInactive Mode = "inactive"
	ModeTrigger  Mode = "trigger"
	ModeActive   Mode = "active"
)

// ErrInvalidMode is returned for mode values outside the enum.
var ErrInvalidMode = errors.New("invalid listen mode")

// ParseMode validates a raw mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeInactive, ModeTrigger, ModeActive:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: %q (must be inactive, trigger or active)", ErrInvalidMode, s)
}

// Setting names owned by this package.
const (
	KeyListenMode       = "listen_mode"
	KeyAudioDeviceIndex = "audio_device_index"
	KeyPrerollEnabled   = "enable_preroll_buffer"
	KeyPrerollSeconds   = "preroll_buffer_seconds"
)

type Manager struct {
	store *store.Store
	bus   *Bus
	log   zerolog.Logger
}

func NewManager(st *store.Store, log zerolog.Logger) *Manager {
	return &Manager{store: st, bus: NewBus(), log: log}
}

// ListenMode reads the current mode from the cache, defaulting to trigger.
func (m *Manager) ListenMode() Mode {
	v, ok := m.store.Get(KeyListenMode)
	if !ok {
		return ModeTrigger
	}
	mode, err := ParseMode(v)
	if err != nil {
		m.log.Warn().Str("value", v).Msg("stored listen_mode is invalid, treating as trigger")
		return ModeTrigger
	}
	return mode
}

// SetListenMode validates and persists the mode, then notifies subscribers.
func (m *Manager) SetListenMode(mode Mode, source, reason string) error {
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}
	return m.set(KeyListenMode, string(mode), source, reason)
}

func (m *Manager) IsInactive() bool { return m.ListenMode() == ModeInactive }
func (m *Manager) IsTrigger() bool  { return m.ListenMode() == ModeTrigger }
func (m *Manager) IsActive() bool   { return m.ListenMode() == ModeActive }

// AudioDeviceIndex reads the selected capture device, defaulting to 0.
func (m *Manager) AudioDeviceIndex() int {
	v, ok := m.store.Get(KeyAudioDeviceIndex)
	if !ok {
		return 0
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		return 0
	}
	return i
}

func (m *Manager) SetAudioDeviceIndex(index int, source, reason string) error {
	if index < 0 {
		return fmt.Errorf("audio device index must be >= 0, got %d", index)
	}
	return m.set(KeyAudioDeviceIndex, strconv.Itoa(index), source, reason)
}

// PrerollEnabled reports whether the rolling pre-roll buffer is on.
func (m *Manager) PrerollEnabled() bool {
	v, ok := m.store.Get(KeyPrerollEnabled)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func (m *Manager) SetPrerollEnabled(enabled bool, source, reason string) error {
	return m.set(KeyPrerollEnabled, strconv.FormatBool(enabled), source, reason)
}

// PrerollSeconds returns the pre-roll window length, defaulting to 2s.
func (m *Manager) PrerollSeconds() float64 {
	v, ok := m.store.Get(KeyPrerollSeconds)
	if !ok {
		return 2.0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0.5 || f > 10 {
		return 2.0
	}
	return f
}

func (m *Manager) SetPrerollSeconds(seconds float64, source, reason string) error {
	if seconds < 0.5 || seconds > 10 {
		return fmt.Errorf("preroll_buffer_seconds must be in [0.5, 10], got %g", seconds)
	}
	return m.set(KeyPrerollSeconds, strconv.FormatFloat(seconds, 'g', -1, 64), source, reason)
}

// Snapshot returns a copy of all cached settings. Cheap enough to poll.
func (m *Manager) Snapshot() map[string]string {
	return m.store.Snapshot()
}

// Subscribe registers for settings-change notifications. The returned
// cancel function must be called to release the subscription.
func (m *Manager) Subscribe() (<-chan Change, func()) {
	return m.bus.Subscribe()
}

func (m *Manager) set(name, value, source, reason string) error {
	old, _ := m.store.Get(name)
	if err := m.store.Set(name, value, source, reason); err != nil {
		return err
	}
	if old != value {
		if name == KeyListenMode {
			metrics.ModeChangesTotal.WithLabelValues(value).Inc()
		}
		m.log.Info().
			Str("setting", name).
			Str("old", old).
			Str("new", value).
			Str("source", source).
			Msg("setting changed")
		m.bus.Publish(Change{Name: name, OldValue: old, NewValue: value, Source: source})
	}
	return nil
}
