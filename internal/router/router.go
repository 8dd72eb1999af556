// Package router decides what to do with each incoming text event:
// end a session on a cancel phrase, continue a live session, open one
// on a wake phrase, or ignore the event. Decisions are made against an
// immutable phrase-index snapshot so registry writes never block routing.
package router

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/snarg/echonet/internal/metrics"
	"github.com/snarg/echonet/internal/registry"
	"github.com/snarg/echonet/internal/store"
)

// Engine ties the phrase index, session manager and forwarder together.
type Engine struct {
	registry  *registry.Registry
	sessions  *SessionManager
	forwarder *Forwarder
	log       zerolog.Logger

	cancelPhrases []string
	stripTrigger  bool

	mu         sync.Mutex
	lastTarget string
}

// NewEngine builds the routing engine. Cancel phrases are normalized up
// front so per-event checks are plain substring scans.
func NewEngine(reg *registry.Registry, sessions *SessionManager, fwd *Forwarder, cancelPhrases []string, stripTrigger bool, log zerolog.Logger) *Engine {
	var normalized []string
	for _, p := range cancelPhrases {
		if np := Normalize(p); np != "" {
			normalized = append(normalized, np)
		}
	}
	return &Engine{
		registry:      reg,
		sessions:      sessions,
		forwarder:     fwd,
		log:           log,
		cancelPhrases: normalized,
		stripTrigger:  stripTrigger,
	}
}

// Sessions exposes the session manager for the HTTP surface.
func (e *Engine) Sessions() *SessionManager {
	return e.sessions
}

// Route processes one event. Order is fixed: cancel phrase, live
// session, wake phrase, then (in active listen mode) fall back to the
// most recently used target. Each decision increments the routed
// counter under its mode.
func (e *Engine) Route(ctx context.Context, ev TextEvent, active bool) Decision {
	d := e.route(ctx, ev, active)
	metrics.EventsRoutedTotal.WithLabelValues(string(d.Mode)).Inc()
	e.log.Info().
		Str("source", ev.SourceID).
		Str("mode", string(d.Mode)).
		Str("routed_to", d.RoutedTo).
		Bool("forwarded", d.Forwarded).
		Str("reason", d.Reason).
		Msg("event routed")
	return d
}

func (e *Engine) route(ctx context.Context, ev TextEvent, active bool) Decision {
	norm := Normalize(ev.Text)
	if norm == "" {
		return Decision{Mode: ModeIgnored, Reason: "empty_text"}
	}

	// A cancel phrase wins over everything, session or not. No forward.
	if e.isCancel(norm) {
		d := Decision{Handled: true, Mode: ModeSessionEnd, Reason: "cancel_phrase"}
		if s, ok := e.sessions.Get(ev.SourceID); ok {
			e.sessions.End(ev.SourceID)
			d.RoutedTo = s.Target
		}
		return d
	}

	if s, ok := e.sessions.Touch(ev.SourceID, ev.Room); ok {
		return e.forward(ctx, ev, s, ev.Text, payloadModeOpenListen, ModeSessionContinue, "session")
	}

	if entry, ok := e.registry.PhraseMap().Match(norm); ok {
		text := ev.Text
		if e.stripTrigger {
			text = stripPhrase(ev.Text, entry.Phrase)
		}
		s := e.sessions.Open(ev.SourceID, entry.Target, ev.Room)
		return e.forward(ctx, ev, s, text, payloadModeTriggered, ModeSessionOpen, "trigger_phrase:"+entry.Phrase)
	}

	// Active listen mode forwards unmatched speech to whatever target
	// was used last, opening a session there.
	if active {
		if target := e.mostRecentTarget(); target != "" {
			s := e.sessions.Open(ev.SourceID, target, ev.Room)
			return e.forward(ctx, ev, s, ev.Text, payloadModeOpenListen, ModeSessionOpen, "active_mode")
		}
	}

	return Decision{Mode: ModeIgnored, Reason: "no_match"}
}

func (e *Engine) forward(ctx context.Context, ev TextEvent, s *Session, text, payloadMode string, mode DecisionMode, reason string) Decision {
	d := Decision{
		Handled:  true,
		RoutedTo: s.Target,
		Mode:     mode,
		Session:  e.sessions.info(s),
		Reason:   reason,
	}

	target, err := e.registry.Get(s.Target)
	if err != nil {
		// Target deleted while its session was live.
		if errors.Is(err, store.ErrNotFound) {
			e.sessions.End(s.SourceID)
			d.Session = nil
			d.Reason = "target_error:deleted"
			return d
		}
		d.Reason = "target_error:lookup"
		return d
	}

	payload := Payload{
		EventID:    NewEventID(),
		SourceID:   ev.SourceID,
		Room:       s.Room,
		TS:         ev.TS,
		Text:       text,
		Confidence: ev.Confidence,
		SessionID:  s.ID,
		Target:     s.Target,
		Reason:     reason,
		Mode:       payloadMode,
	}

	if err := e.forwarder.Forward(ctx, target.ListenURL(), payload); err != nil {
		kind := "network"
		var fe *ForwardError
		if errors.As(err, &fe) {
			kind = fe.Kind
		}
		metrics.ForwardFailuresTotal.WithLabelValues(kind).Inc()
		e.log.Warn().Err(err).Str("target", s.Target).Msg("forward failed")
		d.Reason = "target_error:" + kind
		return d
	}

	d.Forwarded = true
	e.rememberTarget(s.Target)
	return d
}

func (e *Engine) isCancel(norm string) bool {
	for _, p := range e.cancelPhrases {
		if strings.Contains(norm, p) {
			return true
		}
	}
	return false
}

func (e *Engine) rememberTarget(name string) {
	e.mu.Lock()
	e.lastTarget = name
	e.mu.Unlock()
}

func (e *Engine) mostRecentTarget() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTarget
}

// stripPhrase removes the wake phrase from the original-cased text,
// plus any separators left dangling at the cut. The phrase was matched
// against normalized text, so it may not appear verbatim here
// (punctuation inside the phrase span); then, and when stripping would
// leave nothing, the text is forwarded unchanged.
func stripPhrase(text, phrase string) string {
	i := strings.Index(strings.ToLower(text), phrase)
	if i < 0 {
		return text
	}
	rest := strings.TrimSpace(text[:i] + " " + text[i+len(phrase):])
	rest = strings.TrimSpace(strings.TrimLeft(rest, " ,:-"))
	if rest == "" {
		return text
	}
	return rest
}
