package router

import (
	"strings"
	"time"
	"unicode"
)

// TextEvent is an incoming transcript or injected text line.
type TextEvent struct {
	SourceID   string  `json:"source_id"`
	Room       string  `json:"room,omitempty"`
	TS         int64   `json:"ts"` // unix milliseconds
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Time converts the event timestamp to wall-clock time.
func (e TextEvent) Time() time.Time {
	return time.UnixMilli(e.TS)
}

// DecisionMode tags what the router did with an event.
type DecisionMode string

const (
	ModeSessionOpen     DecisionMode = "session_open"
	ModeSessionContinue DecisionMode = "session_continue"
	ModeSessionEnd      DecisionMode = "session_end"
	ModeIgnored         DecisionMode = "ignored"
)

// SessionInfo is the session view embedded in decisions.
type SessionInfo struct {
	ID        string `json:"id"`
	Target    string `json:"target"`
	SourceID  string `json:"source_id"`
	Room      string `json:"room,omitempty"`
	LastTS    int64  `json:"last_ts"`
	ExpiresIn int64  `json:"expires_in_s"`
}

// Decision is the router's answer for one event.
type Decision struct {
	Handled   bool         `json:"handled"`
	RoutedTo  string       `json:"routed_to,omitempty"`
	Mode      DecisionMode `json:"mode"`
	Session   *SessionInfo `json:"session,omitempty"`
	Forwarded bool         `json:"forwarded"`
	Reason    string       `json:"reason"`
}

// Normalize lowercases, strips punctuation and collapses whitespace, so
// phrase matching is insensitive to transcription artifacts.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
		// Punctuation is dropped entirely so "astraea," matches "astraea".
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
