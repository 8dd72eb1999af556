package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Payload is the wire format POSTed to a target's /listen endpoint.
type Payload struct {
	EventID    string  `json:"event_id"`
	SourceID   string  `json:"source_id"`
	Room       string  `json:"room,omitempty"`
	TS         int64   `json:"ts"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	SessionID  string  `json:"session_id,omitempty"`
	Target     string  `json:"target"`
	Reason     string  `json:"reason"`
	// Mode distinguishes wake-phrase hits from open-session follow-ups.
	Mode string `json:"mode"`
}

const (
	payloadModeTriggered  = "triggered"
	payloadModeOpenListen = "open_listen"
)

// NewEventID mints a forwarded-event id.
func NewEventID() string {
	return "en-" + uuid.NewString()[:12]
}

// ForwardError classifies a fan-out failure so the decision reason can
// carry a stable kind.
type ForwardError struct {
	Kind string // network, timeout, status_4xx, status_5xx
	err  error
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("forward failed (%s): %v", e.Kind, e.err)
}

func (e *ForwardError) Unwrap() error {
	return e.err
}

// Forwarder delivers payloads to target /listen endpoints. One retry on
// transient network failure or 5xx; none on 4xx. A failing target never
// blocks routing: callers get the classified error and move on.
type Forwarder struct {
	client *http.Client
	log    zerolog.Logger
}

func NewForwarder(log zerolog.Logger) *Forwarder {
	return &Forwarder{
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
			},
		},
		log: log,
	}
}

// Forward POSTs the payload, retrying once where that can help.
func (f *Forwarder) Forward(ctx context.Context, listenURL string, p Payload) error {
	err := f.post(ctx, listenURL, p)
	if err == nil {
		return nil
	}

	var fe *ForwardError
	if !errors.As(err, &fe) || fe.Kind == "status_4xx" {
		return err
	}

	f.log.Debug().Str("url", listenURL).Str("kind", fe.Kind).Msg("retrying forward once")
	if retryErr := f.post(ctx, listenURL, p); retryErr == nil {
		return nil
	}
	return err
}

func (f *Forwarder) post(ctx context.Context, listenURL string, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return &ForwardError{Kind: "encode", err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, listenURL, bytes.NewReader(body))
	if err != nil {
		return &ForwardError{Kind: "request", err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		kind := "network"
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			kind = "timeout"
		}
		return &ForwardError{Kind: kind, err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return &ForwardError{Kind: "status_5xx", err: fmt.Errorf("target returned %d", resp.StatusCode)}
	default:
		return &ForwardError{Kind: "status_4xx", err: fmt.Errorf("target returned %d", resp.StatusCode)}
	}
}
