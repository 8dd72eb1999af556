package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/snarg/echonet/internal/router"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordingRouter struct {
	mu     sync.Mutex
	events []router.TextEvent
	active []bool
}

func (r *recordingRouter) Route(ctx context.Context, ev router.TextEvent, active bool) router.Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	r.active = append(r.active, active)
	return router.Decision{Handled: true}
}

type fixedMode struct{ active bool }

func (f fixedMode) IsActive() bool { return f.active }

func newTestClient(rt Router, mode ModeReader) *Client {
	return &Client{
		topic:  "echonet/text/+",
		router: rt,
		mode:   mode,
		log:    zerolog.Nop(),
	}
}

func event(t *testing.T, ev router.TextEvent) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return b
}

func TestOnMessage(t *testing.T) {
	t.Run("routes_complete_event", func(t *testing.T) {
		rt := &recordingRouter{}
		c := newTestClient(rt, fixedMode{})
		c.onMessage(nil, fakeMessage{
			topic:   "echonet/text/satellite-1",
			payload: event(t, router.TextEvent{SourceID: "kitchen-mic", Text: "hey astraea", TS: 42}),
		})
		if len(rt.events) != 1 {
			t.Fatalf("routed %d events, want 1", len(rt.events))
		}
		ev := rt.events[0]
		if ev.SourceID != "kitchen-mic" || ev.Text != "hey astraea" || ev.TS != 42 {
			t.Errorf("event = %+v", ev)
		}
	})

	t.Run("source_defaults_to_topic_segment", func(t *testing.T) {
		rt := &recordingRouter{}
		c := newTestClient(rt, fixedMode{})
		c.onMessage(nil, fakeMessage{
			topic:   "echonet/text/satellite-2",
			payload: event(t, router.TextEvent{Text: "hello"}),
		})
		if len(rt.events) != 1 {
			t.Fatalf("routed %d events, want 1", len(rt.events))
		}
		if rt.events[0].SourceID != "satellite-2" {
			t.Errorf("source = %q, want satellite-2", rt.events[0].SourceID)
		}
		if rt.events[0].TS == 0 {
			t.Error("timestamp not defaulted")
		}
	})

	t.Run("active_mode_passed_through", func(t *testing.T) {
		rt := &recordingRouter{}
		c := newTestClient(rt, fixedMode{active: true})
		c.onMessage(nil, fakeMessage{
			topic:   "echonet/text/s",
			payload: event(t, router.TextEvent{Text: "hello"}),
		})
		if len(rt.active) != 1 || !rt.active[0] {
			t.Error("active flag not passed to router")
		}
	})

	t.Run("drops_bad_payloads", func(t *testing.T) {
		rt := &recordingRouter{}
		c := newTestClient(rt, fixedMode{})
		for _, payload := range [][]byte{
			[]byte("not json"),
			event(t, router.TextEvent{SourceID: "s"}), // no text
		} {
			c.onMessage(nil, fakeMessage{topic: "echonet/text/s", payload: payload})
		}
		if len(rt.events) != 0 {
			t.Errorf("routed %d events from bad payloads", len(rt.events))
		}
	})
}

func TestSourceFromTopic(t *testing.T) {
	cases := map[string]string{
		"echonet/text/kitchen": "kitchen",
		"kitchen":              "kitchen",
		"a/b/c/d":              "d",
	}
	for topic, want := range cases {
		if got := sourceFromTopic(topic); got != want {
			t.Errorf("sourceFromTopic(%q) = %q, want %q", topic, got, want)
		}
	}
}

var _ mqtt.Message = fakeMessage{}
