// Package ingest feeds text events from MQTT into the routing engine,
// for satellite microphones that publish transcripts instead of calling
// POST /text.
package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/snarg/echonet/internal/metrics"
	"github.com/snarg/echonet/internal/router"
)

// Router is the slice of the routing engine the ingest needs.
type Router interface {
	Route(ctx context.Context, ev router.TextEvent, active bool) router.Decision
}

// ModeReader reports whether the listen mode is active, so MQTT events
// get the same mode-aware routing as local ones.
type ModeReader interface {
	IsActive() bool
}

type Options struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
}

// Client subscribes to <prefix>/text/+ and routes each published event.
// The topic's last segment is the source when the payload omits one.
type Client struct {
	conn      mqtt.Client
	topic     string
	connected atomic.Bool
	router    Router
	mode      ModeReader
	log       zerolog.Logger
}

func Connect(opts Options, rt Router, mode ModeReader, log zerolog.Logger) (*Client, error) {
	c := &Client{
		topic:  strings.TrimSuffix(opts.TopicPrefix, "/") + "/text/+",
		router: rt,
		mode:   mode,
		log:    log,
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetDefaultPublishHandler(c.onMessage)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Str("topic", c.topic).Msg("mqtt connected, subscribing")

	token := client.Subscribe(c.topic, 0, nil)
	token.Wait()
	if err := token.Error(); err != nil {
		c.log.Error().Err(err).Msg("mqtt subscribe failed")
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	metrics.MQTTMessagesTotal.Inc()

	var ev router.TextEvent
	if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
		c.log.Warn().Err(err).Str("topic", msg.Topic()).Msg("bad text event payload, dropped")
		return
	}
	if ev.SourceID == "" {
		ev.SourceID = sourceFromTopic(msg.Topic())
	}
	if ev.SourceID == "" || ev.Text == "" {
		c.log.Warn().Str("topic", msg.Topic()).Msg("text event missing source or text, dropped")
		return
	}
	if ev.TS == 0 {
		ev.TS = time.Now().UnixMilli()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c.router.Route(ctx, ev, c.mode.IsActive())
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}

func sourceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	return parts[len(parts)-1]
}
