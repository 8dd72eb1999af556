package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DBPath string `env:"ECHONET_DB_PATH" envDefault:"echonet.db"`

	HTTPAddr     string        `env:"ECHONET_HTTP_ADDR" envDefault:":8123"`
	ReadTimeout  time.Duration `env:"ECHONET_HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"ECHONET_HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"ECHONET_HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	APIKey   string `env:"ECHONET_API_KEY"`
	AdminKey string `env:"ECHONET_ADMIN_KEY"`

	AudioDeviceIndex    int     `env:"ECHONET_AUDIO_DEVICE_INDEX" envDefault:"0"`
	AudioSampleRate     int     `env:"ECHONET_AUDIO_SAMPLE_RATE" envDefault:"16000"`
	AudioChannels       int     `env:"ECHONET_AUDIO_CHANNELS" envDefault:"1"`
	AudioSilenceDur     float64 `env:"ECHONET_AUDIO_SILENCE_DURATION" envDefault:"1.0"`
	AudioMinDur         float64 `env:"ECHONET_AUDIO_MIN_DURATION" envDefault:"0.5"`
	AudioMaxDur         float64 `env:"ECHONET_AUDIO_MAX_DURATION" envDefault:"30"`
	AudioEnergyThresh   float64 `env:"ECHONET_AUDIO_ENERGY_THRESHOLD" envDefault:"0.01"`
	AudioUseMLVAD       bool    `env:"ECHONET_AUDIO_USE_ML_VAD" envDefault:"true"`
	InitialListenMode   string  `env:"ECHONET_INITIAL_LISTEN_MODE" envDefault:"trigger"`

	WhisperURL         string `env:"ECHONET_WHISPER_URL" envDefault:"http://localhost:8000/v1/audio/transcriptions"`
	WhisperModel       string `env:"ECHONET_WHISPER_MODEL" envDefault:"base"`
	WhisperDevice      string `env:"ECHONET_WHISPER_DEVICE" envDefault:"cpu"`
	WhisperComputeType string `env:"ECHONET_WHISPER_COMPUTE_TYPE" envDefault:"int8"`
	WhisperLanguage    string `env:"ECHONET_WHISPER_LANGUAGE" envDefault:"auto"`
	WhisperTimeout     time.Duration `env:"ECHONET_WHISPER_TIMEOUT" envDefault:"60s"`

	SessionTTLSeconds   int    `env:"ECHONET_SESSION_TTL_SECONDS" envDefault:"25"`
	CancelPhrases       string `env:"ECHONET_CANCEL_PHRASES" envDefault:"cancel,never mind,nevermind,stop listening"`
	ForwardStripTrigger bool   `env:"ECHONET_FORWARD_STRIP_TRIGGER" envDefault:"true"`

	SourceID string `env:"ECHONET_SOURCE_ID" envDefault:"local-mic"`
	Room     string `env:"ECHONET_ROOM"`

	MQTTBrokerURL   string `env:"ECHONET_MQTT_BROKER_URL"`
	MQTTClientID    string `env:"ECHONET_MQTT_CLIENT_ID" envDefault:"echonet"`
	MQTTTopicPrefix string `env:"ECHONET_MQTT_TOPIC_PREFIX" envDefault:"echonet"`
	MQTTUsername    string `env:"ECHONET_MQTT_USERNAME"`
	MQTTPassword    string `env:"ECHONET_MQTT_PASSWORD"`

	DiscoveryEnabled bool   `env:"ECHONET_DISCOVERY_ENABLED" envDefault:"false"`
	DiscoveryName    string `env:"ECHONET_DISCOVERY_NAME" envDefault:"echonet"`
	DiscoveryZone    string `env:"ECHONET_DISCOVERY_ZONE"`
	DiscoverySubzone string `env:"ECHONET_DISCOVERY_SUBZONE"`

	LogLevel string `env:"ECHONET_LOG_LEVEL" envDefault:"info"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile  string
	HTTPAddr string
	LogLevel string
	DBPath   string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DBPath != "" {
		cfg.DBPath = overrides.DBPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the rest of the system would choke on.
func (c *Config) Validate() error {
	switch c.InitialListenMode {
	case "inactive", "trigger", "active":
	default:
		return fmt.Errorf("invalid ECHONET_INITIAL_LISTEN_MODE %q: must be inactive, trigger or active", c.InitialListenMode)
	}
	if c.AudioDeviceIndex < 0 {
		return fmt.Errorf("invalid ECHONET_AUDIO_DEVICE_INDEX %d: must be >= 0", c.AudioDeviceIndex)
	}
	if c.AudioSampleRate <= 0 {
		return fmt.Errorf("invalid ECHONET_AUDIO_SAMPLE_RATE %d", c.AudioSampleRate)
	}
	if c.AudioChannels != 1 && c.AudioChannels != 2 {
		return fmt.Errorf("invalid ECHONET_AUDIO_CHANNELS %d: must be 1 or 2", c.AudioChannels)
	}
	if c.SessionTTLSeconds <= 0 {
		return fmt.Errorf("invalid ECHONET_SESSION_TTL_SECONDS %d: must be > 0", c.SessionTTLSeconds)
	}
	if c.SourceID == "" {
		return fmt.Errorf("ECHONET_SOURCE_ID must not be empty")
	}
	return nil
}

// CancelPhraseList splits the comma-separated cancel phrase config.
func (c *Config) CancelPhraseList() []string {
	var out []string
	for _, p := range strings.Split(c.CancelPhrases, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// HTTPPort extracts the numeric port from HTTPAddr, for mDNS advertisement.
func (c *Config) HTTPPort() int {
	_, portStr, err := net.SplitHostPort(c.HTTPAddr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}
