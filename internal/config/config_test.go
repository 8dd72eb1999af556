package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "ECHONET_") {
			continue
		}
		key := strings.SplitN(kv, "=", 2)[0]
		// t.Setenv registers the restore; Unsetenv clears it for this test.
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(Overrides{EnvFile: filepath.Join(t.TempDir(), "missing.env")})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8123" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.DBPath != "echonet.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.AudioSampleRate != 16000 || cfg.AudioChannels != 1 {
		t.Errorf("audio defaults = %d/%d", cfg.AudioSampleRate, cfg.AudioChannels)
	}
	if cfg.InitialListenMode != "trigger" {
		t.Errorf("InitialListenMode = %q", cfg.InitialListenMode)
	}
	if cfg.SessionTTLSeconds != 25 {
		t.Errorf("SessionTTLSeconds = %d", cfg.SessionTTLSeconds)
	}
	if cfg.SourceID != "local-mic" {
		t.Errorf("SourceID = %q", cfg.SourceID)
	}
	if !cfg.ForwardStripTrigger {
		t.Error("ForwardStripTrigger default false")
	}
}

func TestLoadPriority(t *testing.T) {
	clearEnv(t)

	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("ECHONET_HTTP_ADDR=:7000\nECHONET_ROOM=kitchen\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Run("env_file_applies", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: envFile})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":7000" || cfg.Room != "kitchen" {
			t.Errorf("addr=%q room=%q", cfg.HTTPAddr, cfg.Room)
		}
	})

	t.Run("env_var_beats_env_file", func(t *testing.T) {
		t.Setenv("ECHONET_HTTP_ADDR", ":7100")
		cfg, err := Load(Overrides{EnvFile: envFile})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":7100" {
			t.Errorf("HTTPAddr = %q, want :7100", cfg.HTTPAddr)
		}
	})

	t.Run("cli_override_beats_everything", func(t *testing.T) {
		t.Setenv("ECHONET_HTTP_ADDR", ":7100")
		cfg, err := Load(Overrides{EnvFile: envFile, HTTPAddr: ":7200", LogLevel: "debug", DBPath: "/tmp/other.db"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":7200" || cfg.LogLevel != "debug" || cfg.DBPath != "/tmp/other.db" {
			t.Errorf("overrides not applied: %+v", cfg)
		}
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			InitialListenMode: "trigger",
			AudioSampleRate:   16000,
			AudioChannels:     1,
			SessionTTLSeconds: 25,
			SourceID:          "local-mic",
		}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		wantOK bool
	}{
		{"valid", func(c *Config) {}, true},
		{"active_mode_ok", func(c *Config) { c.InitialListenMode = "active" }, true},
		{"bad_mode", func(c *Config) { c.InitialListenMode = "listening" }, false},
		{"negative_device_index", func(c *Config) { c.AudioDeviceIndex = -1 }, false},
		{"zero_sample_rate", func(c *Config) { c.AudioSampleRate = 0 }, false},
		{"too_many_channels", func(c *Config) { c.AudioChannels = 6 }, false},
		{"zero_session_ttl", func(c *Config) { c.SessionTTLSeconds = 0 }, false},
		{"empty_source_id", func(c *Config) { c.SourceID = "" }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantOK && err != nil {
				t.Errorf("Validate: %v", err)
			}
			if !tc.wantOK && err == nil {
				t.Error("Validate accepted invalid config")
			}
		})
	}
}

func TestCancelPhraseList(t *testing.T) {
	c := &Config{CancelPhrases: "cancel, never mind ,,nevermind"}
	got := c.CancelPhraseList()
	want := []string{"cancel", "never mind", "nevermind"}
	if len(got) != len(want) {
		t.Fatalf("phrases = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("phrase[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHTTPPort(t *testing.T) {
	cases := []struct {
		addr string
		want int
	}{
		{":8123", 8123},
		{"0.0.0.0:9000", 9000},
		{"bogus", 0},
	}
	for _, tc := range cases {
		c := &Config{HTTPAddr: tc.addr}
		if got := c.HTTPPort(); got != tc.want {
			t.Errorf("HTTPPort(%q) = %d, want %d", tc.addr, got, tc.want)
		}
	}
}
