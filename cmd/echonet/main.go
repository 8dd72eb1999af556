package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/snarg/echonet/internal/api"
	"github.com/snarg/echonet/internal/audio"
	"github.com/snarg/echonet/internal/config"
	"github.com/snarg/echonet/internal/discovery"
	"github.com/snarg/echonet/internal/ingest"
	"github.com/snarg/echonet/internal/registry"
	"github.com/snarg/echonet/internal/router"
	"github.com/snarg/echonet/internal/state"
	"github.com/snarg/echonet/internal/store"
	"github.com/snarg/echonet/internal/transcribe"
	"github.com/snarg/echonet/internal/vad"
	"github.com/snarg/echonet/internal/worker"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "addr", "", "http listen address (overrides env)")
	flag.StringVar(&overrides.DBPath, "db", "", "database path (overrides env)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (overrides env)")
	flag.Parse()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("echonet starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store (migrations run inside Open; failure here is fatal).
	db, err := store.Open(cfg.DBPath, log.With().Str("component", "store").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	reg, err := registry.New(db, log.With().Str("component", "registry").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build target registry")
	}
	if targets, err := reg.List(); err == nil {
		log.Info().Int("targets", len(targets)).Msg("target registry loaded")
	}

	st := state.NewManager(db, log.With().Str("component", "state").Logger())
	seedState(cfg, st, db, log)

	// Audio. A missing sound system leaves the HTTP surface up; only
	// the local capture worker is skipped.
	var devices api.DeviceLister
	var recorder *audio.Recorder
	audioLog := log.With().Str("component", "audio").Logger()
	dev, err := audio.NewDevices(audioLog)
	if err != nil {
		log.Warn().Err(err).Msg("audio backend unavailable, running without local capture")
		devices = unavailableDevices{err: err}
	} else {
		defer dev.Close()
		devices = dev
		recorder = audio.NewRecorder(dev, audioLog)
	}

	whisper := transcribe.NewWhisperClient(cfg.WhisperURL, cfg.WhisperModel, cfg.WhisperTimeout)
	var detector vad.SpeechDetector
	if cfg.AudioUseMLVAD {
		detector = whisper
	}

	sessions := router.NewSessionManager(time.Duration(cfg.SessionTTLSeconds) * time.Second)
	forwarder := router.NewForwarder(log.With().Str("component", "forwarder").Logger())
	engine := router.NewEngine(reg, sessions, forwarder,
		cfg.CancelPhraseList(), cfg.ForwardStripTrigger,
		log.With().Str("component", "router").Logger())

	srv := api.NewServer(api.Deps{
		Config:      cfg,
		Store:       db,
		Registry:    reg,
		State:       st,
		Engine:      engine,
		Devices:     devices,
		Transcriber: whisper,
		Version:     version,
		StartTime:   startTime,
	}, log.With().Str("component", "http").Logger())

	var mqtt *ingest.Client
	if cfg.MQTTBrokerURL != "" {
		mqtt, err = ingest.Connect(ingest.Options{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
		}, engine, st, log.With().Str("component", "mqtt").Logger())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
	}

	if cfg.DiscoveryEnabled {
		svc, err := discovery.Register(discovery.Options{
			InstanceName: cfg.DiscoveryName,
			Port:         cfg.HTTPPort(),
			Zone:         cfg.DiscoveryZone,
			Subzone:      cfg.DiscoverySubzone,
			Version:      version,
		}, log.With().Str("component", "discovery").Logger())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to register mdns service")
		}
		defer svc.Shutdown()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if recorder != nil {
		asr := worker.New(cfg, st, recorder, whisper, engine, detector,
			log.With().Str("component", "worker").Logger())
		g.Go(func() error {
			err := asr.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		sessions.RunSweeper(gctx.Done(), 5*time.Second)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("shutdown with error")
	}
	log.Info().Msg("echonet stopped")
}

// seedState writes the configured defaults into the settings store on
// first run, so later restarts keep operator changes.
func seedState(cfg *config.Config, st *state.Manager, db *store.Store, log zerolog.Logger) {
	mode := state.Mode(cfg.InitialListenMode)
	if st.ListenMode() != mode {
		if err := st.SetListenMode(mode, "startup", "configured default mode"); err != nil {
			log.Error().Err(err).Msg("failed to seed listen mode")
		}
	}
	if _, ok := db.Get(state.KeyAudioDeviceIndex); !ok && cfg.AudioDeviceIndex != 0 {
		if err := st.SetAudioDeviceIndex(cfg.AudioDeviceIndex, "startup", "configured default device"); err != nil {
			log.Error().Err(err).Msg("failed to seed audio device index")
		}
	}
}

// unavailableDevices stands in for the device lister when the audio
// backend failed to initialize.
type unavailableDevices struct{ err error }

func (u unavailableDevices) List() ([]audio.Device, error) {
	return nil, u.err
}
