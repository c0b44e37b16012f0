package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/playlog/backend/internal/config"
	"github.com/playlog/backend/internal/frontend"
	"github.com/playlog/backend/internal/history"
	"github.com/playlog/backend/internal/mock"
	"github.com/playlog/backend/internal/probe"
	"github.com/playlog/backend/internal/tracker"
	"github.com/playlog/backend/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	mockMode := flag.Bool("mock", false, "Use synthetic probes instead of the OS")
	devDir := flag.String("dev", "", "Serve frontend from this directory")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config failed")
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	initLogging(cfg.Log)

	store := history.NewStore(cfg.History.Dir)
	recorder, err := history.NewRecorder(store, cfg.History.SaveInterval)
	if err != nil {
		log.Fatal().Err(err).Str("path", store.Path()).Msg("loading play history failed")
	}

	broadcaster := ws.NewBroadcaster(cfg.Tracker.BroadcastThrottle, cfg.Tracker.SnapshotInterval)

	var presence tracker.PresenceProbe = probe.NewProcessProbe()
	var idle tracker.IdleProbe = probe.NewIdleProbe()
	var mockProbes *mock.Probes
	if *mockMode {
		log.Info().Msg("starting with mock probes")
		mockProbes = mock.NewProbes(time.Now().UnixNano())
		presence = mockProbes
		idle = mockProbes
	}

	tr := tracker.New(cfg, presence, idle, nil, broadcaster, recorder)
	broadcaster.SetSnapshotHook(func() ws.SnapshotPayload {
		return ws.SnapshotPayload{
			Sessions:    tr.ActiveSessions(),
			ProbeHealth: tr.ProbeHealth(),
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if mockProbes != nil {
		tr.SetTrackedGames(mockProbes.Games())
		mockProbes.Start(ctx, cfg.Tracker.PollInterval)
	}

	recorderDone := make(chan struct{})
	go func() {
		defer close(recorderDone)
		recorder.Run(ctx)
	}()

	tr.Start(ctx)

	var frontendHandler http.Handler
	if *devDir != "" {
		log.Info().Str("dir", *devDir).Msg("serving frontend from filesystem")
		frontendHandler = http.FileServer(http.Dir(*devDir))
	} else {
		frontendHandler = frontend.Handler()
	}

	server := ws.NewServer(cfg, tr, recorder, broadcaster, frontendHandler)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	// SIGHUP reloads tracker-level settings (idle threshold, probe
	// timeout); server-level settings need a restart.
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	go func() {
		for range hupCh {
			reloaded, err := config.Load(*configPath)
			if err != nil {
				log.Error().Err(err).Msg("config reload failed")
				continue
			}
			tr.SetConfig(reloaded)
			log.Info().Msg("config reloaded")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutting down")
		// Order matters: finalize open sessions first so their ended
		// events reach the recorder before its final save.
		tr.Stop()
		cancel()
		<-recorderDone
		broadcaster.Stop()
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func initLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}}
	if cfg.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    1,
			MaxBackups: 2,
		})
	}
	log.Logger = log.Output(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
}
