// Command aicc-voice is the real-time voice session controller for the bank
// call-center assistant: it ingests caller audio over WebSocket, segments it
// into utterances with dual-engine VAD, detects barge-ins during playback,
// and manages the human-agent handover lifecycle.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/config"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/dialog"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/handover"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/handover/postgres"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/health"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/observe"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/server"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/session"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/audio"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/vad"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/vad/energy"
	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/vad/silero"
)

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "aicc-voice: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "aicc-voice: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.Slog(),
	}))
	slog.SetDefault(logger)

	slog.Info("aicc-voice starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"fusion_mode", cfg.VAD.FusionMode,
		"encoding", cfg.Audio.Encoding,
		"sample_rate", cfg.Audio.SampleRate,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "aicc-voice",
	})
	if err != nil {
		slog.Error("telemetry init failed", "error", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "error", err)
		}
	}()

	// ── Handover store ────────────────────────────────────────────────────────
	var store handover.Store
	var checkers []health.Checker
	if cfg.Store.PostgresDSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			slog.Error("postgres store init failed", "error", err)
			return 1
		}
		defer pg.Close()
		store = pg
		checkers = append(checkers, health.Store(pg))
		slog.Info("handover store connected")
	} else {
		slog.Warn("no store.postgres_dsn configured; handover records are not persisted")
	}

	// ── VAD engines ───────────────────────────────────────────────────────────
	var fastEngine, confirmEngine vad.Engine
	if cfg.VAD.FusionMode.NeedsFast() {
		fastEngine = energy.New()
	}
	if cfg.VAD.FusionMode.NeedsConfirm() {
		var opts []silero.Option
		if cfg.VAD.RuntimeLibrary != "" {
			opts = append(opts, silero.WithRuntimeLibrary(cfg.VAD.RuntimeLibrary))
		}
		confirmEngine, err = silero.New(cfg.VAD.ModelPath, opts...)
		if err != nil {
			slog.Error("confirm engine init failed", "model_path", cfg.VAD.ModelPath, "error", err)
			return 1
		}
		slog.Info("confirm engine loaded", "model_path", cfg.VAD.ModelPath)
	}

	// ── Dialog backend ────────────────────────────────────────────────────────
	var transcriber session.Transcriber = dialog.Disabled{}
	if cfg.Dialog.Endpoint != "" {
		transcriber, err = dialog.New(cfg.Dialog.Endpoint, cfg.Audio.SampleRate,
			dialog.WithTimeout(cfg.Dialog.Timeout()))
		if err != nil {
			slog.Error("dialog client init failed", "error", err)
			return 1
		}
		slog.Info("dialog backend configured", "endpoint", cfg.Dialog.Endpoint)
	} else {
		slog.Warn("no dialog.endpoint configured; replies are disabled")
	}

	// ── Sessions and transport ────────────────────────────────────────────────
	manager := session.NewManager()
	checkers = append(checkers, health.ConfirmEngines(manager))

	factory := func(id string) session.Config {
		return session.Config{
			SessionID: id,
			Framer: audio.FramerConfig{
				SampleRate: cfg.Audio.SampleRate,
				FrameMs:    cfg.Audio.FrameMs,
				Encoding:   cfg.Audio.Encoding,
			},
			FusionMode:         cfg.VAD.FusionMode,
			FastEngine:         fastEngine,
			ConfirmEngine:      confirmEngine,
			FastAggressiveness: cfg.VAD.FastAggressiveness,
			ConfirmThreshold:   cfg.VAD.ConfirmThreshold,
			SilenceDuration:    cfg.Turn.SilenceDuration(),
			Hangover:           cfg.Turn.Hangover(),
			MaxEmptyInputs:     cfg.Turn.MaxEmptyInputs,
			MinVoiceCount:      cfg.BargeIn.MinVoiceCount,
			HandoverTimeout:    cfg.Handover.Timeout(),
			QueueSize:          cfg.Session.QueueSize,
			Transcriber:        transcriber,
			Store:              store,
			Metrics:            observe.DefaultMetrics(),
		}
	}

	mux := http.NewServeMux()
	server.New(manager, factory, logger).Register(mux)
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Serve ─────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("listening", "addr", cfg.Server.ListenAddr, "tls", cfg.Server.TLS != nil)
		var err error
		if cfg.Server.TLS != nil {
			err = httpServer.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, draining sessions")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := manager.Drain(sctx); err != nil {
			slog.Warn("session drain incomplete", "error", err)
		}
		return httpServer.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("run error", "error", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}
