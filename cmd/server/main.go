package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"camera-gateway/internal/camera"
	"camera-gateway/internal/platform/config"
	"camera-gateway/internal/platform/cors"
	"camera-gateway/internal/platform/logger"
	"camera-gateway/internal/platform/metrics"
	"camera-gateway/internal/platform/ratelimit"
	"camera-gateway/internal/probe"
	"camera-gateway/internal/transcoder"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()
	cfg := config.FromEnv()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(cfg config.Config, log *slog.Logger) error {
	prober := probe.New(probe.Options{
		Binary:  cfg.FFprobeBinary,
		Timeout: cfg.ConnectionTimeout,
		Logger:  log,
	})
	sup, err := transcoder.New(transcoder.Options{
		Binary:          cfg.FFmpegBinary,
		BaseDir:         cfg.HLSOutputDir,
		SegmentDuration: cfg.SegmentDuration,
		PlaylistSize:    cfg.PlaylistSize,
		GracePeriod:     cfg.GracePeriod,
		Logger:          log,
	})
	if err != nil {
		return err
	}

	met := metrics.New()
	reg := camera.NewRegistry(prober, sup, camera.RegistryOptions{
		MaxSessions:    cfg.MaxSessions,
		SessionTimeout: cfg.SessionTimeout,
		SweepInterval:  cfg.CleanupInterval,
		HWAccel:        cfg.HWAccel,
		Logger:         log,
		Recorder:       met,
	})
	svc := camera.NewService(reg, log)
	h := camera.NewHandler(svc, log, cfg.FFmpegBinary)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Use(cors.Handler(cfg.CORSOrigins))
	r.Method(http.MethodGet, "/metrics", met.Handler(func() { met.SetActiveSessions(reg.Count()) }))
	h.Register(r, camera.Limits{
		Connect:    ratelimit.PerMinute(cfg.RateLimitConnect),
		Disconnect: ratelimit.PerMinute(cfg.RateLimitDisconnect),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("server starting",
		slog.String("port", cfg.Port),
		slog.String("hls_output_dir", cfg.HLSOutputDir),
		slog.Int("max_sessions", cfg.MaxSessions),
		slog.Duration("session_timeout", cfg.SessionTimeout),
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Bool("hwaccel", cfg.HWAccel),
		slog.String("log_level", cfg.LogLevel),
	)
	log.Info("automatic reconnect disabled",
		slog.Int("max_reconnect_attempts", cfg.MaxReconnectAttempts),
		slog.Any("reconnect_delays", cfg.ReconnectDelays),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := reg.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining connections")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	reg.Shutdown()
	sup.StopAll()
	return err
}
