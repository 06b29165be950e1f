package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nvr-playback/internal/platform/config"
	"nvr-playback/internal/platform/logger"
	"nvr-playback/internal/platform/metrics"
	"nvr-playback/internal/playback"
	"nvr-playback/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
)

const defaultShutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	shutdownTimeout := config.GetEnvDuration("SHUTDOWN_TIMEOUT", defaultShutdownTimeout)

	cfg := playback.Config{
		MaxSessions:          config.GetEnvInt("PLAYBACK_MAX_SESSIONS", playback.DefaultMaxSessions),
		MaxCameras:           config.GetEnvInt("PLAYBACK_MAX_CAMERAS", playback.DefaultMaxCameras),
		QueueDepth:           config.GetEnvInt("PLAYBACK_QUEUE_DEPTH", playback.DefaultQueueDepth),
		FrameBufferSize:      config.GetEnvInt("PLAYBACK_FRAME_BUFFER", playback.DefaultFrameBufferSize),
		FrameInterval:        config.GetEnvDuration("PLAYBACK_FRAME_INTERVAL", playback.DefaultFrameInterval),
		SendTimeout:          config.GetEnvDuration("PLAYBACK_SEND_TIMEOUT", playback.DefaultSendTimeout),
		ProductType:          uint16(config.GetEnvInt("PLAYBACK_PRODUCT_TYPE", 0)),
		PauseResumeFirstOnly: config.GetEnvBool("PLAYBACK_PAUSE_RESUME_FIRST_ONLY", false),
	}

	log := logger.New(logLevel, logFormat)
	met := metrics.New()

	fast, err := storage.ParseSpeed(config.GetEnv("PLAYBACK_FAST_SPEED", playback.DefaultFastSpeed.String()))
	if err != nil {
		log.Warn("invalid fast playback speed, using default", "error", err, "default", playback.DefaultFastSpeed.String())
		fast = playback.DefaultFastSpeed
	}
	cfg.FastSpeed = fast

	// The disk backend is supplied by the recorder firmware; the in-memory
	// one keeps the admin surface usable standalone.
	backend := storage.NewMemory()
	eng := playback.NewEngine(backend, log, cfg, playback.WithMetrics(met))
	h := playback.NewHandler(eng, log)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(eng.ActiveSessions()) }).ServeHTTP(w, r)
	})
	h.Routes(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	effective := eng.Config()
	log.Info("server starting",
		"port", port,
		"max_sessions", effective.MaxSessions,
		"queue_depth", effective.QueueDepth,
		"frame_interval", effective.FrameInterval.String(),
		"send_timeout", effective.SendTimeout.String(),
		"fast_speed", effective.FastSpeed.String(),
		"log_level", logLevel,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining connections and sessions")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		srvErr := srv.Shutdown(sctx)
		if err := eng.Shutdown(sctx); err != nil {
			log.Error("playback shutdown incomplete", "error", err, "active_sessions", eng.ActiveSessions())
		}
		return srvErr
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
