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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vision/internal/api"
	"vision/internal/attendance"
	"vision/internal/audit"
	"vision/internal/config"
	"vision/internal/faceclient"
	"vision/internal/httpmiddleware"
	"vision/internal/metrics"
	"vision/internal/queue"
	"vision/internal/report"
	"vision/internal/session"
	"vision/internal/store"
)

func main() {
	cfg := config.Load()
	log := cfg.Logger()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

func runHTTP(cfg config.App, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := store.Open(ctx, cfg.StoreBackend, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer s.Close()

	var rdb *store.Redis
	if cfg.UsesRedis() {
		rdb = store.NewRedis(cfg.RedisAddr)
		defer rdb.Close()
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	var q queue.Queue
	if cfg.QueueBackend == "redis" {
		q = queue.NewRedisQueue(rdb.Client, queue.DefaultRedisKey)
	} else {
		// Nothing outside this process can read an in-memory queue.
		q = queue.NewInMemory(256)
		go func() {
			if err := audit.Consume(ctx, q, s, m, log); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("audit consumer stopped", "error", err)
			}
		}()
	}
	auditW := audit.NewQueued(q)

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	face.MockIdentifier = cfg.FaceMockIdentifier
	face.MockDelay = cfg.FaceMockDelay

	sessions := session.NewManager(s, auditW, m, log)
	h := api.New(api.Deps{
		Store:    s,
		Redis:    rdb,
		Sessions: sessions,
		Recorder: attendance.NewRecorder(s, auditW, face, m, log),
		Reports:  report.New(s),
		Audit:    auditW,
		Logger:   log,
	}, api.Options{
		EnableSeed:    cfg.EnableSeed,
		KioskAuth:     cfg.KioskAuth,
		JWTIssuer:     cfg.JWTIssuer,
		JWTSigningKey: cfg.JWTSigningKey,
		AccessTTL:     cfg.AccessTTL,
	})

	var limiter httpmiddleware.Limiter
	if cfg.RateLimitBackend == "redis" {
		limiter = httpmiddleware.NewRedisLimiter(rdb.Client, cfg.RateLimitPerMin)
	} else {
		limiter = httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.CORS())
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.Metrics(m))
	r.Use(httpmiddleware.RateLimit(limiter, m))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	h.Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", "port", cfg.HTTPPort, "store", cfg.StoreBackend, "queue", cfg.QueueBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", "error", err)
	}
	log.Info("server exited")
	return nil
}
