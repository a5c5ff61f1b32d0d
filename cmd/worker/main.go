package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"vision/internal/audit"
	"vision/internal/config"
	"vision/internal/faceclient"
	"vision/internal/metrics"
	"vision/internal/queue"
	"vision/internal/session"
	"vision/internal/store"
)

// Worker drains the audit queue into the store and, when enabled, ends
// sessions that overran their schedule.
func main() {
	cfg := config.Load()
	log := cfg.Logger()
	if err := run(cfg, log); err != nil {
		log.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.App, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := store.Open(ctx, cfg.StoreBackend, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer s.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	var q queue.Queue
	var w audit.Writer = audit.NewDirect(s, m)
	if cfg.QueueBackend == "redis" {
		rdb := store.NewRedis(cfg.RedisAddr)
		defer rdb.Close()
		if !rdb.Healthy(ctx) {
			log.Warn("redis not reachable, consumer will retry", "addr", cfg.RedisAddr)
		}
		q = queue.NewRedisQueue(rdb.Client, queue.DefaultRedisKey)
		w = audit.NewQueued(q)
	} else {
		log.Info("queue backend is memory, the api process consumes its own audit entries")
	}

	// Check face service health on startup.
	if !cfg.FaceSkip {
		face := faceclient.New(cfg.FaceServiceURL, false)
		if err := face.Health(ctx); err != nil {
			log.Warn("face service not available", "url", cfg.FaceServiceURL, "error", err)
		} else {
			log.Info("face service connected", "url", cfg.FaceServiceURL)
		}
	}

	if cfg.SessionAutoEnd {
		sweeper := session.NewSweeper(session.NewManager(s, w, m, log), s, cfg.SessionGrace, log)
		c := cron.New()
		if _, err := sweeper.Register(c, cfg.SweepSchedule); err != nil {
			return err
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
		log.Info("session sweeper scheduled", "schedule", cfg.SweepSchedule, "grace", cfg.SessionGrace)
	}

	if q == nil {
		<-ctx.Done()
		log.Info("worker stopped")
		return nil
	}

	log.Info("worker started, waiting for audit entries")
	if err := audit.Consume(ctx, q, s, m, log); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("worker stopped")
	return nil
}
