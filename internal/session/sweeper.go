package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"vision/internal/audit"
	"vision/internal/model"
	"vision/internal/store"
)

// Sweeper ends active sessions that have overrun their scheduled end by
// more than Grace.
type Sweeper struct {
	manager *Manager
	store   store.Store
	grace   time.Duration
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time
}

func NewSweeper(m *Manager, s store.Store, grace time.Duration, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{manager: m, store: s, grace: grace, timeout: 30 * time.Second, log: log, now: store.Now}
}

// Sweep ends every overdue session and returns how many it ended.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.grace)
	overdue, err := s.store.ListSessions(ctx, store.SessionFilter{Status: model.SessionActive, EndBefore: &cutoff})
	if err != nil {
		return 0, err
	}
	ctx = audit.WithActor(ctx, audit.Actor{UserID: "system"})
	ended := 0
	for _, se := range overdue {
		if _, err := s.manager.End(ctx, se.ID); err != nil {
			s.log.Warn("auto-end failed", "session_id", se.ID, "error", err)
			continue
		}
		ended++
	}
	return ended, nil
}

// Register schedules Sweep on c. Overlapping runs are skipped.
func (s *Sweeper) Register(c *cron.Cron, spec string) (cron.EntryID, error) {
	job := cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		n, err := s.Sweep(ctx)
		if err != nil {
			s.log.Error("session sweep failed", "error", err)
			return
		}
		if n > 0 {
			s.log.Info("sessions auto-ended", "count", n)
		}
	})
	return c.AddJob(spec, cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(job))
}
