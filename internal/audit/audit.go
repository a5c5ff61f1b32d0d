// Package audit records SystemLog entries, either straight into the store or
// through the queue for a worker to persist.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"vision/internal/metrics"
	"vision/internal/model"
	"vision/internal/queue"
	"vision/internal/store"
)

// Actions written by the service.
const (
	ActionSessionStart     = "session.start"
	ActionSessionEnd       = "session.end"
	ActionSessionCancel    = "session.cancel"
	ActionAttendanceMark   = "attendance.mark"
	ActionAttendanceUpdate = "attendance.update"
	ActionKioskDetect      = "kiosk.detect"
	ActionSeed             = "seed"
)

// MessageType tags audit entries on the queue.
const MessageType = "audit"

// Writer persists an audit entry.
type Writer interface {
	Write(ctx context.Context, entry model.SystemLog) error
}

type actorKey struct{}

// Actor identifies who triggered a request.
type Actor struct {
	UserID    string
	IPAddress string
}

// WithActor attaches the request actor to ctx. Writers copy it into entries
// that do not set their own.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the actor stored in ctx, if any.
func ActorFrom(ctx context.Context) Actor {
	a, _ := ctx.Value(actorKey{}).(Actor)
	return a
}

func withActor(ctx context.Context, entry model.SystemLog) model.SystemLog {
	a := ActorFrom(ctx)
	if entry.UserID == "" {
		entry.UserID = a.UserID
	}
	if entry.IPAddress == "" {
		entry.IPAddress = a.IPAddress
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = store.Now()
	}
	return entry
}

// Direct appends entries synchronously.
type Direct struct {
	store   store.Store
	metrics *metrics.Metrics
}

func NewDirect(s store.Store, m *metrics.Metrics) *Direct {
	return &Direct{store: s, metrics: m}
}

func (d *Direct) Write(ctx context.Context, entry model.SystemLog) error {
	entry = withActor(ctx, entry)
	if err := model.Validate(entry); err != nil {
		return err
	}
	if err := d.store.AppendLog(ctx, &entry); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	d.metrics.Audit()
	return nil
}

// Queued publishes entries for Consume to persist. The creation time is
// fixed at publish so queue latency does not reorder the log.
type Queued struct {
	queue queue.Queue
}

func NewQueued(q queue.Queue) *Queued {
	return &Queued{queue: q}
}

func (w *Queued) Write(ctx context.Context, entry model.SystemLog) error {
	entry = withActor(ctx, entry)
	if err := model.Validate(entry); err != nil {
		return err
	}
	body, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return w.queue.Publish(ctx, queue.Message{Type: MessageType, Body: body})
}

// Consume drains audit messages into the store until ctx is done or the
// queue closes. Malformed or failing entries are logged and skipped.
func Consume(ctx context.Context, q queue.Queue, s store.Store, m *metrics.Metrics, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume audit queue: %w", err)
	}
	sink := NewDirect(s, m)
	for msg := range messages {
		if msg.Type != MessageType {
			log.Warn("skipping unknown message", "type", msg.Type)
			continue
		}
		var entry model.SystemLog
		if err := json.Unmarshal(msg.Body, &entry); err != nil {
			log.Warn("skipping malformed audit entry", "error", err)
			continue
		}
		entry.ID = ""
		if err := sink.Write(ctx, entry); err != nil {
			log.Error("persist audit entry failed", "action", entry.Action, "error", err)
			continue
		}
		log.Debug("audit entry persisted", "action", entry.Action, "entity_id", entry.EntityID)
	}
	return nil
}
