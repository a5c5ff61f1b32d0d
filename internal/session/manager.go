// Package session drives the class-session state machine:
// scheduled -> active -> completed, with cancelled reachable from either
// non-terminal state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vision/internal/audit"
	"vision/internal/metrics"
	"vision/internal/model"
	"vision/internal/store"
)

var (
	// ErrInvalidTransition is returned when the current state does not allow
	// the requested transition.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrFacultyBusy is returned when starting a session would give its
	// faculty a second active session.
	ErrFacultyBusy = errors.New("faculty already has an active session")
)

// maxAttempts bounds re-reads when a concurrent transition wins the race.
const maxAttempts = 3

// Manager applies lifecycle transitions through conditional store updates.
type Manager struct {
	store   store.Store
	audit   audit.Writer
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// NewManager wires a manager. audit and m may be nil.
func NewManager(s store.Store, w audit.Writer, m *metrics.Metrics, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: s, audit: w, metrics: m, log: log, now: store.Now}
}

// step decides the patch for the current state. apply=false with a nil error
// means the session is already where the caller wants it.
type step func(cur model.SessionStatus, now time.Time) (patch store.SessionPatch, apply bool, err error)

// Start moves a scheduled session to active and stamps actualStart.
func (m *Manager) Start(ctx context.Context, id string) (model.Session, error) {
	return m.transition(ctx, id, audit.ActionSessionStart, func(cur model.SessionStatus, now time.Time) (store.SessionPatch, bool, error) {
		switch cur {
		case model.SessionScheduled:
			return store.SessionPatch{Status: model.SessionActive, ActualStart: &now}, true, nil
		case model.SessionActive:
			return store.SessionPatch{}, false, nil
		case model.SessionCompleted, model.SessionCancelled:
		}
		return store.SessionPatch{}, false, fmt.Errorf("%w: cannot start a %s session", ErrInvalidTransition, cur)
	})
}

// End moves an active session to completed and stamps actualEnd.
func (m *Manager) End(ctx context.Context, id string) (model.Session, error) {
	return m.transition(ctx, id, audit.ActionSessionEnd, func(cur model.SessionStatus, now time.Time) (store.SessionPatch, bool, error) {
		switch cur {
		case model.SessionActive:
			return store.SessionPatch{Status: model.SessionCompleted, ActualEnd: &now}, true, nil
		case model.SessionCompleted:
			return store.SessionPatch{}, false, nil
		case model.SessionScheduled, model.SessionCancelled:
		}
		return store.SessionPatch{}, false, fmt.Errorf("%w: cannot end a %s session", ErrInvalidTransition, cur)
	})
}

// Cancel moves a scheduled or active session to cancelled. Cancelling an
// active session also stamps actualEnd.
func (m *Manager) Cancel(ctx context.Context, id string) (model.Session, error) {
	return m.transition(ctx, id, audit.ActionSessionCancel, func(cur model.SessionStatus, now time.Time) (store.SessionPatch, bool, error) {
		switch cur {
		case model.SessionScheduled:
			return store.SessionPatch{Status: model.SessionCancelled}, true, nil
		case model.SessionActive:
			return store.SessionPatch{Status: model.SessionCancelled, ActualEnd: &now}, true, nil
		case model.SessionCancelled:
			return store.SessionPatch{}, false, nil
		case model.SessionCompleted:
		}
		return store.SessionPatch{}, false, fmt.Errorf("%w: cannot cancel a %s session", ErrInvalidTransition, cur)
	})
}

// ActiveSession returns the faculty's active session, or nil when there is none.
func (m *Manager) ActiveSession(ctx context.Context, facultyID string) (*model.Session, error) {
	s, err := m.store.GetActiveSession(ctx, facultyID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active session for %s: %w", facultyID, err)
	}
	return &s, nil
}

func (m *Manager) transition(ctx context.Context, id, action string, decide step) (model.Session, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		cur, err := m.store.GetSession(ctx, id)
		if err != nil {
			return model.Session{}, fmt.Errorf("session %s: %w", id, err)
		}
		patch, apply, err := decide(cur.Status, m.now())
		if err != nil {
			return cur, err
		}
		if !apply {
			return cur, nil
		}
		next, err := m.store.UpdateSession(ctx, id, cur.Status, patch)
		switch {
		case errors.Is(err, store.ErrStaleState):
			m.log.Debug("session changed concurrently, retrying", "session_id", id, "action", action)
			continue
		case errors.Is(err, store.ErrDuplicateKey):
			return cur, fmt.Errorf("%w: faculty %s", ErrFacultyBusy, cur.FacultyID)
		case err != nil:
			return cur, fmt.Errorf("update session %s: %w", id, err)
		}

		m.metrics.Transition(string(next.Status))
		m.log.Info("session transition", "session_id", id, "from", cur.Status, "to", next.Status)
		m.record(ctx, action, next, cur.Status)
		return next, nil
	}
	return model.Session{}, fmt.Errorf("session %s: %w", id, store.ErrStaleState)
}

func (m *Manager) record(ctx context.Context, action string, s model.Session, from model.SessionStatus) {
	if m.audit == nil {
		return
	}
	err := m.audit.Write(ctx, model.SystemLog{
		Action:     action,
		EntityType: "session",
		EntityID:   s.ID,
		Details:    fmt.Sprintf("%s -> %s", from, s.Status),
	})
	if err != nil {
		m.log.Warn("audit write failed", "action", action, "session_id", s.ID, "error", err)
	}
}
