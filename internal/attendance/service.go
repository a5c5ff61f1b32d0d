// Package attendance records presence marks. The store's unique
// (session, student) constraint is the only duplicate check: a rejected
// insert is reported as AlreadyMarked, never as a failure.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vision/internal/audit"
	"vision/internal/faceclient"
	"vision/internal/metrics"
	"vision/internal/model"
	"vision/internal/store"
)

var (
	ErrStudentNotFound = errors.New("student not found")
	ErrSessionNotFound = errors.New("session not found")
)

// Detector identifies a student from a kiosk frame.
type Detector interface {
	Identify(ctx context.Context, imageURL string) (faceclient.Detection, error)
}

// Result is the outcome of a kiosk detection.
type Result struct {
	Student       model.Student
	Record        model.AttendanceRecord
	AlreadyMarked bool
}

// ManualMark is a faculty-entered mark. Zero MarkedBy and Method default to
// faculty and manual.
type ManualMark struct {
	SessionID string                 `json:"sessionId" validate:"required"`
	StudentID string                 `json:"studentId" validate:"required"`
	Status    model.AttendanceStatus `json:"status" validate:"required,enum"`
	MarkedBy  model.MarkedBy         `json:"markedBy"`
	Method    model.Method           `json:"method"`
	IsProxy   bool                   `json:"isProxy"`
}

// Recorder coordinates attendance marks.
type Recorder struct {
	store    store.Store
	audit    audit.Writer
	detector Detector
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

// NewRecorder creates a recorder. detector, w and m may be nil; without a
// detector, image-based detection is unavailable.
func NewRecorder(s store.Store, w audit.Writer, detector Detector, m *metrics.Metrics, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{store: s, audit: w, detector: detector, metrics: m, log: log, now: store.Now}
}

// DetectAndMark marks the student with roll number identifier present in the
// session. A second detection returns the existing record with
// AlreadyMarked set.
func (r *Recorder) DetectAndMark(ctx context.Context, sessionID, identifier string, method model.Method) (Result, error) {
	return r.detect(ctx, sessionID, identifier, method, false)
}

// DetectImage identifies the student in imageURL, then marks as
// DetectAndMark does. A failed liveness check flags the record as a proxy.
func (r *Recorder) DetectImage(ctx context.Context, sessionID, imageURL string, method model.Method) (Result, error) {
	if r.detector == nil {
		return Result{}, fmt.Errorf("%w: studentIdentifier required", model.ErrValidation)
	}
	d, err := r.detector.Identify(ctx, imageURL)
	if errors.Is(err, faceclient.ErrNoMatch) {
		r.metrics.Mark(string(methodOrDefault(method)), "not_found")
		return Result{}, ErrStudentNotFound
	}
	if err != nil {
		return Result{}, fmt.Errorf("identify: %w", err)
	}
	if !d.Live {
		r.log.Warn("liveness check failed", "session_id", sessionID, "identifier", d.Identifier)
	}
	return r.detect(ctx, sessionID, d.Identifier, method, !d.Live)
}

func methodOrDefault(m model.Method) model.Method {
	if m == "" {
		return model.MethodFacialRecognition
	}
	return m
}

func (r *Recorder) detect(ctx context.Context, sessionID, identifier string, method model.Method, proxy bool) (Result, error) {
	method = methodOrDefault(method)
	if !method.Valid() {
		return Result{}, fmt.Errorf("%w: unknown method %q", model.ErrValidation, method)
	}
	if sessionID == "" || identifier == "" {
		return Result{}, fmt.Errorf("%w: sessionId and studentIdentifier required", model.ErrValidation)
	}
	if _, err := r.store.GetSession(ctx, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.metrics.Mark(string(method), "not_found")
			return Result{}, ErrSessionNotFound
		}
		return Result{}, fmt.Errorf("load session: %w", err)
	}
	student, err := r.store.GetStudentByRollNo(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.metrics.Mark(string(method), "not_found")
			return Result{}, ErrStudentNotFound
		}
		return Result{}, fmt.Errorf("resolve student: %w", err)
	}

	now := r.now()
	rec := model.AttendanceRecord{
		SessionID: sessionID,
		StudentID: student.ID,
		Status:    model.StatusPresent,
		MarkedAt:  &now,
		MarkedBy:  model.MarkedBySystem,
		Method:    method,
		IsProxy:   proxy,
	}
	err = r.store.CreateAttendance(ctx, &rec)
	switch {
	case err == nil:
		r.metrics.Mark(string(method), "created")
		r.record(ctx, audit.ActionAttendanceMark, rec, fmt.Sprintf("%s via %s", rec.Status, method))
		return Result{Student: student, Record: rec}, nil
	case errors.Is(err, store.ErrDuplicateKey):
		existing, gerr := r.store.GetAttendance(ctx, sessionID, student.ID)
		if gerr != nil {
			return Result{}, fmt.Errorf("load existing record: %w", gerr)
		}
		r.metrics.Mark(string(method), "already_marked")
		r.record(ctx, audit.ActionKioskDetect, existing, "already marked")
		return Result{Student: student, Record: existing, AlreadyMarked: true}, nil
	}
	r.metrics.Mark(string(method), "error")
	return Result{}, fmt.Errorf("create attendance: %w", err)
}

// MarkManual writes a faculty mark. When the pair already has a record its
// status, method and marker are overwritten in place, so the pair still owns
// exactly one record. The bool reports whether a record was created.
func (r *Recorder) MarkManual(ctx context.Context, in ManualMark) (model.AttendanceRecord, bool, error) {
	if in.MarkedBy == "" {
		in.MarkedBy = model.MarkedByFaculty
	}
	if in.Method == "" {
		in.Method = model.MethodManual
	}
	if err := model.Validate(in); err != nil {
		return model.AttendanceRecord{}, false, err
	}
	if !in.MarkedBy.Valid() || !in.Method.Valid() {
		return model.AttendanceRecord{}, false, fmt.Errorf("%w: unknown markedBy or method", model.ErrValidation)
	}
	if _, err := r.store.GetSession(ctx, in.SessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.AttendanceRecord{}, false, ErrSessionNotFound
		}
		return model.AttendanceRecord{}, false, fmt.Errorf("load session: %w", err)
	}
	if _, err := r.store.GetStudent(ctx, in.StudentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.AttendanceRecord{}, false, ErrStudentNotFound
		}
		return model.AttendanceRecord{}, false, fmt.Errorf("load student: %w", err)
	}

	now := r.now()
	rec := model.AttendanceRecord{
		SessionID: in.SessionID,
		StudentID: in.StudentID,
		Status:    in.Status,
		MarkedAt:  &now,
		MarkedBy:  in.MarkedBy,
		Method:    in.Method,
		IsProxy:   in.IsProxy,
	}
	err := r.store.CreateAttendance(ctx, &rec)
	if err == nil {
		r.metrics.Mark(string(in.Method), "created")
		r.record(ctx, audit.ActionAttendanceMark, rec, fmt.Sprintf("%s via %s", rec.Status, rec.Method))
		return rec, true, nil
	}
	if !errors.Is(err, store.ErrDuplicateKey) {
		r.metrics.Mark(string(in.Method), "error")
		return model.AttendanceRecord{}, false, fmt.Errorf("create attendance: %w", err)
	}

	existing, err := r.store.GetAttendance(ctx, in.SessionID, in.StudentID)
	if err != nil {
		return model.AttendanceRecord{}, false, fmt.Errorf("load existing record: %w", err)
	}
	updated, err := r.store.UpdateAttendance(ctx, existing.ID, store.AttendancePatch{
		Status:   &in.Status,
		Method:   &in.Method,
		MarkedBy: &in.MarkedBy,
		MarkedAt: &now,
	})
	if err != nil {
		r.metrics.Mark(string(in.Method), "error")
		return model.AttendanceRecord{}, false, fmt.Errorf("update attendance: %w", err)
	}
	r.metrics.Mark(string(in.Method), "updated")
	r.record(ctx, audit.ActionAttendanceUpdate, updated, fmt.Sprintf("%s -> %s", existing.Status, updated.Status))
	return updated, false, nil
}

// SessionRecords lists the marks of one session in creation order.
func (r *Recorder) SessionRecords(ctx context.Context, sessionID string) ([]model.AttendanceRecord, error) {
	return r.store.ListAttendance(ctx, store.AttendanceFilter{SessionID: sessionID})
}

func (r *Recorder) record(ctx context.Context, action string, rec model.AttendanceRecord, details string) {
	if r.audit == nil {
		return
	}
	err := r.audit.Write(ctx, model.SystemLog{
		Action:     action,
		EntityType: "attendance",
		EntityID:   rec.ID,
		Details:    details,
	})
	if err != nil {
		r.log.Warn("audit write failed", "action", action, "record_id", rec.ID, "error", err)
	}
}
