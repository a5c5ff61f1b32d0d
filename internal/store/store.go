// Package store persists VISION records. Callers depend on the Store
// interface; Memory backs tests and local runs, SQLStore backs Postgres
// and SQLite.
package store

import (
	"context"
	"errors"
	"time"

	"vision/internal/model"
)

var (
	// ErrNotFound is returned by point lookups that match no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateKey is returned when an insert or update would break a
	// uniqueness constraint (natural keys, one record per session/student
	// pair, one active session per faculty).
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrMissingReference is returned when a reference field points at no row.
	ErrMissingReference = errors.New("referenced record does not exist")
	// ErrStaleState is returned by conditional updates whose expected prior
	// state no longer holds.
	ErrStaleState = errors.New("record changed concurrently")
)

// SessionPatch carries the fields a session transition writes. Nil times keep
// their prior value.
type SessionPatch struct {
	Status      model.SessionStatus
	ActualStart *time.Time
	ActualEnd   *time.Time
}

// AttendancePatch updates an attendance record in place. Nil fields keep
// their prior value.
type AttendancePatch struct {
	Status   *model.AttendanceStatus
	Method   *model.Method
	MarkedBy *model.MarkedBy
	MarkedAt *time.Time
	IsProxy  *bool
}

// SessionFilter narrows ListSessions. Zero values match everything.
type SessionFilter struct {
	FacultyID string
	Status    model.SessionStatus
	EndBefore *time.Time
}

// AttendanceFilter narrows ListAttendance. Zero values match everything.
// From/To select records whose session is scheduled inside [From, To].
type AttendanceFilter struct {
	SessionID  string
	StudentID  string
	Department string
	From       *time.Time
	To         *time.Time
	ProxyOnly  bool
}

// Store is the persistence contract for every record type.
type Store interface {
	CreateStudent(ctx context.Context, s *model.Student) error
	GetStudent(ctx context.Context, id string) (model.Student, error)
	GetStudentByRollNo(ctx context.Context, rollNo string) (model.Student, error)
	ListStudents(ctx context.Context, department string) ([]model.Student, error)

	CreateFaculty(ctx context.Context, f *model.Faculty) error
	GetFaculty(ctx context.Context, id string) (model.Faculty, error)
	GetFacultyByEmployeeID(ctx context.Context, employeeID string) (model.Faculty, error)

	CreateSubject(ctx context.Context, s *model.Subject) error
	GetSubject(ctx context.Context, id string) (model.Subject, error)
	GetSubjectByCode(ctx context.Context, code string) (model.Subject, error)
	ListSubjects(ctx context.Context, department string) ([]model.Subject, error)

	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (model.Session, error)
	ListSessions(ctx context.Context, f SessionFilter) ([]model.Session, error)
	// UpdateSession applies patch only if the session is still in state from.
	UpdateSession(ctx context.Context, id string, from model.SessionStatus, patch SessionPatch) (model.Session, error)
	GetActiveSession(ctx context.Context, facultyID string) (model.Session, error)

	// CreateAttendance fails with ErrDuplicateKey when the pair already has a record.
	CreateAttendance(ctx context.Context, r *model.AttendanceRecord) error
	GetAttendance(ctx context.Context, sessionID, studentID string) (model.AttendanceRecord, error)
	UpdateAttendance(ctx context.Context, id string, patch AttendancePatch) (model.AttendanceRecord, error)
	ListAttendance(ctx context.Context, f AttendanceFilter) ([]model.AttendanceRecord, error)

	AppendLog(ctx context.Context, l *model.SystemLog) error
	// ListLogs returns the newest entries first.
	ListLogs(ctx context.Context, limit int) ([]model.SystemLog, error)

	Ping(ctx context.Context) error
	Close() error
}

// Now is the store's clock, truncated to the precision every backend keeps.
func Now() time.Time {
	return normTime(time.Now())
}

func normTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func normTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := normTime(*t)
	return &v
}

func inWindow(s model.Session, from, to *time.Time) bool {
	if from != nil && s.ScheduledStart.Before(*from) {
		return false
	}
	if to != nil && s.ScheduledEnd.After(*to) {
		return false
	}
	return true
}
