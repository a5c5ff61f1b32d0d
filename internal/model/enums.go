package model

import "fmt"

// SessionStatus is the lifecycle state of a class session.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// Valid reports whether s is one of the known session states.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionScheduled, SessionActive, SessionCompleted, SessionCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionCancelled:
		return true
	case SessionScheduled, SessionActive:
		return false
	}
	return false
}

func (s *SessionStatus) UnmarshalText(b []byte) error {
	return parseEnum(b, s, "session status")
}

// AttendanceStatus is the presence outcome of a student in a session.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "present"
	StatusLate    AttendanceStatus = "late"
	StatusAbsent  AttendanceStatus = "absent"
)

func (s AttendanceStatus) Valid() bool {
	switch s {
	case StatusPresent, StatusLate, StatusAbsent:
		return true
	}
	return false
}

func (s *AttendanceStatus) UnmarshalText(b []byte) error {
	return parseEnum(b, s, "attendance status")
}

// MarkedBy records who produced an attendance mark.
type MarkedBy string

const (
	MarkedBySystem  MarkedBy = "system"
	MarkedByFaculty MarkedBy = "faculty"
	MarkedByManual  MarkedBy = "manual"
)

func (m MarkedBy) Valid() bool {
	switch m {
	case MarkedBySystem, MarkedByFaculty, MarkedByManual:
		return true
	}
	return false
}

func (m *MarkedBy) UnmarshalText(b []byte) error {
	return parseEnum(b, m, "marked by")
}

// Method is the capture channel of an attendance mark.
type Method string

const (
	MethodFacialRecognition Method = "facial_recognition"
	MethodQRCode            Method = "qr_code"
	MethodManual            Method = "manual"
)

func (m Method) Valid() bool {
	switch m {
	case MethodFacialRecognition, MethodQRCode, MethodManual:
		return true
	}
	return false
}

func (m *Method) UnmarshalText(b []byte) error {
	return parseEnum(b, m, "method")
}

type enum interface {
	~string
	Valid() bool
}

// parseEnum accepts the empty string as "unset" so optional fields can be
// defaulted by the caller.
func parseEnum[T enum](b []byte, dst *T, name string) error {
	v := T(b)
	if len(b) > 0 && !v.Valid() {
		return fmt.Errorf("%w: unknown %s %q", ErrValidation, name, string(b))
	}
	*dst = v
	return nil
}
