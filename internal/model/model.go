// Package model defines the VISION records and their insert validation.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrValidation marks a malformed record or request.
var ErrValidation = errors.New("validation error")

// Student represents an enrolled learner.
type Student struct {
	ID         string    `json:"id"`
	RollNo     string    `json:"rollNo" validate:"required,max=20"`
	Name       string    `json:"name" validate:"required"`
	Department string    `json:"department" validate:"required,max=10"`
	Email      string    `json:"email,omitempty" validate:"omitempty,email,max=255"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Faculty represents an instructor.
type Faculty struct {
	ID         string    `json:"id"`
	EmployeeID string    `json:"employeeId" validate:"required,max=20"`
	Name       string    `json:"name" validate:"required"`
	Department string    `json:"department" validate:"required,max=10"`
	Email      string    `json:"email,omitempty" validate:"omitempty,email,max=255"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Subject represents a course offering.
type Subject struct {
	ID         string `json:"id"`
	Code       string `json:"code" validate:"required,max=20"`
	Name       string `json:"name" validate:"required"`
	Department string `json:"department" validate:"required,max=10"`
	Credits    int    `json:"credits" validate:"gte=0"`
}

// Session is one scheduled meeting of a subject-section taught by a faculty member.
type Session struct {
	ID             string        `json:"id"`
	SubjectID      string        `json:"subjectId" validate:"required"`
	FacultyID      string        `json:"facultyId" validate:"required"`
	Section        string        `json:"section" validate:"required,max=10"`
	ScheduledStart time.Time     `json:"scheduledStart" validate:"required"`
	ScheduledEnd   time.Time     `json:"scheduledEnd" validate:"required,gtfield=ScheduledStart"`
	ActualStart    *time.Time    `json:"actualStart"`
	ActualEnd      *time.Time    `json:"actualEnd"`
	Status         SessionStatus `json:"status" validate:"enum"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// AttendanceRecord is the outcome for one student in one session.
type AttendanceRecord struct {
	ID        string           `json:"id"`
	SessionID string           `json:"sessionId" validate:"required"`
	StudentID string           `json:"studentId" validate:"required"`
	Status    AttendanceStatus `json:"status" validate:"enum"`
	MarkedAt  *time.Time       `json:"markedAt"`
	MarkedBy  MarkedBy         `json:"markedBy" validate:"enum"`
	Method    Method           `json:"method" validate:"enum"`
	IsProxy   bool             `json:"isProxy"`
	CreatedAt time.Time        `json:"createdAt"`
}

// SystemLog is an append-only audit entry.
type SystemLog struct {
	ID         string    `json:"id"`
	Action     string    `json:"action" validate:"required"`
	EntityType string    `json:"entityType,omitempty" validate:"max=50"`
	EntityID   string    `json:"entityId,omitempty"`
	UserID     string    `json:"userId,omitempty"`
	Details    string    `json:"details,omitempty"`
	IPAddress  string    `json:"ipAddress,omitempty" validate:"max=45"`
	CreatedAt  time.Time `json:"createdAt"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("enum", func(fl validator.FieldLevel) bool {
		e, ok := fl.Field().Interface().(interface{ Valid() bool })
		return ok && e.Valid()
	})
	return v
}

// Validate checks v against its `validate` struct tags. Failures wrap ErrValidation.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(parts, ", "))
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}
