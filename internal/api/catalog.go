package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"vision/internal/model"
	"vision/internal/store"
)

func (h *Handler) createStudent(c *gin.Context) {
	var s model.Student
	if err := bind(c, &s); err != nil {
		h.fail(c, err, "Student")
		return
	}
	if err := h.Store.CreateStudent(c.Request.Context(), &s); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			err = fmt.Errorf("%w: student %s already exists", err, s.RollNo)
		}
		h.fail(c, err, "Student")
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h *Handler) listStudents(c *gin.Context) {
	out, err := h.Store.ListStudents(c.Request.Context(), c.Query("department"))
	if err != nil {
		h.fail(c, err, "Student")
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) getStudent(c *gin.Context) {
	s, err := h.Store.GetStudent(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "Student")
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) createFaculty(c *gin.Context) {
	var f model.Faculty
	if err := bind(c, &f); err != nil {
		h.fail(c, err, "Faculty")
		return
	}
	if err := h.Store.CreateFaculty(c.Request.Context(), &f); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			err = fmt.Errorf("%w: faculty %s already exists", err, f.EmployeeID)
		}
		h.fail(c, err, "Faculty")
		return
	}
	c.JSON(http.StatusCreated, f)
}

func (h *Handler) getFaculty(c *gin.Context) {
	f, err := h.Store.GetFaculty(c.Request.Context(), c.Param("facultyId"))
	if err != nil {
		h.fail(c, err, "Faculty")
		return
	}
	c.JSON(http.StatusOK, f)
}

type subjectRequest struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	Department string `json:"department"`
	Credits    *int   `json:"credits" validate:"omitempty,gte=0"`
}

func (h *Handler) createSubject(c *gin.Context) {
	var req subjectRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err, "Subject")
		return
	}
	sub := model.Subject{Code: req.Code, Name: req.Name, Department: req.Department, Credits: 3}
	if req.Credits != nil {
		sub.Credits = *req.Credits
	}
	if err := model.Validate(sub); err != nil {
		h.fail(c, err, "Subject")
		return
	}
	if err := h.Store.CreateSubject(c.Request.Context(), &sub); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			err = fmt.Errorf("%w: subject %s already exists", err, sub.Code)
		}
		h.fail(c, err, "Subject")
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (h *Handler) listSubjects(c *gin.Context) {
	out, err := h.Store.ListSubjects(c.Request.Context(), c.Query("department"))
	if err != nil {
		h.fail(c, err, "Subject")
		return
	}
	c.JSON(http.StatusOK, out)
}

type sessionRequest struct {
	SubjectID      string    `json:"subjectId"`
	FacultyID      string    `json:"facultyId"`
	Section        string    `json:"section"`
	ScheduledStart time.Time `json:"scheduledStart"`
	ScheduledEnd   time.Time `json:"scheduledEnd"`
}

func (h *Handler) createSession(c *gin.Context) {
	var req sessionRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err, "Session")
		return
	}
	se := model.Session{
		SubjectID:      req.SubjectID,
		FacultyID:      req.FacultyID,
		Section:        req.Section,
		ScheduledStart: req.ScheduledStart,
		ScheduledEnd:   req.ScheduledEnd,
		Status:         model.SessionScheduled,
	}
	if err := model.Validate(se); err != nil {
		h.fail(c, err, "Session")
		return
	}
	ctx := c.Request.Context()
	if _, err := h.Store.GetSubject(ctx, se.SubjectID); err != nil {
		h.fail(c, err, "Subject")
		return
	}
	if _, err := h.Store.GetFaculty(ctx, se.FacultyID); err != nil {
		h.fail(c, err, "Faculty")
		return
	}
	if err := h.Store.CreateSession(ctx, &se); err != nil {
		h.fail(c, err, "Session")
		return
	}
	c.JSON(http.StatusCreated, se)
}

func (h *Handler) getSession(c *gin.Context) {
	se, err := h.Store.GetSession(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		h.fail(c, err, "Session")
		return
	}
	c.JSON(http.StatusOK, se)
}
