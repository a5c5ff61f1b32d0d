package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"vision/internal/audit"
	"vision/internal/model"
	"vision/internal/report"
	"vision/internal/store"
)

func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	dbHealthy := h.Store.Ping(ctx) == nil
	redisHealthy := h.Redis.Healthy(ctx)
	status := http.StatusOK
	if !redisHealthy || !dbHealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
}

func (h *Handler) studentStats(c *gin.Context) {
	stats, err := h.Reports.StudentStats(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		h.fail(c, err, "Student")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// parseDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates (UTC midnight).
func parseDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: invalid date %q", model.ErrValidation, v)
}

func (h *Handler) studentHistory(c *gin.Context) {
	from, err := parseDate(c.Query("startDate"))
	if err != nil {
		h.fail(c, err, "Student")
		return
	}
	to, err := parseDate(c.Query("endDate"))
	if err != nil {
		h.fail(c, err, "Student")
		return
	}
	recs, err := h.Reports.History(c.Request.Context(), c.Param("studentId"), from, to)
	if err != nil {
		h.fail(c, err, "Student")
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (h *Handler) kpis(c *gin.Context) {
	c.JSON(http.StatusOK, h.Reports.KPIs())
}

func (h *Handler) defaulters(c *gin.Context) {
	threshold := report.DefaultThreshold
	if v := c.Query("threshold"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			h.fail(c, fmt.Errorf("%w: invalid threshold %q", model.ErrValidation, v), "Student")
			return
		}
		threshold = parsed
	}
	c.JSON(http.StatusOK, h.Reports.Defaulters(threshold))
}

func (h *Handler) departmentStats(c *gin.Context) {
	stats, err := h.Reports.DepartmentStats(c.Request.Context(), c.Param("department"))
	if err != nil {
		h.fail(c, err, "Department")
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) proxyAlerts(c *gin.Context) {
	alerts, err := h.Reports.ProxyAlerts(c.Request.Context())
	if err != nil {
		h.fail(c, err, "Attendance")
		return
	}
	c.JSON(http.StatusOK, alerts)
}

func (h *Handler) systemLogs(c *gin.Context) {
	limit := report.DefaultLogLimit
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			h.fail(c, fmt.Errorf("%w: invalid limit %q", model.ErrValidation, v), "Log")
			return
		}
		limit = parsed
	}
	logs, err := h.Reports.SystemLogs(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err, "Log")
		return
	}
	c.JSON(http.StatusOK, logs)
}

var seedStudents = []model.Student{
	{RollNo: "CS001", Name: "Mohammad Zaid", Department: "CS"},
	{RollNo: "CS002", Name: "Mohammad Shoaib", Department: "CS"},
	{RollNo: "CS003", Name: "Shivam Mishra", Department: "CS"},
	{RollNo: "CS004", Name: "Shubham Pal", Department: "CS"},
	{RollNo: "CS005", Name: "Umra Hashmi", Department: "CS"},
	{RollNo: "CS006", Name: "Arshad Khan", Department: "CS"},
}

// seed inserts demo records. Records whose natural key already exists are
// left alone, so the call can be repeated.
func (h *Handler) seed(c *gin.Context) {
	ctx := c.Request.Context()
	created := 0
	for _, s := range seedStudents {
		err := h.Store.CreateStudent(ctx, &s)
		switch {
		case err == nil:
			created++
		case errors.Is(err, store.ErrDuplicateKey):
			h.Logger.Debug("seed student exists", "roll_no", s.RollNo)
		default:
			h.fail(c, err, "Student")
			return
		}
	}

	fac, err := h.seedFaculty(ctx)
	if err != nil {
		h.fail(c, err, "Faculty")
		return
	}
	sub, err := h.seedSubject(ctx)
	if err != nil {
		h.fail(c, err, "Subject")
		return
	}
	existing, err := h.Store.ListSessions(ctx, store.SessionFilter{FacultyID: fac.ID})
	if err != nil {
		h.fail(c, err, "Session")
		return
	}
	if len(existing) == 0 {
		start := store.Now()
		se := model.Session{
			SubjectID:      sub.ID,
			FacultyID:      fac.ID,
			Section:        "A",
			ScheduledStart: start,
			ScheduledEnd:   start.Add(time.Hour),
			Status:         model.SessionScheduled,
		}
		if err := h.Store.CreateSession(ctx, &se); err != nil {
			h.fail(c, err, "Session")
			return
		}
	}

	if h.Audit != nil {
		if err := h.Audit.Write(ctx, model.SystemLog{Action: audit.ActionSeed, Details: fmt.Sprintf("%d students created", created)}); err != nil {
			h.Logger.Warn("audit write failed", "action", audit.ActionSeed, "error", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Sample data seeded"})
}

func (h *Handler) seedFaculty(ctx context.Context) (model.Faculty, error) {
	f := model.Faculty{EmployeeID: "FAC001", Name: "Dr. Ananya Rao", Department: "CS"}
	err := h.Store.CreateFaculty(ctx, &f)
	if errors.Is(err, store.ErrDuplicateKey) {
		return h.Store.GetFacultyByEmployeeID(ctx, f.EmployeeID)
	}
	return f, err
}

func (h *Handler) seedSubject(ctx context.Context) (model.Subject, error) {
	s := model.Subject{Code: "CS301", Name: "Artificial Intelligence", Department: "CS", Credits: 3}
	err := h.Store.CreateSubject(ctx, &s)
	if errors.Is(err, store.ErrDuplicateKey) {
		return h.Store.GetSubjectByCode(ctx, s.Code)
	}
	return s, err
}
