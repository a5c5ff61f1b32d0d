// Package api exposes the VISION REST surface on a gin router.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"vision/internal/attendance"
	"vision/internal/audit"
	"vision/internal/auth"
	"vision/internal/model"
	"vision/internal/report"
	"vision/internal/session"
	"vision/internal/store"
)

// Options toggles optional surfaces.
type Options struct {
	EnableSeed    bool
	KioskAuth     bool
	JWTIssuer     string
	JWTSigningKey string
	AccessTTL     time.Duration
}

// Deps are the components the handlers call. Redis may be nil.
type Deps struct {
	Store    store.Store
	Redis    *store.Redis
	Sessions *session.Manager
	Recorder *attendance.Recorder
	Reports  *report.Reporter
	Audit    audit.Writer
	Logger   *slog.Logger
}

// Handler serves the API routes.
type Handler struct {
	Deps
	opts Options
}

func New(d Deps, opts Options) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 12 * time.Hour
	}
	return &Handler{Deps: d, opts: opts}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.health)

	api := r.Group("/api", h.actor)

	api.POST("/students", h.createStudent)
	api.GET("/students", h.listStudents)
	api.GET("/students/:id", h.getStudent)
	api.POST("/faculty", h.createFaculty)
	api.GET("/faculty/:facultyId", h.getFaculty)
	api.POST("/subjects", h.createSubject)
	api.GET("/subjects", h.listSubjects)
	api.POST("/sessions", h.createSession)

	api.GET("/student/:studentId/attendance-stats", h.studentStats)
	api.GET("/student/:studentId/attendance-history", h.studentHistory)

	api.GET("/faculty/:facultyId/active-session", h.activeSession)
	api.GET("/session/:sessionId", h.getSession)
	api.POST("/session/:sessionId/start", h.startSession)
	api.POST("/session/:sessionId/end", h.endSession)
	api.POST("/session/:sessionId/cancel", h.cancelSession)
	api.GET("/session/:sessionId/attendance", h.sessionAttendance)
	api.GET("/session/:sessionId/qr", h.sessionQR)
	api.POST("/attendance/mark", h.markAttendance)

	api.POST("/kiosk/register", h.registerKiosk)
	detect := []gin.HandlerFunc{h.detectStudent}
	if h.opts.KioskAuth {
		detect = append([]gin.HandlerFunc{auth.DeviceAuth(h.opts.JWTSigningKey, h.opts.JWTIssuer, auth.RoleKiosk)}, detect...)
	}
	api.POST("/kiosk/detect-student", detect...)

	admin := api.Group("/admin")
	admin.GET("/kpis", h.kpis)
	admin.GET("/defaulters", h.defaulters)
	admin.GET("/department/:department/stats", h.departmentStats)
	admin.GET("/proxy-alerts", h.proxyAlerts)
	admin.GET("/system-logs", h.systemLogs)

	if h.opts.EnableSeed {
		api.POST("/seed-data", h.seed)
	}
}

// actor tags the request context with the caller for audit entries.
// Authentication is out of scope, so the user id is advisory.
func (h *Handler) actor(c *gin.Context) {
	ctx := audit.WithActor(c.Request.Context(), audit.Actor{
		UserID:    c.GetHeader("X-User-Id"),
		IPAddress: c.ClientIP(),
	})
	c.Request = c.Request.WithContext(ctx)
	c.Next()
}

// fail maps domain errors onto status codes. entity names the record a bare
// store.ErrNotFound refers to.
func (h *Handler) fail(c *gin.Context, err error, entity string) {
	switch {
	case errors.Is(err, model.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrStudentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Student not found"})
	case errors.Is(err, attendance.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": entity + " not found"})
	case errors.Is(err, store.ErrMissingReference):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrFacultyBusy),
		errors.Is(err, store.ErrDuplicateKey):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.Logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// bind decodes the JSON body and runs struct validation.
func bind(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		if errors.Is(err, model.ErrValidation) {
			return err
		}
		return fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	return model.Validate(dst)
}
