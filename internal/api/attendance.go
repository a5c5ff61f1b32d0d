package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"vision/internal/attendance"
	"vision/internal/audit"
	"vision/internal/auth"
	"vision/internal/model"
)

func (h *Handler) activeSession(c *gin.Context) {
	se, err := h.Sessions.ActiveSession(c.Request.Context(), c.Param("facultyId"))
	if err != nil {
		h.fail(c, err, "Session")
		return
	}
	// A nil *Session renders as JSON null.
	c.JSON(http.StatusOK, se)
}

func (h *Handler) transition(c *gin.Context, apply func(context.Context, string) (model.Session, error)) {
	if _, err := apply(c.Request.Context(), c.Param("sessionId")); err != nil {
		h.fail(c, err, "Session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) startSession(c *gin.Context)  { h.transition(c, h.Sessions.Start) }
func (h *Handler) endSession(c *gin.Context)    { h.transition(c, h.Sessions.End) }
func (h *Handler) cancelSession(c *gin.Context) { h.transition(c, h.Sessions.Cancel) }

func (h *Handler) sessionAttendance(c *gin.Context) {
	recs, err := h.Recorder.SessionRecords(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		h.fail(c, err, "Session")
		return
	}
	c.JSON(http.StatusOK, recs)
}

// checkInURL is what the session QR code encodes. Kiosks scan it and submit
// the session id with method qr_code.
func checkInURL(sessionID string) string {
	q := url.Values{}
	q.Set("sessionId", sessionID)
	q.Set("method", string(model.MethodQRCode))
	return "vision://checkin?" + q.Encode()
}

func (h *Handler) sessionQR(c *gin.Context) {
	se, err := h.Store.GetSession(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		h.fail(c, err, "Session")
		return
	}
	png, err := qrcode.Encode(checkInURL(se.ID), qrcode.Medium, 256)
	if err != nil {
		h.fail(c, fmt.Errorf("encode qr: %w", err), "Session")
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) markAttendance(c *gin.Context) {
	var req attendance.ManualMark
	if err := bind(c, &req); err != nil {
		h.fail(c, err, "Attendance")
		return
	}
	rec, _, err := h.Recorder.MarkManual(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err, "Attendance")
		return
	}
	c.JSON(http.StatusOK, rec)
}

type detectRequest struct {
	SessionID         string       `json:"sessionId"`
	StudentIdentifier string       `json:"studentIdentifier"`
	Method            model.Method `json:"method"`
	ImageURL          string       `json:"imageUrl"`
}

func (h *Handler) detectStudent(c *gin.Context) {
	var req detectRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err, "Student")
		return
	}
	ctx := c.Request.Context()
	if claims, ok := auth.ClaimsFrom(c); ok {
		ctx = audit.WithActor(ctx, audit.Actor{UserID: claims.Subject, IPAddress: c.ClientIP()})
	}

	var (
		res attendance.Result
		err error
	)
	if req.StudentIdentifier == "" && req.ImageURL != "" {
		res, err = h.Recorder.DetectImage(ctx, req.SessionID, req.ImageURL, req.Method)
	} else {
		res, err = h.Recorder.DetectAndMark(ctx, req.SessionID, req.StudentIdentifier, req.Method)
	}
	if err != nil {
		h.fail(c, err, "Student")
		return
	}
	if res.AlreadyMarked {
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"message": "Student already marked",
			"student": res.Student.Name,
			"status":  res.Record.Status,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"student":    res.Student.Name,
		"attendance": res.Record,
	})
}

type registerRequest struct {
	DeviceID string `json:"deviceId" validate:"required,max=64"`
}

func (h *Handler) registerKiosk(c *gin.Context) {
	var req registerRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err, "Device")
		return
	}
	tok, err := auth.Issue(req.DeviceID, auth.RoleKiosk, h.opts.JWTIssuer, h.opts.JWTSigningKey, h.opts.AccessTTL)
	if err != nil {
		h.fail(c, fmt.Errorf("issue token: %w", err), "Device")
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"accessToken": tok.AccessToken,
		"expiresAt":   tok.ExpiresAt.Unix(),
	})
}
