package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "vision"
)

func TestIssueAndParse(t *testing.T) {
	tok, err := Issue("kiosk-lab-1", RoleKiosk, testIssuer, testKey, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, 5*time.Second)

	claims, err := Parse(tok.AccessToken, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, "kiosk-lab-1", claims.Subject)
	assert.Equal(t, RoleKiosk, claims.Role)
}

func TestParseRejects(t *testing.T) {
	tok, err := Issue("kiosk-lab-1", RoleKiosk, testIssuer, testKey, time.Hour)
	require.NoError(t, err)

	_, err = Parse(tok.AccessToken, "other-key", testIssuer)
	assert.Error(t, err, "wrong key")
	_, err = Parse(tok.AccessToken, testKey, "someone-else")
	assert.Error(t, err, "wrong issuer")

	expired, err := Issue("kiosk-lab-1", RoleKiosk, testIssuer, testKey, -time.Minute)
	require.NoError(t, err)
	_, err = Parse(expired.AccessToken, testKey, testIssuer)
	assert.Error(t, err, "expired")

	_, err = Issue("kiosk-lab-1", RoleKiosk, testIssuer, "", time.Hour)
	assert.Error(t, err)
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/kiosk", DeviceAuth(testKey, testIssuer, RoleKiosk), func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, claims.Subject)
	})
	return r
}

func TestDeviceAuthMiddleware(t *testing.T) {
	good, err := Issue("kiosk-lab-1", RoleKiosk, testIssuer, testKey, time.Hour)
	require.NoError(t, err)
	other, err := Issue("someone", "admin", testIssuer, testKey, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "Bearer " + other.AccessToken, http.StatusForbidden},
		{"ok", "Bearer " + good.AccessToken, http.StatusOK},
	}
	r := newRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/kiosk", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code)
			if tt.code == http.StatusOK {
				assert.Equal(t, "kiosk-lab-1", w.Body.String())
			}
		})
	}
}
