package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fgcmatch/internal/auth"
	"fgcmatch/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type fixedSessions struct{ s *auth.Session }

func (f fixedSessions) Require() (*auth.Session, error) {
	if f.s == nil {
		return nil, errors.New("signed out")
	}
	return f.s, nil
}

func engine(sessions Sessions, extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := append([]gin.HandlerFunc{SessionRequired(sessions)}, extra...)
	handlers = append(handlers, func(c *gin.Context) { c.String(http.StatusOK, GetUserID(c)) })
	r.GET("/x", handlers...)
	return r
}

func get(r http.Handler) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w
}

func TestSessionRequired(t *testing.T) {
	w := get(engine(fixedSessions{}))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"sign in required","code":"authentication_required"}`, w.Body.String())

	s := &auth.Session{User: models.User{ID: "u1"}}
	w = get(engine(fixedSessions{s}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", w.Body.String())
}

func TestAdminRequired(t *testing.T) {
	player := &auth.Session{User: models.User{ID: "u1"}}
	assert.Equal(t, http.StatusForbidden, get(engine(fixedSessions{player}, AdminRequired())).Code)

	admin := &auth.Session{User: models.User{ID: "a1", UserMetadata: map[string]interface{}{"role": "admin"}}}
	assert.Equal(t, http.StatusOK, get(engine(fixedSessions{admin}, AdminRequired())).Code)
}

func TestRateLimit(t *testing.T) {
	limiter := NewInMemoryRateLimiter(2, time.Minute)
	defer limiter.Stop()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(limiter))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, get(r).Code)
	assert.Equal(t, http.StatusOK, get(r).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r).Code)
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS([]string{"http://localhost:5173"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSAllowsAnyOriginWhenUnset(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS(nil))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
