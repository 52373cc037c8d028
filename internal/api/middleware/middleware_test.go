package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const secret = "test-secret"

func init() { gin.SetMode(gin.TestMode) }

func sign(t *testing.T, key, sub, role string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, controlClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: sub, ExpiresAt: jwt.NewNumericDate(exp)},
		Role:             role,
	})
	s, err := tok.SignedString([]byte(key))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func newRouter() *gin.Engine {
	r := gin.New()
	r.Use(JWTAuth(secret))
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString("user_id"), "role": c.GetString("role")})
	})
	r.DELETE("/data", RequireOperator(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func request(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	r := newRouter()
	future := time.Now().Add(time.Hour)

	cases := []struct {
		name   string
		token  string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong key", sign(t, "other", "u1", "", future), http.StatusUnauthorized},
		{"expired", sign(t, secret, "u1", "", time.Now().Add(-time.Minute)), http.StatusUnauthorized},
		{"no subject", sign(t, secret, "", "", future), http.StatusUnauthorized},
		{"valid", sign(t, secret, "u1", "", future), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := request(r, http.MethodGet, "/me", tc.token)
			if w.Code != tc.status {
				t.Errorf("expected %d, got %d", tc.status, w.Code)
			}
		})
	}

	w := request(r, http.MethodGet, "/me", sign(t, secret, "u1", "", future))
	if !strings.Contains(w.Body.String(), `"role":"user"`) {
		t.Errorf("expected default role user, got %s", w.Body.String())
	}
}

func TestJWTAuthQueryToken(t *testing.T) {
	tok := sign(t, secret, "u1", "", time.Now().Add(time.Hour))
	w := request(newRouter(), http.MethodGet, "/me?access_token="+tok, "")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestJWTAuthWithoutSecret(t *testing.T) {
	r := gin.New()
	r.Use(JWTAuth(""))
	r.GET("/me", func(c *gin.Context) { c.Status(http.StatusOK) })
	if w := request(r, http.MethodGet, "/me", "x"); w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestRequireOperator(t *testing.T) {
	r := newRouter()
	future := time.Now().Add(time.Hour)

	if w := request(r, http.MethodDelete, "/data", sign(t, secret, "u1", "user", future)); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for user, got %d", w.Code)
	}
	if w := request(r, http.MethodDelete, "/data", sign(t, secret, "u1", "Operator", future)); w.Code != http.StatusNoContent {
		t.Errorf("expected 204 for operator, got %d", w.Code)
	}
}

func TestRequireRoleSkippedWithoutAuth(t *testing.T) {
	r := gin.New()
	r.DELETE("/data", RequireOperator(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	if w := request(r, http.MethodDelete, "/data", ""); w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
}

func TestRequestLoggerSetsRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.JSONFormatter{})

	r := gin.New()
	r.Use(RequestLogger(l))
	r.GET("/session", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.Header.Set("X-Request-Id", "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Header().Get("X-Request-Id") != "req-1" {
		t.Errorf("expected request id echoed, got %q", w.Header().Get("X-Request-Id"))
	}
	if !strings.Contains(buf.String(), `"request_id":"req-1"`) || !strings.Contains(buf.String(), `"route":"/session"`) {
		t.Errorf("expected request id and route in log, got %s", buf.String())
	}
}

func TestRequestLoggerHidesTokensAndHealthChecks(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.JSONFormatter{})

	r := gin.New()
	r.Use(RequestLogger(l))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/ws/events", func(c *gin.Context) { c.Status(http.StatusUnauthorized) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))
	if buf.Len() != 0 {
		t.Errorf("expected health checks below info, got %s", buf.String())
	}

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ws/events?access_token=secret-token", nil))
	out := buf.String()
	if strings.Contains(out, "secret-token") {
		t.Errorf("token leaked into log: %s", out)
	}
	if !strings.Contains(out, `"level":"warning"`) {
		t.Errorf("expected 401 logged as warning, got %s", out)
	}
}
