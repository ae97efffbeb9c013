package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ragpipe/internal/pkg/errcode"
	"github.com/xxxsen/ragpipe/internal/pkg/jwt"
)

var testSecret = []byte("secret")

func newAuthRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", mw, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"code": 0, "admin": IsAdmin(c), "sub": c.GetString(ContextSubjectKey)})
	})
	return r
}

func call(t *testing.T, r *gin.Engine, token string) map[string]interface{} {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body
}

func token(t *testing.T, role string) string {
	t.Helper()
	tok, err := jwt.GenerateToken("ops", role, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

func TestRequireAdmin(t *testing.T) {
	r := newAuthRouter(RequireAdmin(testSecret))

	body := call(t, r, "")
	require.Equal(t, float64(errcode.ErrUnauthorized), body["code"])

	body = call(t, r, "garbage")
	require.Equal(t, float64(errcode.ErrUnauthorized), body["code"])

	body = call(t, r, token(t, "reader"))
	require.Equal(t, float64(errcode.ErrForbidden), body["code"])

	body = call(t, r, token(t, jwt.RoleAdmin))
	require.Equal(t, float64(0), body["code"])
	require.Equal(t, true, body["admin"])
	require.Equal(t, "ops", body["sub"])

	disabled := newAuthRouter(RequireAdmin(nil))
	body = call(t, disabled, token(t, jwt.RoleAdmin))
	require.Equal(t, float64(errcode.ErrForbidden), body["code"])
}

func TestOptionalAdmin(t *testing.T) {
	r := newAuthRouter(OptionalAdmin(testSecret, ""))

	body := call(t, r, "")
	require.Equal(t, false, body["admin"])

	body = call(t, r, "garbage")
	require.Equal(t, float64(errcode.ErrUnauthorized), body["code"])

	body = call(t, r, token(t, jwt.RoleAdmin))
	require.Equal(t, true, body["admin"])
}

func TestOptionalAdminServiceToken(t *testing.T) {
	r := newAuthRouter(OptionalAdmin(testSecret, "worker-token"))

	body := call(t, r, "worker-token")
	require.Equal(t, float64(0), body["code"])
	require.Equal(t, false, body["admin"])
	require.Equal(t, "service", body["sub"])

	body = call(t, r, "other-token")
	require.Equal(t, float64(errcode.ErrUnauthorized), body["code"])

	body = call(t, r, token(t, jwt.RoleAdmin))
	require.Equal(t, true, body["admin"])

	noSecret := newAuthRouter(OptionalAdmin(nil, "worker-token"))
	body = call(t, noSecret, "worker-token")
	require.Equal(t, float64(0), body["code"])
	require.Equal(t, false, body["admin"])
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS([]string{"https://app.example.com"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://app.example.com")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, "https://app.example.com", resp.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Empty(t, resp.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/x", nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusNoContent, resp.Code)
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ContextRequestIDKey)) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "abc")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, "abc", resp.Header().Get(RequestIDHeader))
	require.Equal(t, "abc", resp.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Len(t, resp.Header().Get(RequestIDHeader), 36)
}
