package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"monitorrunner/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testRouter(cfg *config.Config, handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.GET("/protected", append(handlers, func(c *gin.Context) { c.Status(http.StatusOK) })...)
	return r
}

func TestJWTAuthMissingHeader(t *testing.T) {
	cfg := &config.Config{}
	cfg.JWT.Secret = "s3cret"
	r := testRouter(cfg, JWTAuth(cfg))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuthValidToken(t *testing.T) {
	cfg := &config.Config{}
	cfg.JWT.Secret = "s3cret"
	r := testRouter(cfg, JWTAuth(cfg))

	token, err := IssueToken(cfg, "alice", "operator", time.Hour)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJWTAuthRejectsWrongSecret(t *testing.T) {
	cfg := &config.Config{}
	cfg.JWT.Secret = "s3cret"
	other := &config.Config{}
	other.JWT.Secret = "different"

	token, err := IssueToken(other, "alice", "operator", time.Hour)
	require.NoError(t, err)

	r := testRouter(cfg, JWTAuth(cfg))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRoleAdminAlwaysPasses(t *testing.T) {
	r := gin.New()
	r.GET("/protected", func(c *gin.Context) {
		c.Set("role", "admin")
		c.Next()
	}, RequireRole("operator"), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminKeyAuthNoopWhenUnconfigured(t *testing.T) {
	cfg := &config.Config{}
	r := testRouter(cfg, AdminKeyAuth(cfg))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminKeyAuthRejectsWrongKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-key"), bcrypt.DefaultCost)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Security.AdminAPIKeyHash = string(hash)
	r := testRouter(cfg, AdminKeyAuth(cfg))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("X-Admin-Key", "wrong-key")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminKeyAuthAcceptsCorrectKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-key"), bcrypt.DefaultCost)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Security.AdminAPIKeyHash = string(hash)
	r := testRouter(cfg, AdminKeyAuth(cfg))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("X-Admin-Key", "correct-key")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
