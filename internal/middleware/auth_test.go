package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newAuthRouter(t *testing.T) (*gin.Engine, *struct {
	userID uint
	tier   string
	hit    bool
}) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	seen := &struct {
		userID uint
		tier   string
		hit    bool
	}{}

	r := gin.New()
	r.GET("/probe", Auth(testSecret, nil), func(c *gin.Context) {
		seen.hit = true
		seen.userID = c.GetUint("user_id")
		seen.tier = c.GetString("tier")
		c.Status(http.StatusOK)
	})
	return r, seen
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAuthAcceptsValidToken(t *testing.T) {
	r, seen := newAuthRouter(t)

	token := signToken(t, testSecret, jwt.MapClaims{
		"user_id": 42,
		"tier":    "professional",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, seen.hit)
	assert.Equal(t, uint(42), seen.userID)
	assert.Equal(t, "professional", seen.tier)
}

func TestAuthRejectsMissingCredentials(t *testing.T) {
	r, seen := newAuthRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, seen.hit)
}

func TestAuthRejectsWrongSignature(t *testing.T) {
	r, seen := newAuthRouter(t)

	token := signToken(t, "another-secret", jwt.MapClaims{
		"user_id": 42,
		"tier":    "free",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, seen.hit)
}

func TestAuthRejectsExpiredToken(t *testing.T) {
	r, seen := newAuthRouter(t)

	token := signToken(t, testSecret, jwt.MapClaims{
		"user_id": 42,
		"tier":    "free",
		"exp":     time.Now().Add(-time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, seen.hit)
}

func TestAuthRejectsTokenWithoutUserID(t *testing.T) {
	r, seen := newAuthRouter(t)

	token := signToken(t, testSecret, jwt.MapClaims{
		"tier": "free",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, seen.hit)
}
