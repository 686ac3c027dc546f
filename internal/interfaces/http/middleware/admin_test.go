package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVerifier struct {
	admins map[uuid.UUID]bool
	err    error
}

func (v *stubVerifier) IsAdmin(_ context.Context, id uuid.UUID) (bool, error) {
	if v.err != nil {
		return false, v.err
	}
	return v.admins[id], nil
}

func newAdminTestEngine(verifier AdminVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/protected", RequireAdmin(verifier), func(c *gin.Context) {
		id, ok := GetAdminID(c)
		c.JSON(http.StatusOK, gin.H{"admin_id": id.String(), "found": ok})
	})
	return engine
}

func TestRequireAdmin(t *testing.T) {
	adminID := uuid.New()
	memberID := uuid.New()
	verifier := &stubVerifier{admins: map[uuid.UUID]bool{adminID: true}}
	engine := newAdminTestEngine(verifier)

	t.Run("passes a verified admin through", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set(AdminHeader, adminID.String())
		engine.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), adminID.String())
	})

	t.Run("rejects a missing header", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "ERR_UNAUTHORIZED")
	})

	t.Run("rejects a malformed header", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set(AdminHeader, "not-a-uuid")
		engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("rejects a non-admin caller", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set(AdminHeader, memberID.String())
		engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "ERR_FORBIDDEN")
	})

	t.Run("rejects when the directory lookup fails", func(t *testing.T) {
		failing := newAdminTestEngine(&stubVerifier{err: errors.New("db down")})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set(AdminHeader, adminID.String())
		failing.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestGetAdminID_NotSet(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	id, ok := GetAdminID(c)
	assert.False(t, ok)
	assert.Equal(t, uuid.Nil, id)
}
