package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/field-training-api/internal/models"
	appErrors "github.com/noah-isme/field-training-api/pkg/errors"
)

type stubValidator struct {
	claims *models.JWTClaims
}

func (s stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return s.claims, nil
}

func newProtectedRouter(role models.UserRole, allowed ...models.UserRole) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(JWT(stubValidator{claims: &models.JWTClaims{UserID: "u1", Role: role}}))
	router.GET("/", RequireRoles(allowed...), func(c *gin.Context) {
		c.String(http.StatusOK, Claims(c).UserID)
	})
	return router
}

func serve(router *gin.Engine, header string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestJWTRequiresBearerToken(t *testing.T) {
	router := newProtectedRouter(models.RoleAdmin, models.RoleAdmin)

	assert.Equal(t, http.StatusUnauthorized, serve(router, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, "Basic abc").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, "Bearer bad").Code)

	ok := serve(router, "Bearer good")
	assert.Equal(t, http.StatusOK, ok.Code)
	assert.Equal(t, "u1", ok.Body.String())
}

func TestRequireRoles(t *testing.T) {
	assert.Equal(t, http.StatusOK, serve(newProtectedRouter(models.RoleSupervisor, models.RoleAdmin, models.RoleSupervisor), "Bearer good").Code)
	assert.Equal(t, http.StatusForbidden, serve(newProtectedRouter(models.RoleStudent, models.RoleAdmin), "Bearer good").Code)
	assert.Equal(t, http.StatusForbidden, serve(newProtectedRouter(models.UserRole("TEACHER"), models.UserRole("TEACHER")), "Bearer good").Code)
}

func TestResponseMetaCarriesCacheHit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var meta map[string]interface{}
	router := gin.New()
	router.Use(WithResponseMeta())
	router.GET("/", func(c *gin.Context) {
		SetCacheHit(c, true)
		meta = ExtractMeta(c)
		c.Status(http.StatusNoContent)
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, true, meta["cache_hit"])
	assert.Contains(t, meta, "processing_time_ms")
	assert.NotContains(t, meta, "started_at")
}
