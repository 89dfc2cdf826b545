package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/lab-booking-api/internal/models"
	appErrors "github.com/noah-isme/lab-booking-api/pkg/errors"
	"github.com/noah-isme/lab-booking-api/pkg/logger"
)

type staticValidator map[string]models.Identity

func (v staticValidator) ValidateToken(token string) (*models.Identity, error) {
	identity, ok := v[token]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return &identity, nil
}

var tokens = staticValidator{
	"admin-token":   {UserID: "adm-1", Role: models.RoleAdmin, AccountStatus: models.AccountApproved},
	"student-token": {UserID: "stu-1", Role: models.RoleStudent, AccountStatus: models.AccountApproved},
	"pending-token": {UserID: "stu-2", Role: models.RoleStudent, AccountStatus: models.AccountPending},
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		identity, _ := Identity(c)
		c.String(http.StatusOK, identity.UserID+"|"+c.GetString(logger.ActorKey))
	})
	router.GET("/", handlers...)
	return router
}

func serve(router *gin.Engine, target, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestJWT(t *testing.T) {
	router := newRouter(JWT(tokens))

	rec := serve(router, "/", "Bearer admin-token")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "adm-1|adm-1", rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, serve(router, "/", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, "/", "Token admin-token").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, "/", "Bearer nope").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, "/?access_token=admin-token", "").Code)
}

func TestQueryJWT(t *testing.T) {
	router := newRouter(QueryJWT(tokens))

	assert.Equal(t, http.StatusOK, serve(router, "/?access_token=student-token", "").Code)
	assert.Equal(t, http.StatusOK, serve(router, "/", "Bearer student-token").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, "/", "").Code)
}

func TestRequireRoles(t *testing.T) {
	router := newRouter(JWT(tokens), RequireRoles(models.RoleAdmin, models.RoleStaff))

	assert.Equal(t, http.StatusOK, serve(router, "/", "Bearer admin-token").Code)
	assert.Equal(t, http.StatusForbidden, serve(router, "/", "Bearer student-token").Code)

	bare := newRouter(RequireRoles(models.RoleAdmin))
	assert.Equal(t, http.StatusUnauthorized, serve(bare, "/", "").Code)
}

func TestRequireApproved(t *testing.T) {
	router := newRouter(JWT(tokens), RequireApproved())

	assert.Equal(t, http.StatusOK, serve(router, "/", "Bearer student-token").Code)
	rec := serve(router, "/", "Bearer pending-token")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), appErrors.ErrAccountNotApproved.Code)
}
