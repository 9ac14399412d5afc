package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gym-coach-go/pkg/token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(jwtManager *token.JWTManager) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger())
	r.GET("/me", UserAuthMiddleware(jwtManager), func(c *gin.Context) {
		if id := UserID(c); id != nil {
			c.JSON(http.StatusOK, gin.H{"user": *id, "requestId": RequestID(c)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": nil, "requestId": RequestID(c)})
	})
	r.POST("/sync", ServiceScopeMiddleware(jwtManager, token.ScopeSync), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func do(r http.Handler, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestUserAuth(t *testing.T) {
	jwtManager := token.NewJWTManager("secret", 1, 60)
	r := newRouter(jwtManager)

	w := do(r, http.MethodGet, "/me", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user":null`)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	tok, err := jwtManager.GenerateToken(7, "alice", "USER")
	require.NoError(t, err)
	w = do(r, http.MethodGet, "/me", "Bearer "+tok)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user":7`)

	w = do(r, http.MethodGet, "/me", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = do(r, http.MethodGet, "/me", "Token "+tok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServiceScope(t *testing.T) {
	jwtManager := token.NewJWTManager("secret", 1, 60)
	r := newRouter(jwtManager)

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/sync", "").Code)

	userTok, _ := jwtManager.GenerateToken(7, "alice", "USER")
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/sync", "Bearer "+userTok).Code)

	readOnly, _ := jwtManager.GenerateServiceToken("reader", []string{"rag:read"})
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/sync", "Bearer "+readOnly).Code)

	syncTok, _ := jwtManager.GenerateServiceToken("job", []string{token.ScopeSync})
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/sync", "Bearer "+syncTok).Code)
}

func TestRequestIDPropagated(t *testing.T) {
	r := newRouter(token.NewJWTManager("secret", 1, 60))
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
	assert.Contains(t, w.Body.String(), "req-123")
}
