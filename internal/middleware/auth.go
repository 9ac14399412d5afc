// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gym-coach-go/pkg/log"
	"gym-coach-go/pkg/token"
)

const (
	userIDKey    = "userId"
	claimsKey    = "claims"
	bearerPrefix = "Bearer "
)

// UserAuthMiddleware 解析可选的用户 token。
// 没有 Authorization 头时按匿名用户处理；带了 token 但无效时返回 401。
func UserAuthMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}
		tokenString, ok := bearer(authHeader)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的授权头格式", "data": nil})
			return
		}
		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			log.Warnf("用户 token 校验失败: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效或已过期的 token", "data": nil})
			return
		}

		userID := claims.UserID
		c.Set(userIDKey, &userID)
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// UserID 返回已认证的用户 ID，匿名请求返回 nil。
func UserID(c *gin.Context) *int64 {
	v, ok := c.Get(userIDKey)
	if !ok {
		return nil
	}
	id, _ := v.(*int64)
	return id
}

func bearer(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	return tok, tok != ""
}
