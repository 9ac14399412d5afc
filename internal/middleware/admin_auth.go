package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gym-coach-go/pkg/log"
	"gym-coach-go/pkg/token"
)

// ServiceScopeMiddleware 要求请求携带包含指定 scope 的服务 token。
// 缺少或无效的 token 返回 401，scope 不足返回 403。
func ServiceScopeMiddleware(jwtManager *token.JWTManager, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearer(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "请求未包含服务 token", "data": nil})
			return
		}
		claims, err := jwtManager.VerifyServiceToken(tokenString)
		if err != nil {
			log.Warnf("服务 token 校验失败: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效或已过期的服务 token", "data": nil})
			return
		}
		if !claims.HasScope(scope) {
			log.Warnf("服务账号 %s 缺少 scope %s", claims.ClientID, scope)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": "权限不足，需要 " + scope, "data": nil})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}
