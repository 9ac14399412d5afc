package handler

import (
	"github.com/gin-gonic/gin"

	"gym-coach-go/internal/middleware"
	"gym-coach-go/pkg/token"
)

// Handlers 汇总全部路由处理器。
type Handlers struct {
	Chat    *ChatHandler
	Session *SessionHandler
	Auth    *AuthHandler
	Admin   *AdminHandler
	Health  *HealthHandler
}

// RegisterRoutes 注册全部路由。
func RegisterRoutes(r *gin.Engine, h Handlers, jwtManager *token.JWTManager) {
	r.GET("/health", h.Health.Health)
	r.GET("/health/ready", h.Health.Ready)

	apiV1 := r.Group("/api/v1")
	{
		// Chat 路由组，用户 token 可选
		chat := apiV1.Group("/chat")
		chat.Use(middleware.UserAuthMiddleware(jwtManager))
		{
			chat.POST("", h.Chat.Chat)
			chat.GET("/ws", h.Chat.Socket)
			chat.GET("/tools", h.Chat.Tools)
		}

		sessions := apiV1.Group("/sessions")
		{
			sessions.GET("/:id", h.Session.Summary)
			sessions.GET("/:id/history", h.Session.History)
			sessions.POST("/:id/touch", h.Session.Touch)
			sessions.DELETE("/:id", h.Session.Delete)
		}

		apiV1.POST("/internal/token", h.Auth.IssueServiceToken)

		// 管理路由组，需要 rag:sync scope 的服务 token
		admin := apiV1.Group("/admin")
		admin.Use(middleware.ServiceScopeMiddleware(jwtManager, token.ScopeSync))
		{
			admin.POST("/sync", h.Admin.TriggerSync)
			admin.GET("/sync", h.Admin.ListSyncs)
			admin.GET("/embedding-cache", h.Admin.CacheStats)
			admin.DELETE("/embedding-cache", h.Admin.ClearCache)
		}
	}
}
