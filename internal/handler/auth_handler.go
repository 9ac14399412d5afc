package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"gym-coach-go/internal/service"
	"gym-coach-go/pkg/log"
)

// AuthHandler 为内部服务账号签发 token。
type AuthHandler struct {
	authService service.ServiceAuthService
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler(authService service.ServiceAuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// ServiceTokenRequest 定义了签发服务 token 的请求体结构。
type ServiceTokenRequest struct {
	ClientID     string `json:"client_id" binding:"required"`
	ClientSecret string `json:"client_secret" binding:"required"`
}

// IssueServiceToken 校验服务账号密钥并签发带 scope 的 token。
func (h *AuthHandler) IssueServiceToken(c *gin.Context) {
	var req ServiceTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("IssueServiceToken: Invalid request payload, error: %v", err)
		respondBadRequest(c, "无效的请求负载：client_id 与 client_secret 不能为空")
		return
	}

	tok, err := h.authService.IssueToken(req.ClientID, req.ClientSecret)
	if err != nil {
		if errors.Is(err, service.ErrInvalidClient) {
			c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的服务账号或密钥", "data": nil})
			return
		}
		respondError(c, "IssueServiceToken", err)
		return
	}
	respondOK(c, tok)
}
