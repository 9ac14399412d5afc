package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"gym-coach-go/internal/service"
)

// SessionHandler 处理会话查询与删除。
type SessionHandler struct {
	service service.SessionService
}

// NewSessionHandler 创建一个新的 SessionHandler。
func NewSessionHandler(service service.SessionService) *SessionHandler {
	return &SessionHandler{service: service}
}

// History 返回会话最近的消息，limit 非法时使用默认值。
func (h *SessionHandler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	history, err := h.service.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		respondError(c, "SessionHistory", err)
		return
	}
	respondOK(c, history)
}

// Summary 返回会话概览，不存在时返回 404。
func (h *SessionHandler) Summary(c *gin.Context) {
	summary, ok := h.service.Summary(c.Request.Context(), c.Param("id"))
	if !ok {
		respondNotFound(c, "会话不存在或已过期")
		return
	}
	respondOK(c, summary)
}

// Delete 删除会话，不存在时返回 404。
func (h *SessionHandler) Delete(c *gin.Context) {
	deleted, err := h.service.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "SessionDelete", err)
		return
	}
	if !deleted {
		respondNotFound(c, "会话不存在或已过期")
		return
	}
	respondOK(c, gin.H{"session_id": c.Param("id"), "deleted": true})
}

// Touch 延长会话有效期，不存在时返回 404。
func (h *SessionHandler) Touch(c *gin.Context) {
	ok, err := h.service.Touch(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "SessionTouch", err)
		return
	}
	if !ok {
		respondNotFound(c, "会话不存在或已过期")
		return
	}
	respondOK(c, gin.H{"session_id": c.Param("id")})
}
