package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"gym-coach-go/internal/model"
	"gym-coach-go/internal/service"
	"gym-coach-go/pkg/embedding"
	"gym-coach-go/pkg/log"
)

// TaskPublisher 把同步任务投递到异步队列。
type TaskPublisher interface {
	PublishSyncTask(ctx context.Context, task model.SyncTask) error
}

// EmbeddingCache 是 embedding 缓存的管理接口。
type EmbeddingCache interface {
	CacheStats() embedding.CacheStats
	ClearCache() int64
}

// AdminHandler 负责同步与缓存管理接口，需要 rag:sync scope。
type AdminHandler struct {
	syncService service.SyncService
	publisher   TaskPublisher
	cache       EmbeddingCache
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。publisher 为 nil 时同步总是在请求内执行。
func NewAdminHandler(syncService service.SyncService, publisher TaskPublisher, cache EmbeddingCache) *AdminHandler {
	return &AdminHandler{syncService: syncService, publisher: publisher, cache: cache}
}

// SyncRequest 定义了触发同步的请求体结构。
type SyncRequest struct {
	Type   string    `json:"type" binding:"required"`
	UserID *int64    `json:"user_id"`
	Days   int       `json:"days"`
	Since  time.Time `json:"since"`
	// Async 为 true 且配置了 Kafka 时投递任务后立即返回 202
	Async bool `json:"async"`
}

// TriggerSync 触发一次同步。
func (h *AdminHandler) TriggerSync(c *gin.Context) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("TriggerSync: Invalid request payload, error: %v", err)
		respondBadRequest(c, "无效的请求负载：type 不能为空")
		return
	}
	task := model.SyncTask{Type: req.Type, UserID: req.UserID, Days: req.Days, Since: req.Since}

	if req.Async && h.publisher != nil {
		if err := h.publisher.PublishSyncTask(c.Request.Context(), task); err != nil {
			respondError(c, "TriggerSync", err)
			return
		}
		log.Infof("TriggerSync: 已投递同步任务 %s", task.Key())
		c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "accepted", "data": task})
		return
	}

	result, err := h.syncService.Run(c.Request.Context(), task)
	if err != nil {
		respondError(c, "TriggerSync", err)
		return
	}
	respondOK(c, result)
}

// ListSyncs 返回最近的同步记录。
func (h *AdminHandler) ListSyncs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 20
	}
	records, err := h.syncService.Recent(limit)
	if err != nil {
		respondError(c, "ListSyncs", err)
		return
	}
	respondOK(c, records)
}

// CacheStats 返回 embedding 缓存统计。
func (h *AdminHandler) CacheStats(c *gin.Context) {
	respondOK(c, h.cache.CacheStats())
}

// ClearCache 清空 embedding 缓存。
func (h *AdminHandler) ClearCache(c *gin.Context) {
	cleared := h.cache.ClearCache()
	log.Infof("ClearCache: 清除了 %d 条 embedding 缓存", cleared)
	respondOK(c, gin.H{"cleared": cleared})
}
