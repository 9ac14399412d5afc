// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"gym-coach-go/internal/middleware"
	"gym-coach-go/internal/model"
	"gym-coach-go/pkg/log"
)

const unavailableMessage = "服务暂时不可用"

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": data})
}

// respondError 把校验错误映射为 400，其余错误统一为 500，内部原因只写日志。
func respondError(c *gin.Context, op string, err error) {
	requestID := middleware.RequestID(c)
	if isValidation(err) {
		log.Warnf("%s: 请求参数非法, requestId=%s, error: %v", op, requestID, err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "requestId": requestID, "data": nil})
		return
	}
	log.Errorf("%s: 处理失败, requestId=%s, error: %v", op, requestID, err)
	c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": unavailableMessage, "requestId": requestID, "data": nil})
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": message, "requestId": middleware.RequestID(c), "data": nil})
}

func respondNotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": message, "data": nil})
}

func isValidation(err error) bool {
	return errors.Is(err, model.ErrValidation)
}
