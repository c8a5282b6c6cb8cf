// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"rag-chat-go/internal/service"
	"rag-chat-go/internal/vectorstore"
	"rag-chat-go/pkg/log"
)

// statusFor 把业务错误映射为 HTTP 状态码。
func statusFor(err error) int {
	var vErr *service.ValidationError
	var rlErr *vectorstore.RateLimitExceededError
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &rlErr):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError 输出 {"error": "..."}，错误原文原样返回以便区分配额耗尽与输入错误。
func writeError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("[Handler] %s 失败: %v", op, err)
	} else {
		log.Warnf("[Handler] %s 失败: %v", op, err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
