package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rag-chat-go/internal/model"
	"rag-chat-go/internal/service"
)

// ConversationHandler 处理与对话相关的 API 请求。
type ConversationHandler struct {
	service service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// GetHistory 返回会话历史，未知会话返回空列表。
func (h *ConversationHandler) GetHistory(c *gin.Context) {
	history, err := h.service.GetConversationHistory(c.Request.Context(), c.Param("conversation_id"))
	if err != nil {
		writeError(c, "获取对话历史", err)
		return
	}
	if history == nil {
		history = []model.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": history})
}
