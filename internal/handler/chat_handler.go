package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"rag-chat-go/internal/model"
	"rag-chat-go/internal/service"
	"rag-chat-go/pkg/log"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 负责处理问答请求，支持普通 JSON、SSE 与 WebSocket 三种输出。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Chat 返回完整回答与来源。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}
	resp, err := h.chatService.Query(c.Request.Context(), req)
	if err != nil {
		writeError(c, "处理问答请求", fmt.Errorf("Error processing chat request: %w", err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Stream 以 SSE 输出 text / citation / done / error 事件。
func (h *ChatHandler) Stream(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	emit := func(ev model.StreamEvent) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", b); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	}

	if err := h.chatService.StreamQuery(ctx, req, emit); err != nil {
		log.Warnf("[ChatHandler] SSE 连接已结束: %v", err)
	}
}

// WebSocket 每收到一条消息执行一次流式问答，事件以 JSON 文本帧下发。
// 消息可以是 ChatRequest JSON，也可以是纯文本问题。
func (h *ChatHandler) WebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Info("WebSocket 连接已建立")

	conversationID := ""
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			return
		}
		if err := h.serveMessage(c.Request.Context(), conn, message, &conversationID); err != nil {
			log.Warnf("WebSocket 输出中断: %v", err)
			return
		}
	}
}

// jsonWriter 是 WebSocket 连接的写端。
type jsonWriter interface {
	WriteJSON(v any) error
}

// serveMessage 处理一条 WebSocket 消息。返回错误时连接已不可用，调用方应结束会话。
func (h *ChatHandler) serveMessage(ctx context.Context, w jsonWriter, message []byte, conversationID *string) error {
	req := model.ChatRequest{Message: string(message), ConversationID: *conversationID}
	if len(message) > 0 && message[0] == '{' {
		var parsed model.ChatRequest
		if err := json.Unmarshal(message, &parsed); err == nil {
			req = parsed
			if req.ConversationID == "" {
				req.ConversationID = *conversationID
			}
		}
	}
	if req.Message == "" {
		return w.WriteJSON(model.ErrorEvent("Error: message is required"))
	}

	emit := func(ev model.StreamEvent) error {
		if ev.Type == model.EventDone {
			*conversationID = ev.ConversationID
		}
		return w.WriteJSON(ev)
	}
	return h.chatService.StreamQuery(ctx, req, emit)
}
