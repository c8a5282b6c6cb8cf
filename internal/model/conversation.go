package model

import "time"

// ChatMessage 代表一条对话消息。
type ChatMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatRequest 是问答接口的请求体。
type ChatRequest struct {
	Message        string `json:"message" binding:"required"`
	ConversationID string `json:"conversation_id"`
	TopK           int    `json:"top_k"`
	ReturnSources  *bool  `json:"return_sources"`
}

// WantsSources 未指定时默认返回来源。
func (r ChatRequest) WantsSources() bool {
	return r.ReturnSources == nil || *r.ReturnSources
}

// ChatResponse 是非流式问答接口的返回结构。
type ChatResponse struct {
	Answer         string   `json:"answer"`
	Sources        []Source `json:"sources,omitempty"`
	ConversationID string   `json:"conversation_id"`
}
