package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"rag-chat-go/internal/model"
	"rag-chat-go/internal/repository"
)

// ConversationService 定义了对话业务逻辑的接口。
type ConversationService interface {
	// ResolveID 返回请求携带的会话 ID，缺省时生成新的 UUID。
	ResolveID(conversationID string) string
	GetConversationHistory(ctx context.Context, conversationID string) ([]model.ChatMessage, error)
	// AppendTurn 追加一轮问答（user + assistant）。
	AppendTurn(ctx context.Context, conversationID, question, answer string) error
}

type conversationService struct {
	repo repository.ConversationRepository
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(repo repository.ConversationRepository) ConversationService {
	return &conversationService{repo: repo}
}

func (s *conversationService) ResolveID(conversationID string) string {
	if conversationID != "" {
		return conversationID
	}
	return uuid.NewString()
}

// GetConversationHistory 获取会话的完整消息历史，未知会话返回空列表。
func (s *conversationService) GetConversationHistory(ctx context.Context, conversationID string) ([]model.ChatMessage, error) {
	return s.repo.GetConversationHistory(ctx, conversationID)
}

func (s *conversationService) AppendTurn(ctx context.Context, conversationID, question, answer string) error {
	history, err := s.repo.GetConversationHistory(ctx, conversationID)
	if err != nil {
		return err
	}
	now := time.Now()
	history = append(history,
		model.ChatMessage{Role: "user", Content: question, Timestamp: now},
		model.ChatMessage{Role: "assistant", Content: answer, Timestamp: now},
	)
	return s.repo.UpdateConversationHistory(ctx, conversationID, history)
}
