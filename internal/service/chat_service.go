package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"rag-chat-go/internal/citation"
	"rag-chat-go/internal/config"
	"rag-chat-go/internal/model"
	"rag-chat-go/internal/vectorstore"
	"rag-chat-go/pkg/llm"
	"rag-chat-go/pkg/log"
)

const (
	defaultRules = "You are a helpful AI assistant that answers questions based on the provided context documents. " +
		"If the answer cannot be found in the context, say so and provide a general answer if possible."
	sourceDedupeRunes = 50
)

// Retriever 返回与问题最相关的分块，vectorstore.Manager 满足该接口。
type Retriever interface {
	SimilaritySearch(ctx context.Context, query string, k int, filter map[string]any) ([]vectorstore.Hit, error)
}

// ChatService 定义了问答操作的接口。
type ChatService interface {
	Query(ctx context.Context, req model.ChatRequest) (model.ChatResponse, error)
	// StreamQuery 通过 emit 下发流式事件。生成失败转换为 error 事件，
	// 只有客户端断开时才返回错误。
	StreamQuery(ctx context.Context, req model.ChatRequest, emit citation.EmitFunc) error
	History(ctx context.Context, conversationID string) ([]model.ChatMessage, error)
}

type chatService struct {
	retriever     Retriever
	llmClient     llm.Client
	conversations ConversationService
	prompt        config.LLMPromptConfig
	topK          int
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(retriever Retriever, llmClient llm.Client, conversations ConversationService, prompt config.LLMPromptConfig, topK int) ChatService {
	return &chatService{
		retriever:     retriever,
		llmClient:     llmClient,
		conversations: conversations,
		prompt:        prompt,
		topK:          topK,
	}
}

func (s *chatService) retrieve(ctx context.Context, req model.ChatRequest) ([]vectorstore.Hit, error) {
	k := req.TopK
	if k <= 0 {
		k = s.topK
	}
	hits, err := s.retriever.SimilaritySearch(ctx, req.Message, k, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve context: %w", err)
	}
	return hits, nil
}

// Query 一次性生成回答。
func (s *chatService) Query(ctx context.Context, req model.ChatRequest) (model.ChatResponse, error) {
	conversationID := s.conversations.ResolveID(req.ConversationID)
	hits, err := s.retrieve(ctx, req)
	if err != nil {
		return model.ChatResponse{}, err
	}

	messages := s.buildMessages(ctx, conversationID, hits, req.Message)
	answer, err := s.llmClient.Complete(ctx, messages)
	if err != nil {
		return model.ChatResponse{}, fmt.Errorf("failed to generate answer: %w", err)
	}
	s.saveTurn(conversationID, req.Message, answer)

	resp := model.ChatResponse{Answer: answer, ConversationID: conversationID}
	if req.WantsSources() {
		resp.Sources = FormatSources(hits)
	}
	return resp, nil
}

// StreamQuery 检索后驱动交织器输出 text / citation / done 事件。
func (s *chatService) StreamQuery(ctx context.Context, req model.ChatRequest, emit citation.EmitFunc) error {
	conversationID := s.conversations.ResolveID(req.ConversationID)
	hits, err := s.retrieve(ctx, req)
	if err != nil {
		log.Errorf("[ChatService] 检索失败: %v", err)
		return emit(model.ErrorEvent("Error: " + err.Error()))
	}

	var sources []model.Source
	if req.WantsSources() {
		sources = FormatSources(hits)
	}
	messages := s.buildMessages(ctx, conversationID, hits, req.Message)

	res, err := citation.NewInterleaver(s.llmClient, sources, emit).Run(ctx, messages, conversationID)
	if err != nil {
		log.Warnf("[ChatService] 流式输出中断: %v", err)
		return err
	}
	if res.State == citation.StateDone && res.Answer != "" {
		s.saveTurn(conversationID, req.Message, res.Answer)
	}
	return nil
}

func (s *chatService) History(ctx context.Context, conversationID string) ([]model.ChatMessage, error) {
	return s.conversations.GetConversationHistory(ctx, conversationID)
}

// saveTurn 使用后台上下文，即使原始请求被取消也保存成功生成的答案
func (s *chatService) saveTurn(conversationID, question, answer string) {
	if err := s.conversations.AppendTurn(context.Background(), conversationID, question, answer); err != nil {
		log.Errorf("[ChatService] 保存对话历史失败: %v", err)
	}
}

func (s *chatService) buildMessages(ctx context.Context, conversationID string, hits []vectorstore.Hit, question string) []llm.Message {
	history, err := s.conversations.GetConversationHistory(ctx, conversationID)
	if err != nil {
		log.Errorf("[ChatService] 加载对话历史失败: %v", err)
		history = nil
	}
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: s.buildSystemMessage(buildContextText(hits))})
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: question})
	return msgs
}

// buildContextText 按检索顺序编号拼接上下文。
func buildContextText(hits []vectorstore.Hit) string {
	if len(hits) == 0 {
		return ""
	}
	var b strings.Builder
	for i, h := range hits {
		fileLabel := h.Filename
		if fileLabel == "" {
			fileLabel = "unknown"
		}
		b.WriteString(fmt.Sprintf("[%d] (%s) %s\n", i+1, fileLabel, h.Text))
	}
	return b.String()
}

func (s *chatService) buildSystemMessage(contextText string) string {
	rules := s.prompt.Rules
	if rules == "" {
		rules = defaultRules
	}
	refStart := s.prompt.RefStart
	if refStart == "" {
		refStart = "<<REF>>"
	}
	refEnd := s.prompt.RefEnd
	if refEnd == "" {
		refEnd = "<<END>>"
	}

	var sys strings.Builder
	sys.WriteString(rules)
	sys.WriteString("\n\n")
	sys.WriteString(refStart)
	sys.WriteString("\n")
	if contextText != "" {
		sys.WriteString(contextText)
	} else {
		noRes := s.prompt.NoResultText
		if noRes == "" {
			noRes = "（本轮无检索结果）"
		}
		sys.WriteString(noRes)
		sys.WriteString("\n")
	}
	sys.WriteString(refEnd)
	return sys.String()
}

// FormatSources 按检索顺序转换为来源列表，文档 ID 与正文前 50 个字符都相同的结果只保留第一条。
func FormatSources(hits []vectorstore.Hit) []model.Source {
	sources := make([]model.Source, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		key := h.DocumentID + "_" + firstRunes(h.Text, sourceDedupeRunes)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		sources = append(sources, h.Source())
	}
	return sources
}

func firstRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
