package model

import "encoding/json"

// Source 是一次检索结果面向接口的只读视图。
type Source struct {
	Filename   string `json:"filename"`
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
}

// 流式事件类型
const (
	EventText     = "text"
	EventCitation = "citation"
	EventDone     = "done"
	EventError    = "error"
)

// StreamEvent 是流式问答协议中的单个事件，未使用的字段不会被序列化。
type StreamEvent struct {
	Type           string `json:"type"`
	Content        string `json:"content,omitempty"`
	Index          *int   `json:"index,omitempty"`
	Filename       string `json:"filename,omitempty"`
	DocumentID     string `json:"document_id,omitempty"`
	Preview        string `json:"preview,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func TextEvent(token string) StreamEvent {
	return StreamEvent{Type: EventText, Content: token}
}

func CitationEvent(index int, src Source, preview string) StreamEvent {
	return StreamEvent{
		Type:       EventCitation,
		Index:      &index,
		Filename:   src.Filename,
		DocumentID: src.DocumentID,
		Content:    src.Content,
		Preview:    preview,
	}
}

func DoneEvent(conversationID string) StreamEvent {
	return StreamEvent{Type: EventDone, ConversationID: conversationID}
}

func ErrorEvent(msg string) StreamEvent {
	return StreamEvent{Type: EventError, Content: msg}
}

// MarshalJSON 按事件类型只输出该类型定义的字段。
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventCitation:
		index := 0
		if e.Index != nil {
			index = *e.Index
		}
		return json.Marshal(struct {
			Type       string `json:"type"`
			Index      int    `json:"index"`
			Filename   string `json:"filename"`
			DocumentID string `json:"document_id"`
			Content    string `json:"content"`
			Preview    string `json:"preview"`
		}{e.Type, index, e.Filename, e.DocumentID, e.Content, e.Preview})
	case EventDone:
		return json.Marshal(struct {
			Type           string `json:"type"`
			ConversationID string `json:"conversation_id"`
		}{e.Type, e.ConversationID})
	default:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		}{e.Type, e.Content})
	}
}
