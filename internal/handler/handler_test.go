package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-chat-go/internal/citation"
	"rag-chat-go/internal/config"
	"rag-chat-go/internal/model"
	"rag-chat-go/internal/repository"
	"rag-chat-go/internal/service"
	"rag-chat-go/internal/vectorstore"
	"rag-chat-go/pkg/tasks"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubDocs struct {
	docs       []model.Document
	uploadErr  error
	uploaded   string
	reloadErr  error
	enqueueErr error
	enqueued   []string
	reloaded   []string
}

func (s *stubDocs) Upload(_ context.Context, filename string, data []byte) (service.UploadResult, error) {
	s.uploaded = filename + ":" + string(data)
	if s.uploadErr != nil {
		return service.UploadResult{}, s.uploadErr
	}
	return service.UploadResult{DocumentID: "doc-1", Filename: filename, ChunksCount: 2, FileSize: int64(len(data))}, nil
}

func (s *stubDocs) List(context.Context) ([]model.Document, error) { return s.docs, nil }

func (s *stubDocs) Delete(_ context.Context, id string) (service.DeleteResult, error) {
	return service.DeleteResult{DocumentID: id, Message: "Document '" + id + "' not found; nothing to delete"}, nil
}

func (s *stubDocs) Reload(_ context.Context, id string) (service.UploadResult, error) {
	s.reloaded = append(s.reloaded, id)
	if s.reloadErr != nil {
		return service.UploadResult{}, s.reloadErr
	}
	return service.UploadResult{DocumentID: id, Filename: "a.txt", ChunksCount: 3}, nil
}

func (s *stubDocs) EnqueueReload(_ context.Context, id string) error {
	s.enqueued = append(s.enqueued, id)
	return s.enqueueErr
}

func (s *stubDocs) ProcessReindex(context.Context, tasks.ReindexTask) error { return nil }

func (s *stubDocs) ClearIndex(context.Context) (vectorstore.ClearReport, error) {
	return vectorstore.ClearReport{VectorsCleared: 5, NamespacesCleared: []string{"__default__"}}, nil
}

func (s *stubDocs) Stats(context.Context) (service.StatsResult, error) {
	return service.StatsResult{Namespace: "__default__", Documents: len(s.docs)}, nil
}

func (s *stubDocs) ImportSeedFiles(context.Context, string) (int, error) { return 0, nil }

type stubChat struct {
	events []model.StreamEvent
	resp   model.ChatResponse
	reqs   []model.ChatRequest
}

func (s *stubChat) Query(_ context.Context, req model.ChatRequest) (model.ChatResponse, error) {
	s.reqs = append(s.reqs, req)
	return s.resp, nil
}

func (s *stubChat) StreamQuery(_ context.Context, req model.ChatRequest, emit citation.EmitFunc) error {
	s.reqs = append(s.reqs, req)
	for _, ev := range s.events {
		if err := emit(ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *stubChat) History(context.Context, string) ([]model.ChatMessage, error) { return nil, nil }

func newTestRouter(docs *stubDocs, chat *stubChat) (*gin.Engine, service.ConversationService) {
	conv := service.NewConversationService(repository.NewMemoryConversationRepository())
	cfg := config.Config{
		LLM:         config.LLMConfig{Model: "test-model"},
		VectorStore: config.VectorStoreConfig{Provider: "pinecone", Pinecone: config.PineconeConfig{IndexName: "idx"}},
		Upload:      config.UploadConfig{MaxFileSize: 1024},
	}
	return NewRouter(RouterDeps{Config: cfg, Documents: docs, Chat: chat, Conversations: conv}), conv
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestListDocuments(t *testing.T) {
	docs := &stubDocs{docs: []model.Document{{ID: "a", Filename: "a.txt", FilePath: "/secret/a.txt", ChunksCount: 2}}}
	r, _ := newTestRouter(docs, &stubChat{})

	w := doJSON(r, http.MethodGet, "/api/documents", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Documents []map[string]any `json:"documents"`
		Total     int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)
	assert.Equal(t, "a.txt", body.Documents[0]["filename"])
	assert.NotContains(t, body.Documents[0], "file_path")
}

func multipartUpload(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, _ = fw.Write([]byte(content))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadDocument(t *testing.T) {
	docs := &stubDocs{}
	r, _ := newTestRouter(docs, &stubChat{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartUpload(t, "notes.txt", "hello"))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "notes.txt:hello", docs.uploaded)
	assert.Contains(t, w.Body.String(), `"chunks_count":2`)
	assert.Contains(t, w.Body.String(), "Created 2 chunks.")
}

func TestUploadDocument_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &service.ValidationError{Kind: service.KindUnsupportedType, Message: "Unsupported file type"}, http.StatusBadRequest},
		{"rate limit", &vectorstore.RateLimitExceededError{Batch: 1, Total: 2, Attempts: 5, Err: errors.New("RESOURCE_EXHAUSTED")}, http.StatusTooManyRequests},
		{"extraction", &service.ExtractionError{Filename: "a.pdf", Err: errors.New("tika down")}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, _ := newTestRouter(&stubDocs{uploadErr: tc.err}, &stubChat{})
			w := httptest.NewRecorder()
			r.ServeHTTP(w, multipartUpload(t, "a.pdf", "x"))
			assert.Equal(t, tc.status, w.Code)
			assert.Contains(t, w.Body.String(), tc.err.Error())
		})
	}
}

func TestUploadDocument_TooLarge(t *testing.T) {
	docs := &stubDocs{}
	r, _ := newTestRouter(docs, &stubChat{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartUpload(t, "big.txt", strings.Repeat("x", 2048)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, docs.uploaded)
}

func TestDeleteUnknownDocumentSucceeds(t *testing.T) {
	r, _ := newTestRouter(&stubDocs{}, &stubChat{})

	w := doJSON(r, http.MethodDelete, "/api/documents/ghost", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["chunks_deleted"])
	assert.Contains(t, body["message"], "not found")
}

func TestReload(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		r, _ := newTestRouter(&stubDocs{reloadErr: service.ErrNotFound}, &stubChat{})
		w := doJSON(r, http.MethodPost, "/api/documents/missing/reload", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("async queued", func(t *testing.T) {
		docs := &stubDocs{}
		r, _ := newTestRouter(docs, &stubChat{})
		w := doJSON(r, http.MethodPost, "/api/documents/doc-1/reload?async=true", "")
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, []string{"doc-1"}, docs.enqueued)
		assert.Empty(t, docs.reloaded)
	})

	t.Run("async unavailable falls back to sync", func(t *testing.T) {
		docs := &stubDocs{enqueueErr: service.ErrAsyncUnavailable}
		r, _ := newTestRouter(docs, &stubChat{})
		w := doJSON(r, http.MethodPost, "/api/documents/doc-1/reload?async=true", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"doc-1"}, docs.reloaded)
	})
}

func TestClearIndex(t *testing.T) {
	r, _ := newTestRouter(&stubDocs{}, &stubChat{})

	w := doJSON(r, http.MethodPost, "/api/documents/clear-index", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"vectors_cleared":5`)
	assert.Contains(t, w.Body.String(), "Removed 5 vectors from 1 namespace(s).")
}

func TestChatStream_SSE(t *testing.T) {
	chat := &stubChat{events: []model.StreamEvent{
		model.TextEvent("Hello."),
		model.CitationEvent(0, model.Source{Filename: "a.txt", DocumentID: "d", Content: "c"}, "c"),
		model.DoneEvent("conv-1"),
	}}
	r, _ := newTestRouter(&stubDocs{}, chat)

	w := doJSON(r, http.MethodPost, "/api/chat/stream", `{"message":"hi"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))
	frames := strings.Split(strings.TrimSpace(w.Body.String()), "\n\n")
	require.Len(t, frames, 3)
	assert.Equal(t, `data: {"type":"text","content":"Hello."}`, frames[0])
	assert.Contains(t, frames[1], `"type":"citation","index":0`)
	assert.Equal(t, `data: {"type":"done","conversation_id":"conv-1"}`, frames[2])
}

func TestChat_RequiresMessage(t *testing.T) {
	r, _ := newTestRouter(&stubDocs{}, &stubChat{})
	w := doJSON(r, http.MethodPost, "/api/chat", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChat(t *testing.T) {
	chat := &stubChat{resp: model.ChatResponse{Answer: "42", ConversationID: "c"}}
	r, _ := newTestRouter(&stubDocs{}, chat)

	w := doJSON(r, http.MethodPost, "/api/chat", `{"message":"meaning?","top_k":3}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"answer":"42"`)
	require.Len(t, chat.reqs, 1)
	assert.Equal(t, 3, chat.reqs[0].TopK)
}

func TestHistory(t *testing.T) {
	r, conv := newTestRouter(&stubDocs{}, &stubChat{})
	require.NoError(t, conv.AppendTurn(context.Background(), "c-1", "q", "a"))

	w := doJSON(r, http.MethodGet, "/api/chat/history/c-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Messages []model.ChatMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Messages, 2)

	w = doJSON(r, http.MethodGet, "/api/chat/history/unknown", "")
	assert.JSONEq(t, `{"messages":[]}`, w.Body.String())
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(&stubDocs{}, &stubChat{})

	w := doJSON(r, http.MethodGet, "/api/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, "test-model", body["model"])
	assert.Equal(t, "idx", body["index"])
	assert.Contains(t, body["error"], "llm.api_key")
}

func TestChatWebSocket(t *testing.T) {
	chat := &stubChat{events: []model.StreamEvent{model.TextEvent("hi"), model.DoneEvent("conv-ws")}}
	r, _ := newTestRouter(&stubDocs{}, chat)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("first question")))
	var ev map[string]any
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "text", ev["type"])
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "conv-ws", ev["conversation_id"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"message":"second"}`)))
	require.NoError(t, conn.ReadJSON(&ev))
	require.NoError(t, conn.ReadJSON(&ev))

	require.Len(t, chat.reqs, 2)
	assert.Equal(t, "first question", chat.reqs[0].Message)
	assert.Equal(t, "second", chat.reqs[1].Message)
	assert.Equal(t, "conv-ws", chat.reqs[1].ConversationID)
}

func TestChatWebSocket_EmptyMessageKeepsSession(t *testing.T) {
	chat := &stubChat{events: []model.StreamEvent{model.DoneEvent("conv-ws")}}
	r, _ := newTestRouter(&stubDocs{}, chat)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"message":""}`)))
	var ev map[string]any
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "error", ev["type"])
	assert.Equal(t, "Error: message is required", ev["content"])
	assert.Empty(t, chat.reqs)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("still there?")))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "conv-ws", ev["conversation_id"])
	require.Len(t, chat.reqs, 1)
}

type failingWriter struct {
	writes int
}

func (w *failingWriter) WriteJSON(any) error {
	w.writes++
	return errors.New("broken pipe")
}

func TestServeMessage_WriteFailureEndsSession(t *testing.T) {
	chat := &stubChat{events: []model.StreamEvent{model.TextEvent("hi"), model.DoneEvent("conv-ws")}}
	h := NewChatHandler(chat)
	conversationID := ""

	w := &failingWriter{}
	err := h.serveMessage(context.Background(), w, []byte(`{"message":""}`), &conversationID)
	require.Error(t, err)
	assert.Equal(t, 1, w.writes)
	assert.Empty(t, chat.reqs)

	w = &failingWriter{}
	err = h.serveMessage(context.Background(), w, []byte("question"), &conversationID)
	require.Error(t, err)
	assert.Equal(t, 1, w.writes, "streaming stops at the first failed write")
	assert.Empty(t, conversationID)
}
