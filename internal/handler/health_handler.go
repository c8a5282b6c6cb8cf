package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rag-chat-go/internal/config"
)

// HealthHandler 报告关键配置是否齐全。
type HealthHandler struct {
	cfg config.Config
}

func NewHealthHandler(cfg config.Config) *HealthHandler {
	return &HealthHandler{cfg: cfg}
}

// Health 配置不完整时返回 unhealthy，但状态码保持 200 以便前端展示原因。
func (h *HealthHandler) Health(c *gin.Context) {
	body := gin.H{
		"status":    "healthy",
		"model":     h.cfg.LLM.Model,
		"provider":  h.cfg.VectorStore.Provider,
		"index":     h.indexName(),
		"namespace": h.cfg.VectorStore.Namespace,
	}
	if err := h.cfg.Validate(); err != nil {
		body["status"] = "unhealthy"
		body["error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (h *HealthHandler) indexName() string {
	if h.cfg.VectorStore.Provider == "elasticsearch" {
		return h.cfg.VectorStore.Elasticsearch.IndexName
	}
	return h.cfg.VectorStore.Pinecone.IndexName
}
