package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rag-chat-go/internal/service"
	"rag-chat-go/pkg/log"
)

// SearchHandler 直接暴露归一化后的检索结果，便于排查召回质量。
type SearchHandler struct {
	retriever   service.Retriever
	defaultTopK int
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(retriever service.Retriever, defaultTopK int) *SearchHandler {
	return &SearchHandler{retriever: retriever, defaultTopK: defaultTopK}
}

// Search 处理 GET /api/search?query=...&top_k=...
func (h *SearchHandler) Search(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		log.Warnf("[SearchHandler] 搜索请求失败: query 参数为空")
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的查询参数"})
		return
	}
	topK, err := strconv.Atoi(c.Query("top_k"))
	if err != nil || topK <= 0 {
		topK = h.defaultTopK
	}

	hits, err := h.retriever.SimilaritySearch(c.Request.Context(), query, topK, nil)
	if err != nil {
		writeError(c, "检索", err)
		return
	}
	log.Infof("[SearchHandler] 检索成功, query: '%s', 返回 %d 条结果", query, len(hits))
	c.JSON(http.StatusOK, gin.H{"query": query, "results": hits, "total": len(hits)})
}
