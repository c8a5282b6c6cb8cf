package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"rag-chat-go/internal/model"
	"rag-chat-go/internal/service"
	"rag-chat-go/pkg/log"
)

// DocumentHandler 负责处理所有与文档管理相关的 API 请求。
type DocumentHandler struct {
	docService  service.DocumentService
	maxFileSize int64
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService, maxFileSize int64) *DocumentHandler {
	return &DocumentHandler{docService: docService, maxFileSize: maxFileSize}
}

// List 返回所有已登记文档。
func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.docService.List(c.Request.Context())
	if err != nil {
		writeError(c, "获取文档列表", err)
		return
	}
	infos := make([]model.DocumentInfo, 0, len(docs))
	for _, d := range docs {
		infos = append(infos, d.Info())
	}
	c.JSON(http.StatusOK, gin.H{"documents": infos, "total": len(infos)})
}

// Upload 处理 multipart 表单中名为 file 的上传文件。
func (h *DocumentHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少上传文件"})
		return
	}
	if h.maxFileSize > 0 && fileHeader.Size > h.maxFileSize {
		writeError(c, "上传文档", &service.ValidationError{
			Kind:    service.KindSizeExceeded,
			Message: fmt.Sprintf("File size exceeds maximum allowed size of %d bytes", h.maxFileSize),
		})
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		writeError(c, "读取上传文件", err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeError(c, "读取上传文件", err)
		return
	}

	res, err := h.docService.Upload(c.Request.Context(), fileHeader.Filename, data)
	if err != nil {
		writeError(c, "上传文档", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"document_id":  res.DocumentID,
		"filename":     res.Filename,
		"chunks_count": res.ChunksCount,
		"message":      fmt.Sprintf("Document uploaded and processed successfully. Created %d chunks.", res.ChunksCount),
	})
}

// Delete 按文档 ID 或文件名删除，文档不存在时同样返回成功。
func (h *DocumentHandler) Delete(c *gin.Context) {
	res, err := h.docService.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, "删除文档", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"chunks_deleted": res.ChunksDeleted,
		"message":        res.Message,
		"report":         res.Report,
	})
}

// Reload 重新切分并索引文档；async=true 且配置了消息队列时异步执行。
func (h *DocumentHandler) Reload(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if c.Query("async") == "true" {
		err := h.docService.EnqueueReload(ctx, id)
		switch {
		case err == nil:
			c.JSON(http.StatusAccepted, gin.H{"success": true, "document_id": id, "message": "Reload task queued."})
			return
		case errors.Is(err, service.ErrAsyncUnavailable):
			log.Warnf("[DocumentHandler] 未配置消息队列，同步重建: %s", id)
		default:
			writeError(c, "投递重建任务", err)
			return
		}
	}

	res, err := h.docService.Reload(ctx, id)
	if err != nil {
		writeError(c, "重建文档", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"document_id":  res.DocumentID,
		"filename":     res.Filename,
		"chunks_count": res.ChunksCount,
		"message":      fmt.Sprintf("Document reloaded successfully. Created %d chunks.", res.ChunksCount),
	})
}

// ClearIndex 清空远端索引的所有命名空间，登记表保留。
func (h *DocumentHandler) ClearIndex(c *gin.Context) {
	report, err := h.docService.ClearIndex(c.Request.Context())
	if err != nil {
		writeError(c, "清空索引", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("Index cleared successfully. Removed %d vectors from %d namespace(s).",
			report.VectorsCleared, len(report.NamespacesCleared)),
		"vectors_cleared":    report.VectorsCleared,
		"namespaces_cleared": report.NamespacesCleared,
	})
}

func (h *DocumentHandler) Stats(c *gin.Context) {
	stats, err := h.docService.Stats(c.Request.Context())
	if err != nil {
		writeError(c, "获取索引统计", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
