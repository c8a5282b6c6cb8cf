package handler

import (
	"github.com/gin-gonic/gin"

	"rag-chat-go/internal/config"
	"rag-chat-go/internal/middleware"
	"rag-chat-go/internal/service"
)

// RouterDeps 汇总注册路由所需的服务。
type RouterDeps struct {
	Config        config.Config
	Documents     service.DocumentService
	Chat          service.ChatService
	Conversations service.ConversationService
	Retriever     service.Retriever
}

// NewRouter 创建 Gin 引擎并注册所有 /api 路由。
func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery(), middleware.CORS())
	r.MaxMultipartMemory = 32 << 20

	docHandler := NewDocumentHandler(deps.Documents, deps.Config.Upload.MaxFileSize)
	chatHandler := NewChatHandler(deps.Chat)
	convHandler := NewConversationHandler(deps.Conversations)

	api := r.Group("/api")
	{
		api.GET("/health", NewHealthHandler(deps.Config).Health)

		documents := api.Group("/documents")
		{
			documents.GET("", docHandler.List)
			documents.POST("/upload", docHandler.Upload)
			documents.POST("/clear-index", docHandler.ClearIndex)
			documents.GET("/stats", docHandler.Stats)
			documents.DELETE("/:id", docHandler.Delete)
			documents.POST("/:id/reload", docHandler.Reload)
		}

		chat := api.Group("/chat")
		{
			chat.POST("", chatHandler.Chat)
			chat.POST("/stream", chatHandler.Stream)
			chat.GET("/ws", chatHandler.WebSocket)
			chat.GET("/history/:conversation_id", convHandler.GetHistory)
		}

		if deps.Retriever != nil {
			api.GET("/search", NewSearchHandler(deps.Retriever, deps.Config.RAG.TopK).Search)
		}
	}
	return r
}
