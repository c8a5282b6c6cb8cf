// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"rag-chat-go/internal/config"
	"rag-chat-go/internal/handler"
	"rag-chat-go/internal/pipeline"
	"rag-chat-go/internal/registry"
	"rag-chat-go/internal/repository"
	"rag-chat-go/internal/service"
	"rag-chat-go/internal/vectorstore"
	"rag-chat-go/pkg/database"
	"rag-chat-go/pkg/embedding"
	"rag-chat-go/pkg/es"
	"rag-chat-go/pkg/kafka"
	"rag-chat-go/pkg/llm"
	"rag-chat-go/pkg/log"
	"rag-chat-go/pkg/pinecone"
	"rag-chat-go/pkg/storage"
	"rag-chat-go/pkg/tika"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	if err := cfg.Validate(); err != nil {
		// 缺少凭据时仍然启动，/api/health 会报告具体原因
		log.Warnf("配置不完整: %v", err)
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// 3. 初始化向量后端与检索层
	backend, err := newBackend(cfg)
	if err != nil {
		log.Fatal("向量后端初始化失败", err)
	}
	chunkStore := vectorstore.NewChunkStore()

	// 4. 初始化文档登记表
	persister, err := newPersister(cfg)
	if err != nil {
		log.Fatal("文档登记表初始化失败", err)
	}
	docRegistry := registry.New(persister)
	if err := docRegistry.Load(rootCtx); err != nil {
		log.Warnf("加载文档登记表失败，以空表启动: %v", err)
	}

	manager := vectorstore.NewManager(backend, chunkStore, docRegistry, vectorstore.ManagerConfig{
		Namespace:   cfg.VectorStore.Namespace,
		Upsert:      upsertConfig(cfg.VectorStore),
		DefaultTopK: cfg.RAG.TopK,
	})

	// 5. 初始化原始文件存储
	files, err := newFileStore(rootCtx, cfg)
	if err != nil {
		log.Fatal("文件存储初始化失败", err)
	}
	reconciler := registry.NewReconciler(docRegistry, chunkStore, manager, files, cfg.Upload.AllowedExts)

	// 6. 初始化文件处理管道 (Processor)
	processor := pipeline.NewProcessor(tika.NewClient(cfg.Tika), pipeline.NewSplitter(cfg.RAG))

	// 7. Redis 可选：配置后用于会话历史与任务重试计数
	var rdb *redis.Client
	if cfg.Database.Redis.Addr != "" {
		rdb, err = database.OpenRedis(rootCtx, cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
		if err != nil {
			log.Fatal("Redis 连接失败", err)
		}
		defer rdb.Close()
	}
	conversationRepo := repository.NewMemoryConversationRepository()
	attempts := kafka.NewMemoryAttempts()
	if rdb != nil {
		conversationRepo = repository.NewConversationRepository(rdb)
		attempts = kafka.NewRedisAttempts(rdb)
	}

	// 8. 初始化 Service (依赖注入)
	deps := service.DocumentServiceDeps{
		Index:       manager,
		Processor:   processor,
		Registry:    docRegistry,
		Reconciler:  reconciler,
		Files:       files,
		Upload:      cfg.Upload,
		LocalChunks: chunkStore.Len,
	}
	var producer *kafka.Producer
	if cfg.Kafka.Brokers != "" {
		producer = kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		deps.Publisher = producer
	}
	documentService := service.NewDocumentService(deps)
	conversationService := service.NewConversationService(conversationRepo)
	chatService := service.NewChatService(manager, llm.NewClient(cfg.LLM), conversationService, cfg.LLM.Prompt, cfg.RAG.TopK)

	// 9. 启动后台 Kafka 消费者
	consumerDone := make(chan struct{})
	if producer != nil {
		consumer := kafka.NewConsumer(cfg.Kafka, documentService, attempts)
		go func() {
			defer close(consumerDone)
			if err := consumer.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Kafka 消费者退出", err)
			}
		}()
	} else {
		close(consumerDone)
		log.Info("未配置 Kafka，重建任务将同步执行")
	}

	// 9.1 导入种子目录，已登记的文件名会被跳过
	if cfg.Upload.SeedDir != "" {
		go func() {
			n, err := documentService.ImportSeedFiles(rootCtx, cfg.Upload.SeedDir)
			if err != nil {
				log.Warnf("导入种子文件中断: %v", err)
			}
			if n > 0 {
				log.Infof("已导入 %d 个种子文件", n)
			}
		}()
	}

	// 10. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(handler.RouterDeps{
		Config:        cfg,
		Documents:     documentService,
		Chat:          chatService,
		Conversations: conversationService,
		Retriever:     manager,
	})

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止消费者与种子导入，等待当前任务结束
	cancelRoot()
	select {
	case <-consumerDone:
	case <-ctx.Done():
		log.Warnf("等待 Kafka 消费者退出超时")
	}

	if err := docRegistry.Flush(context.Background()); err != nil {
		log.Errorf("保存文档登记表失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

// newBackend 按 vectorstore.provider 选择远端检索后端。
func newBackend(cfg config.Config) (vectorstore.Backend, error) {
	switch cfg.VectorStore.Provider {
	case "elasticsearch":
		embedder := embedding.NewClient(cfg.Embedding)
		return es.NewBackend(cfg.VectorStore.Elasticsearch, embedder, cfg.Embedding.Dimensions)
	case "pinecone", "":
		return pinecone.NewClient(cfg.VectorStore.Pinecone), nil
	default:
		return nil, fmt.Errorf("未知的向量后端: %q", cfg.VectorStore.Provider)
	}
}

// newPersister 按 registry.driver 选择登记表的持久化方式。
func newPersister(cfg config.Config) (registry.Persister, error) {
	switch cfg.Registry.Driver {
	case "mysql":
		db, err := database.OpenMySQL(cfg.Database.MySQL.DSN)
		if err != nil {
			return nil, err
		}
		return repository.NewDocumentRepository(db)
	case "file", "":
		return registry.NewFilePersister(cfg.Registry.Path), nil
	default:
		return nil, fmt.Errorf("未知的登记表驱动: %q", cfg.Registry.Driver)
	}
}

func newFileStore(ctx context.Context, cfg config.Config) (storage.FileStore, error) {
	if cfg.Upload.Storage == "minio" {
		return storage.NewMinioStore(ctx, cfg.MinIO)
	}
	return storage.NewLocalStore(cfg.Upload.Dir)
}

func upsertConfig(vs config.VectorStoreConfig) vectorstore.UpsertConfig {
	uc := vectorstore.DefaultUpsertConfig()
	b := vs.Batching
	if b.MaxRecords > 0 {
		uc.Limits.MaxRecords = b.MaxRecords
	}
	if b.MaxBytes > 0 {
		uc.Limits.MaxBytes = b.MaxBytes
	}
	if b.MaxTokens > 0 {
		uc.Limits.MaxTokens = b.MaxTokens
	}
	if b.TokenMultiplier > 0 {
		uc.Limits.TokenMultiplier = b.TokenMultiplier
	}
	if b.TokensPerSecond > 0 {
		uc.TokensPerSecond = b.TokensPerSecond
	}
	if b.MinDelaySeconds > 0 {
		uc.MinDelay = time.Duration(b.MinDelaySeconds * float64(time.Second))
	}
	if vs.Retry.MaxAttempts > 0 {
		uc.MaxAttempts = vs.Retry.MaxAttempts
	}
	return uc
}
