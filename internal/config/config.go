// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	VectorStore VectorStoreConfig `mapstructure:"vectorstore"`
	RAG         RAGConfig         `mapstructure:"rag"`
	Upload      UploadConfig      `mapstructure:"upload"`
	MinIO       MinIOConfig       `mapstructure:"minio"`
	Tika        TikaConfig        `mapstructure:"tika"`
	Registry    RegistryConfig    `mapstructure:"registry"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示与上下文包裹格式（可选）。
type LLMPromptConfig struct {
	Rules        string `mapstructure:"rules"`
	RefStart     string `mapstructure:"ref_start"`
	RefEnd       string `mapstructure:"ref_end"`
	NoResultText string `mapstructure:"no_result_text"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置，仅 elasticsearch 后端使用。
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// VectorStoreConfig 选择并配置远端向量检索后端。
type VectorStoreConfig struct {
	Provider      string              `mapstructure:"provider"`
	Namespace     string              `mapstructure:"namespace"`
	Pinecone      PineconeConfig      `mapstructure:"pinecone"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Batching      BatchingConfig      `mapstructure:"batching"`
	Retry         RetryConfig         `mapstructure:"retry"`
}

// PineconeConfig 存储托管向量索引的连接信息。
type PineconeConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Host       string `mapstructure:"host"`
	IndexName  string `mapstructure:"index_name"`
	APIVersion string `mapstructure:"api_version"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// BatchingConfig 控制写入批次的三个上限与节流速率。
type BatchingConfig struct {
	MaxRecords      int     `mapstructure:"max_records"`
	MaxBytes        int     `mapstructure:"max_bytes"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	TokenMultiplier float64 `mapstructure:"token_multiplier"`
	TokensPerSecond float64 `mapstructure:"tokens_per_second"`
	MinDelaySeconds float64 `mapstructure:"min_delay_seconds"`
}

type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

// RAGConfig 存储检索与切分参数。
type RAGConfig struct {
	TopK         int    `mapstructure:"top_k"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
	Splitter     string `mapstructure:"splitter"`
}

// UploadConfig 存储上传文件的落盘位置与限制。
type UploadConfig struct {
	Dir         string   `mapstructure:"dir"`
	MaxFileSize int64    `mapstructure:"max_file_size"`
	Storage     string   `mapstructure:"storage"`
	AllowedExts []string `mapstructure:"allowed_exts"`
	SeedDir     string   `mapstructure:"seed_dir"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// RegistryConfig 选择文档登记表的持久化方式。
type RegistryConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig 存储 Kafka 相关的配置，Brokers 为空时重建任务同步执行。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.prompt.ref_start", "<<REF>>")
	v.SetDefault("llm.prompt.ref_end", "<<END>>")
	v.SetDefault("llm.prompt.no_result_text", "（本轮无检索结果）")
	v.SetDefault("vectorstore.provider", "pinecone")
	v.SetDefault("vectorstore.namespace", "__default__")
	v.SetDefault("vectorstore.pinecone.api_version", "2025-01")
	v.SetDefault("vectorstore.pinecone.index_name", "rag-index")
	v.SetDefault("vectorstore.elasticsearch.index_name", "rag_chunks")
	v.SetDefault("vectorstore.batching.max_records", 20)
	v.SetDefault("vectorstore.batching.max_bytes", 1<<20)
	v.SetDefault("vectorstore.batching.max_tokens", 20000)
	v.SetDefault("vectorstore.batching.token_multiplier", 1.5)
	v.SetDefault("vectorstore.batching.tokens_per_second", 3000)
	v.SetDefault("vectorstore.batching.min_delay_seconds", 2.0)
	v.SetDefault("vectorstore.retry.max_attempts", 5)
	v.SetDefault("rag.top_k", 4)
	v.SetDefault("rag.chunk_size", 1000)
	v.SetDefault("rag.chunk_overlap", 200)
	v.SetDefault("rag.splitter", "fixed")
	v.SetDefault("upload.dir", "./uploads")
	v.SetDefault("upload.max_file_size", 100*1024*1024)
	v.SetDefault("upload.storage", "local")
	v.SetDefault("upload.allowed_exts", []string{".pdf", ".docx", ".doc", ".txt"})
	v.SetDefault("registry.driver", "file")
	v.SetDefault("registry.path", "./document_registry.json")
	v.SetDefault("kafka.topic", "document-reindex")
	v.SetDefault("kafka.group_id", "rag-reindex-group")
}

// Load 读取 .env、YAML 文件与 RAG_ 前缀的环境变量，返回解析后的配置。
// configPath 为空时只使用默认值与环境变量。
func Load(configPath string) (Config, error) {
	// .env 文件是可选的
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("RAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

// Init 从指定路径加载配置到 Conf，失败时 panic。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}

// Validate 检查启动问答与检索所必需的凭据。
func (c Config) Validate() error {
	var errs []error
	if c.LLM.APIKey == "" {
		errs = append(errs, errors.New("llm.api_key 未配置"))
	}
	switch c.VectorStore.Provider {
	case "pinecone":
		if c.VectorStore.Pinecone.APIKey == "" {
			errs = append(errs, errors.New("vectorstore.pinecone.api_key 未配置"))
		}
		if c.VectorStore.Pinecone.Host == "" {
			errs = append(errs, errors.New("vectorstore.pinecone.host 未配置"))
		}
	case "elasticsearch":
		if c.VectorStore.Elasticsearch.Addresses == "" {
			errs = append(errs, errors.New("vectorstore.elasticsearch.addresses 未配置"))
		}
		if c.Embedding.BaseURL == "" {
			errs = append(errs, errors.New("embedding.base_url 未配置"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的向量后端: %q", c.VectorStore.Provider))
	}
	return errors.Join(errs...)
}
