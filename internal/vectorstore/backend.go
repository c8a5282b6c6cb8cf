// Package vectorstore 是托管向量检索后端之上的一致性层：
// 分批写入与限流重试、检索结果归一化、本地分块元数据缓存以及按文档删除与恢复。
package vectorstore

import (
	"context"

	"rag-chat-go/internal/model"
)

// DefaultNamespace 是远端索引的默认分区名。
const DefaultNamespace = "__default__"

// Backend 是远端向量检索服务需要提供的能力。
// 远端负责向量相似度排序，但不保证原样返回自定义元数据。
type Backend interface {
	UpsertRecords(ctx context.Context, namespace string, records []model.Chunk) error
	Search(ctx context.Context, namespace string, req SearchRequest) (SearchResponse, error)
	Delete(ctx context.Context, namespace string, ids []string) error
	DeleteAll(ctx context.Context, namespace string) error
	DescribeStats(ctx context.Context) (IndexStats, error)
}

// SearchRequest 描述一次文本检索。
type SearchRequest struct {
	Query  string
	TopK   int
	Filter map[string]any
}

// IndexStats 是远端索引的统计信息。
type IndexStats struct {
	TotalVectors int            `json:"total_vector_count"`
	Dimension    int            `json:"dimension"`
	Fullness     float64        `json:"index_fullness"`
	Namespaces   map[string]int `json:"namespaces"`
}

// SearchResponse 是远端检索可能返回的几种结果形态之一：
// MatchesResponse、ResultHitsResponse 或 RawResponse。
type SearchResponse interface {
	isSearchResponse()
}

// Match 是远端返回的单条命中记录。
// Filename/DocumentID/FileType 是记录自身携带的字段，Fields 与 Metadata 为嵌套字段。
type Match struct {
	ID         string
	Score      float64
	Text       string
	Filename   string
	DocumentID string
	FileType   string
	Fields     map[string]any
	Metadata   map[string]any
}

// MatchesResponse 对应暴露 matches 列表的响应。
type MatchesResponse struct {
	Matches []Match
}

// ResultHitsResponse 对应暴露 result.hits 的响应。
type ResultHitsResponse struct {
	Hits []Match
}

// RawResponse 是未经类型化的 JSON 响应，可能包含 result.hits、hits 或 matches。
type RawResponse map[string]any

func (MatchesResponse) isSearchResponse()    {}
func (ResultHitsResponse) isSearchResponse() {}
func (RawResponse) isSearchResponse()        {}
