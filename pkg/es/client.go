// Package es 提供基于 Elasticsearch 的向量检索后端，是托管向量索引之外的可选实现。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"

	"rag-chat-go/internal/config"
	"rag-chat-go/internal/model"
	"rag-chat-go/internal/vectorstore"
	"rag-chat-go/pkg/embedding"
	"rag-chat-go/pkg/log"
)

// Backend 用 kNN 检索实现 vectorstore.Backend，向量由 embedding 客户端在本地请求生成。
type Backend struct {
	client   *elasticsearch.Client
	index    string
	embedder embedding.Client
	dims     int
}

// NewBackend 创建客户端并在索引不存在时创建它。
func NewBackend(esCfg config.ElasticsearchConfig, embedder embedding.Client, dims int) (*Backend, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	b := NewBackendWithClient(client, esCfg.IndexName, embedder, dims)
	if err := b.createIndexIfNotExists(); err != nil {
		return nil, err
	}
	return b, nil
}

// NewBackendWithClient 使用已有客户端，不检查索引。
func NewBackendWithClient(client *elasticsearch.Client, index string, embedder embedding.Client, dims int) *Backend {
	return &Backend{client: client, index: index, embedder: embedder, dims: dims}
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func (b *Backend) createIndexIfNotExists() error {
	res, err := b.client.Indices.Exists([]string{b.index})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", b.index)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"chunk_id": { "type": "keyword" },
				"document_id": { "type": "keyword" },
				"namespace": { "type": "keyword" },
				"filename": { "type": "keyword" },
				"file_type": { "type": "keyword" },
				"upload_date": { "type": "keyword" },
				"text": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				}
			}
		}
	}`, b.dims)

	res, err = b.client.Indices.Create(b.index, b.client.Indices.Create.WithBody(strings.NewReader(mapping)))
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", b.index, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", b.index, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}
	log.Infof("索引 '%s' 创建成功", b.index)
	return nil
}

// ResponseError 携带 Elasticsearch 的 HTTP 状态码与响应体。
type ResponseError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("elasticsearch %s failed: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *ResponseError) HTTPStatus() int { return e.StatusCode }

// UpsertRecords 批量生成向量并通过 bulk 接口写入。
func (b *Backend) UpsertRecords(ctx context.Context, namespace string, records []model.Chunk) error {
	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Text
	}
	vectors, err := b.embedder.CreateEmbeddings(ctx, texts)
	if err != nil {
		return fmt.Errorf("生成向量失败: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, r := range records {
		action := map[string]any{"index": map[string]any{"_index": b.index, "_id": r.ID}}
		doc := model.EsChunk{
			ChunkID:    r.ID,
			DocumentID: r.DocumentID,
			Namespace:  namespace,
			Filename:   r.Filename,
			FileType:   r.FileType,
			UploadDate: r.UploadDate,
			Text:       r.Text,
			Vector:     vectors[i],
		}
		if err := enc.Encode(action); err != nil {
			return err
		}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}
	return b.bulk(ctx, "bulk index", &buf)
}

// Delete 通过 bulk 接口按 ID 删除。
func (b *Backend) Delete(ctx context.Context, _ string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, id := range ids {
		if err := enc.Encode(map[string]any{"delete": map[string]any{"_index": b.index, "_id": id}}); err != nil {
			return err
		}
	}
	return b.bulk(ctx, "bulk delete", &buf)
}

func (b *Backend) bulk(ctx context.Context, op string, body io.Reader) error {
	res, err := b.client.Bulk(body,
		b.client.Bulk.WithContext(ctx),
		b.client.Bulk.WithIndex(b.index),
		b.client.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch %s failed: %w", op, err)
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(res.Body)
	if res.IsError() {
		return &ResponseError{Op: op, StatusCode: res.StatusCode, Body: string(raw)}
	}

	var result struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  any    `json:"error"`
		} `json:"items"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	if !result.Errors {
		return nil
	}
	for _, item := range result.Items {
		for _, r := range item {
			// 删除不存在的文档返回 404，视为成功
			if r.Error != nil && r.Status != http.StatusNotFound {
				return &ResponseError{Op: op, StatusCode: r.Status, Body: fmt.Sprintf("item %s: %v", r.ID, r.Error)}
			}
		}
	}
	return nil
}

type esHit struct {
	ID     string        `json:"_id"`
	Score  float64       `json:"_score"`
	Source model.EsChunk `json:"_source"`
}

// Search 以 kNN 为主、BM25 为辅检索，结果以 result.hits 形态返回。
func (b *Backend) Search(ctx context.Context, namespace string, req vectorstore.SearchRequest) (vectorstore.SearchResponse, error) {
	queryVector, err := b.embedder.CreateEmbedding(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}

	filters := []map[string]any{{"term": map[string]any{"namespace": namespace}}}
	for field, value := range req.Filter {
		filters = append(filters, map[string]any{"term": map[string]any{field: value}})
	}

	esQuery := map[string]any{
		"knn": map[string]any{
			"field":          "vector",
			"query_vector":   queryVector,
			"k":              req.TopK,
			"num_candidates": min(req.TopK*10, 10000),
			"filter":         filters,
		},
		"query": map[string]any{
			"bool": map[string]any{
				"should": map[string]any{"match": map[string]any{"text": req.Query}},
				"filter": filters,
			},
		},
		"_source": map[string]any{"excludes": []string{"vector"}},
		"size":    req.TopK,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := b.client.Search(
		b.client.Search.WithContext(ctx),
		b.client.Search.WithIndex(b.index),
		b.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, &ResponseError{Op: "search", StatusCode: res.StatusCode, Body: string(body)}
	}

	var esResponse struct {
		Hits struct {
			Hits []esHit `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	matches := make([]vectorstore.Match, 0, len(esResponse.Hits.Hits))
	for _, h := range esResponse.Hits.Hits {
		matches = append(matches, vectorstore.Match{
			ID:         h.ID,
			Score:      h.Score,
			Text:       h.Source.Text,
			Filename:   h.Source.Filename,
			DocumentID: h.Source.DocumentID,
			FileType:   h.Source.FileType,
			Fields:     map[string]any{"upload_date": h.Source.UploadDate},
		})
	}
	return vectorstore.ResultHitsResponse{Hits: matches}, nil
}

// DeleteAll 删除命名空间中的全部分块。
func (b *Backend) DeleteAll(ctx context.Context, namespace string) error {
	body := fmt.Sprintf(`{"query":{"term":{"namespace":%q}}}`, namespace)
	res, err := b.client.DeleteByQuery([]string{b.index}, strings.NewReader(body),
		b.client.DeleteByQuery.WithContext(ctx),
		b.client.DeleteByQuery.WithRefresh(true),
		b.client.DeleteByQuery.WithConflicts("proceed"),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch delete_by_query failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return &ResponseError{Op: "delete_by_query", StatusCode: res.StatusCode, Body: string(raw)}
	}
	return nil
}

// DescribeStats 通过 terms 聚合统计每个命名空间的分块数。
func (b *Backend) DescribeStats(ctx context.Context) (vectorstore.IndexStats, error) {
	query := `{"size":0,"track_total_hits":true,"aggs":{"namespaces":{"terms":{"field":"namespace","size":1000}}}}`
	res, err := b.client.Search(
		b.client.Search.WithContext(ctx),
		b.client.Search.WithIndex(b.index),
		b.client.Search.WithBody(strings.NewReader(query)),
	)
	if err != nil {
		return vectorstore.IndexStats{}, fmt.Errorf("elasticsearch stats failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return vectorstore.IndexStats{}, &ResponseError{Op: "stats", StatusCode: res.StatusCode, Body: string(raw)}
	}

	var resp struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
		} `json:"hits"`
		Aggregations struct {
			Namespaces struct {
				Buckets []struct {
					Key      string `json:"key"`
					DocCount int    `json:"doc_count"`
				} `json:"buckets"`
			} `json:"namespaces"`
		} `json:"aggregations"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return vectorstore.IndexStats{}, fmt.Errorf("failed to decode es stats: %w", err)
	}

	stats := vectorstore.IndexStats{
		TotalVectors: resp.Hits.Total.Value,
		Dimension:    b.dims,
		Namespaces:   make(map[string]int),
	}
	for _, bucket := range resp.Aggregations.Namespaces.Buckets {
		stats.Namespaces[bucket.Key] = bucket.DocCount
	}
	return stats, nil
}
