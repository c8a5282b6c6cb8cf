// Package pinecone provides a REST client for an index with integrated (hosted) embedding.
// Records are upserted as text and embedded server-side; searches take query text.
package pinecone

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rag-chat-go/internal/config"
	"rag-chat-go/internal/model"
	"rag-chat-go/internal/vectorstore"
	"rag-chat-go/pkg/log"
)

const defaultAPIVersion = "2025-01"

// APIError is returned for any non-2xx response. Body is kept verbatim so that
// quota messages reach the operator unchanged.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pinecone %s failed: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// HTTPStatus lets the vector store recognise 429 responses as rate limits.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Client talks to a single index host. It implements vectorstore.Backend.
type Client struct {
	baseURL    string
	apiKey     string
	apiVersion string
	httpClient *http.Client
}

// NewClient creates a client for the index host in cfg.
func NewClient(cfg config.PineconeConfig) *Client {
	host := strings.TrimRight(cfg.Host, "/")
	if host != "" && !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	version := cfg.APIVersion
	if version == "" {
		version = defaultAPIVersion
	}
	return &Client{
		baseURL:    host,
		apiKey:     cfg.APIKey,
		apiVersion: version,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// record is the wire form of an upserted record; every field except _id and text
// is stored as a record field and returned by search.
type record struct {
	ID         string `json:"_id"`
	Text       string `json:"text"`
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	FileType   string `json:"file_type"`
	UploadDate string `json:"upload_date,omitempty"`
}

// UpsertRecords sends the batch as newline-delimited JSON.
func (c *Client) UpsertRecords(ctx context.Context, namespace string, records []model.Chunk) error {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	enc := json.NewEncoder(w)
	for _, r := range records {
		rec := record{
			ID:         r.ID,
			Text:       r.Text,
			DocumentID: r.DocumentID,
			Filename:   r.Filename,
			FileType:   r.FileType,
			UploadDate: r.UploadDate,
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode record %s: %w", r.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to buffer records: %w", err)
	}

	path := "/records/namespaces/" + url.PathEscape(namespace) + "/upsert"
	return c.do(ctx, "upsert", path, "application/x-ndjson", &buf, nil)
}

type searchQuery struct {
	Inputs map[string]string `json:"inputs"`
	TopK   int               `json:"top_k"`
	Filter map[string]any    `json:"filter,omitempty"`
}

type searchRequest struct {
	Query searchQuery `json:"query"`
}

// Search runs a text query. The decoded JSON body is returned as-is; shape handling
// belongs to the vector store normalizer.
func (c *Client) Search(ctx context.Context, namespace string, req vectorstore.SearchRequest) (vectorstore.SearchResponse, error) {
	body := searchRequest{Query: searchQuery{
		Inputs: map[string]string{"text": req.Query},
		TopK:   req.TopK,
		Filter: req.Filter,
	}}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	var raw map[string]any
	path := "/records/namespaces/" + url.PathEscape(namespace) + "/search"
	if err := c.do(ctx, "search", path, "application/json", bytes.NewReader(payload), &raw); err != nil {
		return nil, err
	}
	return vectorstore.RawResponse(raw), nil
}

type deleteRequest struct {
	IDs       []string `json:"ids,omitempty"`
	DeleteAll bool     `json:"deleteAll,omitempty"`
	Namespace string   `json:"namespace"`
}

// Delete removes the given record ids.
func (c *Client) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.postJSON(ctx, "delete", "/vectors/delete", deleteRequest{IDs: ids, Namespace: namespace}, nil)
}

// DeleteAll removes every record in the namespace.
func (c *Client) DeleteAll(ctx context.Context, namespace string) error {
	return c.postJSON(ctx, "delete", "/vectors/delete", deleteRequest{DeleteAll: true, Namespace: namespace}, nil)
}

type statsResponse struct {
	Namespaces map[string]struct {
		VectorCount int `json:"vectorCount"`
	} `json:"namespaces"`
	Dimension        int     `json:"dimension"`
	IndexFullness    float64 `json:"indexFullness"`
	TotalVectorCount int     `json:"totalVectorCount"`
}

// DescribeStats returns vector counts for the whole index and per namespace.
func (c *Client) DescribeStats(ctx context.Context) (vectorstore.IndexStats, error) {
	var resp statsResponse
	if err := c.postJSON(ctx, "describe_index_stats", "/describe_index_stats", struct{}{}, &resp); err != nil {
		return vectorstore.IndexStats{}, err
	}
	stats := vectorstore.IndexStats{
		TotalVectors: resp.TotalVectorCount,
		Dimension:    resp.Dimension,
		Fullness:     resp.IndexFullness,
		Namespaces:   make(map[string]int, len(resp.Namespaces)),
	}
	for ns, s := range resp.Namespaces {
		stats.Namespaces[ns] = s.VectorCount
	}
	return stats, nil
}

func (c *Client) postJSON(ctx context.Context, op, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", op, err)
	}
	return c.do(ctx, op, path, "application/json", bytes.NewReader(payload), out)
}

func (c *Client) do(ctx context.Context, op, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Api-Key", c.apiKey)
	req.Header.Set("X-Pinecone-API-Version", c.apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Errorf("[PineconeClient] 调用 %s 失败, error: %v", op, err)
		return fmt.Errorf("failed to call pinecone %s: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read pinecone %s response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warnf("[PineconeClient] %s 返回非 2xx 状态码: %d", op, resp.StatusCode)
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode pinecone %s response: %w", op, err)
	}
	return nil
}
