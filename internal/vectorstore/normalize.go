package vectorstore

import (
	"fmt"
	"strconv"

	"rag-chat-go/internal/model"
	"rag-chat-go/pkg/log"
)

const (
	unknownFilename   = "Unknown"
	unknownSentinel   = "unknown"
	placeholderFormat = "[Document ID: %s]"
)

// DocumentLookup 按文档 ID 查询登记信息，用于补全缺失的文件名。
type DocumentLookup interface {
	Get(documentID string) (model.Document, bool)
}

// Hit 是归一化后的一条检索结果。
type Hit struct {
	ID         string  `json:"id"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	FileType   string  `json:"file_type"`
	UploadDate string  `json:"upload_date"`
}

// Source 转换为接口层的来源视图。
func (h Hit) Source() model.Source {
	return model.Source{Filename: h.Filename, DocumentID: h.DocumentID, Content: h.Text}
}

// Normalizer 把各种形态的远端响应转换为统一的 Hit 列表，保持远端排序。
type Normalizer struct {
	store *ChunkStore
	docs  DocumentLookup
}

func NewNormalizer(store *ChunkStore, docs DocumentLookup) *Normalizer {
	return &Normalizer{store: store, docs: docs}
}

// Normalize 解析响应并补全元数据。未知形态返回 ErrUnrecognizedShape。
func (n *Normalizer) Normalize(resp SearchResponse) ([]Hit, error) {
	matches, err := extractMatches(resp)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(matches))
	for _, m := range matches {
		hits = append(hits, n.reconcile(m))
	}
	return hits, nil
}

// reconcile 按优先级合并元数据：记录自带字段 > 本地缓存 > 从 ID 推导 > 登记表 > "Unknown"。
func (n *Normalizer) reconcile(m Match) Hit {
	h := Hit{
		ID:         m.ID,
		Score:      m.Score,
		Text:       m.text(),
		DocumentID: m.field("document_id", m.DocumentID),
		Filename:   m.field("filename", m.Filename),
		FileType:   m.field("file_type", m.FileType),
		UploadDate: m.field("upload_date", ""),
	}

	if local, ok := n.store.Get(m.ID); ok && m.ID != "" {
		fillEmpty(&h.DocumentID, local.DocumentID)
		fillEmpty(&h.Filename, local.Filename)
		fillEmpty(&h.FileType, local.FileType)
		fillEmpty(&h.UploadDate, local.UploadDate)
		fillEmpty(&h.Text, local.Text)
	}

	if h.DocumentID == "" {
		if docID, ok := model.DocumentIDFromChunkID(m.ID); ok {
			h.DocumentID = docID
		}
	}

	if (h.Filename == "" || h.Filename == unknownSentinel) && h.DocumentID != "" && n.docs != nil {
		if doc, ok := n.docs.Get(h.DocumentID); ok && doc.Filename != "" {
			h.Filename = doc.Filename
			if h.FileType == "" {
				h.FileType = doc.FileType
			}
		}
	}

	if h.Text == "" {
		id := m.ID
		if id == "" {
			id = unknownSentinel
		}
		h.Text = fmt.Sprintf(placeholderFormat, id)
	}
	if h.Filename == "" || h.Filename == unknownSentinel {
		h.Filename = unknownFilename
	}
	fillEmpty(&h.DocumentID, unknownSentinel)
	fillEmpty(&h.FileType, unknownSentinel)
	return h
}

func fillEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// text 依次尝试 text、fields.text、metadata.text。
func (m Match) text() string {
	if m.Text != "" {
		return m.Text
	}
	if s := stringValue(m.Fields, "text"); s != "" {
		return s
	}
	return stringValue(m.Metadata, "text")
}

// field 优先使用记录顶层的值，其次是 fields 中的同名字段。
func (m Match) field(key, direct string) string {
	if direct != "" {
		return direct
	}
	return stringValue(m.Fields, key)
}

func extractMatches(resp SearchResponse) ([]Match, error) {
	switch r := resp.(type) {
	case MatchesResponse:
		return r.Matches, nil
	case *MatchesResponse:
		if r == nil {
			return nil, ErrUnrecognizedShape
		}
		return r.Matches, nil
	case ResultHitsResponse:
		return r.Hits, nil
	case *ResultHitsResponse:
		if r == nil {
			return nil, ErrUnrecognizedShape
		}
		return r.Hits, nil
	case RawResponse:
		return adaptRaw(r)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnrecognizedShape, resp)
	}
}

// adaptRaw 处理 result.hits、hits、matches 三种字典形态。
func adaptRaw(r RawResponse) ([]Match, error) {
	var items []any
	var ok bool
	if result, isMap := r["result"].(map[string]any); isMap {
		items, ok = result["hits"].([]any)
	}
	if !ok {
		items, ok = r["hits"].([]any)
	}
	if !ok {
		items, ok = r["matches"].([]any)
	}
	if !ok {
		keys := make([]string, 0, len(r))
		for k := range r {
			keys = append(keys, k)
		}
		return nil, fmt.Errorf("%w: keys=%v", ErrUnrecognizedShape, keys)
	}

	matches := make([]Match, 0, len(items))
	for i, item := range items {
		obj, isMap := item.(map[string]any)
		if !isMap {
			log.Warnf("[Normalizer] 跳过第 %d 条无法解析的命中记录: %T", i, item)
			continue
		}
		matches = append(matches, matchFromMap(obj))
	}
	return matches, nil
}

func matchFromMap(obj map[string]any) Match {
	m := Match{
		ID:         firstString(obj, "_id", "id"),
		Score:      firstFloat(obj, "_score", "score"),
		Text:       stringValue(obj, "text"),
		Filename:   stringValue(obj, "filename"),
		DocumentID: stringValue(obj, "document_id"),
		FileType:   stringValue(obj, "file_type"),
	}
	if fields, ok := obj["fields"].(map[string]any); ok {
		m.Fields = fields
	}
	if meta, ok := obj["metadata"].(map[string]any); ok {
		m.Metadata = meta
	}
	return m
}

func stringValue(obj map[string]any, key string) string {
	if obj == nil {
		return ""
	}
	switch v := obj[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringValue(obj, k); s != "" {
			return s
		}
	}
	return ""
}

func firstFloat(obj map[string]any, keys ...string) float64 {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case float64:
			return v
		case int:
			return float64(v)
		}
	}
	return 0
}
