package vectorstore

import (
	"context"
	"fmt"
	"sort"

	"rag-chat-go/internal/model"
	"rag-chat-go/pkg/log"
)

// ManagerConfig 配置 Manager 的命名空间、写入与恢复探测参数。
type ManagerConfig struct {
	Namespace     string
	Upsert        UpsertConfig
	RecoveryProbe string
	RecoveryTopK  int
	DefaultTopK   int
}

// ClearReport 是清空索引的结果。
type ClearReport struct {
	VectorsCleared    int      `json:"vectors_cleared"`
	NamespacesCleared []string `json:"namespaces_cleared"`
}

// Manager 组合写入、检索归一化与删除，是检索层对外的入口。
type Manager struct {
	backend    Backend
	store      *ChunkStore
	namespace  string
	topK       int
	upserter   *Upserter
	normalizer *Normalizer
	deleter    *Deleter
}

func NewManager(backend Backend, store *ChunkStore, docs DocumentLookup, cfg ManagerConfig) *Manager {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 4
	}
	return &Manager{
		backend:    backend,
		store:      store,
		namespace:  cfg.Namespace,
		topK:       cfg.DefaultTopK,
		upserter:   NewUpserter(backend, store, cfg.Upsert),
		normalizer: NewNormalizer(store, docs),
		deleter:    NewDeleter(backend, store, cfg.RecoveryProbe, cfg.RecoveryTopK),
	}
}

func (m *Manager) Namespace() string { return m.namespace }

func (m *Manager) Store() *ChunkStore { return m.store }

// AddDocuments 写入分块并返回它们的 ID。
func (m *Manager) AddDocuments(ctx context.Context, chunks []model.Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	report, err := m.upserter.Upsert(ctx, m.namespace, chunks)
	if err != nil {
		return report.ChunkIDs, err
	}
	return report.ChunkIDs, nil
}

// SimilaritySearch 返回与 query 最相关的 k 条结果，k<=0 时使用默认值。
func (m *Manager) SimilaritySearch(ctx context.Context, query string, k int, filter map[string]any) ([]Hit, error) {
	if k <= 0 {
		k = m.topK
	}
	resp, err := m.backend.Search(ctx, m.namespace, SearchRequest{Query: query, TopK: k, Filter: filter})
	if err != nil {
		return nil, fmt.Errorf("远端检索失败: %w", err)
	}
	hits, err := m.normalizer.Normalize(resp)
	if err != nil {
		return nil, err
	}
	log.Debugf("[VectorStore] 检索 %q 返回 %d 条结果", query, len(hits))
	return hits, nil
}

// ProbeRemote 用一个宽泛的查询扫描远端，供登记表恢复使用。
func (m *Manager) ProbeRemote(ctx context.Context, query string, topK int) ([]Hit, error) {
	return m.SimilaritySearch(ctx, query, topK, nil)
}

// DeleteDocument 删除文档的全部分块。
func (m *Manager) DeleteDocument(ctx context.Context, documentID string) DeletionReport {
	return m.deleter.Delete(ctx, m.namespace, documentID)
}

func (m *Manager) Stats(ctx context.Context) (IndexStats, error) {
	return m.backend.DescribeStats(ctx)
}

// ClearIndex 清空所有非空命名空间并清理本地缓存。单个命名空间失败时记录后继续。
func (m *Manager) ClearIndex(ctx context.Context) (ClearReport, error) {
	stats, err := m.backend.DescribeStats(ctx)
	if err != nil {
		return ClearReport{}, fmt.Errorf("获取索引统计失败: %w", err)
	}

	names := make([]string, 0, len(stats.Namespaces))
	for ns := range stats.Namespaces {
		names = append(names, ns)
	}
	sort.Strings(names)

	report := ClearReport{NamespacesCleared: []string{}}
	for _, ns := range names {
		count := stats.Namespaces[ns]
		if count <= 0 {
			continue
		}
		if err := m.backend.DeleteAll(ctx, ns); err != nil {
			log.Errorf("[VectorStore] 清空命名空间 %q 失败: %v", ns, err)
			continue
		}
		display := ns
		if display == "" {
			display = DefaultNamespace
		}
		report.NamespacesCleared = append(report.NamespacesCleared, display)
		report.VectorsCleared += count
		log.Infof("[VectorStore] 已清空命名空间 %q: %d 个向量", display, count)
	}

	m.store.Clear()
	return report, nil
}
