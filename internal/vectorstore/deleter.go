package vectorstore

import (
	"context"
	"sort"

	"rag-chat-go/internal/model"
	"rag-chat-go/pkg/log"
)

// StepStatus 是删除过程中单个步骤或整体的结果。
type StepStatus string

const (
	StatusSucceeded StepStatus = "succeeded"
	StatusPartial   StepStatus = "partially_succeeded"
	StatusFailed    StepStatus = "failed"
	StatusSkipped   StepStatus = "skipped"
	// StatusNoOp 表示所有发现途径都没有找到分块，视为成功。
	StatusNoOp StepStatus = "no_op"
)

const (
	deleteBatchSize     = 1000
	defaultProbeQuery   = "the"
	defaultRecoveryTopK = 1000
)

// DeletionReport 是一次按文档删除的结果汇总。
type DeletionReport struct {
	DocumentID    string     `json:"document_id"`
	Tracked       int        `json:"tracked"`
	ByMetadata    int        `json:"by_metadata"`
	ByPattern     int        `json:"by_pattern"`
	Recovered     int        `json:"recovered"`
	ChunkIDs      []string   `json:"chunk_ids"`
	Deleted       int        `json:"deleted"`
	FailedBatches int        `json:"failed_batches"`
	Recovery      StepStatus `json:"recovery"`
	Remote        StepStatus `json:"remote"`
	Status        StepStatus `json:"status"`
}

// ChunksFound 表示是否找到了任何属于该文档的分块。
func (r DeletionReport) ChunksFound() bool {
	return len(r.ChunkIDs) > 0
}

// Deleter 按文档 ID 删除远端与本地的所有分块。
type Deleter struct {
	backend   Backend
	store     *ChunkStore
	probe     string
	probeTopK int
}

func NewDeleter(backend Backend, store *ChunkStore, probeQuery string, probeTopK int) *Deleter {
	if probeQuery == "" {
		probeQuery = defaultProbeQuery
	}
	if probeTopK <= 0 {
		probeTopK = defaultRecoveryTopK
	}
	return &Deleter{backend: backend, store: store, probe: probeQuery, probeTopK: probeTopK}
}

// Delete 合并跟踪列表、元数据扫描、ID 模式扫描三种途径找到的分块；
// 都为空时对远端做一次探测查询恢复。远端删除按批进行，失败的批次记录后跳过，
// 本地清理始终执行。文档不存在不是错误。
func (d *Deleter) Delete(ctx context.Context, namespace, documentID string) DeletionReport {
	report := DeletionReport{DocumentID: documentID, Recovery: StatusSkipped, Remote: StatusSkipped}

	seen := make(map[string]struct{})
	add := func(ids []string) int {
		n := 0
		for _, id := range ids {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				n++
			}
		}
		return n
	}

	report.Tracked = add(d.store.Tracked(documentID))
	report.ByMetadata = add(d.store.Scan(func(_ string, meta model.ChunkMetadata) bool {
		return meta.DocumentID == documentID
	}))
	report.ByPattern = add(d.store.Scan(func(id string, _ model.ChunkMetadata) bool {
		return model.IsChunkOf(id, documentID)
	}))

	if len(seen) == 0 {
		recovered, status := d.recover(ctx, namespace, documentID)
		report.Recovered = add(recovered)
		report.Recovery = status
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	report.ChunkIDs = ids

	if len(ids) > 0 {
		report.Deleted, report.FailedBatches, report.Remote = d.deleteRemote(ctx, namespace, ids)
	}

	d.store.Delete(ids...)
	d.store.Untrack(documentID)

	switch {
	case len(ids) == 0:
		report.Status = StatusNoOp
		log.Infof("[Deleter] 文档 %s 未找到任何分块，按已删除处理", documentID)
	default:
		report.Status = report.Remote
		log.Infow("[Deleter] 文档删除完成",
			"document_id", documentID,
			"chunks", len(ids),
			"deleted", report.Deleted,
			"failed_batches", report.FailedBatches,
			"status", report.Status)
	}
	return report
}

// recover 用探测查询扫描远端，保留 ID 形如 "{documentID}_chunk_N" 的命中。探测失败时跳过恢复。
func (d *Deleter) recover(ctx context.Context, namespace, documentID string) ([]string, StepStatus) {
	resp, err := d.backend.Search(ctx, namespace, SearchRequest{Query: d.probe, TopK: d.probeTopK})
	if err != nil {
		log.Warnf("[Deleter] 恢复扫描的探测查询失败，跳过: %v", err)
		return nil, StatusFailed
	}
	matches, err := extractMatches(resp)
	if err != nil {
		log.Warnf("[Deleter] 恢复扫描无法解析远端响应，跳过: %v", err)
		return nil, StatusFailed
	}
	var ids []string
	for _, m := range matches {
		if model.IsChunkOf(m.ID, documentID) {
			ids = append(ids, m.ID)
		}
	}
	log.Infof("[Deleter] 恢复扫描在 %d 条探测结果中找到 %d 个分块 (document_id=%s)", len(matches), len(ids), documentID)
	return ids, StatusSucceeded
}

func (d *Deleter) deleteRemote(ctx context.Context, namespace string, ids []string) (deleted, failed int, status StepStatus) {
	batches := 0
	for start := 0; start < len(ids); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batches++
		if err := d.backend.Delete(ctx, namespace, ids[start:end]); err != nil {
			failed++
			log.Errorf("[Deleter] 删除批次 [%d:%d] 失败，继续后续批次: %v", start, end, err)
			continue
		}
		deleted += end - start
	}
	switch {
	case failed == 0:
		status = StatusSucceeded
	case failed == batches:
		status = StatusFailed
	default:
		status = StatusPartial
	}
	return deleted, failed, status
}
