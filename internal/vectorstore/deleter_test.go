package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-chat-go/internal/model"
)

func TestDelete_UnionOfLocalStrategies(t *testing.T) {
	backend := newFakeBackend()
	store := NewChunkStore()

	tracked := makeChunks("doc1", 2, "t")
	store.PutChunks(tracked)
	// 只存在于元数据扫描中
	store.Put("legacy-id-7", model.ChunkMetadata{DocumentID: "doc1"})
	// 只能通过 ID 模式找到
	store.Put("doc1_chunk_9", model.ChunkMetadata{DocumentID: ""})
	// 其他文档不受影响
	store.PutChunks(makeChunks("doc10", 1, "t"))

	report := NewDeleter(backend, store, "", 0).Delete(context.Background(), DefaultNamespace, "doc1")

	assert.Equal(t, StatusSucceeded, report.Status)
	assert.Equal(t, 2, report.Tracked)
	assert.Equal(t, 1, report.ByMetadata)
	assert.Equal(t, 1, report.ByPattern)
	assert.Equal(t, StatusSkipped, report.Recovery)
	assert.ElementsMatch(t, []string{"doc1_chunk_0", "doc1_chunk_1", "doc1_chunk_9", "legacy-id-7"}, report.ChunkIDs)
	assert.Equal(t, 4, report.Deleted)

	assert.Empty(t, store.Tracked("doc1"))
	_, ok := store.Get("doc10_chunk_0")
	assert.True(t, ok, "doc10 shares the doc1 prefix text but not the doc1_chunk_ prefix")
	assert.Equal(t, 1, store.Len())
}

func TestDelete_IsIdempotent(t *testing.T) {
	backend := newFakeBackend()
	store := NewChunkStore()
	store.PutChunks(makeChunks("doc1", 3, "t"))
	d := NewDeleter(backend, store, "", 0)

	first := d.Delete(context.Background(), DefaultNamespace, "doc1")
	require.True(t, first.ChunksFound())

	backend.searchResp = RawResponse{"result": map[string]any{"hits": []any{}}}
	second := d.Delete(context.Background(), DefaultNamespace, "doc1")

	assert.False(t, second.ChunksFound())
	assert.Equal(t, StatusNoOp, second.Status)
	assert.Equal(t, StatusSucceeded, second.Recovery)
}

func TestDelete_RecoveryScanFindsRemoteChunks(t *testing.T) {
	backend := newFakeBackend()
	backend.searchResp = RawResponse{"result": map[string]any{"hits": []any{
		map[string]any{"_id": "doc1_chunk_0"},
		map[string]any{"_id": "doc1_chunk_1"},
		map[string]any{"_id": "doc12_chunk_0"},
		map[string]any{"_id": "other_chunk_0"},
	}}}
	store := NewChunkStore()

	report := NewDeleter(backend, store, "", 0).Delete(context.Background(), DefaultNamespace, "doc1")

	require.Len(t, backend.searches, 1)
	assert.Equal(t, "the", backend.searches[0].Query)
	assert.Equal(t, 1000, backend.searches[0].TopK)
	assert.Equal(t, StatusSucceeded, report.Recovery)
	assert.Equal(t, 2, report.Recovered)
	assert.Equal(t, []string{"doc1_chunk_0", "doc1_chunk_1"}, report.ChunkIDs)
	require.Len(t, backend.deletes, 1)
	assert.Equal(t, []string{"doc1_chunk_0", "doc1_chunk_1"}, backend.deletes[0])
}

func TestDelete_RemoteLookupFailureIsSkipped(t *testing.T) {
	backend := newFakeBackend()
	backend.searchErr = errors.New("index is empty")

	report := NewDeleter(backend, NewChunkStore(), "", 0).Delete(context.Background(), DefaultNamespace, "ghost")

	assert.Equal(t, StatusNoOp, report.Status)
	assert.Equal(t, StatusFailed, report.Recovery)
	assert.Empty(t, backend.deletes)
}

func TestDelete_BatchesOfOneThousandAndBestEffort(t *testing.T) {
	backend := newFakeBackend()
	store := NewChunkStore()
	store.PutChunks(makeChunks("big", 2500, "t"))
	calls := 0
	backend.deleteErr = func(ids []string) error {
		calls++
		if calls == 2 {
			return fmt.Errorf("timeout deleting %d ids", len(ids))
		}
		return nil
	}

	report := NewDeleter(backend, store, "", 0).Delete(context.Background(), DefaultNamespace, "big")

	assert.Equal(t, 3, calls)
	require.Len(t, backend.deletes, 2)
	assert.Len(t, backend.deletes[0], 1000)
	assert.Len(t, backend.deletes[1], 500)
	assert.Equal(t, 1, report.FailedBatches)
	assert.Equal(t, 1500, report.Deleted)
	assert.Equal(t, StatusPartial, report.Status)
	// 本地清理不受远端失败影响
	assert.Zero(t, store.Len())
	assert.Empty(t, store.Tracked("big"))
}

func TestDelete_AllBatchesFailedStillCleansLocalState(t *testing.T) {
	backend := newFakeBackend()
	backend.deleteErr = func([]string) error { return errors.New("unavailable") }
	store := NewChunkStore()
	store.PutChunks(makeChunks("doc1", 2, "t"))

	report := NewDeleter(backend, store, "", 0).Delete(context.Background(), DefaultNamespace, "doc1")

	assert.Equal(t, StatusFailed, report.Status)
	assert.Zero(t, store.Len())
}

func TestPatternRecovery_FindsExactlyTheDocumentsChunks(t *testing.T) {
	store := NewChunkStore()
	store.PutChunks(makeChunks("a", 3, "t"))
	store.PutChunks(makeChunks("a_chunk", 2, "t"))
	store.PutChunks(makeChunks("ab", 2, "t"))
	store.Untrack("a")

	report := NewDeleter(newFakeBackend(), store, "", 0).Delete(context.Background(), DefaultNamespace, "a")

	assert.Equal(t, []string{"a_chunk_0", "a_chunk_1", "a_chunk_2"}, report.ChunkIDs)
}
