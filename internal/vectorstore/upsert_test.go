package vectorstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsert_ThrottlesOnlyBetweenBatches(t *testing.T) {
	backend := newFakeBackend()
	store := NewChunkStore()
	u, rec := newTestUpserter(backend, store, DefaultUpsertConfig())

	chunks := makeChunks("doc1", 25, strings.Repeat("b", 67))
	report, err := u.Upsert(context.Background(), DefaultNamespace, chunks)

	require.NoError(t, err)
	assert.Equal(t, 2, report.Batches)
	require.Len(t, backend.upserts, 2)
	assert.Len(t, backend.upserts[0], 20)
	assert.Len(t, backend.upserts[1], 5)

	// 2000 tokens / 3000 < 2s，所以等待 2s + 0.1s 抖动，且只在第一批之后等待
	require.Len(t, rec.delays, 1)
	assert.InDelta(t, 2.1, rec.delays[0].Seconds(), 1e-6)
}

func TestUpsert_DelayScalesWithBatchTokens(t *testing.T) {
	backend := newFakeBackend()
	u, rec := newTestUpserter(backend, NewChunkStore(), DefaultUpsertConfig())

	// 每条 6000 个字符 -> 9000 tokens，两条一批 18000 tokens -> 6s
	chunks := makeChunks("doc1", 4, strings.Repeat("t", 6000))
	_, err := u.Upsert(context.Background(), DefaultNamespace, chunks)

	require.NoError(t, err)
	require.Len(t, rec.delays, 1)
	assert.InDelta(t, 6.1, rec.delays[0].Seconds(), 1e-6)
}

func TestUpsert_UpdatesStoreAndTracking(t *testing.T) {
	backend := newFakeBackend()
	store := NewChunkStore()
	u, _ := newTestUpserter(backend, store, DefaultUpsertConfig())

	chunks := makeChunks("doc1", 3, "hello world")
	report, err := u.Upsert(context.Background(), DefaultNamespace, chunks)

	require.NoError(t, err)
	assert.Equal(t, []string{"doc1_chunk_0", "doc1_chunk_1", "doc1_chunk_2"}, report.ChunkIDs)
	assert.Equal(t, report.ChunkIDs, store.Tracked("doc1"))

	meta, ok := store.Get("doc1_chunk_1")
	require.True(t, ok)
	assert.Equal(t, "doc1", meta.DocumentID)
	assert.Equal(t, "doc1.txt", meta.Filename)
	assert.Equal(t, "hello world", meta.Text)
}

func TestUpsert_RetriesRateLimitWithExponentialBackoff(t *testing.T) {
	backend := newFakeBackend()
	backend.upsertErrs = []error{
		statusErr{code: 429},
		errors.New("RESOURCE_EXHAUSTED: quota"),
		nil,
	}
	u, rec := newTestUpserter(backend, NewChunkStore(), DefaultUpsertConfig())

	_, err := u.Upsert(context.Background(), DefaultNamespace, makeChunks("doc1", 2, "x"))

	require.NoError(t, err)
	require.Len(t, backend.upserts, 1)
	// 5*2^0+1, 5*2^1+1
	assert.Equal(t, []time.Duration{6 * time.Second, 11 * time.Second}, rec.delays)
}

func TestUpsert_RateLimitBackoffIsCapped(t *testing.T) {
	u, _ := newTestUpserter(newFakeBackend(), NewChunkStore(), DefaultUpsertConfig())
	assert.Equal(t, 60*time.Second, u.retryDelay(4, true))
	assert.Equal(t, 41*time.Second, u.retryDelay(3, true))
	assert.Equal(t, 10*time.Second, u.retryDelay(4, false))
}

func TestUpsert_TransientErrorsUseLinearBackoff(t *testing.T) {
	backend := newFakeBackend()
	backend.upsertErrs = []error{errTransient, errTransient, nil}
	u, rec := newTestUpserter(backend, NewChunkStore(), DefaultUpsertConfig())

	_, err := u.Upsert(context.Background(), DefaultNamespace, makeChunks("doc1", 1, "x"))

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.delays)
}

func TestUpsert_RateLimitExhaustionIsFatal(t *testing.T) {
	backend := newFakeBackend()
	quota := errors.New("429 Too Many Requests: tokens per minute exceeded")
	backend.upsertErrs = []error{nil, quota, quota, quota, quota, quota}
	store := NewChunkStore()
	u, rec := newTestUpserter(backend, store, DefaultUpsertConfig())

	chunks := makeChunks("doc1", 25, "x")
	report, err := u.Upsert(context.Background(), DefaultNamespace, chunks)

	require.Error(t, err)
	var rle *RateLimitExceededError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 2, rle.Batch)
	assert.Equal(t, 2, rle.Total)
	assert.ErrorIs(t, err, quota)
	assert.Contains(t, err.Error(), "tokens per minute exceeded")

	// 第一批已提交，不回滚
	assert.Len(t, report.ChunkIDs, 20)
	assert.Len(t, store.Tracked("doc1"), 20)
	// 1 次批次间等待 + 4 次重试等待
	assert.Len(t, rec.delays, 5)
}

func TestUpsert_TransientExhaustionReturnsRemoteBackendError(t *testing.T) {
	backend := newFakeBackend()
	backend.upsertErrs = []error{errTransient, errTransient, errTransient, errTransient, errTransient}
	store := NewChunkStore()
	u, _ := newTestUpserter(backend, store, DefaultUpsertConfig())

	_, err := u.Upsert(context.Background(), DefaultNamespace, makeChunks("doc1", 1, "x"))

	var rbe *RemoteBackendError
	require.ErrorAs(t, err, &rbe)
	assert.Equal(t, "Failed to upload batch 1/1: connection reset by peer", err.Error())
	assert.Zero(t, store.Len())
}

func TestUpsert_StopsOnContextCancel(t *testing.T) {
	backend := newFakeBackend()
	u := NewUpserter(backend, NewChunkStore(), DefaultUpsertConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := u.Upsert(ctx, DefaultNamespace, makeChunks("doc1", 25, "x"))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, backend.upserts, 1)
}

func TestIsRateLimit(t *testing.T) {
	assert.True(t, IsRateLimit(statusErr{code: 429}))
	assert.True(t, IsRateLimit(errors.New("Rate Limit reached")))
	assert.True(t, IsRateLimit(errors.New("RESOURCE_EXHAUSTED")))
	assert.False(t, IsRateLimit(statusErr{code: 503}))
	assert.False(t, IsRateLimit(nil))
}
