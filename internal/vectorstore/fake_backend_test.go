package vectorstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"rag-chat-go/internal/model"
)

// fakeBackend 是内存中的远端后端，可以注入写入与删除错误。
type fakeBackend struct {
	mu sync.Mutex

	records map[string]model.Chunk
	upserts [][]model.Chunk
	deletes [][]string

	upsertErrs []error
	deleteErr  func(ids []string) error
	searchResp SearchResponse
	searchErr  error
	searches   []SearchRequest
	stats      IndexStats
	deletedNS  []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{records: make(map[string]model.Chunk)}
}

func (f *fakeBackend) UpsertRecords(_ context.Context, _ string, records []model.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.upsertErrs) > 0 {
		err := f.upsertErrs[0]
		f.upsertErrs = f.upsertErrs[1:]
		if err != nil {
			return err
		}
	}
	f.upserts = append(f.upserts, records)
	for _, r := range records {
		f.records[r.ID] = r
	}
	return nil
}

func (f *fakeBackend) Search(_ context.Context, _ string, req SearchRequest) (SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, req)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if f.searchResp != nil {
		return f.searchResp, nil
	}
	var hits []any
	for id, r := range f.records {
		hits = append(hits, map[string]any{"_id": id, "_score": 0.5, "fields": map[string]any{"text": r.Text}})
	}
	return RawResponse{"result": map[string]any{"hits": hits}}, nil
}

func (f *fakeBackend) Delete(_ context.Context, _ string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		if err := f.deleteErr(ids); err != nil {
			return err
		}
	}
	f.deletes = append(f.deletes, ids)
	for _, id := range ids {
		delete(f.records, id)
	}
	return nil
}

func (f *fakeBackend) DeleteAll(_ context.Context, namespace string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedNS = append(f.deletedNS, namespace)
	f.records = make(map[string]model.Chunk)
	return nil
}

func (f *fakeBackend) DescribeStats(context.Context) (IndexStats, error) {
	return f.stats, nil
}

type statusErr struct{ code int }

func (e statusErr) Error() string   { return "remote returned an error status" }
func (e statusErr) HTTPStatus() int { return e.code }

var errTransient = errors.New("connection reset by peer")

// recordingSleep 记录等待时长而不真正休眠。
type recordingSleep struct {
	delays []time.Duration
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func newTestUpserter(backend Backend, store *ChunkStore, cfg UpsertConfig) (*Upserter, *recordingSleep) {
	u := NewUpserter(backend, store, cfg)
	rec := &recordingSleep{}
	u.sleep = rec.sleep
	u.jitter = func(min, _ float64) float64 { return min }
	return u, rec
}

func makeChunks(docID string, n int, text string) []model.Chunk {
	chunks := make([]model.Chunk, n)
	for i := range chunks {
		chunks[i] = model.Chunk{
			ID:         model.ChunkID(docID, i),
			DocumentID: docID,
			Text:       text,
			Filename:   docID + ".txt",
			FileType:   "txt",
			UploadDate: "2024-05-01T10:00:00Z",
		}
	}
	return chunks
}
