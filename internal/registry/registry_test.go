package registry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-chat-go/internal/model"
)

func sampleDoc(id, filename string, uploaded time.Time) model.Document {
	return model.Document{
		ID:          id,
		Filename:    filename,
		UploadDate:  model.ISOTime(uploaded),
		ChunksCount: 4,
		FileSize:    3000,
		FileType:    "txt",
		FilePath:    "/data/uploads/" + filename,
	}
}

func TestRegistry_RoundTripThroughFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "document_registry.json")
	uploaded := time.Date(2024, 5, 1, 10, 30, 15, 123456789, time.UTC)

	reg := New(NewFilePersister(path))
	require.NoError(t, reg.Add(ctx, sampleDoc("doc-1", "notes.txt", uploaded)))
	require.NoError(t, reg.Add(ctx, sampleDoc("doc-2", "报告.pdf", uploaded.Add(time.Hour))))

	reloaded := New(NewFilePersister(path))
	require.NoError(t, reloaded.Load(ctx))
	require.Equal(t, 2, reloaded.Len())

	got, ok := reloaded.Get("doc-1")
	require.True(t, ok)
	want := sampleDoc("doc-1", "notes.txt", uploaded)
	assert.Equal(t, want.Filename, got.Filename)
	assert.Equal(t, want.ChunksCount, got.ChunksCount)
	assert.Equal(t, want.FileSize, got.FileSize)
	assert.Equal(t, want.FileType, got.FileType)
	assert.Equal(t, want.FilePath, got.FilePath)
	assert.True(t, uploaded.Equal(got.UploadDate.Time()))

	all := reloaded.GetAll()
	require.Len(t, all, 2)
	assert.Equal(t, "doc-2", all[0].ID, "newest first")
}

func TestFilePersister_Format(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "document_registry.json")
	reg := New(NewFilePersister(path))
	require.NoError(t, reg.Add(ctx, sampleDoc("doc-1", "notes.txt", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var obj map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &obj))
	require.Contains(t, obj, "doc-1")
	assert.Equal(t, "2024-05-01T00:00:00Z", obj["doc-1"]["upload_date"])
	assert.Equal(t, "notes.txt", obj["doc-1"]["filename"])
	assert.NotContains(t, obj["doc-1"], "id")
}

func TestFilePersister_ReadsNaiveISODates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "document_registry.json")
	legacy := `{"abc": {"filename": "a.txt", "upload_date": "2024-05-01T10:00:00.500000", "chunks_count": 2, "file_size": 10, "file_type": "txt", "file_path": "uploads/a.txt"}}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	reg := New(NewFilePersister(path))
	require.NoError(t, reg.Load(context.Background()))

	doc, ok := reg.Get("abc")
	require.True(t, ok)
	assert.Equal(t, "abc", doc.ID)
	assert.Equal(t, 500000000, doc.UploadDate.Time().Nanosecond())
}

func TestFilePersister_MissingFileIsEmpty(t *testing.T) {
	reg := New(NewFilePersister(filepath.Join(t.TempDir(), "absent.json")))
	require.NoError(t, reg.Load(context.Background()))
	assert.Zero(t, reg.Len())
}

func TestFilePersister_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "document_registry.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	err := New(NewFilePersister(path)).Load(context.Background())
	assert.Error(t, err)
}

func TestRegistry_DeleteAndFindByFilename(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "r.json")
	reg := New(NewFilePersister(path))
	require.NoError(t, reg.Add(ctx, sampleDoc("doc-1", "notes.txt", time.Now())))

	found, ok := reg.FindByFilename("notes.txt")
	require.True(t, ok)
	assert.Equal(t, "doc-1", found.ID)

	require.NoError(t, reg.Delete(ctx, "doc-1"))
	require.NoError(t, reg.Delete(ctx, "doc-1"))
	_, ok = reg.Get("doc-1")
	assert.False(t, ok)

	reloaded := New(NewFilePersister(path))
	require.NoError(t, reloaded.Load(ctx))
	assert.Zero(t, reloaded.Len())
}

func TestRegistry_AddRequiresID(t *testing.T) {
	reg := New(NewFilePersister(filepath.Join(t.TempDir(), "r.json")))
	assert.Error(t, reg.Add(context.Background(), model.Document{Filename: "x"}))
}

// gatedPersister 让第一次 Save 停在 release 上，记录最后一次写回的快照。
type gatedPersister struct {
	mu      sync.Mutex
	calls   int
	last    map[string]model.Document
	entered chan struct{}
	release chan struct{}
}

func (p *gatedPersister) Load(context.Context) (map[string]model.Document, error) {
	return map[string]model.Document{}, nil
}

func (p *gatedPersister) Save(_ context.Context, docs map[string]model.Document) error {
	p.mu.Lock()
	p.calls++
	first := p.calls == 1
	p.mu.Unlock()
	if first {
		close(p.entered)
		<-p.release
	}
	p.mu.Lock()
	p.last = docs
	p.mu.Unlock()
	return nil
}

func TestRegistry_ConcurrentAddsPersistInOrder(t *testing.T) {
	p := &gatedPersister{entered: make(chan struct{}), release: make(chan struct{})}
	reg := New(p)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, reg.Add(ctx, model.Document{ID: "a", Filename: "a.txt"}))
	}()
	<-p.entered
	go func() {
		defer wg.Done()
		assert.NoError(t, reg.Add(ctx, model.Document{ID: "b", Filename: "b.txt"}))
	}()
	time.Sleep(50 * time.Millisecond)
	close(p.release)
	wg.Wait()

	assert.Equal(t, 2, reg.Len())
	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, 2, p.calls)
	assert.Contains(t, p.last, "a")
	assert.Contains(t, p.last, "b")
}
