package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-chat-go/internal/model"
)

type mapLookup map[string]model.Document

func (m mapLookup) Get(id string) (model.Document, bool) {
	d, ok := m[id]
	return d, ok
}

func TestNormalize_AcceptsEveryKnownShape(t *testing.T) {
	item := map[string]any{"_id": "doc1_chunk_0", "_score": 0.9, "text": "alpha"}
	typed := Match{ID: "doc1_chunk_0", Score: 0.9, Text: "alpha"}

	tests := []struct {
		name string
		resp SearchResponse
	}{
		{"matches attribute", MatchesResponse{Matches: []Match{typed}}},
		{"result.hits attribute", ResultHitsResponse{Hits: []Match{typed}}},
		{"dict result.hits", RawResponse{"result": map[string]any{"hits": []any{item}}}},
		{"dict hits", RawResponse{"hits": []any{item}}},
		{"dict matches", RawResponse{"matches": []any{map[string]any{"id": "doc1_chunk_0", "score": 0.9, "text": "alpha"}}}},
	}

	n := NewNormalizer(NewChunkStore(), nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := n.Normalize(tt.resp)
			require.NoError(t, err)
			require.Len(t, hits, 1)
			assert.Equal(t, "doc1_chunk_0", hits[0].ID)
			assert.Equal(t, 0.9, hits[0].Score)
			assert.Equal(t, "alpha", hits[0].Text)
			assert.Equal(t, "doc1", hits[0].DocumentID)
		})
	}
}

func TestNormalize_UnrecognizedShape(t *testing.T) {
	n := NewNormalizer(NewChunkStore(), nil)

	_, err := n.Normalize(RawResponse{"usage": map[string]any{"read_units": 1}})
	assert.ErrorIs(t, err, ErrUnrecognizedShape)

	_, err = n.Normalize(nil)
	assert.ErrorIs(t, err, ErrUnrecognizedShape)
}

func TestNormalize_EmptyHitsIsNotAnError(t *testing.T) {
	n := NewNormalizer(NewChunkStore(), nil)
	hits, err := n.Normalize(RawResponse{"result": map[string]any{"hits": []any{}}})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestNormalize_PreservesRemoteOrder(t *testing.T) {
	n := NewNormalizer(NewChunkStore(), nil)
	resp := MatchesResponse{Matches: []Match{
		{ID: "b_chunk_0", Score: 0.2, Text: "second"},
		{ID: "a_chunk_0", Score: 0.9, Text: "first"},
	}}

	hits, err := n.Normalize(resp)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "b_chunk_0", hits[0].ID)
	assert.Equal(t, "a_chunk_0", hits[1].ID)
}

func TestNormalize_TextFallbackOrder(t *testing.T) {
	store := NewChunkStore()
	store.Put("doc1_chunk_3", model.ChunkMetadata{DocumentID: "doc1", Text: "from store"})
	n := NewNormalizer(store, nil)

	tests := []struct {
		name  string
		match map[string]any
		want  string
	}{
		{"direct text", map[string]any{"_id": "doc1_chunk_3", "text": "direct", "fields": map[string]any{"text": "fields"}}, "direct"},
		{"fields.text", map[string]any{"_id": "doc1_chunk_3", "fields": map[string]any{"text": "fields"}, "metadata": map[string]any{"text": "meta"}}, "fields"},
		{"metadata.text", map[string]any{"_id": "doc1_chunk_3", "metadata": map[string]any{"text": "meta"}}, "meta"},
		{"local store", map[string]any{"_id": "doc1_chunk_3"}, "from store"},
		{"placeholder", map[string]any{"_id": "doc9_chunk_0"}, "[Document ID: doc9_chunk_0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := n.Normalize(RawResponse{"hits": []any{tt.match}})
			require.NoError(t, err)
			require.Len(t, hits, 1)
			assert.Equal(t, tt.want, hits[0].Text)
		})
	}
}

func TestNormalize_StoreFillsMissingMetadata(t *testing.T) {
	store := NewChunkStore()
	store.Put("doc1_chunk_0", model.ChunkMetadata{
		DocumentID: "doc1", Filename: "report.pdf", FileType: "pdf", UploadDate: "2024-05-01T10:00:00Z", Text: "body",
	})
	n := NewNormalizer(store, nil)

	hits, err := n.Normalize(MatchesResponse{Matches: []Match{{ID: "doc1_chunk_0"}}})

	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "report.pdf", hits[0].Filename)
	assert.Equal(t, "pdf", hits[0].FileType)
	assert.Equal(t, "doc1", hits[0].DocumentID)
	assert.Equal(t, "2024-05-01T10:00:00Z", hits[0].UploadDate)
	assert.Equal(t, "body", hits[0].Text)
}

func TestNormalize_DirectFieldsWinOverStore(t *testing.T) {
	store := NewChunkStore()
	store.Put("doc1_chunk_0", model.ChunkMetadata{DocumentID: "doc1", Filename: "stale.pdf", FileType: "pdf"})
	n := NewNormalizer(store, nil)

	t.Run("top level fields", func(t *testing.T) {
		hits, err := n.Normalize(RawResponse{"matches": []any{map[string]any{
			"id": "doc1_chunk_0", "text": "t", "filename": "fresh.docx", "file_type": "docx",
		}}})
		require.NoError(t, err)
		assert.Equal(t, "fresh.docx", hits[0].Filename)
		assert.Equal(t, "docx", hits[0].FileType)
	})

	t.Run("record fields map", func(t *testing.T) {
		hits, err := n.Normalize(RawResponse{"result": map[string]any{"hits": []any{map[string]any{
			"_id": "doc1_chunk_0", "fields": map[string]any{"text": "t", "filename": "fresh.docx"},
		}}}})
		require.NoError(t, err)
		assert.Equal(t, "fresh.docx", hits[0].Filename)
		assert.Equal(t, "pdf", hits[0].FileType, "absent direct field is filled from the store")
	})
}

func TestNormalize_RegistryAndUnknownFallback(t *testing.T) {
	docs := mapLookup{"doc2": {ID: "doc2", Filename: "notes.txt", FileType: "txt"}}
	store := NewChunkStore()
	store.Put("doc3_chunk_0", model.ChunkMetadata{DocumentID: "doc3", Filename: "unknown", Text: "x"})
	n := NewNormalizer(store, docs)

	hits, err := n.Normalize(MatchesResponse{Matches: []Match{
		{ID: "doc2_chunk_4", Text: "cold cache"},
		{ID: "doc3_chunk_0"},
		{ID: "orphan", Text: "no id pattern"},
	}})

	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, "doc2", hits[0].DocumentID)
	assert.Equal(t, "notes.txt", hits[0].Filename)
	assert.Equal(t, "txt", hits[0].FileType)

	assert.Equal(t, "Unknown", hits[1].Filename, "sentinel filename with no registry entry")

	assert.Equal(t, "unknown", hits[2].DocumentID)
	assert.Equal(t, "Unknown", hits[2].Filename)
}

func TestHit_Source(t *testing.T) {
	h := Hit{ID: "d_chunk_0", Text: "content", DocumentID: "d", Filename: "f.txt"}
	assert.Equal(t, model.Source{Filename: "f.txt", DocumentID: "d", Content: "content"}, h.Source())
}
