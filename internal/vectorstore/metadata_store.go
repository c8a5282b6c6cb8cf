package vectorstore

import (
	"sort"
	"sync"

	"rag-chat-go/internal/model"
)

// ChunkStore 是进程内的分块元数据缓存，同时维护每个文档已写入的分块 ID 列表。
// 条目没有淘汰策略，进程退出或显式删除时才会消失。
//
// 锁只保证 map 本身的内存安全。同一文档的写入与删除并发进行时，
// 删除可能读取到写入前的分块列表，调用方需要自行避免这种用法。
type ChunkStore struct {
	mu      sync.RWMutex
	chunks  map[string]model.ChunkMetadata
	tracked map[string][]string
}

func NewChunkStore() *ChunkStore {
	return &ChunkStore{
		chunks:  make(map[string]model.ChunkMetadata),
		tracked: make(map[string][]string),
	}
}

// Put 写入或覆盖一条分块元数据。
func (s *ChunkStore) Put(chunkID string, meta model.ChunkMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[chunkID] = meta
}

// PutChunks 写入一批分块，并把它们追加到各自文档的跟踪列表。
func (s *ChunkStore) PutChunks(chunks []model.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		s.chunks[c.ID] = c.Metadata()
		s.tracked[c.DocumentID] = append(s.tracked[c.DocumentID], c.ID)
	}
}

func (s *ChunkStore) Get(chunkID string) (model.ChunkMetadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.chunks[chunkID]
	return meta, ok
}

// Scan 返回所有满足 pred 的分块 ID，按字典序排列。
func (s *ChunkStore) Scan(pred func(chunkID string, meta model.ChunkMetadata) bool) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, meta := range s.chunks {
		if pred(id, meta) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Snapshot 返回当前所有条目的副本。
func (s *ChunkStore) Snapshot() map[string]model.ChunkMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.ChunkMetadata, len(s.chunks))
	for id, meta := range s.chunks {
		out[id] = meta
	}
	return out
}

func (s *ChunkStore) Delete(chunkIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range chunkIDs {
		delete(s.chunks, id)
	}
}

// Clear 清空所有元数据与跟踪列表。
func (s *ChunkStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = make(map[string]model.ChunkMetadata)
	s.tracked = make(map[string][]string)
}

func (s *ChunkStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Tracked 返回文档已跟踪分块 ID 的副本。
func (s *ChunkStore) Tracked(documentID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.tracked[documentID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

func (s *ChunkStore) Untrack(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tracked, documentID)
}
