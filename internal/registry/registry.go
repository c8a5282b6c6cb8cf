// Package registry 维护已上传文档的登记表，是文档列表与文件名展示的权威来源。
// 登记表整体驻留内存，每次变更后把完整内容交给 Persister 重写。
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"rag-chat-go/internal/model"
	"rag-chat-go/pkg/log"
)

// Persister 负责登记表的整体读取与整体重写。
type Persister interface {
	Load(ctx context.Context) (map[string]model.Document, error)
	Save(ctx context.Context, docs map[string]model.Document) error
}

// Registry 是显式构造、显式 Load/Flush 的文档登记表。
type Registry struct {
	// saveMu 覆盖"修改、取快照、写回"的全过程，保证写回顺序与修改顺序一致。
	saveMu    sync.Mutex
	mu        sync.RWMutex
	docs      map[string]model.Document
	persister Persister
}

func New(p Persister) *Registry {
	return &Registry{docs: make(map[string]model.Document), persister: p}
}

// Load 用持久化内容替换内存中的登记表。
func (r *Registry) Load(ctx context.Context) error {
	docs, err := r.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("加载文档登记表失败: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = make(map[string]model.Document, len(docs))
	for id, d := range docs {
		d.ID = id
		r.docs[id] = d
	}
	log.Infof("[Registry] 已加载 %d 条文档登记", len(r.docs))
	return nil
}

// Flush 把当前内容完整写回持久化层。
func (r *Registry) Flush(ctx context.Context) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()
	r.mu.RLock()
	snapshot := r.copyLocked()
	r.mu.RUnlock()
	if err := r.persister.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("保存文档登记表失败: %w", err)
	}
	return nil
}

// Add 新增或覆盖一条登记并立即持久化。
func (r *Registry) Add(ctx context.Context, doc model.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("文档 ID 不能为空")
	}
	return r.mutate(ctx, func() bool {
		r.docs[doc.ID] = doc
		return true
	})
}

// AddAll 批量写入后只持久化一次。
func (r *Registry) AddAll(ctx context.Context, docs []model.Document) error {
	if len(docs) == 0 {
		return nil
	}
	return r.mutate(ctx, func() bool {
		for _, d := range docs {
			r.docs[d.ID] = d
		}
		return true
	})
}

func (r *Registry) Get(id string) (model.Document, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.docs[id]
	return d, ok
}

// FindByFilename 返回第一条文件名完全相同的登记（按 ID 排序）。
func (r *Registry) FindByFilename(filename string) (model.Document, bool) {
	for _, d := range r.GetAll() {
		if d.Filename == filename {
			return d, true
		}
	}
	return model.Document{}, false
}

// GetAll 按上传时间倒序返回所有登记，时间相同按 ID 排序。
func (r *Registry) GetAll() []model.Document {
	r.mu.RLock()
	docs := make([]model.Document, 0, len(r.docs))
	for _, d := range r.docs {
		docs = append(docs, d)
	}
	r.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool {
		ti, tj := docs[i].UploadDate.Time(), docs[j].UploadDate.Time()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs
}

// Delete 删除一条登记；不存在时不做任何事。
func (r *Registry) Delete(ctx context.Context, id string) error {
	return r.mutate(ctx, func() bool {
		if _, ok := r.docs[id]; !ok {
			return false
		}
		delete(r.docs, id)
		return true
	})
}

// mutate 在写锁内执行 fn，fn 返回 true 时把快照写回持久化层。
func (r *Registry) mutate(ctx context.Context, fn func() bool) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.Lock()
	changed := fn()
	var snapshot map[string]model.Document
	if changed {
		snapshot = r.copyLocked()
	}
	r.mu.Unlock()

	if !changed {
		return nil
	}
	return r.persister.Save(ctx, snapshot)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}

func (r *Registry) copyLocked() map[string]model.Document {
	out := make(map[string]model.Document, len(r.docs))
	for id, d := range r.docs {
		out[id] = d
	}
	return out
}
