package registry

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"rag-chat-go/internal/model"
	"rag-chat-go/internal/vectorstore"
	"rag-chat-go/pkg/log"
	"rag-chat-go/pkg/storage"
)

const (
	defaultReconcileProbe = "test"
	defaultReconcileTopK  = 100
)

// ChunkSource 提供本地分块元数据的快照。
type ChunkSource interface {
	Snapshot() map[string]model.ChunkMetadata
}

// RemoteProber 对远端索引做一次宽泛查询。
type RemoteProber interface {
	ProbeRemote(ctx context.Context, query string, topK int) ([]vectorstore.Hit, error)
}

// FileLister 列出上传目录中的原始文件。
type FileLister interface {
	List(ctx context.Context) ([]storage.FileInfo, error)
}

// ReconcileReport 汇总一次登记表重建。
type ReconcileReport struct {
	FromChunks  int `json:"from_chunks"`
	FromRemote  int `json:"from_remote"`
	FromUploads int `json:"from_uploads"`
}

func (r ReconcileReport) Total() int {
	return r.FromChunks + r.FromRemote + r.FromUploads
}

// Reconciler 在登记表丢失后尽力重建它。
//
// 重建是启发式的，结果不保证确定或一致：远端探测只返回相关度最高的一部分记录，
// 文件名按"完全相同、再子串包含"匹配，未被任何分块引用的上传文件用文件名哈希生成 ID。
// 重复或不一致的条目是可以接受的。
type Reconciler struct {
	registry    *Registry
	chunks      ChunkSource
	remote      RemoteProber
	files       FileLister
	allowedExts map[string]bool
	probe       string
	probeTopK   int
	now         func() time.Time
}

func NewReconciler(reg *Registry, chunks ChunkSource, remote RemoteProber, files FileLister, allowedExts []string) *Reconciler {
	exts := make(map[string]bool, len(allowedExts))
	for _, e := range allowedExts {
		exts[strings.ToLower(e)] = true
	}
	return &Reconciler{
		registry:    reg,
		chunks:      chunks,
		remote:      remote,
		files:       files,
		allowedExts: exts,
		probe:       defaultReconcileProbe,
		probeTopK:   defaultReconcileTopK,
		now:         time.Now,
	}
}

// HashDocumentID 返回文件名 MD5 的前 16 位十六进制字符。
func HashDocumentID(filename string) string {
	sum := md5.Sum([]byte(filename))
	return hex.EncodeToString(sum[:])[:16]
}

type candidate struct {
	filename string
	fileType string
	chunks   int
	remote   bool
}

// Reconcile 依次从本地分块缓存、远端探测与上传目录收集文档，
// 只补充登记表中尚不存在的条目，最后整体持久化一次。
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	candidates := make(map[string]*candidate)

	// 1. 本地分块缓存
	for _, meta := range r.chunks.Snapshot() {
		if meta.DocumentID == "" {
			continue
		}
		c := candidates[meta.DocumentID]
		if c == nil {
			c = &candidate{}
			candidates[meta.DocumentID] = c
		}
		c.chunks++
		if c.filename == "" && meta.Filename != "" && meta.Filename != "unknown" {
			c.filename = meta.Filename
		}
		if c.fileType == "" {
			c.fileType = meta.FileType
		}
	}

	// 2. 远端探测，失败时跳过
	if r.remote != nil {
		hits, err := r.remote.ProbeRemote(ctx, r.probe, r.probeTopK)
		if err != nil {
			log.Warnf("[Reconciler] 远端探测失败，跳过: %v", err)
		}
		for _, h := range hits {
			if h.DocumentID == "" || h.DocumentID == "unknown" {
				continue
			}
			c := candidates[h.DocumentID]
			if c == nil {
				c = &candidate{remote: true}
				candidates[h.DocumentID] = c
			}
			if c.remote {
				c.chunks++
			}
			if c.filename == "" && h.Filename != "Unknown" {
				c.filename = h.Filename
			}
			if c.fileType == "" || c.fileType == "unknown" {
				c.fileType = h.FileType
			}
		}
	}

	var files []storage.FileInfo
	if r.files != nil {
		listed, err := r.files.List(ctx)
		if err != nil {
			log.Warnf("[Reconciler] 列出上传目录失败，跳过: %v", err)
		}
		for _, f := range listed {
			if r.allowed(f.Name) {
				files = append(files, f)
			}
		}
	}

	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var restored []model.Document
	represented := make(map[string]bool)
	representedPaths := make(map[string]bool)
	restoredIDs := make(map[string]bool)
	for _, d := range r.registry.GetAll() {
		represented[d.Filename] = true
		if d.FilePath != "" {
			representedPaths[d.FilePath] = true
		}
	}

	for _, id := range ids {
		c := candidates[id]
		if _, exists := r.registry.Get(id); exists {
			continue
		}
		filename := c.filename
		if filename == "" {
			filename = "document_" + truncate(id, 8)
		}
		doc := model.Document{
			ID:          id,
			Filename:    filename,
			UploadDate:  model.ISOTime(r.now()),
			ChunksCount: max(c.chunks, 1),
			FileType:    c.fileType,
		}
		if doc.FileType == "" {
			doc.FileType = "unknown"
		}
		if f, ok := matchFile(files, id, filename); ok {
			_, doc.Filename = displayName(f)
			doc.FilePath = f.Path
			doc.FileSize = f.Size
			representedPaths[f.Path] = true
		}
		represented[doc.Filename] = true
		restoredIDs[id] = true
		restored = append(restored, doc)
		if c.remote {
			report.FromRemote++
		} else {
			report.FromChunks++
		}
	}

	// 3. 上传目录中尚未被任何条目引用的文件
	snapshot := r.chunks.Snapshot()
	for _, f := range files {
		if representedPaths[f.Path] {
			continue
		}
		id, name := displayName(f)
		if id == "" {
			if represented[f.Name] {
				continue
			}
			id = HashDocumentID(f.Name)
		}
		if _, exists := r.registry.Get(id); exists || restoredIDs[id] {
			continue
		}
		count := 0
		for _, meta := range snapshot {
			if meta.DocumentID == id || meta.Filename == name {
				count++
			}
		}
		restored = append(restored, model.Document{
			ID:          id,
			Filename:    name,
			UploadDate:  model.ISOTime(f.ModTime),
			ChunksCount: max(count, 1),
			FileSize:    f.Size,
			FileType:    fileType(name),
			FilePath:    f.Path,
		})
		represented[name] = true
		representedPaths[f.Path] = true
		restoredIDs[id] = true
		report.FromUploads++
	}

	if err := r.registry.AddAll(ctx, restored); err != nil {
		return report, err
	}
	log.Infow("[Reconciler] 登记表重建完成",
		"from_chunks", report.FromChunks,
		"from_remote", report.FromRemote,
		"from_uploads", report.FromUploads)
	return report, nil
}

func (r *Reconciler) allowed(name string) bool {
	if len(r.allowedExts) == 0 {
		return true
	}
	return r.allowedExts[strings.ToLower(filepath.Ext(name))]
}

// displayName 返回存储名中携带的文档 ID 与原始文件名；旧式文件名没有 ID。
func displayName(f storage.FileInfo) (string, string) {
	if id, name, ok := storage.ParseStoredName(f.Name); ok {
		return id, name
	}
	return "", f.Name
}

// matchFile 先按存储名中的文档 ID 匹配，再按文件名完全匹配，最后按子串包含匹配。
func matchFile(files []storage.FileInfo, documentID, filename string) (storage.FileInfo, bool) {
	for _, f := range files {
		if id, _ := displayName(f); id != "" && id == documentID {
			return f, true
		}
	}
	for _, f := range files {
		if _, name := displayName(f); name == filename {
			return f, true
		}
	}
	for _, f := range files {
		if strings.Contains(f.Name, filename) {
			return f, true
		}
	}
	return storage.FileInfo{}, false
}

func fileType(name string) string {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if ext == "" {
		return "unknown"
	}
	return strings.ToLower(ext)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
