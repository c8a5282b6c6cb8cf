// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"rag-chat-go/internal/config"
	"rag-chat-go/internal/model"
	"rag-chat-go/internal/pipeline"
	"rag-chat-go/internal/registry"
	"rag-chat-go/internal/vectorstore"
	"rag-chat-go/pkg/log"
	"rag-chat-go/pkg/storage"
	"rag-chat-go/pkg/tasks"
)

// VectorIndex 是文档服务用到的检索层能力，vectorstore.Manager 满足该接口。
type VectorIndex interface {
	AddDocuments(ctx context.Context, chunks []model.Chunk) ([]string, error)
	DeleteDocument(ctx context.Context, documentID string) vectorstore.DeletionReport
	ClearIndex(ctx context.Context) (vectorstore.ClearReport, error)
	Stats(ctx context.Context) (vectorstore.IndexStats, error)
	Namespace() string
}

// ChunkProcessor 把原始文件转换为分块，pipeline.Processor 满足该接口。
type ChunkProcessor interface {
	Process(ctx context.Context, documentID, filename string, data []byte, uploadDate model.ISOTime) ([]model.Chunk, error)
}

// RegistryReconciler 在登记表为空时尝试重建它。
type RegistryReconciler interface {
	Reconcile(ctx context.Context) (registry.ReconcileReport, error)
}

// ReindexPublisher 把重建任务投递到消息队列。
type ReindexPublisher interface {
	Publish(ctx context.Context, task tasks.ReindexTask) error
}

// UploadResult 是上传或重建的结果。
type UploadResult struct {
	DocumentID  string `json:"document_id"`
	Filename    string `json:"filename"`
	ChunksCount int    `json:"chunks_count"`
	FileSize    int64  `json:"file_size"`
}

// DeleteResult 是删除文档的结果，删除不存在的文档也视为成功。
type DeleteResult struct {
	DocumentID    string                     `json:"document_id"`
	Filename      string                     `json:"filename"`
	Found         bool                       `json:"found"`
	ChunksDeleted bool                       `json:"chunks_deleted"`
	Message       string                     `json:"message"`
	Report        vectorstore.DeletionReport `json:"report"`
}

// StatsResult 汇总远端索引与登记表的统计。
type StatsResult struct {
	Index     vectorstore.IndexStats `json:"index"`
	Namespace string                 `json:"namespace"`
	Documents int                    `json:"documents"`
	Chunks    int                    `json:"local_chunks"`
}

// DocumentService 接口定义了文档管理相关的业务操作。
type DocumentService interface {
	Upload(ctx context.Context, filename string, data []byte) (UploadResult, error)
	List(ctx context.Context) ([]model.Document, error)
	Delete(ctx context.Context, idOrFilename string) (DeleteResult, error)
	Reload(ctx context.Context, documentID string) (UploadResult, error)
	EnqueueReload(ctx context.Context, documentID string) error
	ProcessReindex(ctx context.Context, task tasks.ReindexTask) error
	ClearIndex(ctx context.Context) (vectorstore.ClearReport, error)
	Stats(ctx context.Context) (StatsResult, error)
	ImportSeedFiles(ctx context.Context, dir string) (int, error)
}

type documentService struct {
	index      VectorIndex
	processor  ChunkProcessor
	registry   *registry.Registry
	reconciler RegistryReconciler
	files      storage.FileStore
	publisher  ReindexPublisher
	uploadCfg  config.UploadConfig
	chunkCount func() int
	newID      func() string
	now        func() time.Time
}

// DocumentServiceDeps 汇总 DocumentService 的依赖，Reconciler 与 Publisher 可为空。
type DocumentServiceDeps struct {
	Index      VectorIndex
	Processor  ChunkProcessor
	Registry   *registry.Registry
	Reconciler RegistryReconciler
	Files      storage.FileStore
	Publisher  ReindexPublisher
	Upload     config.UploadConfig
	// LocalChunks 返回本地元数据缓存中的分块数，用于统计。
	LocalChunks func() int
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(deps DocumentServiceDeps) DocumentService {
	if deps.LocalChunks == nil {
		deps.LocalChunks = func() int { return 0 }
	}
	return &documentService{
		index:      deps.Index,
		processor:  deps.Processor,
		registry:   deps.Registry,
		reconciler: deps.Reconciler,
		files:      deps.Files,
		publisher:  deps.Publisher,
		uploadCfg:  deps.Upload,
		chunkCount: deps.LocalChunks,
		newID:      uuid.NewString,
		now:        time.Now,
	}
}

func (s *documentService) validate(filename string, size int) error {
	ext := strings.ToLower(filepath.Ext(filename))
	allowed := false
	for _, e := range s.uploadCfg.AllowedExts {
		if strings.EqualFold(e, ext) {
			allowed = true
			break
		}
	}
	if !allowed {
		return &ValidationError{
			Kind:    KindUnsupportedType,
			Message: fmt.Sprintf("Unsupported file type. Allowed: %s", strings.Join(s.uploadCfg.AllowedExts, ", ")),
		}
	}
	if s.uploadCfg.MaxFileSize > 0 && int64(size) > s.uploadCfg.MaxFileSize {
		return &ValidationError{
			Kind:    KindSizeExceeded,
			Message: fmt.Sprintf("File size exceeds maximum allowed size of %d bytes", s.uploadCfg.MaxFileSize),
		}
	}
	return nil
}

// Upload 校验、保存、切分并写入索引，最后登记。提取或写入失败时删除已保存的文件。
func (s *documentService) Upload(ctx context.Context, filename string, data []byte) (UploadResult, error) {
	filename = filepath.Base(filename)
	if err := s.validate(filename, len(data)); err != nil {
		return UploadResult{}, err
	}

	documentID := s.newID()
	path, err := s.files.Save(ctx, storage.StoredName(documentID, filename), data)
	if err != nil {
		return UploadResult{}, fmt.Errorf("保存上传文件失败: %w", err)
	}
	cleanup := func() {
		if rmErr := s.files.Remove(ctx, path); rmErr != nil {
			log.Warnf("[DocumentService] 清理上传文件 %s 失败: %v", path, rmErr)
		}
	}

	uploadDate := model.ISOTime(s.now())
	chunks, err := s.processor.Process(ctx, documentID, filename, data, uploadDate)
	if err != nil {
		cleanup()
		return UploadResult{}, &ExtractionError{Filename: filename, Err: err}
	}

	if _, err := s.index.AddDocuments(ctx, chunks); err != nil {
		cleanup()
		return UploadResult{}, err
	}

	doc := model.Document{
		ID:          documentID,
		Filename:    filename,
		UploadDate:  uploadDate,
		ChunksCount: len(chunks),
		FileSize:    int64(len(data)),
		FileType:    pipeline.FileType(filename),
		FilePath:    path,
	}
	if err := s.registry.Add(ctx, doc); err != nil {
		return UploadResult{}, fmt.Errorf("登记文档失败: %w", err)
	}
	log.Infof("[DocumentService] 文档上传完成: %s (%s), %d 个分块", filename, documentID, len(chunks))
	return UploadResult{DocumentID: documentID, Filename: filename, ChunksCount: len(chunks), FileSize: doc.FileSize}, nil
}

// List 返回所有登记的文档；登记表为空时先尝试重建。
func (s *documentService) List(ctx context.Context) ([]model.Document, error) {
	if s.registry.Len() == 0 && s.reconciler != nil {
		if _, err := s.reconciler.Reconcile(ctx); err != nil {
			log.Warnf("[DocumentService] 重建登记表失败: %v", err)
		}
	}
	return s.registry.GetAll(), nil
}

func (s *documentService) resolve(idOrFilename string) (model.Document, bool) {
	if doc, ok := s.registry.Get(idOrFilename); ok {
		return doc, true
	}
	return s.registry.FindByFilename(idOrFilename)
}

// Delete 按文档 ID 或文件名删除。远端删除尽力而为，本地文件与登记始终清理。
func (s *documentService) Delete(ctx context.Context, idOrFilename string) (DeleteResult, error) {
	doc, found := s.resolve(idOrFilename)
	documentID := idOrFilename
	if found {
		documentID = doc.ID
	}

	report := s.index.DeleteDocument(ctx, documentID)
	result := DeleteResult{
		DocumentID:    documentID,
		Filename:      doc.Filename,
		Found:         found,
		ChunksDeleted: report.Deleted > 0,
		Report:        report,
	}

	if !found {
		if report.ChunksFound() {
			result.Message = fmt.Sprintf("Document '%s' was not registered; removed %d orphaned chunks", documentID, report.Deleted)
		} else {
			result.Message = fmt.Sprintf("Document '%s' not found; nothing to delete", documentID)
		}
		return result, nil
	}

	if doc.FilePath != "" {
		if err := s.files.Remove(ctx, doc.FilePath); err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.Warnf("[DocumentService] 删除原始文件 %s 失败: %v", doc.FilePath, err)
		}
	}
	if err := s.registry.Delete(ctx, documentID); err != nil {
		log.Warnf("[DocumentService] 删除登记 %s 失败: %v", documentID, err)
	}

	label := doc.Filename
	if label == "" {
		label = documentID
	}
	result.Message = fmt.Sprintf("Document '%s' deleted successfully", label)
	return result, nil
}

// Reload 删除旧分块后用原始文件重新切分，并以同一文档 ID 写回索引。
func (s *documentService) Reload(ctx context.Context, documentID string) (UploadResult, error) {
	doc, ok := s.registry.Get(documentID)
	if !ok {
		return UploadResult{}, fmt.Errorf("%w: %s", ErrNotFound, documentID)
	}
	exists, err := s.files.Exists(ctx, doc.FilePath)
	if err != nil {
		return UploadResult{}, fmt.Errorf("检查原始文件失败: %w", err)
	}
	if !exists {
		return UploadResult{}, fmt.Errorf("%w: original file not found", ErrNotFound)
	}
	data, err := s.files.Read(ctx, doc.FilePath)
	if errors.Is(err, storage.ErrNotFound) {
		return UploadResult{}, fmt.Errorf("%w: original file not found", ErrNotFound)
	}
	if err != nil {
		return UploadResult{}, fmt.Errorf("读取原始文件失败: %w", err)
	}

	s.index.DeleteDocument(ctx, documentID)

	uploadDate := model.ISOTime(s.now())
	chunks, err := s.processor.Process(ctx, documentID, doc.Filename, data, uploadDate)
	if err != nil {
		return UploadResult{}, &ExtractionError{Filename: doc.Filename, Err: err}
	}
	if _, err := s.index.AddDocuments(ctx, chunks); err != nil {
		return UploadResult{}, err
	}

	doc.ChunksCount = len(chunks)
	doc.UploadDate = uploadDate
	doc.FileSize = int64(len(data))
	if err := s.registry.Add(ctx, doc); err != nil {
		return UploadResult{}, fmt.Errorf("更新登记失败: %w", err)
	}
	log.Infof("[DocumentService] 文档重建完成: %s (%s), %d 个分块", doc.Filename, documentID, len(chunks))
	return UploadResult{DocumentID: documentID, Filename: doc.Filename, ChunksCount: len(chunks), FileSize: doc.FileSize}, nil
}

// EnqueueReload 校验文档存在后投递异步重建任务。
func (s *documentService) EnqueueReload(ctx context.Context, documentID string) error {
	doc, ok := s.registry.Get(documentID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, documentID)
	}
	if s.publisher == nil {
		return ErrAsyncUnavailable
	}
	task := tasks.ReindexTask{
		DocumentID:  documentID,
		Filename:    doc.Filename,
		RequestedAt: model.ISOTime(s.now()).String(),
	}
	if err := s.publisher.Publish(ctx, task); err != nil {
		return fmt.Errorf("投递重建任务失败: %w", err)
	}
	return nil
}

// ProcessReindex 供消息队列消费者调用。
func (s *documentService) ProcessReindex(ctx context.Context, task tasks.ReindexTask) error {
	_, err := s.Reload(ctx, task.DocumentID)
	return err
}

// ClearIndex 清空远端索引与本地分块缓存，登记表保持不变。
func (s *documentService) ClearIndex(ctx context.Context) (vectorstore.ClearReport, error) {
	return s.index.ClearIndex(ctx)
}

func (s *documentService) Stats(ctx context.Context) (StatsResult, error) {
	stats, err := s.index.Stats(ctx)
	if err != nil {
		return StatsResult{}, fmt.Errorf("获取索引统计失败: %w", err)
	}
	return StatsResult{
		Index:     stats,
		Namespace: s.index.Namespace(),
		Documents: s.registry.Len(),
		Chunks:    s.chunkCount(),
	}, nil
}

// ImportSeedFiles 通过标准上传流程导入目录下的文件，已登记的文件名会被跳过。
func (s *documentService) ImportSeedFiles(ctx context.Context, dir string) (int, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("[DocumentService] 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return 0, nil
	}

	imported := 0
	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := info.Name()
		if _, exists := s.registry.FindByFilename(name); exists {
			log.Infof("[DocumentService] 已存在，跳过: %s", name)
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warnf("[DocumentService] 读取文件失败: %s, err=%v", path, err)
			return nil
		}
		if _, err := s.Upload(ctx, name, data); err != nil {
			log.Warnf("[DocumentService] 导入失败: %s, err=%v", path, err)
			return nil
		}
		imported++
		return nil
	})
	if walkErr != nil {
		return imported, walkErr
	}
	return imported, nil
}
