package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"rag-chat-go/internal/model"
)

// fileEntry 是 JSON 文件中的值，键为文档 ID。
type fileEntry struct {
	Filename    string        `json:"filename"`
	UploadDate  model.ISOTime `json:"upload_date"`
	ChunksCount int           `json:"chunks_count"`
	FileSize    int64         `json:"file_size"`
	FileType    string        `json:"file_type"`
	FilePath    string        `json:"file_path"`
}

// FilePersister 把登记表保存为单个 JSON 对象，每次变更整体重写。
type FilePersister struct {
	path string
}

func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Load 文件不存在时返回空登记表。
func (p *FilePersister) Load(_ context.Context) (map[string]model.Document, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]model.Document{}, nil
	}
	if err != nil {
		return nil, err
	}

	var entries map[string]fileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("解析登记表文件 %s 失败: %w", p.path, err)
	}
	docs := make(map[string]model.Document, len(entries))
	for id, e := range entries {
		docs[id] = model.Document{
			ID:          id,
			Filename:    e.Filename,
			UploadDate:  e.UploadDate,
			ChunksCount: e.ChunksCount,
			FileSize:    e.FileSize,
			FileType:    e.FileType,
			FilePath:    e.FilePath,
		}
	}
	return docs, nil
}

// Save 先写临时文件再重命名，避免进程中断时留下半个文件。
func (p *FilePersister) Save(_ context.Context, docs map[string]model.Document) error {
	entries := make(map[string]fileEntry, len(docs))
	for id, d := range docs {
		entries[id] = fileEntry{
			Filename:    d.Filename,
			UploadDate:  d.UploadDate,
			ChunksCount: d.ChunksCount,
			FileSize:    d.FileSize,
			FileType:    d.FileType,
			FilePath:    d.FilePath,
		}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p.path), filepath.Base(p.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p.path)
}
