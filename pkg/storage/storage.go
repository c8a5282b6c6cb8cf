// Package storage 保存上传的原始文件，支持本地磁盘与 MinIO 对象存储。
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound 表示文件不存在。
var ErrNotFound = errors.New("file not found")

// StoredName 返回原始文件的存储名 "{documentID}_{filename}"，同名上传互不覆盖。
func StoredName(documentID, filename string) string {
	return documentID + "_" + filepath.Base(filename)
}

// ParseStoredName 从 StoredName 生成的名字中取回文档 ID 与原始文件名。
// 只识别 UUID 前缀，其它名字返回 ok=false。
func ParseStoredName(name string) (documentID, filename string, ok bool) {
	id, rest, found := strings.Cut(name, "_")
	if !found || rest == "" {
		return "", "", false
	}
	if _, err := uuid.Parse(id); err != nil || len(id) != 36 {
		return "", "", false
	}
	return id, rest, true
}

// FileInfo 描述一个已保存的文件。
type FileInfo struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// FileStore 是原始文件的存取接口。Path 是 Save 返回的存储位置。
type FileStore interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
	Read(ctx context.Context, path string) ([]byte, error)
	Remove(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	List(ctx context.Context) ([]FileInfo, error)
}

// LocalStore 把文件保存在单个目录下，同名文件会被覆盖，调用方用 StoredName 区分文档。
type LocalStore struct {
	dir string
}

// NewLocalStore 创建目录（如不存在）并返回 LocalStore。
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建上传目录 %s 失败: %w", dir, err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) Save(_ context.Context, name string, data []byte) (string, error) {
	path := filepath.Join(s.dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("保存文件 %s 失败: %w", path, err)
	}
	return path, nil
}

func (s *LocalStore) Read(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// Remove 删除文件，文件不存在时不报错。
func (s *LocalStore) Remove(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *LocalStore) Exists(_ context.Context, path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// List 返回目录下的所有普通文件，按文件名排序。
func (s *LocalStore) List(_ context.Context) ([]FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var files []FileInfo
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:    e.Name(),
			Path:    filepath.Join(s.dir, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}
