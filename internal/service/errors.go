package service

import (
	"errors"
	"fmt"
)

// ErrNotFound 表示文档或其原始文件不存在。
var ErrNotFound = errors.New("document not found")

// ErrAsyncUnavailable 表示未配置消息队列，无法异步执行。
var ErrAsyncUnavailable = errors.New("async reindex is not configured")

// ValidationKind 区分上传校验失败的原因。
type ValidationKind string

const (
	KindUnsupportedType ValidationKind = "UnsupportedType"
	KindSizeExceeded    ValidationKind = "SizeExceeded"
)

// ValidationError 在产生任何副作用之前拒绝上传。
type ValidationError struct {
	Kind    ValidationKind
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ExtractionError 表示文本提取失败，已保存的原始文件会被删除。
type ExtractionError struct {
	Filename string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("提取文件 %s 的文本失败: %v", e.Filename, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
