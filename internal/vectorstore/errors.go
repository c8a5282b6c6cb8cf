package vectorstore

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnrecognizedShape 表示远端检索响应不属于任何已知形态。
var ErrUnrecognizedShape = errors.New("unrecognized search response shape")

// RateLimitExceededError 表示某个批次在重试预算内始终被限流。
// 之前已成功写入的批次不会回滚。
type RateLimitExceededError struct {
	Batch    int
	Total    int
	Attempts int
	Err      error
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("Rate limit exceeded after %d retries (batch %d/%d): %v", e.Attempts, e.Batch, e.Total, e.Err)
}

func (e *RateLimitExceededError) Unwrap() error { return e.Err }

// RemoteBackendError 表示某个批次在重试预算内始终失败（非限流）。
type RemoteBackendError struct {
	Batch    int
	Total    int
	Attempts int
	Err      error
}

func (e *RemoteBackendError) Error() string {
	return fmt.Sprintf("Failed to upload batch %d/%d: %v", e.Batch, e.Total, e.Err)
}

func (e *RemoteBackendError) Unwrap() error { return e.Err }

// StatusCoder 由携带 HTTP 状态码的后端错误实现。
type StatusCoder interface {
	HTTPStatus() int
}

// IsRateLimit 判断错误是否为远端限流：HTTP 429 或包含限流特征文本。
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var sc StatusCoder
	if errors.As(err, &sc) && sc.HTTPStatus() == 429 {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(strings.ToLower(msg), "rate limit")
}
