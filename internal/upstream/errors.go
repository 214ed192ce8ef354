package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrNotFound 表示上游以 404 明确回答"资源不存在"。
// 调用方据此写入墓碑记录，而不是当作传输失败重试。
var ErrNotFound = errors.New("upstream: resource not found")

// StatusError 表示上游返回了 404 之外的非 200 状态码。
type StatusError struct {
	Code int
	URL  string
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: %s 返回 %d: %s", e.URL, e.Code, e.Body)
}

// DecodeError 表示上游返回 200 但响应体无法按约定解码。
// 重试大概率得到同样的坏响应，应按终态失败处理。
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("upstream: 解码 %s 响应失败: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Retryable 判断上游错误是否值得按退避重试。
// 瞬时故障（超时、连接错误、5xx）重试；404、其他 4xx、解码失败不重试。
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return false
	}
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500 || statusErr.Code == 429
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// 其余网络层错误（连接重置等）按瞬时处理
	return true
}
