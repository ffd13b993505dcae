// Package poster 封装外部发帖能力：提交文本，返回远端 ID。
package poster

import (
	"context"
	"errors"
	"fmt"
)

// Poster 发帖能力；同步阻塞直到远端返回
type Poster interface {
	Post(ctx context.Context, text string) (remoteID string, err error)
}

// ErrorKind 失败分类，写入日志与处理结果
type ErrorKind string

const (
	KindAuth        ErrorKind = "auth"
	KindRateLimited ErrorKind = "rate_limited"
	KindRejected    ErrorKind = "rejected"
	KindUnavailable ErrorKind = "unavailable"
	KindNetwork     ErrorKind = "network"
	KindUnknown     ErrorKind = "unknown"
)

// ErrMissingCredentials 既没有 OAuth1 全套凭证也没有 bearer token
var ErrMissingCredentials = errors.New("poster: no usable twitter credentials configured")

// Error 发帖失败详情
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("twitter %s (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("twitter %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("twitter %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf 取出错误分类；非 *Error 返回 KindUnknown
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}
