// Package reporting 初始化 Sentry 错误上报
package reporting

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// Init 未配置 DSN 时不启用；返回的 flush 在进程退出前调用
func Init(dsn, environment, release string) (flush func(), err error) {
	if dsn == "" {
		return func() {}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	}); err != nil {
		return nil, fmt.Errorf("init sentry: %w", err)
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}
