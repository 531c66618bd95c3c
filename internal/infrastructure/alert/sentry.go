package alert

import (
	"context"
	"time"

	"debitledger/internal/config"

	"github.com/getsentry/sentry-go"
)

// Alerter 对账异常告警出口
type Alerter interface {
	Capture(ctx context.Context, err error, tags map[string]string, extras map[string]interface{})
}

// InitSentry DSN 为空时 sentry 客户端不发送任何事件
func InitSentry(cfg config.SentryConfig) error {
	return sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
	})
}

// Flush 进程退出前调用
func Flush(timeout time.Duration) {
	sentry.Flush(timeout)
}

type SentryAlerter struct {
	hub *sentry.Hub
}

// NewSentryAlerter hub 为 nil 时使用全局 hub
func NewSentryAlerter(hub *sentry.Hub) *SentryAlerter {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryAlerter{hub: hub}
}

// Capture 优先使用请求上下文里的 hub（sentrygin 注入），保留请求信息
func (a *SentryAlerter) Capture(ctx context.Context, err error, tags map[string]string, extras map[string]interface{}) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = a.hub.Clone()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTags(tags)
		scope.SetExtras(extras)
		hub.CaptureException(err)
	})
}

type NopAlerter struct{}

func (NopAlerter) Capture(context.Context, error, map[string]string, map[string]interface{}) {}
