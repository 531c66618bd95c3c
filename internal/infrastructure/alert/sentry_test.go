package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTransport struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (t *recordingTransport) Configure(sentry.ClientOptions) {}

func (t *recordingTransport) Flush(time.Duration) bool { return true }

func (t *recordingTransport) Close() {}

func (t *recordingTransport) SendEvent(event *sentry.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
}

func TestSentryAlerter_CapturesWithTags(t *testing.T) {
	transport := &recordingTransport{}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:       "https://public@example.com/1",
		Transport: transport,
	})
	require.NoError(t, err)
	hub := sentry.NewHub(client, sentry.NewScope())

	alerter := NewSentryAlerter(hub)
	alerter.Capture(context.Background(), errors.New("shortfall"),
		map[string]string{"code": "RECONCILIATION_SHORTFALL"},
		map[string]interface{}{"payment_id": "p-1"})

	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.Len(t, transport.events, 1)
	event := transport.events[0]
	assert.Equal(t, sentry.LevelError, event.Level)
	assert.Equal(t, "RECONCILIATION_SHORTFALL", event.Tags["code"])
	assert.Equal(t, "p-1", event.Extra["payment_id"])
}

func TestNopAlerter(t *testing.T) {
	var a Alerter = NopAlerter{}
	a.Capture(context.Background(), errors.New("ignored"), nil, nil)
}
