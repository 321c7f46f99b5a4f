package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssl-dns01/internal/config"
)

func TestDisabledNotifierIsNil(t *testing.T) {
	assert.Nil(t, NewWebhookNotifier(nil, nil))
	assert.Nil(t, NewWebhookNotifier(&config.WebhookConfig{Enabled: false}, nil))

	var w *WebhookNotifier
	assert.False(t, w.IsEnabled())
	assert.NoError(t, w.NotifyCertFailed(context.Background(), "example.com", "boom"))
}

func TestNotifySendsJSON(t *testing.T) {
	var got EventData
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer server.Close()

	n := NewWebhookNotifier(&config.WebhookConfig{
		Enabled: true,
		URL:     server.URL,
		Headers: map[string]string{"Authorization": "Bearer token"},
	}, nil)

	require.NoError(t, n.NotifyCertDeployed(context.Background(), "example.com", "tencent", "cert-1"))
	assert.Equal(t, "Bearer token", auth)
	assert.Equal(t, string(EventCertDeployed), got.Event)
	assert.Equal(t, "example.com", got.Domain)
	assert.Equal(t, "cert-1", got.Data["cert_id"])
}

func TestNotifyFiltersEvents(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	n := NewWebhookNotifier(&config.WebhookConfig{
		Enabled: true,
		URL:     server.URL,
		Events:  []string{string(EventCertFailed)},
	}, nil)

	require.NoError(t, n.NotifyCertRenewed(context.Background(), "example.com", []string{"example.com"}, time.Now()))
	require.NoError(t, n.NotifyCertFailed(context.Background(), "example.com", "boom"))
	assert.Equal(t, int32(1), calls.Load())
}

func TestNotifyRetriesWithBackoff(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	n := NewWebhookNotifier(&config.WebhookConfig{Enabled: true, URL: server.URL, Retries: 3}, nil)
	var slept []time.Duration
	n.wait = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	require.NoError(t, n.NotifyChallengeFailed(context.Background(), "example.com", "failed", "LimitExceeded"))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)
}

func TestNotifyGivesUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := NewWebhookNotifier(&config.WebhookConfig{Enabled: true, URL: server.URL, Retries: 2}, nil)
	n.wait = func(context.Context, time.Duration) error { return nil }

	err := n.NotifyCertExpiring(context.Background(), "example.com", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestNotifyStopsBackoffWhenCancelled(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	n := NewWebhookNotifier(&config.WebhookConfig{Enabled: true, URL: server.URL, Retries: 3}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	err := n.NotifyCertFailed(ctx, "example.com", "boom")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}

func TestNotifyBodyTemplate(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
	}))
	defer server.Close()

	n := NewWebhookNotifier(&config.WebhookConfig{
		Enabled:      true,
		URL:          server.URL,
		BodyTemplate: `{"msgtype":"text","text":{"content":{{toJson .Message}}},"event":"{{.Event}}"}`,
	}, nil)

	require.NoError(t, n.NotifyCertFailed(context.Background(), "example.com", "boom"))
	assert.JSONEq(t, `{"msgtype":"text","text":{"content":"证书签发失败: example.com"},"event":"cert_failed"}`, body)
}
