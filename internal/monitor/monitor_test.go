package monitor

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudloader/internal/config"
	"cloudloader/internal/shared/testutil"
)

type target struct {
	status atomic.Int32
	body   atomic.Value
}

func newTarget(t *testing.T) (*target, *httptest.Server) {
	tg := &target{}
	tg.status.Store(http.StatusOK)
	tg.body.Store(`{"status":"healthy","backend":"durable","version":"1.0.0"}`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(tg.status.Load()))
		io.WriteString(w, tg.body.Load().(string))
	}))
	t.Cleanup(srv.Close)
	return tg, srv
}

type webhook struct {
	mu     sync.Mutex
	alerts []Alert
}

func newWebhook(t *testing.T) (*webhook, *httptest.Server) {
	wh := &webhook{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a Alert
		if err := json.NewDecoder(r.Body).Decode(&a); err == nil {
			wh.mu.Lock()
			wh.alerts = append(wh.alerts, a)
			wh.mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return wh, srv
}

func (wh *webhook) kinds() []string {
	wh.mu.Lock()
	defer wh.mu.Unlock()
	out := make([]string, 0, len(wh.alerts))
	for _, a := range wh.alerts {
		out = append(out, a.Kind)
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{name: "healthy", status: http.StatusOK, body: `{"status":"healthy","backend":"volatile"}`},
		{name: "unhealthy status field", status: http.StatusOK, body: `{"status":"degraded"}`, wantErr: true},
		{name: "server error", status: http.StatusInternalServerError, body: `{}`, wantErr: true},
		{name: "not json", status: http.StatusOK, body: `<html>`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tg, srv := newTarget(t)
			tg.status.Store(int32(tt.status))
			tg.body.Store(tt.body)

			m := New(config.MonitorConfig{URL: srv.URL, Timeout: time.Second, Interval: time.Minute, FailureThreshold: 3}, testLogger())
			report, err := m.Check(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, 1, m.Failures())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "volatile", report.Backend)
			assert.Equal(t, 0, m.Failures())
		})
	}
}

func TestCheck_AlertsOnceAndRecovers(t *testing.T) {
	tg, srv := newTarget(t)
	wh, hook := newWebhook(t)
	logger, logs := testutil.NewTestLogger(t)

	m := New(config.MonitorConfig{
		URL:              srv.URL,
		Timeout:          time.Second,
		Interval:         time.Minute,
		FailureThreshold: 3,
		WebhookURL:       hook.URL,
	}, logger)
	ctx := context.Background()

	tg.status.Store(http.StatusServiceUnavailable)
	for i := 0; i < 2; i++ {
		m.Check(ctx)
	}
	assert.Empty(t, wh.kinds(), "no alert below the threshold")

	for i := 0; i < 3; i++ {
		m.Check(ctx)
	}
	assert.Equal(t, []string{AlertDown}, wh.kinds(), "one alert per outage")
	assert.Equal(t, 5, m.Failures())

	tg.status.Store(http.StatusOK)
	_, err := m.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{AlertDown, AlertRecovered}, wh.kinds())
	assert.Equal(t, 0, m.Failures())
	assert.Equal(t, 2, logs.Count("uptime alert"))
	testutil.AssertLogged(t, logs, slog.LevelError, "uptime alert")
	assert.True(t, logs.ContainsAttr("component", "uptime_monitor"))

	wh.mu.Lock()
	assert.Equal(t, 3, wh.alerts[0].Failures)
	assert.Equal(t, 5, wh.alerts[1].Failures)
	wh.mu.Unlock()
}

func TestCheck_UnreachableTarget(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m := New(config.MonitorConfig{URL: url, Timeout: 200 * time.Millisecond, Interval: time.Minute, FailureThreshold: 1}, testLogger())
	_, err := m.Check(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, m.Failures())
}

func TestRun_StopsWithContext(t *testing.T) {
	_, srv := newTarget(t)
	m := New(config.MonitorConfig{URL: srv.URL, Timeout: time.Second, Interval: 10 * time.Millisecond, FailureThreshold: 3}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}
