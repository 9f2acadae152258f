package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/clickguard/internal/domain"
	"github.com/eliteGoblin/clickguard/internal/notify"
	"github.com/eliteGoblin/clickguard/internal/usecase"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubService implements domain.FilterService with canned answers
type stubService struct {
	status   domain.FilterStatus
	err      error
	lastCall string
	lastMs   uint64
}

func (s *stubService) Start(ms uint64) (domain.FilterStatus, error) {
	s.lastCall, s.lastMs = "start", ms
	return s.status, s.err
}

func (s *stubService) Stop() (domain.FilterStatus, error) {
	s.lastCall = "stop"
	return s.status, s.err
}

func (s *stubService) UpdateThreshold(ms uint64) (domain.FilterStatus, error) {
	s.lastCall, s.lastMs = "threshold", ms
	return s.status, s.err
}

func (s *stubService) Status() domain.FilterStatus { return s.status }

// stubAutostart implements domain.AutostartManager
type stubAutostart struct {
	status domain.AutostartStatus
	err    error
}

func (a *stubAutostart) Status() domain.AutostartStatus { return a.status }

func (a *stubAutostart) Enable(ms uint64) error {
	if a.err != nil {
		return a.err
	}
	a.status = domain.AutostartStatus{Enabled: true, ThresholdMs: ms}
	return nil
}

func (a *stubAutostart) Disable() error {
	a.status = domain.AutostartStatus{}
	return a.err
}

func perform(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServer_StartPassesThreshold(t *testing.T) {
	svc := &stubService{status: domain.FilterStatus{Running: true, ThresholdMs: 75}}
	s := NewServer(svc, nil, notify.NewHub(), DefaultOptions(), zap.NewNop())

	w := perform(t, s.Handler(), http.MethodPost, "/api/v1/filter/start", `{"threshold_ms":75}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"running":true,"threshold_ms":75,"blocked_clicks":0}`, w.Body.String())
	assert.Equal(t, "start", svc.lastCall)
	assert.Equal(t, uint64(75), svc.lastMs)
}

func TestServer_ZeroThresholdIsValid(t *testing.T) {
	svc := &stubService{}
	s := NewServer(svc, nil, notify.NewHub(), DefaultOptions(), zap.NewNop())

	w := perform(t, s.Handler(), http.MethodPut, "/api/v1/filter/threshold", `{"threshold_ms":0}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "threshold", svc.lastCall)
}

func TestServer_BadBodies(t *testing.T) {
	s := NewServer(&stubService{}, nil, notify.NewHub(), DefaultOptions(), zap.NewNop())

	for _, body := range []string{``, `{}`, `{"threshold_ms":-1}`, `not json`} {
		w := perform(t, s.Handler(), http.MethodPost, "/api/v1/filter/start", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %q", body)
		assert.Contains(t, w.Body.String(), `"name":"badRequest"`)
	}
}

func TestServer_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
		body string
	}{
		{domain.ErrNotRunning, http.StatusConflict, `{"error":{"name":"notRunning"}}`},
		{domain.ErrAlreadyRunning, http.StatusConflict, `{"error":{"name":"alreadyRunning"}}`},
		{domain.ErrUnsupported, http.StatusNotImplemented, `{"error":{"name":"unsupported"}}`},
		{domain.ErrServiceUnavailable, http.StatusServiceUnavailable, `{"error":{"name":"serviceUnavailable"}}`},
		{domain.NewPlatformError("tap failed"), http.StatusInternalServerError, `{"error":{"name":"platform","message":"tap failed"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			s := NewServer(&stubService{err: tt.err}, nil, notify.NewHub(), DefaultOptions(), zap.NewNop())
			w := perform(t, s.Handler(), http.MethodPost, "/api/v1/filter/stop", "")
			assert.Equal(t, tt.code, w.Code)
			assert.JSONEq(t, tt.body, w.Body.String())
		})
	}
}

func TestServer_StatusAndHealth(t *testing.T) {
	svc := &stubService{status: domain.FilterStatus{ThresholdMs: 100, BlockedClicks: 7}}
	opts := DefaultOptions()
	opts.Version = "1.4.0"
	opts.FilterSupported = true
	s := NewServer(svc, nil, notify.NewHub(), opts, zap.NewNop())

	w := perform(t, s.Handler(), http.MethodGet, "/api/v1/filter/status", "")
	assert.JSONEq(t, `{"running":false,"threshold_ms":100,"blocked_clicks":7}`, w.Body.String())

	w = perform(t, s.Handler(), http.MethodGet, "/health", "")
	assert.JSONEq(t, `{"status":"ok","version":"1.4.0","filter_supported":true}`, w.Body.String())
}

func TestServer_RejectsForeignOrigin(t *testing.T) {
	s := NewServer(&stubService{}, nil, notify.NewHub(), DefaultOptions(), zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/filter/stop", nil)
	req.Header.Set("Origin", "https://evil.example")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_Autostart(t *testing.T) {
	svc := &stubService{status: domain.FilterStatus{ThresholdMs: 90}}
	as := &stubAutostart{}
	s := NewServer(svc, as, notify.NewHub(), DefaultOptions(), zap.NewNop())

	w := perform(t, s.Handler(), http.MethodPut, "/api/v1/autostart", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint64(90), as.status.ThresholdMs, "defaults to current threshold")

	w = perform(t, s.Handler(), http.MethodPut, "/api/v1/autostart", `{"enabled":true,"threshold_ms":40}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"enabled":true,"threshold_ms":40}`, w.Body.String())

	w = perform(t, s.Handler(), http.MethodPut, "/api/v1/autostart", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, as.status.Enabled)

	w = perform(t, s.Handler(), http.MethodPut, "/api/v1/autostart", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_AutostartUnavailable(t *testing.T) {
	s := NewServer(&stubService{}, nil, notify.NewHub(), DefaultOptions(), zap.NewNop())

	w := perform(t, s.Handler(), http.MethodGet, "/api/v1/autostart", "")
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := notify.NewMetrics(reg)
	m.NotifyBlocked(domain.BlockedEvent{DeltaMs: 3, Button: domain.ButtonLeft})
	opts := DefaultOptions()
	opts.Metrics = reg
	s := NewServer(&stubService{}, nil, notify.NewHub(), opts, zap.NewNop())

	w := perform(t, s.Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `clickguard_blocked_clicks_total{button="left"} 1`)

	noMetrics := NewServer(&stubService{}, nil, notify.NewHub(), DefaultOptions(), zap.NewNop())
	w = perform(t, noMetrics.Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// fakeHook lets the real service run without an OS tap.
type fakeHook struct {
	mu      sync.Mutex
	n       domain.Notifier
	blocked uint64
}

func (f *fakeHook) Start(uint64) error        { return nil }
func (f *fakeHook) Stop() error               { return nil }
func (f *fakeHook) SetThreshold(uint64) error { return nil }

func (f *fakeHook) BlockedClicks() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocked
}

func (f *fakeHook) setBlocked(n uint64) {
	f.mu.Lock()
	f.blocked = n
	f.mu.Unlock()
}

func (f *fakeHook) notifier() domain.Notifier {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

func startLiveServer(t *testing.T) (*Client, *notify.Hub, *fakeHook, context.CancelFunc) {
	t.Helper()
	hub := notify.NewHub()
	hk := &fakeHook{}
	svc := usecase.NewMouseFilterService(func(n domain.Notifier) (domain.Hook, error) {
		hk.mu.Lock()
		hk.n = n
		hk.mu.Unlock()
		return hk, nil
	}, zap.NewNop())
	svc.Attach(hub)

	s := NewServer(svc, nil, hub, DefaultOptions(), zap.NewNop())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return NewClient(ln.Addr().String()), hub, hk, cancel
}

func TestClient_RoundTripsCommandsAndErrors(t *testing.T) {
	client, _, hk, _ := startLiveServer(t)
	ctx := context.Background()

	_, err := client.Stop(ctx)
	assert.ErrorIs(t, err, domain.ErrNotRunning)

	st, err := client.Start(ctx, 60)
	require.NoError(t, err)
	assert.Equal(t, domain.FilterStatus{Running: true, ThresholdMs: 60}, st)

	hk.setBlocked(2)
	st, err = client.UpdateThreshold(ctx, 45)
	require.NoError(t, err)
	assert.Equal(t, domain.FilterStatus{Running: true, ThresholdMs: 45, BlockedClicks: 2}, st)

	st, err = client.Stop(ctx)
	require.NoError(t, err)
	assert.False(t, st.Running)

	st, err = client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), st.BlockedClicks)

	_, err = client.Autostart(ctx)
	assert.ErrorIs(t, err, domain.ErrUnsupported)

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
}

func TestClient_WatchStreamsEvents(t *testing.T) {
	client, hub, hk, _ := startLiveServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := make(chan Event, 8)
	watchDone := make(chan error, 1)
	go func() {
		watchDone <- client.Watch(ctx, func(ev Event) error {
			events <- ev
			return nil
		})
	}()

	first := <-events
	st, err := first.Status()
	require.NoError(t, err)
	assert.False(t, st.Running)
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	_, err = client.Start(ctx, 100)
	require.NoError(t, err)
	hk.notifier().NotifyBlocked(domain.BlockedEvent{DeltaMs: 33, Button: domain.ButtonLeft})

	statusEv := <-events
	st, err = statusEv.Status()
	require.NoError(t, err)
	assert.True(t, st.Running)

	blockedEv := <-events
	b, err := blockedEv.Blocked()
	require.NoError(t, err)
	assert.Equal(t, domain.BlockedEvent{DeltaMs: 33, Button: domain.ButtonLeft}, b)

	_, err = blockedEv.Status()
	assert.Error(t, err)

	cancel()
	assert.NoError(t, <-watchDone)
}

func TestDecodeError(t *testing.T) {
	err := decodeError(500, []byte(`{"error":{"name":"platform","message":"no tap"}}`))
	assert.ErrorIs(t, err, domain.NewPlatformError("no tap"))

	err = decodeError(400, []byte(`{"error":{"name":"badRequest","message":"x"}}`))
	assert.EqualError(t, err, "badRequest: x")

	err = decodeError(502, []byte("gateway"))
	assert.EqualError(t, err, "unexpected response 502: gateway")

	var decoded ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(`{"error":{"name":"notRunning"}}`), &decoded))
	assert.Equal(t, "notRunning", decoded.Error.Name)
}

func TestClient_UnreachableDaemon(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = NewClient(addr).Status(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.ErrorContains(t, err, addr)
}
