package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eliteGoblin/clickguard/internal/domain"
	"github.com/eliteGoblin/clickguard/internal/notify"
)

// ErrUnreachable is wrapped by client errors when no daemon answers.
var ErrUnreachable = errors.New("clickguard daemon not reachable")

// Client talks to a running daemon.
type Client struct {
	addr   string
	http   *http.Client
	dialer *websocket.Dialer
}

// NewClient creates a client for the daemon listening on addr (host:port).
func NewClient(addr string) *Client {
	return &Client{
		addr:   addr,
		http:   &http.Client{Timeout: 10 * time.Second},
		dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
	}
}

// Event is a notification as received by a client.
type Event struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

// Blocked decodes a click_blocked payload.
func (e Event) Blocked() (domain.BlockedEvent, error) {
	var ev domain.BlockedEvent
	if e.Event != notify.EventClickBlocked {
		return ev, fmt.Errorf("event %q is not %s", e.Event, notify.EventClickBlocked)
	}
	err := json.Unmarshal(e.Payload, &ev)
	return ev, err
}

// Status decodes a filter_status_changed payload.
func (e Event) Status() (domain.FilterStatus, error) {
	var st domain.FilterStatus
	if e.Event != notify.EventStatusChanged {
		return st, fmt.Errorf("event %q is not %s", e.Event, notify.EventStatusChanged)
	}
	err := json.Unmarshal(e.Payload, &st)
	return st, err
}

// Health checks that the daemon answers.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

// Status returns the filter status.
func (c *Client) Status(ctx context.Context) (domain.FilterStatus, error) {
	var out domain.FilterStatus
	err := c.do(ctx, http.MethodGet, "/api/v1/filter/status", nil, &out)
	return out, err
}

// Start starts or reconfigures the filter.
func (c *Client) Start(ctx context.Context, thresholdMs uint64) (domain.FilterStatus, error) {
	var out domain.FilterStatus
	err := c.do(ctx, http.MethodPost, "/api/v1/filter/start", ThresholdRequest{ThresholdMs: &thresholdMs}, &out)
	return out, err
}

// Stop stops the filter.
func (c *Client) Stop(ctx context.Context) (domain.FilterStatus, error) {
	var out domain.FilterStatus
	err := c.do(ctx, http.MethodPost, "/api/v1/filter/stop", nil, &out)
	return out, err
}

// UpdateThreshold changes the debounce window.
func (c *Client) UpdateThreshold(ctx context.Context, thresholdMs uint64) (domain.FilterStatus, error) {
	var out domain.FilterStatus
	err := c.do(ctx, http.MethodPut, "/api/v1/filter/threshold", ThresholdRequest{ThresholdMs: &thresholdMs}, &out)
	return out, err
}

// Autostart reports the login item state.
func (c *Client) Autostart(ctx context.Context) (domain.AutostartStatus, error) {
	var out domain.AutostartStatus
	err := c.do(ctx, http.MethodGet, "/api/v1/autostart", nil, &out)
	return out, err
}

// SetAutostart enables or disables the login item. A nil threshold uses
// the filter's current one.
func (c *Client) SetAutostart(ctx context.Context, enabled bool, thresholdMs *uint64) (domain.AutostartStatus, error) {
	var out domain.AutostartStatus
	err := c.do(ctx, http.MethodPut, "/api/v1/autostart", AutostartRequest{Enabled: &enabled, ThresholdMs: thresholdMs}, &out)
	return out, err
}

// Watch streams events to fn until ctx is done, the server closes the
// stream, or fn returns an error.
func (c *Client) Watch(ctx context.Context, fn func(Event) error) error {
	ws, _, err := c.dialer.DialContext(ctx, "ws://"+c.addr+"/api/v1/events", nil)
	if err != nil {
		return fmt.Errorf("connect to event stream: %w", err)
	}
	defer ws.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = ws.Close()
	})
	defer stop()

	for {
		var ev Event
		if err := ws.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://"+c.addr+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w at %s: %v", ErrUnreachable, c.addr, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// decodeError turns an error body back into a *domain.FilterError when it
// names a filter error kind.
func decodeError(status int, data []byte) error {
	var er ErrorResponse
	if err := json.Unmarshal(data, &er); err != nil || er.Error.Name == "" {
		return fmt.Errorf("unexpected response %d: %s", status, bytes.TrimSpace(data))
	}
	switch kind := domain.ErrorKind(er.Error.Name); kind {
	case domain.KindAlreadyRunning, domain.KindNotRunning, domain.KindUnsupported,
		domain.KindServiceUnavailable, domain.KindPlatform:
		return &domain.FilterError{Kind: kind, Message: er.Error.Message}
	}
	return fmt.Errorf("%s: %s", er.Error.Name, er.Error.Message)
}
