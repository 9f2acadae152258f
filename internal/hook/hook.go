// Package hook installs a global mouse-button interception and runs the
// debounce decision inside the OS delivery callback.
package hook

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/clickguard/internal/debounce"
	"github.com/eliteGoblin/clickguard/internal/domain"
)

// Config holds hook timing.
type Config struct {
	StartTimeout time.Duration // how long Start waits for the tap to come up
	PumpSlice    time.Duration // run loop slice between stop checks
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		StartTimeout: 2 * time.Second,
		PumpSlice:    100 * time.Millisecond,
	}
}

// driver is the OS-facing half of a Hook.
// install, pump and teardown are always called on the delivery thread.
type driver interface {
	authorize() error
	install(h *Hook) error
	pump(slice time.Duration)
	teardown()
}

// Hook is a single interception instance.
// Control methods may be called from any goroutine; decisions run on a
// dedicated goroutine locked to its OS thread.
type Hook struct {
	cfg      Config
	drv      driver
	state    *debounce.State
	notifier domain.Notifier
	logger   *zap.Logger
	now      func() time.Time

	tapResets atomic.Uint64

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func newHook(drv driver, n domain.Notifier, logger *zap.Logger, cfg Config) *Hook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hook{
		cfg:      cfg,
		drv:      drv,
		state:    debounce.NewState(domain.DefaultThresholdMs),
		notifier: n,
		logger:   logger,
		now:      time.Now,
	}
}

// Start installs the interception and waits until it is live.
// On failure or timeout the delivery thread is joined before returning,
// so nothing stays installed.
func (h *Hook) Start(thresholdMs uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.done != nil {
		return domain.ErrAlreadyRunning
	}
	if err := h.drv.authorize(); err != nil {
		return err
	}
	h.state.SetThreshold(thresholdMs)

	stop := make(chan struct{})
	done := make(chan struct{})
	ready := make(chan error, 1)
	go h.deliver(stop, done, ready)

	timer := time.NewTimer(h.cfg.StartTimeout)
	defer timer.Stop()

	select {
	case err := <-ready:
		if err == nil {
			h.stop, h.done = stop, done
			h.logger.Info("mouse hook installed", zap.Uint64("threshold_ms", thresholdMs))
			return nil
		}
		close(stop)
		<-done
		h.logger.Error("mouse hook install failed", zap.Error(err))
		return domain.NewPlatformError("unable to initialize mouse hook: %v", err)
	case <-timer.C:
		close(stop)
		<-done
		h.logger.Error("mouse hook install timed out", zap.Duration("timeout", h.cfg.StartTimeout))
		return domain.NewPlatformError("unable to initialize mouse hook: no response within %s", h.cfg.StartTimeout)
	}
}

// Stop removes the interception and joins the delivery thread.
// Stopping a hook that is not installed is a no-op.
func (h *Hook) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.done == nil {
		return nil
	}
	close(h.stop)
	<-h.done
	h.stop, h.done = nil, nil

	h.logger.Info("mouse hook removed",
		zap.Uint64("blocked_clicks", h.state.Blocked()),
		zap.Uint64("tap_reenabled", h.tapResets.Load()))
	return nil
}

// SetThreshold changes the window for the next press.
func (h *Hook) SetThreshold(thresholdMs uint64) error {
	h.state.SetThreshold(thresholdMs)
	return nil
}

// BlockedClicks returns the presses suppressed by this hook.
func (h *Hook) BlockedClicks() uint64 {
	return h.state.Blocked()
}

func (h *Hook) deliver(stop <-chan struct{}, done chan<- struct{}, ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(done)

	if err := h.drv.install(h); err != nil {
		ready <- err
		return
	}
	ready <- nil
	defer h.drv.teardown()

	for {
		select {
		case <-stop:
			return
		default:
		}
		h.drv.pump(h.cfg.PumpSlice)
	}
}

// handle decides on one event and reports whether it may pass.
// It runs inside the OS callback: it never blocks and never panics.
func (h *Hook) handle(button domain.Button) (allow bool) {
	defer func() {
		if r := recover(); r != nil {
			allow = true
		}
	}()

	v := h.state.Evaluate(button, h.now())
	if !v.Blocked {
		return true
	}
	h.notifyBlocked(domain.BlockedEvent{DeltaMs: v.ElapsedMs, Button: button})
	return false
}

func (h *Hook) notifyBlocked(ev domain.BlockedEvent) {
	if h.notifier == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	h.notifier.NotifyBlocked(ev)
}

// tapReenabled records that the OS disabled the tap and it was turned back on.
func (h *Hook) tapReenabled() {
	h.tapResets.Add(1)
}

// Factory returns a HookFactory building platform hooks with logger.
func Factory(logger *zap.Logger) domain.HookFactory {
	return func(n domain.Notifier) (domain.Hook, error) {
		return New(n, logger)
	}
}
