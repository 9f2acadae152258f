// Package usecase contains application business logic.
package usecase

import (
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/clickguard/internal/domain"
	"github.com/eliteGoblin/clickguard/internal/hook"
)

// MouseFilterService owns the live hook and serializes every command on it.
// Implements domain.FilterService.
type MouseFilterService struct {
	mu sync.Mutex

	newHook  domain.HookFactory
	logger   *zap.Logger
	notifier domain.Notifier

	hook        domain.Hook
	running     bool
	thresholdMs uint64
	baseline    uint64 // counter captured at the last stop
	closed      bool
	lastKnown   domain.FilterStatus
}

var (
	defaultService *MouseFilterService
	defaultOnce    sync.Once
)

// Default returns the process-wide service, created on first use with the
// platform hook and the global zap logger.
func Default() *MouseFilterService {
	defaultOnce.Do(func() {
		logger := zap.L().Named("filter")
		defaultService = NewMouseFilterService(hook.Factory(logger), logger)
	})
	return defaultService
}

// NewMouseFilterService creates a stopped service. Hooks are built with newHook.
func NewMouseFilterService(newHook domain.HookFactory, logger *zap.Logger) *MouseFilterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MouseFilterService{
		newHook:     newHook,
		logger:      logger,
		thresholdMs: domain.DefaultThresholdMs,
		lastKnown:   domain.DefaultFilterStatus(),
	}
}

// Attach binds the notifier that receives blocked and status events.
// Hooks created afterwards report to it; a running hook keeps its original one.
func (s *MouseFilterService) Attach(n domain.Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// Start installs a fresh hook, or reconfigures the running one.
func (s *MouseFilterService) Start(thresholdMs uint64) (domain.FilterStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.FilterStatus{}, domain.ErrServiceUnavailable
	}

	if s.running {
		if err := s.hook.SetThreshold(thresholdMs); err != nil {
			return domain.FilterStatus{}, err
		}
		s.thresholdMs = thresholdMs
		s.logger.Info("filter reconfigured", zap.Uint64("threshold_ms", thresholdMs))
		return s.publishLocked(), nil
	}

	if s.notifier == nil || s.newHook == nil {
		return domain.FilterStatus{}, domain.ErrServiceUnavailable
	}
	h, err := s.newHook(s.notifier)
	if err != nil {
		s.logger.Warn("failed to create hook", zap.Error(err))
		return domain.FilterStatus{}, err
	}
	if err := h.Start(thresholdMs); err != nil {
		s.logger.Warn("failed to start hook", zap.Error(err))
		return domain.FilterStatus{}, err
	}

	s.hook = h
	s.running = true
	s.thresholdMs = thresholdMs
	s.baseline = 0
	s.logger.Info("filter started", zap.Uint64("threshold_ms", thresholdMs))
	return s.publishLocked(), nil
}

// Stop removes the running hook and keeps its final counter.
func (s *MouseFilterService) Stop() (domain.FilterStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return domain.FilterStatus{}, domain.ErrNotRunning
	}
	if err := s.stopLocked(); err != nil {
		s.logger.Error("hook did not stop cleanly", zap.Error(err))
		return domain.FilterStatus{}, err
	}
	s.logger.Info("filter stopped", zap.Uint64("blocked_clicks", s.baseline))
	return s.publishLocked(), nil
}

// UpdateThreshold stores the window and applies it live if running.
func (s *MouseFilterService) UpdateThreshold(thresholdMs uint64) (domain.FilterStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		if err := s.hook.SetThreshold(thresholdMs); err != nil {
			return domain.FilterStatus{}, err
		}
	}
	s.thresholdMs = thresholdMs
	s.logger.Info("threshold updated",
		zap.Uint64("threshold_ms", thresholdMs),
		zap.Bool("running", s.running))
	return s.publishLocked(), nil
}

// Status returns a fresh snapshot. It never fails: if the snapshot cannot
// be taken the last known status is returned.
func (s *MouseFilterService) Status() (status domain.FilterStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("status snapshot failed", zap.Any("panic", r))
			status = s.lastKnown
		}
	}()
	status = s.snapshotLocked()
	s.lastKnown = status
	return status
}

// Shutdown stops any running hook and refuses further starts.
// Used when the process exits.
func (s *MouseFilterService) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	if !s.running {
		return
	}
	if err := s.stopLocked(); err != nil {
		s.logger.Error("hook did not stop cleanly on shutdown", zap.Error(err))
	}
	s.publishLocked()
	s.logger.Info("filter shut down", zap.Uint64("blocked_clicks", s.baseline))
}

func (s *MouseFilterService) stopLocked() error {
	h := s.hook
	err := h.Stop()
	s.baseline = h.BlockedClicks()
	s.hook = nil
	s.running = false
	return err
}

func (s *MouseFilterService) snapshotLocked() domain.FilterStatus {
	blocked := s.baseline
	if s.running && s.hook != nil {
		blocked = s.hook.BlockedClicks()
	}
	return domain.FilterStatus{
		Running:       s.running,
		ThresholdMs:   s.thresholdMs,
		BlockedClicks: blocked,
	}
}

// publishLocked snapshots and emits exactly one status notification.
func (s *MouseFilterService) publishLocked() domain.FilterStatus {
	status := s.snapshotLocked()
	s.lastKnown = status
	if s.notifier != nil {
		s.notifier.NotifyStatusChanged(status)
	}
	return status
}
