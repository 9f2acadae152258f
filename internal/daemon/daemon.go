// Package daemon runs the long-lived clickguard process.
package daemon

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eliteGoblin/clickguard/internal/domain"
	"github.com/eliteGoblin/clickguard/internal/notify"
)

// FilterService is the service surface the daemon drives.
type FilterService interface {
	domain.FilterService
	Attach(n domain.Notifier)
	Shutdown()
}

// APIServer serves commands on a listener until ctx is done.
type APIServer interface {
	Serve(ctx context.Context, ln net.Listener) error
}

// Config holds daemon configuration.
type Config struct {
	ListenAddr        string
	HeartbeatInterval time.Duration // how often to update the registry
	StartFilter       bool          // start the filter once the API is up
	ThresholdMs       uint64        // threshold used when StartFilter is set
	LogBuffer         int           // queue length of the log subscriber
}

// DefaultConfig returns default daemon configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:        "127.0.0.1:7420",
		HeartbeatInterval: 30 * time.Second,
		ThresholdMs:       domain.DefaultThresholdMs,
		LogBuffer:         notify.DefaultBuffer,
	}
}

// Daemon ties the filter service, notification hub, API and registry together.
type Daemon struct {
	config   Config
	service  FilterService
	server   APIServer
	hub      *notify.Hub
	extra    []domain.Notifier
	registry domain.InstanceRegistry
	info     domain.DaemonInfo
	runners  []func(context.Context) error
	logger   *zap.Logger
}

// New creates a daemon. extra notifiers (metrics) receive every event
// alongside the hub.
func New(
	config Config,
	service FilterService,
	server APIServer,
	hub *notify.Hub,
	registry domain.InstanceRegistry,
	info domain.DaemonInfo,
	logger *zap.Logger,
	extra ...domain.Notifier,
) *Daemon {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Daemon{
		config:   config,
		service:  service,
		server:   server,
		hub:      hub,
		extra:    extra,
		registry: registry,
		info:     info,
		logger:   logger,
	}
}

// Go adds a background task that runs for the daemon's lifetime.
func (d *Daemon) Go(fn func(ctx context.Context) error) {
	d.runners = append(d.runners, fn)
}

// Run starts the daemon and blocks until ctx is canceled or a component
// fails. The filter is always shut down before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.config.ListenAddr)
	if err != nil {
		d.logger.Error("failed to bind api", zap.String("addr", d.config.ListenAddr), zap.Error(err))
		return err
	}

	d.info.ListenAddr = ln.Addr().String()
	if err := d.registry.Register(d.info); err != nil {
		ln.Close()
		d.logger.Error("failed to register daemon", zap.Error(err))
		return err
	}
	defer func() {
		if err := d.registry.Clear(); err != nil {
			d.logger.Warn("failed to clear registry", zap.Error(err))
		}
	}()

	notifiers := append([]domain.Notifier{d.hub}, d.extra...)
	d.service.Attach(notify.Fanout(notifiers...))
	defer d.service.Shutdown()

	d.logger.Info("daemon started",
		zap.Int("pid", d.info.PID),
		zap.String("addr", d.info.ListenAddr),
		zap.String("version", d.info.AppVersion))

	g, gctx := errgroup.WithContext(ctx)

	logSub := d.hub.Subscribe(d.config.LogBuffer)
	g.Go(func() error {
		notify.LogEvents(gctx, logSub, d.logger)
		return nil
	})
	g.Go(func() error {
		return d.server.Serve(gctx, ln)
	})
	g.Go(func() error {
		d.heartbeat(gctx)
		return nil
	})
	for _, fn := range d.runners {
		fn := fn
		g.Go(func() error { return fn(gctx) })
	}

	if d.config.StartFilter {
		d.startFilter()
	}

	err = g.Wait()
	d.logger.Info("daemon stopping", zap.Uint64("blocked_clicks", d.service.Status().BlockedClicks))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startFilter starts the filter at boot. Failure leaves the daemon up so
// the user can grant permission and start again from the CLI.
func (d *Daemon) startFilter() {
	status, err := d.service.Start(d.config.ThresholdMs)
	if err != nil {
		d.logger.Error("failed to start filter at boot", zap.Error(err))
		return
	}
	d.logger.Info("filter started at boot", zap.Uint64("threshold_ms", status.ThresholdMs))
}

func (d *Daemon) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(d.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.registry.UpdateHeartbeat(); err != nil {
				d.logger.Warn("failed to update heartbeat", zap.Error(err))
			}
		}
	}
}
