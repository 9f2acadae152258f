package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/clickguard/internal/api"
	"github.com/eliteGoblin/clickguard/internal/config"
	"github.com/eliteGoblin/clickguard/internal/daemon"
	"github.com/eliteGoblin/clickguard/internal/domain"
	"github.com/eliteGoblin/clickguard/internal/hook"
	"github.com/eliteGoblin/clickguard/internal/infra"
	"github.com/eliteGoblin/clickguard/internal/notify"
	"github.com/eliteGoblin/clickguard/internal/usecase"
)

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	execMode := infra.DetectExecMode()
	if err := execMode.RequireUserSession(); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	logger, level := createLogger(cfg)
	defer func() { _ = logger.Sync() }()
	// usecase.Default picks up the global logger, so replace it first
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	logger.Info("starting daemon",
		zap.Stringer("mode", execMode.Mode),
		zap.Bool("filter_supported", hook.Supported()))

	service := usecase.Default()
	hub := notify.NewHub()

	opts := api.DefaultOptions()
	opts.Version = Version
	opts.FilterSupported = hook.Supported()
	opts.SubscriberBuffer = cfg.SubscriberBuffer

	var extra []domain.Notifier
	if cfg.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		extra = append(extra, notify.NewMetrics(reg))
		opts.Metrics = reg
	}

	autostart := infra.NewAutostart(execMode, cfg.LogPath, cfg.ErrorLogPath, logger.Named("autostart"))
	server := api.NewServer(service, autostart, hub, opts, logger.Named("api"))

	pm := infra.NewProcessManager()
	registry := infra.NewFileRegistry(cfg.RegistryPath(), pm)
	now := time.Now().Unix()
	info := domain.DaemonInfo{
		PID:           pm.GetCurrentPID(),
		AppVersion:    Version,
		StartedAt:     now,
		LastHeartbeat: now,
	}

	dc := daemon.DefaultConfig()
	dc.ListenAddr = cfg.Listen
	dc.HeartbeatInterval = cfg.HeartbeatInterval()
	dc.StartFilter = startOnRun
	dc.ThresholdMs = thresholdMs
	dc.LogBuffer = cfg.SubscriberBuffer

	d := daemon.New(dc, service, server, hub, registry, info, logger, extra...)

	if _, err := os.Stat(filepath.Dir(configPath)); err == nil {
		watcher := config.NewWatcher(configPath, logger.Named("config"))
		watcher.OnChange(func(updated *config.Config) {
			if l, err := updated.Level(); err == nil && l != level.Level() {
				level.SetLevel(l)
				logger.Info("log level changed", zap.Stringer("level", l))
			}
			if updated.Listen != cfg.Listen {
				logger.Warn("listen address change takes effect after restart",
					zap.String("current", cfg.Listen), zap.String("configured", updated.Listen))
			}
		})
		d.Go(watcher.Run)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}
