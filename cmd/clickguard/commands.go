package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/clickguard/internal/api"
	"github.com/eliteGoblin/clickguard/internal/config"
	"github.com/eliteGoblin/clickguard/internal/daemon"
	"github.com/eliteGoblin/clickguard/internal/domain"
	"github.com/eliteGoblin/clickguard/internal/infra"
	"github.com/eliteGoblin/clickguard/internal/notify"
)

const (
	commandTimeout = 10 * time.Second
	spawnTimeout   = 5 * time.Second
)

var errNotStartedYet = errors.New("filter not running yet")

func newClient() (*api.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return api.NewClient(daemonAddr(cfg)), nil
}

func runStartFilter(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	status, err := api.NewClient(daemonAddr(cfg)).Start(ctx, thresholdMs)
	if errors.Is(err, api.ErrUnreachable) {
		fmt.Println("No daemon running, launching one...")
		status, err = spawnAndStart(ctx, cfg)
	}
	if err != nil {
		return err
	}
	printStatus(status)
	return nil
}

// spawnAndStart launches a background daemon that starts the filter itself,
// then reports the status it settled on.
func spawnAndStart(ctx context.Context, cfg *config.Config) (domain.FilterStatus, error) {
	if err := daemon.SpawnDetached(configPath, true, thresholdMs); err != nil {
		return domain.FilterStatus{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, spawnTimeout)
	defer cancel()

	var status domain.FilterStatus
	err := daemon.WaitReady(waitCtx, 100*time.Millisecond, func(ctx context.Context) error {
		// re-resolve each time: the registry appears once the daemon binds
		var err error
		status, err = api.NewClient(daemonAddr(cfg)).Status(ctx)
		if err == nil && !status.Running {
			err = errNotStartedYet
		}
		return err
	})
	if errors.Is(err, errNotStartedYet) {
		return status, fmt.Errorf("daemon is up but the filter did not start; see %s", cfg.ErrorLogPath)
	}
	return status, err
}

func runStopFilter(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	status, err := client.Stop(ctx)
	if err != nil {
		return err
	}
	printStatus(status)
	return nil
}

func runThreshold(cmd *cobra.Command, args []string) error {
	ms, err := parseThreshold(args[0])
	if err != nil {
		return err
	}
	client, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	status, err := client.UpdateThreshold(ctx, ms)
	if err != nil {
		return err
	}
	printStatus(status)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client := api.NewClient(daemonAddr(cfg))

	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	status, err := client.Status(ctx)
	daemonUp := !errors.Is(err, api.ErrUnreachable)
	if !daemonUp {
		// no daemon means no filter
		status, err = domain.DefaultFilterStatus(), nil
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(status)
	}
	if daemonUp {
		printDaemon(ctx, client, cfg)
	} else {
		fmt.Println("Daemon:    not running")
	}
	printStatus(status)
	return nil
}

// printDaemon shows who is serving the API. Missing details are skipped.
func printDaemon(ctx context.Context, client *api.Client, cfg *config.Config) {
	registry := infra.NewFileRegistry(cfg.RegistryPath(), infra.NewProcessManager())
	if info, err := registry.Get(); err == nil && info != nil {
		fmt.Printf("Daemon:    pid %d, %s, up since %s\n",
			info.PID, info.ListenAddr, info.StartedTime().Format(time.RFC3339))
	} else {
		fmt.Println("Daemon:    running")
	}
	if health, err := client.Health(ctx); err == nil && !health.FilterSupported {
		fmt.Println("Hook:      not available on this platform")
	}
}

func printStatus(status domain.FilterStatus) {
	state := "stopped"
	if status.Running {
		state = "running"
	}
	fmt.Printf("Filter:    %s\n", state)
	fmt.Printf("Threshold: %d ms\n", status.ThresholdMs)
	fmt.Printf("Blocked:   %d clicks\n", status.BlockedClicks)
}

func runWatch(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = client.Watch(ctx, func(ev api.Event) error {
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(ev)
		}
		return printEvent(ev)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func printEvent(ev api.Event) error {
	at := ev.At.Local().Format("15:04:05.000")
	switch ev.Event {
	case notify.EventClickBlocked:
		blocked, err := ev.Blocked()
		if err != nil {
			return err
		}
		fmt.Printf("%s  blocked %s click %d ms after the previous one\n", at, blocked.Button, blocked.DeltaMs)
	case notify.EventStatusChanged:
		status, err := ev.Status()
		if err != nil {
			return err
		}
		state := "stopped"
		if status.Running {
			state = "running"
		}
		fmt.Printf("%s  filter %s, threshold %d ms, %d blocked\n", at, state, status.ThresholdMs, status.BlockedClicks)
	default:
		fmt.Printf("%s  %s %s\n", at, ev.Event, ev.Payload)
	}
	return nil
}

func newAutostart() (domain.AutostartManager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return infra.NewAutostart(infra.DetectExecMode(), cfg.LogPath, cfg.ErrorLogPath, zap.NewNop()), nil
}

func runAutostartEnable(cmd *cobra.Command, args []string) error {
	autostart, err := newAutostart()
	if err != nil {
		return err
	}
	if err := autostart.Enable(thresholdMs); err != nil {
		return fmt.Errorf("enable autostart: %w", err)
	}
	status := autostart.Status()
	fmt.Printf("Autostart enabled (threshold %d ms)\n", status.ThresholdMs)
	fmt.Printf("  LaunchAgent: %s\n", status.PlistPath)
	return nil
}

func runAutostartDisable(cmd *cobra.Command, args []string) error {
	autostart, err := newAutostart()
	if err != nil {
		return err
	}
	if err := autostart.Disable(); err != nil {
		return fmt.Errorf("disable autostart: %w", err)
	}
	fmt.Println("Autostart disabled")
	return nil
}

func runAutostartStatus(cmd *cobra.Command, args []string) error {
	autostart, err := newAutostart()
	if err != nil {
		return err
	}
	status := autostart.Status()
	if jsonOutput {
		return printJSON(status)
	}
	if !status.Enabled {
		fmt.Println("Autostart: disabled")
		return nil
	}
	fmt.Printf("Autostart: enabled (threshold %d ms)\n", status.ThresholdMs)
	fmt.Printf("  LaunchAgent: %s\n", status.PlistPath)
	return nil
}
