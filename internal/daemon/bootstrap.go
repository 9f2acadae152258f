package daemon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"
)

// SpawnDetached starts `clickguard run` as a background process that
// outlives the caller. The daemon writes its own logs.
func SpawnDetached(configPath string, startFilter bool, thresholdMs uint64) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}

	args := []string{"run"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if startFilter {
		args = append(args, "--start", "--threshold", strconv.FormatUint(thresholdMs, 10))
	}
	cmd := exec.Command(executable, args...)

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn daemon: %w", err)
	}
	return cmd.Process.Release()
}

// WaitReady polls check until it succeeds or ctx is done.
func WaitReady(ctx context.Context, interval time.Duration, check func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		if lastErr = check(ctx); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("daemon did not come up: %w", lastErr)
		case <-ticker.C:
		}
	}
}
