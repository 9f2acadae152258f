package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/clickguard/internal/domain"
)

// FileRegistry implements domain.InstanceRegistry using a JSON file.
type FileRegistry struct {
	path           string
	processManager domain.ProcessManager
	now            func() time.Time
}

// NewFileRegistry creates a registry at path.
func NewFileRegistry(path string, pm domain.ProcessManager) *FileRegistry {
	return &FileRegistry{
		path:           path,
		processManager: pm,
		now:            time.Now,
	}
}

// Path returns the registry file path.
func (r *FileRegistry) Path() string {
	return r.path
}

// Register records info as the running daemon.
// A stale entry (dead PID or our own PID) is replaced; a live one is an error.
func (r *FileRegistry) Register(info domain.DaemonInfo) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return fmt.Errorf("failed to create registry dir: %w", err)
	}
	unlock, err := r.lock()
	if err != nil {
		return err
	}
	defer unlock()

	existing, err := r.Get()
	if err != nil {
		return err
	}
	if existing != nil && existing.PID != info.PID && r.processManager.IsRunning(existing.PID) {
		return fmt.Errorf("clickguard daemon already running (pid %d, %s)", existing.PID, existing.ListenAddr)
	}

	now := r.now().Unix()
	if info.StartedAt == 0 {
		info.StartedAt = now
	}
	info.LastHeartbeat = now
	return r.atomicWrite(&info)
}

// Get returns the registered daemon, or nil if none.
func (r *FileRegistry) Get() (*domain.DaemonInfo, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var info domain.DaemonInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("corrupt registry %s: %w", r.path, err)
	}
	return &info, nil
}

// UpdateHeartbeat updates timestamp for liveness check.
func (r *FileRegistry) UpdateHeartbeat() error {
	unlock, err := r.lock()
	if err != nil {
		return err
	}
	defer unlock()

	info, err := r.Get()
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("no daemon registered")
	}
	info.LastHeartbeat = r.now().Unix()
	return r.atomicWrite(info)
}

// IsAlive checks if the registered daemon is running via PID.
func (r *FileRegistry) IsAlive() (bool, error) {
	info, err := r.Get()
	if err != nil {
		return false, err
	}
	if info == nil {
		return false, nil
	}
	return r.processManager.IsRunning(info.PID), nil
}

// Clear removes the registry file. Missing file is not an error.
func (r *FileRegistry) Clear() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// lock takes an exclusive flock on a sidecar file.
func (r *FileRegistry) lock() (func(), error) {
	lockFile, err := os.OpenFile(r.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX); err != nil {
		lockFile.Close()
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return func() {
		_ = unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)
		lockFile.Close()
	}, nil
}

// atomicWrite writes registry to file atomically (write + rename).
func (r *FileRegistry) atomicWrite(info *domain.DaemonInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", r.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Ensure FileRegistry implements domain.InstanceRegistry.
var _ domain.InstanceRegistry = (*FileRegistry)(nil)
