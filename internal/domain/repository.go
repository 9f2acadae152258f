package domain

// Hook owns one OS-level mouse interception.
// A Hook is single-use: after Stop it is discarded.
// Implementations: hook.Hook (macOS event tap), hook.Unsupported.
type Hook interface {
	// Start installs the interception with the given debounce window.
	// Returns ErrAlreadyRunning if this hook is already installed.
	Start(thresholdMs uint64) error

	// Stop removes the interception and waits for the delivery thread to exit.
	Stop() error

	// SetThreshold changes the window; takes effect on the next event.
	SetThreshold(thresholdMs uint64) error

	// BlockedClicks returns how many presses this hook has suppressed.
	BlockedClicks() uint64
}

// HookFactory builds a fresh Hook bound to a notifier.
type HookFactory func(n Notifier) (Hook, error)

// Notifier receives outward events.
// Both methods may be called from the OS delivery thread and must not block.
type Notifier interface {
	// NotifyBlocked reports one suppressed press.
	NotifyBlocked(ev BlockedEvent)

	// NotifyStatusChanged reports the status after a successful command.
	NotifyStatusChanged(status FilterStatus)
}

// FilterService is the command surface of the filter.
// Implementation: usecase.MouseFilterService.
type FilterService interface {
	// Start installs the filter, or reconfigures it if already running.
	Start(thresholdMs uint64) (FilterStatus, error)

	// Stop removes the filter. Returns ErrNotRunning if it is not installed.
	Stop() (FilterStatus, error)

	// UpdateThreshold changes the window whether or not the filter runs.
	UpdateThreshold(thresholdMs uint64) (FilterStatus, error)

	// Status never fails.
	Status() FilterStatus
}

// ProcessManager handles OS process queries.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// InstanceRegistry records the running daemon so clients can reach it.
// Implementation: JSON file under the data dir.
type InstanceRegistry interface {
	// Register saves the current daemon. Fails if another live daemon is registered.
	Register(info DaemonInfo) error

	// Get returns the registered daemon, or nil if none.
	Get() (*DaemonInfo, error)

	// UpdateHeartbeat updates the liveness timestamp.
	UpdateHeartbeat() error

	// IsAlive reports whether the registered daemon process exists.
	IsAlive() (bool, error)

	// Clear removes the registry file.
	Clear() error

	// Path returns the registry file path (for tests).
	Path() string
}

// AutostartManager controls launching the daemon at login.
type AutostartManager interface {
	// Status reports whether autostart is installed.
	Status() AutostartStatus

	// Enable installs autostart so the filter starts with thresholdMs.
	Enable(thresholdMs uint64) error

	// Disable removes autostart. Not an error if it was never installed.
	Disable() error
}
