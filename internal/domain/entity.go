// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"fmt"
	"time"
)

// DefaultThresholdMs is the debounce window reported before any start.
const DefaultThresholdMs uint64 = 100

// Button identifies which button-down stream an event belongs to.
type Button int

const (
	// ButtonNone marks an event that does not take part in debouncing.
	ButtonNone Button = iota
	ButtonLeft
	ButtonRight
	ButtonOther
)

// ButtonCount is the number of debounced button streams.
const ButtonCount = 3

// Index returns the zero-based stream index, or -1 for ButtonNone.
func (b Button) Index() int {
	switch b {
	case ButtonLeft, ButtonRight, ButtonOther:
		return int(b) - 1
	default:
		return -1
	}
}

func (b Button) String() string {
	switch b {
	case ButtonLeft:
		return "left"
	case ButtonRight:
		return "right"
	case ButtonOther:
		return "other"
	default:
		return "none"
	}
}

// MarshalText encodes the button as its lowercase name.
func (b Button) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText parses a lowercase button name.
func (b *Button) UnmarshalText(text []byte) error {
	switch string(text) {
	case "left":
		*b = ButtonLeft
	case "right":
		*b = ButtonRight
	case "other":
		*b = ButtonOther
	case "none", "":
		*b = ButtonNone
	default:
		return fmt.Errorf("unknown button %q", text)
	}
	return nil
}

// FilterStatus is a point-in-time snapshot of the filter.
// While running, BlockedClicks comes from the live hook.
// While stopped, it is the value captured at the last stop.
type FilterStatus struct {
	Running       bool   `json:"running"`
	ThresholdMs   uint64 `json:"threshold_ms"`
	BlockedClicks uint64 `json:"blocked_clicks"`
}

// DefaultFilterStatus is what a freshly created service reports.
func DefaultFilterStatus() FilterStatus {
	return FilterStatus{ThresholdMs: DefaultThresholdMs}
}

// BlockedEvent describes one suppressed button-down.
type BlockedEvent struct {
	DeltaMs uint64 `json:"delta_ms"` // ms since the last accepted press of the same button
	Button  Button `json:"button"`
}

// DaemonInfo is the instance registry record of a running daemon.
// Persisted to a JSON file so CLI commands can find the API address.
type DaemonInfo struct {
	PID           int    `json:"pid"`
	ListenAddr    string `json:"listen_addr"`
	AppVersion    string `json:"app_version,omitempty"`
	StartedAt     int64  `json:"started_at"`
	LastHeartbeat int64  `json:"last_heartbeat"`
}

// StartedTime returns StartedAt as a time.Time.
func (d DaemonInfo) StartedTime() time.Time {
	return time.Unix(d.StartedAt, 0)
}

// AutostartStatus reports whether the login item is installed.
type AutostartStatus struct {
	Enabled     bool   `json:"enabled"`
	ThresholdMs uint64 `json:"threshold_ms,omitempty"`
	PlistPath   string `json:"plist_path,omitempty"`
}
