// Package debounce decides whether a mouse button-down is a switch bounce.
package debounce

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eliteGoblin/clickguard/internal/domain"
)

// Verdict is the outcome for one button-down.
type Verdict struct {
	Blocked   bool
	ElapsedMs uint64    // 0 when there was no prior accepted press
	Last      time.Time // last accepted press after this decision
}

// Decide applies the debounce rule to one press.
// A zero last means no press has been accepted yet. The elapsed time is
// floored to whole milliseconds and a negative elapsed counts as 0.
// Presses closer than thresholdMs are blocked and leave last unchanged.
func Decide(now time.Time, thresholdMs uint64, last time.Time) Verdict {
	if last.IsZero() {
		return Verdict{Last: now}
	}
	elapsed := now.Sub(last)
	if elapsed < 0 {
		elapsed = 0
	}
	ms := uint64(elapsed / time.Millisecond)
	if ms < thresholdMs {
		return Verdict{Blocked: true, ElapsedMs: ms, Last: last}
	}
	return Verdict{ElapsedMs: ms, Last: now}
}

// State is the mutable debounce state of one hook instance.
// The threshold and counter are lock-free; last-press times sit behind a
// short mutex so the read-compare-write of a decision is atomic.
// Each button class keeps its own last press, so a right click shortly
// after a left click is not treated as a bounce.
type State struct {
	threshold atomic.Uint64
	blocked   atomic.Uint64

	mu   sync.Mutex
	last [domain.ButtonCount]time.Time
}

// NewState creates a state with the given window.
func NewState(thresholdMs uint64) *State {
	s := &State{}
	s.threshold.Store(thresholdMs)
	return s
}

// SetThreshold changes the window for subsequent presses.
func (s *State) SetThreshold(ms uint64) {
	s.threshold.Store(ms)
}

// Threshold returns the current window.
func (s *State) Threshold() uint64 {
	return s.threshold.Load()
}

// Blocked returns the number of presses blocked so far.
func (s *State) Blocked() uint64 {
	return s.blocked.Load()
}

// Evaluate decides on a press of button at now and records the outcome.
// Events that are not button-downs pass through without touching state.
func (s *State) Evaluate(button domain.Button, now time.Time) Verdict {
	idx := button.Index()
	if idx < 0 {
		return Verdict{}
	}
	threshold := s.threshold.Load()

	s.mu.Lock()
	v := Decide(now, threshold, s.last[idx])
	s.last[idx] = v.Last
	s.mu.Unlock()

	if v.Blocked {
		s.blocked.Add(1)
	}
	return v
}
