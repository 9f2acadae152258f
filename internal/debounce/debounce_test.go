package debounce

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/eliteGoblin/clickguard/internal/domain"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

func TestDecide_FirstPressAllowed(t *testing.T) {
	v := Decide(t0, 100, time.Time{})

	assert.False(t, v.Blocked)
	assert.Equal(t, t0, v.Last)
}

func TestDecide_Boundaries(t *testing.T) {
	tests := []struct {
		name      string
		elapsed   time.Duration
		threshold uint64
		blocked   bool
		wantMs    uint64
	}{
		{"inside window", 40 * time.Millisecond, 100, true, 40},
		{"exactly at threshold is allowed", 100 * time.Millisecond, 100, false, 100},
		{"just under threshold floors down", 99*time.Millisecond + 999*time.Microsecond, 100, true, 99},
		{"after window", 150 * time.Millisecond, 100, false, 150},
		{"zero threshold allows simultaneous", 0, 0, false, 0},
		{"clock step backwards counts as zero", -5 * time.Millisecond, 10, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Decide(t0.Add(tt.elapsed), tt.threshold, t0)
			assert.Equal(t, tt.blocked, v.Blocked)
			assert.Equal(t, tt.wantMs, v.ElapsedMs)
			if tt.blocked {
				assert.Equal(t, t0, v.Last, "blocked press must not move last")
			} else {
				assert.Equal(t, t0.Add(tt.elapsed), v.Last)
			}
		})
	}
}

func TestState_BlockedPressDoesNotExtendWindow(t *testing.T) {
	s := NewState(100)

	assert.False(t, s.Evaluate(domain.ButtonLeft, at(0)).Blocked)
	assert.True(t, s.Evaluate(domain.ButtonLeft, at(60)).Blocked)
	assert.True(t, s.Evaluate(domain.ButtonLeft, at(90)).Blocked)
	// measured from 0, not from 90
	v := s.Evaluate(domain.ButtonLeft, at(110))
	assert.False(t, v.Blocked)
	assert.Equal(t, uint64(110), v.ElapsedMs)
	assert.Equal(t, uint64(2), s.Blocked())
}

func TestState_ButtonsTrackedSeparately(t *testing.T) {
	s := NewState(100)

	assert.False(t, s.Evaluate(domain.ButtonLeft, at(0)).Blocked)
	assert.False(t, s.Evaluate(domain.ButtonRight, at(10)).Blocked)
	assert.False(t, s.Evaluate(domain.ButtonOther, at(20)).Blocked)
	assert.True(t, s.Evaluate(domain.ButtonRight, at(50)).Blocked)
	assert.Equal(t, uint64(1), s.Blocked())
}

func TestState_NonButtonEventsPassUntouched(t *testing.T) {
	s := NewState(100)

	s.Evaluate(domain.ButtonLeft, at(0))
	v := s.Evaluate(domain.ButtonNone, at(1))
	assert.False(t, v.Blocked)
	assert.True(t, s.Evaluate(domain.ButtonLeft, at(2)).Blocked)
	assert.Equal(t, uint64(1), s.Blocked())
}

func TestState_ThresholdChangeAppliesToNextPress(t *testing.T) {
	s := NewState(100)
	s.Evaluate(domain.ButtonLeft, at(0))

	s.SetThreshold(20)
	assert.Equal(t, uint64(20), s.Threshold())
	assert.False(t, s.Evaluate(domain.ButtonLeft, at(30)).Blocked)

	s.SetThreshold(0)
	assert.False(t, s.Evaluate(domain.ButtonLeft, at(30)).Blocked)
}

func TestState_ConcurrentEvaluationCountsEachBlockOnce(t *testing.T) {
	s := NewState(1000)
	s.Evaluate(domain.ButtonLeft, at(0))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				s.Evaluate(domain.ButtonLeft, at(1))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(1000), s.Blocked())
}
