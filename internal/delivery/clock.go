// internal/delivery/clock.go
package delivery

import (
	"fmt"
	"time"
)

// LocalClock is the invocation instant expressed in the delivery timezone.
// All "now"/"today" derivations go through this single conversion so that
// DST transitions cannot misalign the day boundary against the time match.
type LocalClock struct {
	HHMM       string
	Weekday    int // 0 = Sunday .. 6 = Saturday
	StartOfDay time.Time
}

// NewLocalClock converts the instant to the given location.
func NewLocalClock(now time.Time, loc *time.Location) LocalClock {
	local := now.In(loc)
	return LocalClock{
		HHMM:       fmt.Sprintf("%02d:%02d", local.Hour(), local.Minute()),
		Weekday:    int(local.Weekday()),
		StartOfDay: time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc),
	}
}

// CandidateTimes returns the current HH:MM plus the previous lookback
// minutes, compensating for scheduler jitter. The day-level idempotency
// marker is the real safety net against double sends, not the time match.
func CandidateTimes(now time.Time, loc *time.Location, lookback int) []string {
	times := make([]string, 0, lookback+1)
	seen := make(map[string]struct{}, lookback+1)

	for k := 0; k <= lookback; k++ {
		clk := NewLocalClock(now.Add(-time.Duration(k)*time.Minute), loc)
		if _, ok := seen[clk.HHMM]; ok {
			continue
		}
		seen[clk.HHMM] = struct{}{}
		times = append(times, clk.HHMM)
	}

	return times
}
