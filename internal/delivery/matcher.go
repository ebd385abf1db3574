// internal/delivery/matcher.go
package delivery

import (
	"context"
	"time"

	"reminder-workers/internal/common/logger"
	"reminder-workers/internal/common/metrics"
	"reminder-workers/internal/models"
	"reminder-workers/internal/repository"
)

// Matcher produces the exact set of reminders that should be attempted
// in one invocation.
type Matcher struct {
	reminders repository.ReminderStore
	loc       *time.Location
	lookback  int
	log       logger.Logger
}

func NewMatcher(reminders repository.ReminderStore, loc *time.Location, lookback int, log logger.Logger) *Matcher {
	if lookback < 0 {
		lookback = 0
	}
	return &Matcher{
		reminders: reminders,
		loc:       loc,
		lookback:  lookback,
		log:       log,
	}
}

// DueReminders queries active reminders in the candidate time window and
// filters by day-of-week and the idempotency marker. Reminders dropped by
// the filters are skips, not failures.
func (m *Matcher) DueReminders(ctx context.Context, now time.Time) ([]models.Reminder, error) {
	clk := NewLocalClock(now, m.loc)
	times := CandidateTimes(now, m.loc, m.lookback)

	candidates, err := m.reminders.FindDue(ctx, times)
	if err != nil {
		return nil, err
	}
	metrics.RemindersChecked.Add(float64(len(candidates)))

	var due []models.Reminder
	for _, r := range candidates {
		if !r.DueOn(clk.Weekday) {
			m.log.Debug("reminder skipped: not scheduled for today", map[string]interface{}{
				"reminderId": r.ID,
				"weekday":    clk.Weekday,
			})
			continue
		}
		if r.AlreadySent(clk.StartOfDay) {
			m.log.Debug("reminder skipped: already sent today", map[string]interface{}{
				"reminderId": r.ID,
				"lastSentAt": r.LastSentAt,
			})
			continue
		}
		due = append(due, r)
	}
	metrics.RemindersMatched.Add(float64(len(due)))

	m.log.Info("matched due reminders", map[string]interface{}{
		"candidates": len(candidates),
		"due":        len(due),
		"times":      times,
	})
	return due, nil
}
