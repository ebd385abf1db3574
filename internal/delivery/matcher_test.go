// internal/delivery/matcher_test.go
package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-workers/internal/common/logger"
	"reminder-workers/internal/models"
	"reminder-workers/internal/repository"
)

func testReminder(id, hhmm string, days []int, lastSentAt *time.Time) models.Reminder {
	return models.Reminder{
		ID:         id,
		Title:      "Drink water",
		Message:    "Time to hydrate",
		Time:       hhmm,
		DaysOfWeek: days,
		Active:     true,
		LastSentAt: lastSentAt,
	}
}

func TestMatcherDayOfWeek(t *testing.T) {
	// Mon/Wed/Fri at 09:00, swept across a full simulated week.
	store := repository.NewMemoryStore()
	store.AddReminder(testReminder("r1", "09:00", []int{1, 3, 5}, nil))

	matcher := NewMatcher(store, time.UTC, 1, logger.NewNoOpLogger())

	// 2025-06-01 is a Sunday.
	expected := map[int]bool{0: false, 1: true, 2: false, 3: true, 4: false, 5: true, 6: false}

	for day := 0; day < 7; day++ {
		now := time.Date(2025, 6, 1+day, 9, 0, 0, 0, time.UTC)
		require.Equal(t, day, int(now.Weekday()))

		due, err := matcher.DueReminders(context.Background(), now)
		require.NoError(t, err)

		if expected[day] {
			assert.Len(t, due, 1, "weekday %d should match", day)
		} else {
			assert.Empty(t, due, "weekday %d should not match", day)
		}
	}
}

func TestMatcherLookbackWindow(t *testing.T) {
	newMatcher := func() (*Matcher, *repository.MemoryStore) {
		store := repository.NewMemoryStore()
		store.AddReminder(testReminder("r1", "09:00", []int{0, 1, 2, 3, 4, 5, 6}, nil))
		return NewMatcher(store, time.UTC, 1, logger.NewNoOpLogger()), store
	}

	t.Run("matched within the same minute", func(t *testing.T) {
		matcher, _ := newMatcher()
		due, err := matcher.DueReminders(context.Background(), time.Date(2025, 6, 2, 9, 0, 45, 0, time.UTC))
		require.NoError(t, err)
		assert.Len(t, due, 1)
	})

	t.Run("matched one minute late via the look-back window", func(t *testing.T) {
		matcher, _ := newMatcher()
		due, err := matcher.DueReminders(context.Background(), time.Date(2025, 6, 2, 9, 1, 10, 0, time.UTC))
		require.NoError(t, err)
		assert.Len(t, due, 1)
	})

	t.Run("not matched once the window is exceeded", func(t *testing.T) {
		matcher, _ := newMatcher()
		due, err := matcher.DueReminders(context.Background(), time.Date(2025, 6, 2, 9, 2, 5, 0, time.UTC))
		require.NoError(t, err)
		assert.Empty(t, due)
	})
}

func TestMatcherIdempotencyMarker(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC) // Monday

	t.Run("already sent today is skipped", func(t *testing.T) {
		store := repository.NewMemoryStore()
		sentAt := time.Date(2025, 6, 2, 8, 59, 0, 0, time.UTC)
		store.AddReminder(testReminder("r1", "09:00", []int{1}, &sentAt))

		matcher := NewMatcher(store, time.UTC, 1, logger.NewNoOpLogger())
		due, err := matcher.DueReminders(context.Background(), now)
		require.NoError(t, err)
		assert.Empty(t, due)
	})

	t.Run("sent yesterday is due again", func(t *testing.T) {
		store := repository.NewMemoryStore()
		sentAt := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
		store.AddReminder(testReminder("r1", "09:00", []int{1}, &sentAt))

		matcher := NewMatcher(store, time.UTC, 1, logger.NewNoOpLogger())
		due, err := matcher.DueReminders(context.Background(), now)
		require.NoError(t, err)
		assert.Len(t, due, 1)
	})

	t.Run("inactive reminders are invisible", func(t *testing.T) {
		store := repository.NewMemoryStore()
		r := testReminder("r1", "09:00", []int{1}, nil)
		r.Active = false
		store.AddReminder(r)

		matcher := NewMatcher(store, time.UTC, 1, logger.NewNoOpLogger())
		due, err := matcher.DueReminders(context.Background(), now)
		require.NoError(t, err)
		assert.Empty(t, due)
	})
}

func TestMatcherUsesConfiguredTimezone(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	store := repository.NewMemoryStore()
	store.AddReminder(testReminder("r1", "09:30", []int{0, 1, 2, 3, 4, 5, 6}, nil))

	matcher := NewMatcher(store, berlin, 1, logger.NewNoOpLogger())

	// 08:30 UTC is 09:30 in Berlin during winter.
	due, err := matcher.DueReminders(context.Background(), time.Date(2025, 1, 15, 8, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, due, 1)
}
