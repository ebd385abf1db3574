// internal/scheduler/scheduler_test.go
package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-workers/internal/common/errors"
	"reminder-workers/internal/common/logger"
	"reminder-workers/internal/delivery"
	"reminder-workers/internal/models"
	"reminder-workers/internal/repository"
)

type fakePublisher struct {
	jobs    []models.DeliveryJob
	failFor map[string]bool
}

func (f *fakePublisher) PublishJob(ctx context.Context, job models.DeliveryJob) error {
	if f.failFor[job.ReminderID] {
		return errors.NewQueryExecutionFailedError("publish", assert.AnError)
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func strPtr(s string) *string { return &s }

func testEnqueuer(t *testing.T, store *repository.MemoryStore, publisher *fakePublisher) *Enqueuer {
	t.Helper()
	log := logger.NewNoOpLogger()
	matcher := delivery.NewMatcher(store, time.UTC, 1, log)
	return NewEnqueuer(matcher, publisher, log)
}

func reminder(id, hhmm string, days []int, userID *string) models.Reminder {
	return models.Reminder{
		ID:         id,
		Title:      "Reminder " + id,
		Message:    "msg",
		Time:       hhmm,
		DaysOfWeek: days,
		Active:     true,
		UserID:     userID,
	}
}

func TestRunOncePublishesOneJobPerMatch(t *testing.T) {
	// Monday 09:00 UTC.
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	store := repository.NewMemoryStore()
	store.AddReminder(reminder("r1", "09:00", []int{1}, nil))
	store.AddReminder(reminder("r2", "09:00", []int{1}, strPtr("user-1")))
	store.AddReminder(reminder("r3", "09:00", []int{2}, nil))
	store.AddReminder(reminder("r4", "17:00", []int{1}, nil))

	publisher := &fakePublisher{}
	e := testEnqueuer(t, store, publisher)

	require.NoError(t, e.RunOnce(context.Background(), now))

	require.Len(t, publisher.jobs, 2)
	assert.Equal(t, "r1", publisher.jobs[0].ReminderID)
	assert.Nil(t, publisher.jobs[0].UserID)
	assert.Equal(t, "r2", publisher.jobs[1].ReminderID)
	require.NotNil(t, publisher.jobs[1].UserID)
	assert.Equal(t, "user-1", *publisher.jobs[1].UserID)
}

func TestRunOnceSkipsFailedPublishes(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	store := repository.NewMemoryStore()
	store.AddReminder(reminder("r1", "09:00", []int{1}, nil))
	store.AddReminder(reminder("r2", "09:00", []int{1}, nil))
	store.AddReminder(reminder("r3", "09:00", []int{1}, nil))

	publisher := &fakePublisher{failFor: map[string]bool{"r2": true}}
	e := testEnqueuer(t, store, publisher)

	// A failed publish is skipped, not fatal; the rest of the batch still
	// goes out.
	require.NoError(t, e.RunOnce(context.Background(), now))

	require.Len(t, publisher.jobs, 2)
	assert.Equal(t, "r1", publisher.jobs[0].ReminderID)
	assert.Equal(t, "r3", publisher.jobs[1].ReminderID)
}

func TestRunOnceWithNothingDue(t *testing.T) {
	// Sunday, reminder only fires Mondays.
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	store := repository.NewMemoryStore()
	store.AddReminder(reminder("r1", "09:00", []int{1}, nil))

	publisher := &fakePublisher{}
	e := testEnqueuer(t, store, publisher)

	require.NoError(t, e.RunOnce(context.Background(), now))
	assert.Empty(t, publisher.jobs)
}
