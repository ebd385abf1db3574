// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"reminder-workers/internal/common/logger"
	"reminder-workers/internal/delivery"
	"reminder-workers/internal/models"
	"reminder-workers/internal/queue"
)

// Enqueuer runs the matcher once per minute and publishes one delivery job
// per matched reminder. It is embedded in the queue worker binary so the
// queue deployment does not need the external scheduler at all.
type Enqueuer struct {
	matcher   *delivery.Matcher
	publisher queue.JobPublisher
	cron      *cron.Cron
	log       logger.Logger
}

func NewEnqueuer(matcher *delivery.Matcher, publisher queue.JobPublisher, log logger.Logger) *Enqueuer {
	return &Enqueuer{
		matcher:   matcher,
		publisher: publisher,
		cron:      cron.New(),
		log:       log,
	}
}

// Start registers the minute schedule and launches the cron loop.
func (e *Enqueuer) Start() error {
	_, err := e.cron.AddFunc("* * * * *", func() {
		// One enqueue pass must finish before the next minute fires.
		ctx, cancel := context.WithTimeout(context.Background(), 55*time.Second)
		defer cancel()

		if err := e.RunOnce(ctx, time.Now()); err != nil {
			e.log.WithError(err).Error("enqueue pass failed", nil)
		}
	})
	if err != nil {
		return err
	}

	e.cron.Start()
	e.log.Info("enqueuer started", nil)
	return nil
}

// Stop halts the cron loop and waits for a running pass to finish.
func (e *Enqueuer) Stop() {
	ctx := e.cron.Stop()
	<-ctx.Done()
}

// RunOnce matches due reminders and publishes one job each. Publish
// failures are logged and skipped; the look-back window and the
// idempotency marker cover the gap on the next pass.
func (e *Enqueuer) RunOnce(ctx context.Context, now time.Time) error {
	due, err := e.matcher.DueReminders(ctx, now)
	if err != nil {
		return err
	}

	published := 0
	for _, reminder := range due {
		job := models.DeliveryJob{
			ReminderID: reminder.ID,
			UserID:     reminder.UserID,
		}
		if err := e.publisher.PublishJob(ctx, job); err != nil {
			e.log.WithError(err).Error("failed to publish delivery job", map[string]interface{}{
				"reminderId": reminder.ID,
			})
			continue
		}
		published++
	}

	if published > 0 {
		e.log.Info("published delivery jobs", map[string]interface{}{
			"published": published,
			"matched":   len(due),
		})
	}
	return nil
}
