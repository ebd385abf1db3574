// internal/queue/consumer.go
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/time/rate"

	"reminder-workers/internal/common/config"
	"reminder-workers/internal/common/errors"
	"reminder-workers/internal/common/logger"
	"reminder-workers/internal/common/metrics"
	"reminder-workers/internal/common/observability"
	"reminder-workers/internal/delivery"
	"reminder-workers/internal/models"
	"reminder-workers/internal/repository"
)

// jobSchema validates the wire shape of a delivery job before any
// processing. Malformed jobs are dead-lettered, never retried.
const jobSchema = `{
	"type": "object",
	"required": ["reminderId"],
	"properties": {
		"reminderId": {"type": "string", "minLength": 1},
		"userId": {"type": ["string", "null"]}
	},
	"additionalProperties": false
}`

var compiledJobSchema = gojsonschema.NewStringLoader(jobSchema)

// jobRepublisher re-enqueues a job with an advanced retry counter.
// Implemented by Manager.
type jobRepublisher interface {
	RepublishJob(ctx context.Context, job models.DeliveryJob, retries int) error
}

// Consumer is the long-lived queue worker: a bounded pool of goroutines
// draining the delivery queue under a global jobs-per-second limit.
type Consumer struct {
	manager    *Manager
	republish  jobRepublisher
	reminders  repository.ReminderStore
	dispatcher *delivery.Dispatcher
	loc        *time.Location
	limiter    *rate.Limiter
	cfg        config.QueueConfig
	obs        *observability.Observability
	log        logger.Logger

	now func() time.Time
}

func NewConsumer(
	manager *Manager,
	reminders repository.ReminderStore,
	dispatcher *delivery.Dispatcher,
	cfg config.QueueConfig,
	loc *time.Location,
	obs *observability.Observability,
	log logger.Logger,
) *Consumer {
	return &Consumer{
		manager:    manager,
		republish:  manager,
		reminders:  reminders,
		dispatcher: dispatcher,
		loc:        loc,
		limiter:    rate.NewLimiter(rate.Limit(cfg.JobsPerSecond), 1),
		cfg:        cfg,
		obs:        obs,
		log:        log,
		now:        time.Now,
	}
}

// Start blocks until the context is cancelled or the delivery channel
// closes.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.manager.Consume()
	if err != nil {
		return err
	}

	c.log.Info("queue consumer started", map[string]interface{}{
		"queue":         c.cfg.Queue,
		"concurrency":   c.cfg.Concurrency,
		"jobsPerSecond": c.cfg.JobsPerSecond,
	})

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.work(ctx, deliveries)
		}()
	}
	wg.Wait()
	return nil
}

func (c *Consumer) work(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			if err := c.limiter.Wait(ctx); err != nil {
				d.Nack(false, true)
				return
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	metrics.QueueJobsActive.Inc()
	defer metrics.QueueJobsActive.Dec()
	started := c.now()

	job, err := c.parseJob(d.Body)
	if err != nil {
		c.log.WithError(err).Warn("rejecting malformed job", map[string]interface{}{
			"body": string(d.Body),
		})
		metrics.QueueJobsFailed.WithLabelValues(string(errors.ErrCodeInvalidJobPayload)).Inc()
		c.obs.RecordJobProcessed(ctx, "invalid")
		d.Reject(false)
		return
	}

	err = c.process(ctx, job)
	c.obs.RecordJobDuration(ctx, c.now().Sub(started), statusOf(err))

	if err == nil {
		metrics.QueueJobsCompleted.Inc()
		c.obs.RecordJobProcessed(ctx, "success")
		d.Ack(false)
		return
	}

	metrics.QueueJobsFailed.WithLabelValues(string(errors.CodeOf(err))).Inc()

	if !errors.IsRetryable(err) {
		c.log.WithError(err).Warn("dead-lettering job", map[string]interface{}{
			"reminderId": job.ReminderID,
		})
		c.obs.RecordJobProcessed(ctx, "rejected")
		d.Reject(false)
		return
	}

	retries := retryCount(d)
	if retries >= c.cfg.MaxRetries {
		c.log.WithError(err).Error("job exhausted retries, dead-lettering", map[string]interface{}{
			"reminderId": job.ReminderID,
			"retries":    retries,
		})
		c.obs.RecordJobProcessed(ctx, "exhausted")
		d.Reject(false)
		return
	}

	if pubErr := c.republish.RepublishJob(ctx, job, retries+1); pubErr != nil {
		c.log.WithError(pubErr).Error("failed to republish job, requeueing original", map[string]interface{}{
			"reminderId": job.ReminderID,
		})
		d.Nack(false, true)
		return
	}

	c.log.WithError(err).Warn("job failed, republished for retry", map[string]interface{}{
		"reminderId": job.ReminderID,
		"retries":    retries + 1,
	})
	c.obs.RecordJobProcessed(ctx, "retried")
	d.Ack(false)
}

// process re-fetches the reminder at processing time so a job enqueued
// before deactivation or deletion is aborted instead of delivered.
func (c *Consumer) process(ctx context.Context, job models.DeliveryJob) error {
	reminder, err := c.reminders.GetByID(ctx, job.ReminderID)
	if err != nil {
		return err
	}
	if !reminder.Active {
		return errors.NewReminderInactiveError(reminder.ID)
	}

	// The job's recipient scope wins over the stored target so one global
	// reminder can also be enqueued per user.
	scoped := *reminder
	scoped.UserID = job.UserID

	outcome, err := delivery.DeliverAndMark(ctx, c.reminders, c.dispatcher, scoped, c.now(), c.loc)
	if err != nil {
		return err
	}
	if outcome.Sent == 0 && outcome.Failed > 0 {
		return errors.NewPushSendFailedError(job.ReminderID,
			fmt.Errorf("all deliveries failed: %s", strings.Join(outcome.Errors, "; ")))
	}
	return nil
}

func (c *Consumer) parseJob(body []byte) (models.DeliveryJob, error) {
	result, err := gojsonschema.Validate(compiledJobSchema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return models.DeliveryJob{}, errors.NewInvalidJobPayloadError(err.Error())
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return models.DeliveryJob{}, errors.NewInvalidJobPayloadError(strings.Join(problems, "; "))
	}

	var job models.DeliveryJob
	if err := json.Unmarshal(body, &job); err != nil {
		return models.DeliveryJob{}, errors.NewInvalidJobPayloadError(err.Error())
	}
	return job, nil
}

func retryCount(d amqp.Delivery) int {
	raw, ok := d.Headers[retriesHeader]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func statusOf(err error) string {
	if err == nil {
		return "success"
	}
	return "failure"
}
