// internal/queue/publisher.go
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"reminder-workers/internal/models"
)

// retriesHeader tracks how many times a job has been republished after a
// retryable failure.
const retriesHeader = "x-retries"

// JobPublisher enqueues one delivery job. Implemented by Manager; faked
// in tests.
type JobPublisher interface {
	PublishJob(ctx context.Context, job models.DeliveryJob) error
}

// PublishJob enqueues a fresh delivery job.
func (m *Manager) PublishJob(ctx context.Context, job models.DeliveryJob) error {
	return m.publish(ctx, job, 0)
}

// RepublishJob re-enqueues a job after a retryable failure with the retry
// counter advanced.
func (m *Manager) RepublishJob(ctx context.Context, job models.DeliveryJob, retries int) error {
	return m.publish(ctx, job, retries)
}

func (m *Manager) publish(ctx context.Context, job models.DeliveryJob, retries int) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	err = m.ch.Publish(m.cfg.Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.New().String(),
		Timestamp:    time.Now().UTC(),
		Headers: amqp.Table{
			retriesHeader: int32(retries),
		},
		Body: body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}

	m.log.Debug("published delivery job", map[string]interface{}{
		"reminderId": job.ReminderID,
		"retries":    retries,
	})
	return nil
}
