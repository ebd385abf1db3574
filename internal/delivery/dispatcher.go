// internal/delivery/dispatcher.go
package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"reminder-workers/internal/common/errors"
	"reminder-workers/internal/common/logger"
	"reminder-workers/internal/common/metrics"
	"reminder-workers/internal/models"
	"reminder-workers/internal/push"
	"reminder-workers/internal/repository"
)

// Transport sends one payload to one subscription. Implemented by
// push.Transport; faked in tests.
type Transport interface {
	Send(ctx context.Context, sub models.PushSubscription, payload push.Payload) error
}

// Dispatcher fans one reminder out to its resolved recipient set.
// Recipients within a batch are dispatched in parallel, batches run
// sequentially to cap peak concurrency.
type Dispatcher struct {
	subs      repository.SubscriptionStore
	transport Transport
	batchSize int
	log       logger.Logger
}

func NewDispatcher(subs repository.SubscriptionStore, transport Transport, batchSize int, log logger.Logger) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Dispatcher{
		subs:      subs,
		transport: transport,
		batchSize: batchSize,
		log:       log,
	}
}

// Deliver resolves recipients and sends the reminder to every subscription.
// It never touches the lastSentAt marker; that is DeliverAndMark's job.
func (d *Dispatcher) Deliver(ctx context.Context, reminder models.Reminder) models.Outcome {
	payload := buildPayload(reminder)

	if reminder.IsGlobal() {
		return d.deliverGlobal(ctx, reminder, payload)
	}
	return d.deliverSingle(ctx, reminder, payload)
}

func (d *Dispatcher) deliverSingle(ctx context.Context, reminder models.Reminder, payload push.Payload) models.Outcome {
	userID := *reminder.UserID

	subs, err := d.subs.ListByUser(ctx, userID)
	if err != nil {
		return models.Outcome{
			Failed: 1,
			Errors: []string{fmt.Sprintf("reminder %s: list subscriptions for user %s: %v", reminder.ID, userID, err)},
		}
	}
	if len(subs) == 0 {
		metrics.PushesFailed.WithLabelValues("no_subscriptions").Inc()
		return models.Outcome{
			Failed: 1,
			Errors: []string{fmt.Sprintf("reminder %s: no subscriptions for user %s", reminder.ID, userID)},
		}
	}

	var outcome models.Outcome
	var mu sync.Mutex
	d.sendToSubscriptions(ctx, subs, payload, &outcome, &mu)
	return outcome
}

func (d *Dispatcher) deliverGlobal(ctx context.Context, reminder models.Reminder, payload push.Payload) models.Outcome {
	var outcome models.Outcome
	var mu sync.Mutex

	offset := 0
	for {
		userIDs, err := d.subs.ListUserIDs(ctx, offset, d.batchSize)
		if err != nil {
			mu.Lock()
			outcome.Failed++
			outcome.Errors = append(outcome.Errors,
				fmt.Sprintf("reminder %s: list users at offset %d: %v", reminder.ID, offset, err))
			mu.Unlock()
			break
		}
		if len(userIDs) == 0 {
			break
		}

		// One goroutine per recipient in the batch, next batch waits.
		var wg sync.WaitGroup
		for _, userID := range userIDs {
			wg.Add(1)
			go func(userID string) {
				defer wg.Done()
				d.deliverToUser(ctx, userID, payload, &outcome, &mu)
			}(userID)
		}
		wg.Wait()

		if len(userIDs) < d.batchSize {
			break
		}
		offset += d.batchSize
	}

	return outcome
}

func (d *Dispatcher) deliverToUser(ctx context.Context, userID string, payload push.Payload, outcome *models.Outcome, mu *sync.Mutex) {
	subs, err := d.subs.ListByUser(ctx, userID)
	if err != nil {
		mu.Lock()
		outcome.Failed++
		outcome.Errors = append(outcome.Errors,
			fmt.Sprintf("list subscriptions for user %s: %v", userID, err))
		mu.Unlock()
		return
	}

	d.sendToSubscriptions(ctx, subs, payload, outcome, mu)
}

func (d *Dispatcher) sendToSubscriptions(ctx context.Context, subs []models.PushSubscription, payload push.Payload, outcome *models.Outcome, mu *sync.Mutex) {
	for _, sub := range subs {
		err := d.transport.Send(ctx, sub, payload)
		if err == nil {
			metrics.PushesSent.Inc()
			mu.Lock()
			outcome.Sent++
			mu.Unlock()
			continue
		}

		mu.Lock()
		outcome.Failed++
		outcome.Errors = append(outcome.Errors,
			fmt.Sprintf("subscription %s: %v", sub.ID, err))
		mu.Unlock()

		if errors.CodeOf(err) == errors.ErrCodeEndpointGone {
			metrics.PushesFailed.WithLabelValues("endpoint_gone").Inc()
			d.prune(ctx, sub)
		} else {
			metrics.PushesFailed.WithLabelValues("transient").Inc()
		}
	}
}

// prune deletes a dead subscription. Deletion failures are logged, never
// escalated: the send already failed and the next run will retry the prune.
func (d *Dispatcher) prune(ctx context.Context, sub models.PushSubscription) {
	if err := d.subs.Delete(ctx, sub.ID); err != nil {
		d.log.WithError(err).Warn("failed to prune dead subscription", map[string]interface{}{
			"subscriptionId": sub.ID,
		})
		return
	}
	metrics.SubscriptionsPruned.Inc()
	d.log.Info("deleted dead push subscription", map[string]interface{}{
		"subscriptionId": sub.ID,
		"userId":         sub.UserID,
	})
}

func buildPayload(reminder models.Reminder) push.Payload {
	return push.Payload{
		Title:              reminder.Title,
		Body:               reminder.Message,
		Icon:               "/icons/icon-192x192.png",
		Badge:              "/icons/icon-72x72.png",
		Tag:                "reminder-" + reminder.ID,
		RequireInteraction: false,
		Data: push.PayloadData{
			ReminderID: reminder.ID,
			Type:       "reminder",
			URL:        "/",
		},
	}
}

// DeliverAndMark is the shared delivery contract for both execution models:
// dispatch the full fan-out, then advance the idempotency marker exactly once
// and only if at least one subscription accepted the push. A conditional
// update that touches zero rows means another run already sent the reminder
// today, which is a no-op rather than an error.
func DeliverAndMark(ctx context.Context, reminders repository.ReminderStore, dispatcher *Dispatcher, reminder models.Reminder, now time.Time, loc *time.Location) (models.Outcome, error) {
	outcome := dispatcher.Deliver(ctx, reminder)
	if outcome.Sent == 0 {
		return outcome, nil
	}

	clk := NewLocalClock(now, loc)
	marked, err := reminders.MarkSent(ctx, reminder.ID, now, clk.StartOfDay)
	if err != nil {
		return outcome, err
	}
	if !marked {
		dispatcher.log.Debug("marker already advanced by a concurrent run", map[string]interface{}{
			"reminderId": reminder.ID,
		})
	}
	return outcome, nil
}
