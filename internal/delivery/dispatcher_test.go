// internal/delivery/dispatcher_test.go
package delivery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-workers/internal/common/errors"
	"reminder-workers/internal/common/logger"
	"reminder-workers/internal/models"
	"reminder-workers/internal/push"
	"reminder-workers/internal/repository"
)

// fakeTransport records sends and fails per-endpoint according to failWith.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []string
	payloads []push.Payload
	failWith map[string]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{failWith: make(map[string]error)}
}

func (f *fakeTransport) Send(ctx context.Context, sub models.PushSubscription, payload push.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failWith[sub.Endpoint]; ok {
		return err
	}
	f.sent = append(f.sent, sub.Endpoint)
	f.payloads = append(f.payloads, payload)
	return nil
}

func strPtr(s string) *string { return &s }

func subscription(id, userID string) models.PushSubscription {
	return models.PushSubscription{
		ID:       id,
		UserID:   userID,
		Endpoint: "https://push.example.com/" + id,
		P256dh:   "p256dh-" + id,
		Auth:     "auth-" + id,
	}
}

func TestDispatcherSingleTarget(t *testing.T) {
	t.Run("delivers to every subscription of the target user", func(t *testing.T) {
		store := repository.NewMemoryStore()
		store.AddSubscription(subscription("s1", "user-1"))
		store.AddSubscription(subscription("s2", "user-1"))

		transport := newFakeTransport()
		d := NewDispatcher(store, transport, 50, logger.NewNoOpLogger())

		reminder := testReminder("r1", "09:00", []int{1}, nil)
		reminder.UserID = strPtr("user-1")

		outcome := d.Deliver(context.Background(), reminder)

		assert.Equal(t, 2, outcome.Sent)
		assert.Equal(t, 0, outcome.Failed)
		assert.Len(t, transport.sent, 2)
	})

	t.Run("no subscriptions is a recipient-level failure without transport calls", func(t *testing.T) {
		store := repository.NewMemoryStore()
		store.AddUser("user-1")

		transport := newFakeTransport()
		d := NewDispatcher(store, transport, 50, logger.NewNoOpLogger())

		reminder := testReminder("r1", "09:00", []int{1}, nil)
		reminder.UserID = strPtr("user-1")

		outcome := d.Deliver(context.Background(), reminder)

		assert.Equal(t, 0, outcome.Sent)
		assert.Equal(t, 1, outcome.Failed)
		require.Len(t, outcome.Errors, 1)
		assert.Contains(t, outcome.Errors[0], "no subscriptions")
		assert.Empty(t, transport.sent)
	})
}

func TestDispatcherGlobalFanOut(t *testing.T) {
	t.Run("reaches every registered user", func(t *testing.T) {
		store := repository.NewMemoryStore()
		for i := 0; i < 7; i++ {
			userID := fmt.Sprintf("user-%d", i)
			store.AddSubscription(subscription(fmt.Sprintf("s%d", i), userID))
		}

		transport := newFakeTransport()
		// Batch size 3 forces three sequential batches.
		d := NewDispatcher(store, transport, 3, logger.NewNoOpLogger())

		outcome := d.Deliver(context.Background(), testReminder("r1", "09:00", []int{1}, nil))

		assert.Equal(t, 7, outcome.Sent)
		assert.Equal(t, 0, outcome.Failed)
		assert.Len(t, transport.sent, 7)
	})

	t.Run("users without subscriptions are silently skipped in global mode", func(t *testing.T) {
		store := repository.NewMemoryStore()
		store.AddSubscription(subscription("s1", "user-1"))
		store.AddUser("user-2")

		transport := newFakeTransport()
		d := NewDispatcher(store, transport, 50, logger.NewNoOpLogger())

		outcome := d.Deliver(context.Background(), testReminder("r1", "09:00", []int{1}, nil))

		assert.Equal(t, 1, outcome.Sent)
		assert.Equal(t, 0, outcome.Failed)
	})
}

func TestDispatcherPruning(t *testing.T) {
	store := repository.NewMemoryStore()
	dead := subscription("s-dead", "user-1")
	live := subscription("s-live", "user-1")
	store.AddSubscription(dead)
	store.AddSubscription(live)

	transport := newFakeTransport()
	transport.failWith[dead.Endpoint] = errors.NewEndpointGoneError(dead.Endpoint, 410)

	d := NewDispatcher(store, transport, 50, logger.NewNoOpLogger())

	reminder := testReminder("r1", "09:00", []int{1}, nil)
	reminder.UserID = strPtr("user-1")

	outcome := d.Deliver(context.Background(), reminder)

	assert.Equal(t, 1, outcome.Sent)
	assert.Equal(t, 1, outcome.Failed)

	// The dead subscription is gone from the next resolution.
	subs, err := store.ListByUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, live.ID, subs[0].ID)
}

func TestDispatcherTransientFailuresKeepSubscriptions(t *testing.T) {
	store := repository.NewMemoryStore()
	flaky := subscription("s-flaky", "user-1")
	store.AddSubscription(flaky)
	store.AddSubscription(subscription("s-ok", "user-1"))

	transport := newFakeTransport()
	transport.failWith[flaky.Endpoint] = errors.NewPushSendFailedError(flaky.Endpoint, fmt.Errorf("503 from push service"))

	d := NewDispatcher(store, transport, 50, logger.NewNoOpLogger())

	reminder := testReminder("r1", "09:00", []int{1}, nil)
	reminder.UserID = strPtr("user-1")

	outcome := d.Deliver(context.Background(), reminder)

	assert.Equal(t, 1, outcome.Sent)
	assert.Equal(t, 1, outcome.Failed)

	subs, err := store.ListByUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, subs, 2, "transiently failing subscription must stay for retry")
}

func TestDispatcherPayload(t *testing.T) {
	store := repository.NewMemoryStore()
	store.AddSubscription(subscription("s1", "user-1"))

	transport := newFakeTransport()
	d := NewDispatcher(store, transport, 50, logger.NewNoOpLogger())

	reminder := testReminder("rem-42", "09:00", []int{1}, nil)
	reminder.UserID = strPtr("user-1")

	d.Deliver(context.Background(), reminder)

	require.Len(t, transport.payloads, 1)
	p := transport.payloads[0]
	assert.Equal(t, "Drink water", p.Title)
	assert.Equal(t, "Time to hydrate", p.Body)
	assert.Equal(t, "/icons/icon-192x192.png", p.Icon)
	assert.Equal(t, "/icons/icon-72x72.png", p.Badge)
	assert.Equal(t, "reminder-rem-42", p.Tag)
	assert.False(t, p.RequireInteraction)
	assert.Equal(t, "rem-42", p.Data.ReminderID)
	assert.Equal(t, "reminder", p.Data.Type)
	assert.Equal(t, "/", p.Data.URL)
}

func TestDeliverAndMark(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	t.Run("partial failure still advances the marker", func(t *testing.T) {
		store := repository.NewMemoryStore()
		reminder := testReminder("r1", "09:00", []int{1}, nil)
		store.AddReminder(reminder)

		transport := newFakeTransport()
		for i := 0; i < 5; i++ {
			userID := fmt.Sprintf("user-%d", i)
			sub := subscription(fmt.Sprintf("s%d", i), userID)
			store.AddSubscription(sub)
			if i >= 3 {
				transport.failWith[sub.Endpoint] = errors.NewPushSendFailedError(sub.Endpoint, fmt.Errorf("timeout"))
			}
		}

		d := NewDispatcher(store, transport, 50, logger.NewNoOpLogger())

		outcome, err := DeliverAndMark(context.Background(), store, d, reminder, now, time.UTC)
		require.NoError(t, err)
		assert.Equal(t, 3, outcome.Sent)
		assert.Equal(t, 2, outcome.Failed)

		stored, err := store.GetByID(context.Background(), "r1")
		require.NoError(t, err)
		require.NotNil(t, stored.LastSentAt)
		assert.True(t, stored.LastSentAt.Equal(now))
	})

	t.Run("total failure leaves the marker untouched", func(t *testing.T) {
		store := repository.NewMemoryStore()
		reminder := testReminder("r1", "09:00", []int{1}, nil)
		reminder.UserID = strPtr("user-1")
		store.AddReminder(reminder)
		store.AddUser("user-1")

		d := NewDispatcher(store, newFakeTransport(), 50, logger.NewNoOpLogger())

		outcome, err := DeliverAndMark(context.Background(), store, d, reminder, now, time.UTC)
		require.NoError(t, err)
		assert.Equal(t, 0, outcome.Sent)

		stored, err := store.GetByID(context.Background(), "r1")
		require.NoError(t, err)
		assert.Nil(t, stored.LastSentAt)
	})

	t.Run("second run the same day is a no-op on the marker", func(t *testing.T) {
		store := repository.NewMemoryStore()
		reminder := testReminder("r1", "09:00", []int{1}, nil)
		reminder.UserID = strPtr("user-1")
		store.AddReminder(reminder)
		store.AddSubscription(subscription("s1", "user-1"))

		d := NewDispatcher(store, newFakeTransport(), 50, logger.NewNoOpLogger())

		_, err := DeliverAndMark(context.Background(), store, d, reminder, now, time.UTC)
		require.NoError(t, err)

		first, err := store.GetByID(context.Background(), "r1")
		require.NoError(t, err)
		require.NotNil(t, first.LastSentAt)

		later := now.Add(time.Minute)
		_, err = DeliverAndMark(context.Background(), store, d, reminder, later, time.UTC)
		require.NoError(t, err)

		second, err := store.GetByID(context.Background(), "r1")
		require.NoError(t, err)
		assert.True(t, second.LastSentAt.Equal(*first.LastSentAt),
			"marker must not advance twice within the same day")
	})
}
