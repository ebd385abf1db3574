// internal/repository/memory.go
package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"reminder-workers/internal/common/errors"
	"reminder-workers/internal/models"
)

// MemoryStore is an in-memory implementation of both ReminderStore and
// SubscriptionStore, used by tests and local development without a database.
type MemoryStore struct {
	mu            sync.RWMutex
	reminders     map[string]*models.Reminder
	subscriptions map[string]*models.PushSubscription
	userIDs       []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reminders:     make(map[string]*models.Reminder),
		subscriptions: make(map[string]*models.PushSubscription),
	}
}

// AddReminder stores a copy of the reminder.
func (m *MemoryStore) AddReminder(r models.Reminder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reminders[r.ID] = &r
}

// AddSubscription stores a copy of the subscription and registers its user.
func (m *MemoryStore) AddSubscription(sub models.PushSubscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[sub.ID] = &sub
	m.addUserLocked(sub.UserID)
}

// AddUser registers a user id without any subscriptions.
func (m *MemoryStore) AddUser(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addUserLocked(userID)
}

func (m *MemoryStore) addUserLocked(userID string) {
	for _, id := range m.userIDs {
		if id == userID {
			return
		}
	}
	m.userIDs = append(m.userIDs, userID)
	sort.Strings(m.userIDs)
}

func (m *MemoryStore) FindDue(ctx context.Context, times []string) ([]models.Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	timeSet := make(map[string]struct{}, len(times))
	for _, t := range times {
		timeSet[t] = struct{}{}
	}

	var out []models.Reminder
	for _, r := range m.reminders {
		if !r.Active {
			continue
		}
		if _, ok := timeSet[r.Time]; !ok {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id string) (*models.Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.reminders[id]
	if !ok {
		return nil, errors.NewReminderNotFoundError(id)
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) MarkSent(ctx context.Context, id string, sentAt, startOfDay time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reminders[id]
	if !ok {
		return false, errors.NewReminderNotFoundError(id)
	}
	if r.LastSentAt != nil && !r.LastSentAt.Before(startOfDay) {
		return false, nil
	}
	t := sentAt
	r.LastSentAt = &t
	return true, nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string) ([]models.PushSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.PushSubscription
	for _, sub := range m.subscriptions {
		if sub.UserID == userID {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListUserIDs(ctx context.Context, offset, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if offset >= len(m.userIDs) {
		return nil, nil
	}
	end := offset + limit
	if end > len(m.userIDs) {
		end = len(m.userIDs)
	}
	out := make([]string, end-offset)
	copy(out, m.userIDs[offset:end])
	return out, nil
}

func (m *MemoryStore) Delete(ctx context.Context, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
	return nil
}
