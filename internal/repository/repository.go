// internal/repository/repository.go
package repository

import (
	"context"
	"time"

	"reminder-workers/internal/models"
)

// ReminderStore provides access to reminder definitions and their
// idempotency marker.
type ReminderStore interface {
	// FindDue returns active reminders whose wall-clock time is in the
	// candidate set. Day-of-week and marker filtering happen in the matcher.
	FindDue(ctx context.Context, times []string) ([]models.Reminder, error)

	GetByID(ctx context.Context, id string) (*models.Reminder, error)

	// MarkSent conditionally advances lastSentAt. It returns false when no
	// row was updated, meaning another run already sent the reminder today.
	MarkSent(ctx context.Context, id string, sentAt, startOfDay time.Time) (bool, error)
}

// SubscriptionStore provides access to push subscriptions and the set of
// registered users for global fan-out.
type SubscriptionStore interface {
	ListByUser(ctx context.Context, userID string) ([]models.PushSubscription, error)

	// ListUserIDs pages through all registered user ids.
	ListUserIDs(ctx context.Context, offset, limit int) ([]string, error)

	Delete(ctx context.Context, subscriptionID string) error
}
