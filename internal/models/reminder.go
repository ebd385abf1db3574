// internal/models/reminder.go
package models

import "time"

// Reminder is a scheduled, recurring notification definition.
type Reminder struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	Time       string     `json:"time"`       // wall-clock "HH:MM" in the configured timezone
	DaysOfWeek []int      `json:"daysOfWeek"` // 0 = Sunday .. 6 = Saturday
	Active     bool       `json:"active"`
	UserID     *string    `json:"userId"`     // nil = global, delivered to every registered user
	LastSentAt *time.Time `json:"lastSentAt"` // idempotency marker, advanced only after a successful send
}

// IsGlobal reports whether the reminder targets all registered users.
func (r *Reminder) IsGlobal() bool {
	return r.UserID == nil
}

// DueOn reports whether the reminder is scheduled for the given weekday.
func (r *Reminder) DueOn(weekday int) bool {
	for _, d := range r.DaysOfWeek {
		if d == weekday {
			return true
		}
	}
	return false
}

// AlreadySent reports whether the reminder was delivered on or after startOfDay.
func (r *Reminder) AlreadySent(startOfDay time.Time) bool {
	return r.LastSentAt != nil && !r.LastSentAt.Before(startOfDay)
}

// PushSubscription holds one device's push endpoint credentials.
// The endpoint, p256dh and auth fields are opaque transport material.
type PushSubscription struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Endpoint  string `json:"endpoint"`
	P256dh    string `json:"p256dh"`
	Auth      string `json:"auth"`
	UserAgent string `json:"userAgent,omitempty"`
}

// DeliveryRun is the ephemeral summary of one trigger invocation.
// It is returned and logged, never persisted.
type DeliveryRun struct {
	Checked int      `json:"checked"`
	Sent    int      `json:"sent"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors"`
}

// Merge folds one reminder's delivery outcome into the run totals.
func (r *DeliveryRun) Merge(o Outcome) {
	r.Sent += o.Sent
	r.Failed += o.Failed
	r.Errors = append(r.Errors, o.Errors...)
}

// Outcome aggregates the fan-out result for a single reminder.
type Outcome struct {
	Sent   int      `json:"sent"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors"`
}

// DeliveryJob is the queue message for one (reminder, recipient-scope) pair.
// A nil UserID means global fan-out.
type DeliveryJob struct {
	ReminderID string  `json:"reminderId"`
	UserID     *string `json:"userId"`
}
