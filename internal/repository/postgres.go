// internal/repository/postgres.go
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"reminder-workers/internal/common/database"
	"reminder-workers/internal/common/errors"
	"reminder-workers/internal/common/logger"
	"reminder-workers/internal/models"
)

// PostgresReminderStore implements ReminderStore over lib/pq.
type PostgresReminderStore struct {
	db  *database.PostgresClient
	log logger.Logger
}

func NewPostgresReminderStore(db *database.PostgresClient, log logger.Logger) *PostgresReminderStore {
	return &PostgresReminderStore{db: db, log: log}
}

const reminderColumns = `id, title, message, time, days_of_week, active, user_id, last_sent_at`

func (s *PostgresReminderStore) FindDue(ctx context.Context, times []string) ([]models.Reminder, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM reminders WHERE active = true AND time = ANY($1)`,
		reminderColumns,
	)

	rows, err := s.db.Query(ctx, query, pq.Array(times))
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("find_due_reminders", err)
	}
	defer rows.Close()

	var reminders []models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, errors.NewQueryExecutionFailedError("scan_reminder", err)
		}
		reminders = append(reminders, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("find_due_reminders", err)
	}

	return reminders, nil
}

func (s *PostgresReminderStore) GetByID(ctx context.Context, id string) (*models.Reminder, error) {
	query := fmt.Sprintf(`SELECT %s FROM reminders WHERE id = $1`, reminderColumns)

	row := s.db.QueryRow(ctx, query, id)
	r, err := scanReminder(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewReminderNotFoundError(id)
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("get_reminder", err)
	}

	return r, nil
}

// MarkSent advances the idempotency marker with a conditional update so that
// concurrent runs cannot both claim the same day. Zero rows updated means the
// reminder was already sent today.
func (s *PostgresReminderStore) MarkSent(ctx context.Context, id string, sentAt, startOfDay time.Time) (bool, error) {
	query := `
		UPDATE reminders
		SET last_sent_at = $2
		WHERE id = $1 AND (last_sent_at IS NULL OR last_sent_at < $3)`

	res, err := s.db.Exec(ctx, query, id, sentAt, startOfDay)
	if err != nil {
		return false, errors.NewQueryExecutionFailedError("mark_sent", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewQueryExecutionFailedError("mark_sent", err)
	}

	if affected == 0 {
		s.log.Debug("reminder already marked sent today", map[string]interface{}{
			"reminderId": id,
		})
	}
	return affected > 0, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReminder(row rowScanner) (*models.Reminder, error) {
	var (
		r        models.Reminder
		daysJSON []byte
		userID   sql.NullString
		lastSent sql.NullTime
	)

	err := row.Scan(&r.ID, &r.Title, &r.Message, &r.Time, &daysJSON, &r.Active, &userID, &lastSent)
	if err != nil {
		return nil, err
	}

	if len(daysJSON) > 0 {
		if err := json.Unmarshal(daysJSON, &r.DaysOfWeek); err != nil {
			return nil, fmt.Errorf("decode days_of_week for reminder %s: %w", r.ID, err)
		}
	}
	if userID.Valid {
		r.UserID = &userID.String
	}
	if lastSent.Valid {
		t := lastSent.Time
		r.LastSentAt = &t
	}

	return &r, nil
}

// PostgresSubscriptionStore implements SubscriptionStore over lib/pq.
type PostgresSubscriptionStore struct {
	db  *database.PostgresClient
	log logger.Logger
}

func NewPostgresSubscriptionStore(db *database.PostgresClient, log logger.Logger) *PostgresSubscriptionStore {
	return &PostgresSubscriptionStore{db: db, log: log}
}

func (s *PostgresSubscriptionStore) ListByUser(ctx context.Context, userID string) ([]models.PushSubscription, error) {
	query := `
		SELECT id, user_id, endpoint, p256dh, auth, COALESCE(user_agent, '')
		FROM push_subscriptions
		WHERE user_id = $1`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("list_subscriptions", err)
	}
	defer rows.Close()

	var subs []models.PushSubscription
	for rows.Next() {
		var sub models.PushSubscription
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dh, &sub.Auth, &sub.UserAgent); err != nil {
			return nil, errors.NewQueryExecutionFailedError("scan_subscription", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("list_subscriptions", err)
	}

	return subs, nil
}

func (s *PostgresSubscriptionStore) ListUserIDs(ctx context.Context, offset, limit int) ([]string, error) {
	query := `SELECT id FROM users ORDER BY id LIMIT $1 OFFSET $2`

	rows, err := s.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("list_user_ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewQueryExecutionFailedError("scan_user_id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("list_user_ids", err)
	}

	return ids, nil
}

func (s *PostgresSubscriptionStore) Delete(ctx context.Context, subscriptionID string) error {
	query := `DELETE FROM push_subscriptions WHERE id = $1`

	if _, err := s.db.Exec(ctx, query, subscriptionID); err != nil {
		return errors.NewQueryExecutionFailedError("delete_subscription", err)
	}

	s.log.Info("pruned push subscription", map[string]interface{}{
		"subscriptionId": subscriptionID,
	})
	return nil
}
