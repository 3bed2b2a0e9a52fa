package alerts

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/flipwatch/engine/internal/clients/notify"
	"github.com/flipwatch/engine/internal/domain"
)

// NotificationLog is the audit trail of dispatched notifications. Entries
// are recorded optimistically before delivery completes; the dispatcher is
// fire-and-forget, so this is at-least-once bookkeeping, not a delivery
// receipt.
type NotificationLog struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewNotificationLog creates a notification log over the alerts database.
func NewNotificationLog(db *sql.DB, log zerolog.Logger) *NotificationLog {
	return &NotificationLog{
		db:  db,
		log: log.With().Str("repo", "notifications").Logger(),
	}
}

// Record appends one dispatched notification to the audit trail.
func (l *NotificationLog) Record(n notify.Notification) error {
	channels, err := json.Marshal(n.Channels)
	if err != nil {
		return fmt.Errorf("failed to marshal channels: %w", err)
	}

	_, err = l.db.Exec(`
		INSERT INTO notifications (alert_id, product_ref, type, priority, message, channels, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.AlertID, n.ProductRef, string(n.Type), string(n.Priority),
		n.Message, string(channels), formatTime(n.SentAt))
	if err != nil {
		return fmt.Errorf("failed to record notification for alert %s: %w", n.AlertID, err)
	}
	return nil
}

// ListByAlert returns the most recent notifications for one alert.
func (l *NotificationLog) ListByAlert(alertID string, limit int) ([]notify.Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.Query(`
		SELECT alert_id, product_ref, type, priority, message, channels, sent_at
		FROM notifications WHERE alert_id = ?
		ORDER BY id DESC LIMIT ?`, alertID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications for alert %s: %w", alertID, err)
	}
	defer rows.Close()

	var notifications []notify.Notification
	for rows.Next() {
		var (
			n            notify.Notification
			typeColumn   string
			priority     string
			channelsJSON string
			sentAt       string
		)
		if err := rows.Scan(&n.AlertID, &n.ProductRef, &typeColumn, &priority,
			&n.Message, &channelsJSON, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Type = domain.NotificationType(typeColumn)
		n.Priority = domain.AlertPriority(priority)
		if err := json.Unmarshal([]byte(channelsJSON), &n.Channels); err != nil {
			return nil, fmt.Errorf("bad channels %q: %w", channelsJSON, err)
		}
		if n.SentAt, err = time.Parse(time.RFC3339Nano, sentAt); err != nil {
			return nil, fmt.Errorf("bad sent_at %q: %w", sentAt, err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}
	return notifications, nil
}

// CountSince returns how many notifications were dispatched since the cutoff.
func (l *NotificationLog) CountSince(cutoff time.Time) (int, error) {
	var count int
	err := l.db.QueryRow(`SELECT COUNT(*) FROM notifications WHERE sent_at >= ?`,
		formatTime(cutoff)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	return count, nil
}

// PruneOlderThan removes audit entries older than the cutoff. Returns the
// number of rows removed.
func (l *NotificationLog) PruneOlderThan(cutoff time.Time) (int64, error) {
	result, err := l.db.Exec(`DELETE FROM notifications WHERE sent_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune notifications: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	if removed > 0 {
		l.log.Debug().Int64("removed", removed).Msg("Pruned old notifications")
	}
	return removed, nil
}
