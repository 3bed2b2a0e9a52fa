// Package alerts implements the price alert engine: persistence, the
// per-alert evaluation chain with smart triggers and snoozing, predictive
// notifications, and the recurring sweep that drives it all.
package alerts

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/flipwatch/engine/internal/domain"
)

// Repository handles alert database operations. Deleted alerts are removed
// rows, so a sweep can never observe one.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new alert repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "alerts").Logger(),
	}
}

const alertColumns = `id, product_ref, owner_ref, channel, desired_price,
	current_price, is_active, priority, notifications_via, smart_triggers,
	snoozing, predictions, interval_minutes, paused_until, created_at,
	triggered_at, last_checked_at, notifications_sent`

// Create inserts a new alert row.
func (r *Repository) Create(alert *domain.Alert) error {
	notificationsVia, err := json.Marshal(alert.NotificationsVia)
	if err != nil {
		return fmt.Errorf("failed to marshal notification channels: %w", err)
	}
	smartTriggers, err := marshalNullable(alert.SmartTriggers)
	if err != nil {
		return fmt.Errorf("failed to marshal smart triggers: %w", err)
	}
	snoozing, err := marshalNullable(alert.Snoozing)
	if err != nil {
		return fmt.Errorf("failed to marshal snoozing config: %w", err)
	}
	predictions, err := marshalNullable(alert.Predictions)
	if err != nil {
		return fmt.Errorf("failed to marshal predictions: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO alerts (id, product_ref, owner_ref, channel, desired_price,
			current_price, is_active, priority, notifications_via, smart_triggers,
			snoozing, predictions, interval_minutes, paused_until, created_at,
			triggered_at, last_checked_at, notifications_sent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.ProductRef, alert.OwnerRef, string(alert.Channel),
		int64(alert.DesiredPrice), nullableMoney(alert.CurrentPrice),
		boolToInt(alert.IsActive), string(alert.Priority), string(notificationsVia),
		smartTriggers, snoozing, predictions, alert.IntervalMinutes,
		nullableTime(alert.PausedUntil), formatTime(alert.CreatedAt),
		nullableTime(alert.TriggeredAt), nullableTime(alert.LastCheckedAt),
		alert.NotificationsSent)
	if err != nil {
		return fmt.Errorf("failed to insert alert %s: %w", alert.ID, err)
	}
	return nil
}

// Get returns one alert, or (nil, nil) when the id is unknown.
func (r *Repository) Get(id string) (*domain.Alert, error) {
	rows, err := r.db.Query(`SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to read alert %s: %w", id, err)
		}
		return nil, nil
	}

	alert, err := scanAlert(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan alert %s: %w", id, err)
	}
	return alert, nil
}

// List returns alerts, optionally filtered by owner, newest first.
func (r *Repository) List(ownerRef string) ([]domain.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts ORDER BY created_at DESC`
	args := []interface{}{}
	if ownerRef != "" {
		query = `SELECT ` + alertColumns + ` FROM alerts WHERE owner_ref = ? ORDER BY created_at DESC`
		args = append(args, ownerRef)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// ListActive returns every active alert.
func (r *Repository) ListActive() ([]domain.Alert, error) {
	rows, err := r.db.Query(`SELECT ` + alertColumns + ` FROM alerts WHERE is_active = 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active alerts: %w", err)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// ListPausedWithDeadline returns paused alerts that have an auto-resume
// deadline set. Deadline comparison happens in Go, where time semantics are
// unambiguous.
func (r *Repository) ListPausedWithDeadline() ([]domain.Alert, error) {
	rows, err := r.db.Query(`SELECT ` + alertColumns + ` FROM alerts
		WHERE is_active = 0 AND paused_until IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to query paused alerts: %w", err)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// Update rewrites an alert's configurable fields. Returns false when the
// alert does not exist.
func (r *Repository) Update(alert *domain.Alert) (bool, error) {
	notificationsVia, err := json.Marshal(alert.NotificationsVia)
	if err != nil {
		return false, fmt.Errorf("failed to marshal notification channels: %w", err)
	}
	smartTriggers, err := marshalNullable(alert.SmartTriggers)
	if err != nil {
		return false, fmt.Errorf("failed to marshal smart triggers: %w", err)
	}
	snoozing, err := marshalNullable(alert.Snoozing)
	if err != nil {
		return false, fmt.Errorf("failed to marshal snoozing config: %w", err)
	}
	predictions, err := marshalNullable(alert.Predictions)
	if err != nil {
		return false, fmt.Errorf("failed to marshal predictions: %w", err)
	}

	result, err := r.db.Exec(`
		UPDATE alerts SET
			channel = ?, desired_price = ?, current_price = ?, priority = ?,
			notifications_via = ?, smart_triggers = ?, snoozing = ?,
			predictions = ?, interval_minutes = ?
		WHERE id = ?`,
		string(alert.Channel), int64(alert.DesiredPrice),
		nullableMoney(alert.CurrentPrice), string(alert.Priority),
		string(notificationsVia), smartTriggers, snoozing, predictions,
		alert.IntervalMinutes, alert.ID)
	if err != nil {
		return false, fmt.Errorf("failed to update alert %s: %w", alert.ID, err)
	}
	return affectedRows(result), nil
}

// SetActive flips the alert's active flag and auto-resume deadline.
// Returns false when the alert does not exist.
func (r *Repository) SetActive(id string, active bool, pausedUntil *time.Time) (bool, error) {
	result, err := r.db.Exec(`UPDATE alerts SET is_active = ?, paused_until = ? WHERE id = ?`,
		boolToInt(active), nullableTime(pausedUntil), id)
	if err != nil {
		return false, fmt.Errorf("failed to set active state for alert %s: %w", id, err)
	}
	return affectedRows(result), nil
}

// MarkTriggered records a fired trigger in one statement: trigger time,
// observed price, check time, and the notification counter increment.
func (r *Repository) MarkTriggered(id string, price domain.Money, at time.Time) error {
	_, err := r.db.Exec(`
		UPDATE alerts SET
			triggered_at = ?, current_price = ?, last_checked_at = ?,
			notifications_sent = notifications_sent + 1
		WHERE id = ?`,
		formatTime(at), int64(price), formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to mark alert %s triggered: %w", id, err)
	}
	return nil
}

// TouchChecked stamps the evaluation time and the price observed during it.
func (r *Repository) TouchChecked(id string, price *domain.Money, at time.Time) error {
	_, err := r.db.Exec(`UPDATE alerts SET last_checked_at = ?, current_price = ? WHERE id = ?`,
		formatTime(at), nullableMoney(price), id)
	if err != nil {
		return fmt.Errorf("failed to stamp check time for alert %s: %w", id, err)
	}
	return nil
}

// UpdatePredictions replaces the cached predictive read for an alert.
func (r *Repository) UpdatePredictions(id string, predictions *domain.AlertPredictions) error {
	encoded, err := marshalNullable(predictions)
	if err != nil {
		return fmt.Errorf("failed to marshal predictions: %w", err)
	}
	_, err = r.db.Exec(`UPDATE alerts SET predictions = ? WHERE id = ?`, encoded, id)
	if err != nil {
		return fmt.Errorf("failed to update predictions for alert %s: %w", id, err)
	}
	return nil
}

// Delete removes an alert. Deleting an unknown id is not an error, so the
// operation is idempotent.
func (r *Repository) Delete(id string) error {
	if _, err := r.db.Exec(`DELETE FROM alerts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete alert %s: %w", id, err)
	}
	return nil
}

// CountActive returns the number of active alerts.
func (r *Repository) CountActive() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM alerts WHERE is_active = 1`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active alerts: %w", err)
	}
	return count, nil
}

func collectAlerts(rows *sql.Rows) ([]domain.Alert, error) {
	var alerts []domain.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}
	return alerts, nil
}

func scanAlert(rows *sql.Rows) (*domain.Alert, error) {
	var (
		alert            domain.Alert
		channel          string
		desiredPrice     int64
		currentPrice     sql.NullInt64
		isActive         int
		priority         string
		notificationsVia string
		smartTriggers    sql.NullString
		snoozing         sql.NullString
		predictions      sql.NullString
		pausedUntil      sql.NullString
		createdAt        string
		triggeredAt      sql.NullString
		lastCheckedAt    sql.NullString
	)

	if err := rows.Scan(&alert.ID, &alert.ProductRef, &alert.OwnerRef, &channel,
		&desiredPrice, &currentPrice, &isActive, &priority, &notificationsVia,
		&smartTriggers, &snoozing, &predictions, &alert.IntervalMinutes,
		&pausedUntil, &createdAt, &triggeredAt, &lastCheckedAt,
		&alert.NotificationsSent); err != nil {
		return nil, err
	}

	alert.Channel = domain.Channel(channel)
	alert.DesiredPrice = domain.Money(desiredPrice)
	alert.IsActive = isActive != 0
	alert.Priority = domain.AlertPriority(priority)

	if currentPrice.Valid {
		price := domain.Money(currentPrice.Int64)
		alert.CurrentPrice = &price
	}
	if err := json.Unmarshal([]byte(notificationsVia), &alert.NotificationsVia); err != nil {
		return nil, fmt.Errorf("bad notification channels %q: %w", notificationsVia, err)
	}
	if err := unmarshalNullable(smartTriggers, &alert.SmartTriggers); err != nil {
		return nil, fmt.Errorf("bad smart triggers: %w", err)
	}
	if err := unmarshalNullable(snoozing, &alert.Snoozing); err != nil {
		return nil, fmt.Errorf("bad snoozing config: %w", err)
	}
	if err := unmarshalNullable(predictions, &alert.Predictions); err != nil {
		return nil, fmt.Errorf("bad predictions: %w", err)
	}

	var err error
	if alert.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("bad created_at %q: %w", createdAt, err)
	}
	if alert.PausedUntil, err = parseNullableTime(pausedUntil); err != nil {
		return nil, fmt.Errorf("bad paused_until: %w", err)
	}
	if alert.TriggeredAt, err = parseNullableTime(triggeredAt); err != nil {
		return nil, fmt.Errorf("bad triggered_at: %w", err)
	}
	if alert.LastCheckedAt, err = parseNullableTime(lastCheckedAt); err != nil {
		return nil, fmt.Errorf("bad last_checked_at: %w", err)
	}

	return &alert, nil
}

// marshalNullable encodes optional JSON config columns. Nil pointers encode
// to JSON null and are stored as SQL NULL.
func marshalNullable(v interface{}) (interface{}, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(encoded) == "null" {
		return nil, nil
	}
	return string(encoded), nil
}

func unmarshalNullable(column sql.NullString, dest interface{}) error {
	if !column.Valid || column.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(column.String), dest)
}

func parseNullableTime(column sql.NullString) (*time.Time, error) {
	if !column.Valid || column.String == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, column.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// timeLayout is RFC3339 with fixed-width nanoseconds. Fixed width makes the
// stored strings sort lexicographically, which the notification range
// queries rely on. Parsing still goes through time.RFC3339Nano.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullableMoney(m *domain.Money) interface{} {
	if m == nil {
		return nil
	}
	return int64(*m)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func affectedRows(result sql.Result) bool {
	affected, err := result.RowsAffected()
	if err != nil {
		return true
	}
	return affected > 0
}
