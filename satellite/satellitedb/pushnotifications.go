// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package satellitedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/zeebo/errs"

	"github.com/StorXNetwork/StorXPush/satellite/console/pushnotifications"
	"storj.io/common/uuid"
)

// ensures that pushNotifications implements pushnotifications.Records.
var _ pushnotifications.Records = (*pushNotifications)(nil)

// ErrPushNotifications represents errors from the push_notifications table.
var ErrPushNotifications = errs.Class("pushnotifications")

const pushNotificationColumns = `id, user_id, subscription_id, title, body, icon, image, url, tag, data,
	priority, category, status, retry_count, permanent, last_error,
	created_at, sent_at, delivered_at, failed_at, clicked_at`

type pushNotifications struct {
	db *DB
}

type pushNotificationRow struct {
	ID             []byte     `db:"id"`
	UserID         []byte     `db:"user_id"`
	SubscriptionID []byte     `db:"subscription_id"`
	Title          string     `db:"title"`
	Body           string     `db:"body"`
	Icon           string     `db:"icon"`
	Image          string     `db:"image"`
	URL            string     `db:"url"`
	Tag            string     `db:"tag"`
	Data           string     `db:"data"`
	Priority       string     `db:"priority"`
	Category       string     `db:"category"`
	Status         string     `db:"status"`
	RetryCount     int        `db:"retry_count"`
	Permanent      bool       `db:"permanent"`
	LastError      string     `db:"last_error"`
	CreatedAt      time.Time  `db:"created_at"`
	SentAt         *time.Time `db:"sent_at"`
	DeliveredAt    *time.Time `db:"delivered_at"`
	FailedAt       *time.Time `db:"failed_at"`
	ClickedAt      *time.Time `db:"clicked_at"`
}

// Create inserts a pending record.
func (p *pushNotifications) Create(ctx context.Context, record pushnotifications.NewRecord) (_ pushnotifications.Record, err error) {
	defer mon.Task()(&ctx)(&err)

	id, err := uuid.New()
	if err != nil {
		return pushnotifications.Record{}, ErrPushNotifications.Wrap(err)
	}

	data := []byte("{}")
	if len(record.Content.Data) > 0 {
		data, err = json.Marshal(record.Content.Data)
		if err != nil {
			return pushnotifications.Record{}, pushnotifications.ErrInvalidPayload.Wrap(err)
		}
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = p.db.db.ExecContext(ctx, p.db.db.Rebind(`
		INSERT INTO push_notifications (
			id, user_id, subscription_id, title, body, icon, image, url, tag, data,
			priority, category, status, retry_count, permanent, last_error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, '', ?)`),
		id[:], record.UserID[:], record.SubscriptionID[:],
		record.Content.Title, record.Content.Body, record.Content.Icon, record.Content.Image,
		record.Content.URL, record.Content.Tag, string(data),
		string(record.Priority), string(record.Category), string(pushnotifications.StatusPending),
		false, createdAt.UTC())
	if err != nil {
		return pushnotifications.Record{}, ErrPushNotifications.Wrap(err)
	}

	return p.Get(ctx, id)
}

// Get returns a record by id.
func (p *pushNotifications) Get(ctx context.Context, id uuid.UUID) (_ pushnotifications.Record, err error) {
	defer mon.Task()(&ctx)(&err)

	var row pushNotificationRow
	err = p.db.db.GetContext(ctx, &row, p.db.db.Rebind(
		`SELECT `+pushNotificationColumns+` FROM push_notifications WHERE id = ?`), id[:])
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pushnotifications.Record{}, pushnotifications.ErrRecordNotFound.New("%s", id)
		}
		return pushnotifications.Record{}, ErrPushNotifications.Wrap(err)
	}
	return pushNotificationFromRow(row)
}

// MarkSent moves a pending record to sent.
func (p *pushNotifications) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	return p.transition(ctx, id, pushnotifications.StatusSent, false,
		`sent_at = ?`, at.UTC())
}

// MarkDelivered moves a sent record to delivered.
func (p *pushNotifications) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	return p.transition(ctx, id, pushnotifications.StatusDelivered, false,
		`delivered_at = ?`, at.UTC())
}

// MarkFailed moves a record to failed.
func (p *pushNotifications) MarkFailed(ctx context.Context, id uuid.UUID, reason string, permanent bool, at time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	return p.transition(ctx, id, pushnotifications.StatusFailed, permanent,
		`failed_at = ?, last_error = ?, permanent = ?`, at.UTC(), reason, permanent)
}

// transition updates the status of a record when its current status allows it.
func (p *pushNotifications) transition(ctx context.Context, id uuid.UUID, to pushnotifications.Status, permanent bool, set string, args ...interface{}) error {
	from := pushnotifications.SourceStates(to, permanent)
	statuses := make([]string, 0, len(from))
	for _, status := range from {
		statuses = append(statuses, string(status))
	}

	query, queryArgs, err := sqlx.In(
		`UPDATE push_notifications SET status = ?, `+set+` WHERE id = ? AND status IN (?)`,
		append(append([]interface{}{string(to)}, args...), id[:], statuses)...)
	if err != nil {
		return ErrPushNotifications.Wrap(err)
	}

	result, err := p.db.db.ExecContext(ctx, p.db.db.Rebind(query), queryArgs...)
	if err != nil {
		return ErrPushNotifications.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return ErrPushNotifications.Wrap(err)
	}
	if affected == 0 {
		return p.transitionError(ctx, id, to)
	}
	return nil
}

// transitionError explains why a conditional update did not match.
func (p *pushNotifications) transitionError(ctx context.Context, id uuid.UUID, to pushnotifications.Status) error {
	record, err := p.Get(ctx, id)
	if err != nil {
		return err
	}
	return pushnotifications.ErrInvalidStateTransition.New("%s: %s -> %s", id, record.Status, to)
}

// IncrementRetry moves a retryable failed record back to pending.
func (p *pushNotifications) IncrementRetry(ctx context.Context, id uuid.UUID, maxRetries int) (_ pushnotifications.Record, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := p.db.db.ExecContext(ctx, p.db.db.Rebind(`
		UPDATE push_notifications
		SET status = ?, retry_count = retry_count + 1
		WHERE id = ? AND status = ? AND permanent = ? AND retry_count < ?`),
		string(pushnotifications.StatusPending), id[:], string(pushnotifications.StatusFailed), false, maxRetries)
	if err != nil {
		return pushnotifications.Record{}, ErrPushNotifications.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return pushnotifications.Record{}, ErrPushNotifications.Wrap(err)
	}

	record, err := p.Get(ctx, id)
	if err != nil {
		return pushnotifications.Record{}, err
	}
	if affected == 0 {
		if record.Status == pushnotifications.StatusFailed && !record.Permanent {
			return record, pushnotifications.ErrInvalidStateTransition.New("%s: retry limit %d reached", id, maxRetries)
		}
		return record, pushnotifications.ErrInvalidStateTransition.New("%s: %s -> %s", id, record.Status, pushnotifications.StatusPending)
	}
	return record, nil
}

// MarkClicked stamps the first click of a record.
func (p *pushNotifications) MarkClicked(ctx context.Context, id uuid.UUID, at time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := p.db.db.ExecContext(ctx, p.db.db.Rebind(`
		UPDATE push_notifications SET clicked_at = ? WHERE id = ? AND clicked_at IS NULL`),
		at.UTC(), id[:])
	if err != nil {
		return ErrPushNotifications.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return ErrPushNotifications.Wrap(err)
	}
	if affected == 0 {
		// already clicked, or missing.
		_, err := p.Get(ctx, id)
		return err
	}
	return nil
}

// NeedsRetry returns retryable failed records, oldest first.
func (p *pushNotifications) NeedsRetry(ctx context.Context, maxRetries int, createdAfter time.Time, limit int) (_ []pushnotifications.Record, err error) {
	defer mon.Task()(&ctx)(&err)

	var rows []pushNotificationRow
	err = p.db.db.SelectContext(ctx, &rows, p.db.db.Rebind(`
		SELECT `+pushNotificationColumns+` FROM push_notifications
		WHERE status = ? AND permanent = ? AND retry_count < ? AND created_at >= ?
		ORDER BY created_at, id
		LIMIT ?`),
		string(pushnotifications.StatusFailed), false, maxRetries, createdAfter.UTC(), limit)
	if err != nil {
		return nil, ErrPushNotifications.Wrap(err)
	}
	return pushNotificationsFromRows(rows)
}

// FailStaleSent fails sent records of a priority that never got a report.
func (p *pushNotifications) FailStaleSent(ctx context.Context, priority pushnotifications.Priority, sentBefore time.Time, reason string, at time.Time) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := p.db.db.ExecContext(ctx, p.db.db.Rebind(`
		UPDATE push_notifications
		SET status = ?, failed_at = ?, last_error = ?
		WHERE status = ? AND priority = ? AND sent_at < ?`),
		string(pushnotifications.StatusFailed), at.UTC(), reason,
		string(pushnotifications.StatusSent), string(priority), sentBefore.UTC())
	if err != nil {
		return 0, ErrPushNotifications.Wrap(err)
	}
	affected, err := result.RowsAffected()
	return affected, ErrPushNotifications.Wrap(err)
}

// Cleanup deletes delivered and terminally failed records created before the cutoff.
func (p *pushNotifications) Cleanup(ctx context.Context, before time.Time, maxRetries int) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := p.db.db.ExecContext(ctx, p.db.db.Rebind(`
		DELETE FROM push_notifications
		WHERE created_at < ? AND (
			status = ? OR
			(status = ? AND (permanent = ? OR retry_count >= ?))
		)`),
		before.UTC(), string(pushnotifications.StatusDelivered),
		string(pushnotifications.StatusFailed), true, maxRetries)
	if err != nil {
		return 0, ErrPushNotifications.Wrap(err)
	}
	affected, err := result.RowsAffected()
	return affected, ErrPushNotifications.Wrap(err)
}

// StatisticRows returns the statistic projection of records created since the given time.
func (p *pushNotifications) StatisticRows(ctx context.Context, since time.Time) (_ []pushnotifications.StatisticRow, err error) {
	defer mon.Task()(&ctx)(&err)

	var rows []struct {
		CreatedAt time.Time  `db:"created_at"`
		Status    string     `db:"status"`
		Category  string     `db:"category"`
		ClickedAt *time.Time `db:"clicked_at"`
	}
	err = p.db.db.SelectContext(ctx, &rows, p.db.db.Rebind(`
		SELECT created_at, status, category, clicked_at FROM push_notifications
		WHERE created_at >= ?`),
		since.UTC())
	if err != nil {
		return nil, ErrPushNotifications.Wrap(err)
	}

	stats := make([]pushnotifications.StatisticRow, 0, len(rows))
	for _, row := range rows {
		stats = append(stats, pushnotifications.StatisticRow{
			CreatedAt: row.CreatedAt,
			Status:    pushnotifications.Status(row.Status),
			Category:  pushnotifications.Category(row.Category),
			ClickedAt: row.ClickedAt,
		})
	}
	return stats, nil
}

func pushNotificationsFromRows(rows []pushNotificationRow) ([]pushnotifications.Record, error) {
	records := make([]pushnotifications.Record, 0, len(rows))
	for _, row := range rows {
		record, err := pushNotificationFromRow(row)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// pushNotificationFromRow converts a database row to pushnotifications.Record.
func pushNotificationFromRow(row pushNotificationRow) (pushnotifications.Record, error) {
	id, err := uuid.FromBytes(row.ID)
	if err != nil {
		return pushnotifications.Record{}, ErrPushNotifications.Wrap(err)
	}
	userID, err := uuid.FromBytes(row.UserID)
	if err != nil {
		return pushnotifications.Record{}, ErrPushNotifications.Wrap(err)
	}
	subscriptionID, err := uuid.FromBytes(row.SubscriptionID)
	if err != nil {
		return pushnotifications.Record{}, ErrPushNotifications.Wrap(err)
	}

	var data map[string]interface{}
	if row.Data != "" {
		if err := json.Unmarshal([]byte(row.Data), &data); err != nil {
			return pushnotifications.Record{}, ErrPushNotifications.Wrap(err)
		}
	}

	return pushnotifications.Record{
		ID:             id,
		UserID:         userID,
		SubscriptionID: subscriptionID,
		Content: pushnotifications.Content{
			Title: row.Title,
			Body:  row.Body,
			Icon:  row.Icon,
			Image: row.Image,
			URL:   row.URL,
			Tag:   row.Tag,
			Data:  data,
		},
		Priority:    pushnotifications.Priority(row.Priority),
		Category:    pushnotifications.Category(row.Category),
		Status:      pushnotifications.Status(row.Status),
		RetryCount:  row.RetryCount,
		Permanent:   row.Permanent,
		LastError:   row.LastError,
		CreatedAt:   row.CreatedAt,
		SentAt:      row.SentAt,
		DeliveredAt: row.DeliveredAt,
		FailedAt:    row.FailedAt,
		ClickedAt:   row.ClickedAt,
	}, nil
}
