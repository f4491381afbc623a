// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package satellitedb

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/zeebo/errs"

	"github.com/StorXNetwork/StorXPush/satellite/console/pushnotifications"
	"storj.io/common/uuid"
)

// ensures that pushSubscriptions implements pushnotifications.Subscriptions.
var _ pushnotifications.Subscriptions = (*pushSubscriptions)(nil)

// ErrPushSubscriptions represents errors from the push_subscriptions table.
var ErrPushSubscriptions = errs.Class("pushsubscriptions")

const pushSubscriptionColumns = `id, user_id, endpoint, public_key, auth_secret, platform, user_agent,
	is_active, failure_count, last_success_at, last_failure_at, last_error, created_at, updated_at`

type pushSubscriptions struct {
	db *DB
}

type pushSubscriptionRow struct {
	ID            []byte     `db:"id"`
	UserID        []byte     `db:"user_id"`
	Endpoint      string     `db:"endpoint"`
	PublicKey     string     `db:"public_key"`
	AuthSecret    string     `db:"auth_secret"`
	Platform      string     `db:"platform"`
	UserAgent     string     `db:"user_agent"`
	IsActive      bool       `db:"is_active"`
	FailureCount  int        `db:"failure_count"`
	LastSuccessAt *time.Time `db:"last_success_at"`
	LastFailureAt *time.Time `db:"last_failure_at"`
	LastError     string     `db:"last_error"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

// Insert registers a new active subscription.
func (s *pushSubscriptions) Insert(ctx context.Context, sub pushnotifications.Subscription) (_ pushnotifications.Subscription, err error) {
	defer mon.Task()(&ctx)(&err)

	if sub.ID.IsZero() {
		sub.ID, err = uuid.New()
		if err != nil {
			return sub, ErrPushSubscriptions.Wrap(err)
		}
	}
	if sub.Platform == "" {
		sub.Platform = pushnotifications.PlatformWeb
	}
	now := time.Now().UTC()

	_, err = s.db.db.ExecContext(ctx, s.db.db.Rebind(`
		INSERT INTO push_subscriptions (
			id, user_id, endpoint, public_key, auth_secret, platform, user_agent,
			is_active, failure_count, last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, '', ?, ?)`),
		sub.ID[:], sub.UserID[:], sub.Endpoint, sub.PublicKey, sub.AuthSecret, string(sub.Platform), sub.UserAgent,
		true, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return sub, pushnotifications.ErrSubscriptionExists.New("user %s endpoint %q", sub.UserID, sub.Endpoint)
		}
		return sub, ErrPushSubscriptions.Wrap(err)
	}

	return s.Get(ctx, sub.ID)
}

// Get returns the subscription with the given id.
func (s *pushSubscriptions) Get(ctx context.Context, id uuid.UUID) (_ pushnotifications.Subscription, err error) {
	defer mon.Task()(&ctx)(&err)

	var row pushSubscriptionRow
	err = s.db.db.GetContext(ctx, &row, s.db.db.Rebind(
		`SELECT `+pushSubscriptionColumns+` FROM push_subscriptions WHERE id = ?`), id[:])
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pushnotifications.Subscription{}, pushnotifications.ErrSubscriptionNotFound.New("%s", id)
		}
		return pushnotifications.Subscription{}, ErrPushSubscriptions.Wrap(err)
	}
	return pushSubscriptionFromRow(row)
}

// maxUserIDsPerQuery bounds the bind parameters of a single user_id IN (...) query.
const maxUserIDsPerQuery = 1000

// ListActive returns a page of active subscriptions ordered by id.
func (s *pushSubscriptions) ListActive(ctx context.Context, selector pushnotifications.Selector, cursor pushnotifications.Cursor) (page pushnotifications.SubscriptionPage, err error) {
	defer mon.Task()(&ctx)(&err)

	if cursor.Limit <= 0 {
		return page, ErrPushSubscriptions.New("invalid page limit %d", cursor.Limit)
	}

	var rows []pushSubscriptionRow
	switch selector.Kind {
	case pushnotifications.SelectUser, pushnotifications.SelectUsers:
		seen := make(map[uuid.UUID]struct{}, len(selector.UserIDs))
		userIDs := make([][]byte, 0, len(selector.UserIDs))
		for _, id := range selector.UserIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			id := id
			userIDs = append(userIDs, id[:])
		}

		for len(userIDs) > 0 {
			n := min(maxUserIDsPerQuery, len(userIDs))
			batch, err := s.listActive(ctx, userIDs[:n], cursor)
			if err != nil {
				return page, err
			}
			rows = append(rows, batch...)
			userIDs = userIDs[n:]
		}
		// every query is ordered, the merged result has to be as well.
		sort.Slice(rows, func(i, k int) bool {
			return bytes.Compare(rows[i].ID, rows[k].ID) < 0
		})
	case pushnotifications.SelectAll:
		rows, err = s.listActive(ctx, nil, cursor)
		if err != nil {
			return page, err
		}
	default:
		return page, pushnotifications.ErrInvalidSelector.New("unresolved selector %s", selector)
	}

	if len(rows) > cursor.Limit {
		rows = rows[:cursor.Limit]
		page.More = true
	}

	page.Subscriptions = make([]pushnotifications.Subscription, 0, len(rows))
	for _, row := range rows {
		sub, err := pushSubscriptionFromRow(row)
		if err != nil {
			return page, err
		}
		page.Subscriptions = append(page.Subscriptions, sub)
	}

	page.Next = cursor
	if len(page.Subscriptions) > 0 {
		page.Next.After = page.Subscriptions[len(page.Subscriptions)-1].ID
	}
	return page, nil
}

// listActive returns up to cursor.Limit+1 active subscriptions after the cursor,
// limited to userIDs unless it is nil.
func (s *pushSubscriptions) listActive(ctx context.Context, userIDs [][]byte, cursor pushnotifications.Cursor) (_ []pushSubscriptionRow, err error) {
	query := `SELECT ` + pushSubscriptionColumns + ` FROM push_subscriptions WHERE is_active = ? AND id > ?`
	args := []interface{}{true, cursor.After[:]}

	if userIDs != nil {
		query += ` AND user_id IN (?)`
		args = append(args, userIDs)
	}

	query += ` ORDER BY id LIMIT ?`
	args = append(args, cursor.Limit+1)

	query, args, err = sqlx.In(query, args...)
	if err != nil {
		return nil, ErrPushSubscriptions.Wrap(err)
	}

	var rows []pushSubscriptionRow
	if err := s.db.db.SelectContext(ctx, &rows, s.db.db.Rebind(query), args...); err != nil {
		return nil, ErrPushSubscriptions.Wrap(err)
	}
	return rows, nil
}

// RecordSuccess resets the failure counter.
func (s *pushSubscriptions) RecordSuccess(ctx context.Context, id uuid.UUID, at time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := s.db.db.ExecContext(ctx, s.db.db.Rebind(`
		UPDATE push_subscriptions
		SET failure_count = 0, last_success_at = ?, updated_at = ?
		WHERE id = ?`),
		at.UTC(), at.UTC(), id[:])
	return s.checkUpdated(id, result, err)
}

// RecordFailure increments the failure counter and deactivates the subscription at maxFailures.
func (s *pushSubscriptions) RecordFailure(ctx context.Context, id uuid.UUID, reason string, at time.Time, maxFailures int) (err error) {
	defer mon.Task()(&ctx)(&err)

	var result sql.Result
	if maxFailures > 0 {
		result, err = s.db.db.ExecContext(ctx, s.db.db.Rebind(`
			UPDATE push_subscriptions
			SET failure_count = failure_count + 1, last_failure_at = ?, last_error = ?, updated_at = ?,
				is_active = CASE WHEN failure_count + 1 >= ? THEN false ELSE is_active END
			WHERE id = ?`),
			at.UTC(), reason, at.UTC(), maxFailures, id[:])
	} else {
		result, err = s.db.db.ExecContext(ctx, s.db.db.Rebind(`
			UPDATE push_subscriptions
			SET failure_count = failure_count + 1, last_failure_at = ?, last_error = ?, updated_at = ?
			WHERE id = ?`),
			at.UTC(), reason, at.UTC(), id[:])
	}
	return s.checkUpdated(id, result, err)
}

// MarkExpired deactivates the subscription.
func (s *pushSubscriptions) MarkExpired(ctx context.Context, id uuid.UUID, at time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := s.db.db.ExecContext(ctx, s.db.db.Rebind(`
		UPDATE push_subscriptions SET is_active = ?, updated_at = ? WHERE id = ?`),
		false, at.UTC(), id[:])
	return s.checkUpdated(id, result, err)
}

// DeleteInactive purges inactive subscriptions last updated before the cutoff.
func (s *pushSubscriptions) DeleteInactive(ctx context.Context, before time.Time) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := s.db.db.ExecContext(ctx, s.db.db.Rebind(`
		DELETE FROM push_subscriptions WHERE is_active = ? AND updated_at < ?`),
		false, before.UTC())
	if err != nil {
		return 0, ErrPushSubscriptions.Wrap(err)
	}
	deleted, err := result.RowsAffected()
	return deleted, ErrPushSubscriptions.Wrap(err)
}

func (s *pushSubscriptions) checkUpdated(id uuid.UUID, result sql.Result, err error) error {
	if err != nil {
		return ErrPushSubscriptions.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return ErrPushSubscriptions.Wrap(err)
	}
	if affected == 0 {
		return pushnotifications.ErrSubscriptionNotFound.New("%s", id)
	}
	return nil
}

// pushSubscriptionFromRow converts a database row to pushnotifications.Subscription.
func pushSubscriptionFromRow(row pushSubscriptionRow) (pushnotifications.Subscription, error) {
	id, err := uuid.FromBytes(row.ID)
	if err != nil {
		return pushnotifications.Subscription{}, ErrPushSubscriptions.Wrap(err)
	}

	userID, err := uuid.FromBytes(row.UserID)
	if err != nil {
		return pushnotifications.Subscription{}, ErrPushSubscriptions.Wrap(err)
	}

	return pushnotifications.Subscription{
		ID:            id,
		UserID:        userID,
		Endpoint:      row.Endpoint,
		PublicKey:     row.PublicKey,
		AuthSecret:    row.AuthSecret,
		Platform:      pushnotifications.Platform(row.Platform),
		UserAgent:     row.UserAgent,
		IsActive:      row.IsActive,
		FailureCount:  row.FailureCount,
		LastSuccessAt: row.LastSuccessAt,
		LastFailureAt: row.LastFailureAt,
		LastError:     row.LastError,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}, nil
}
