// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package pushnotifications

import (
	"context"
	"time"

	"storj.io/common/uuid"
)

// DB groups the stores used by the delivery pipeline.
type DB interface {
	// Subscriptions returns the subscription registry.
	Subscriptions() Subscriptions
	// Records returns the notification record store.
	Records() Records
}

// Cursor is a keyset position in the subscription registry.
type Cursor struct {
	// After is the last subscription id of the previous page.
	After uuid.UUID
	Limit int
}

// SubscriptionPage is one chunk of active subscriptions.
type SubscriptionPage struct {
	Subscriptions []Subscription
	Next          Cursor
	More          bool
}

// Subscriptions is the subscription registry.
//
// architecture: Database
type Subscriptions interface {
	// Insert registers a new active subscription.
	Insert(ctx context.Context, subscription Subscription) (Subscription, error)
	// Get returns the subscription with the given id, active or not.
	Get(ctx context.Context, id uuid.UUID) (Subscription, error)
	// ListActive returns a page of active subscriptions matching a resolved selector.
	ListActive(ctx context.Context, selector Selector, cursor Cursor) (SubscriptionPage, error)

	// RecordSuccess resets the failure counter and stamps the last success.
	RecordSuccess(ctx context.Context, id uuid.UUID, at time.Time) error
	// RecordFailure increments the failure counter and deactivates the
	// subscription once it reaches maxFailures. A maxFailures of zero never deactivates.
	RecordFailure(ctx context.Context, id uuid.UUID, reason string, at time.Time, maxFailures int) error
	// MarkExpired deactivates the subscription. It is idempotent.
	MarkExpired(ctx context.Context, id uuid.UUID, at time.Time) error

	// DeleteInactive purges inactive subscriptions last updated before the cutoff.
	DeleteInactive(ctx context.Context, before time.Time) (int64, error)
}

// StatisticRow is the projection of a record used for statistics.
type StatisticRow struct {
	CreatedAt time.Time
	Status    Status
	Category  Category
	ClickedAt *time.Time
}

// Records is the notification record store. All state changes go through
// conditional updates so that invalid transitions fail with ErrInvalidStateTransition.
//
// architecture: Database
type Records interface {
	// Create inserts a pending record.
	Create(ctx context.Context, record NewRecord) (Record, error)
	// Get returns a record by id.
	Get(ctx context.Context, id uuid.UUID) (Record, error)

	// MarkSent moves a pending record to sent.
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkDelivered moves a sent record to delivered.
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkFailed moves a pending or sent record to failed. A permanent failure
	// may also be recorded on a record that has already failed.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, permanent bool, at time.Time) error
	// IncrementRetry moves a retryable failed record back to pending and
	// increments its retry count, as long as the count stays within maxRetries.
	IncrementRetry(ctx context.Context, id uuid.UUID, maxRetries int) (Record, error)
	// MarkClicked stamps the first client acknowledgment.
	MarkClicked(ctx context.Context, id uuid.UUID, at time.Time) error

	// NeedsRetry returns retryable failed records created after createdAfter, oldest first.
	NeedsRetry(ctx context.Context, maxRetries int, createdAfter time.Time, limit int) ([]Record, error)
	// FailStaleSent fails records of the given priority that were sent before
	// sentBefore and never got a report.
	FailStaleSent(ctx context.Context, priority Priority, sentBefore time.Time, reason string, at time.Time) (int64, error)
	// Cleanup deletes delivered and terminally failed records created before the cutoff.
	// A failed record is terminal when it is permanent or has used maxRetries.
	Cleanup(ctx context.Context, before time.Time, maxRetries int) (int64, error)

	// StatisticRows returns the statistic projection of records created since the given time.
	StatisticRows(ctx context.Context, since time.Time) ([]StatisticRow, error)
}
