// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package pushnotifications

import (
	"context"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// RetryResult summarizes a retry pass.
type RetryResult struct {
	// Retried is the number of records handed to the transport again.
	Retried   int
	Delivered int
	Failed    int
	// Skipped is the number of records whose backoff has not elapsed yet.
	Skipped int
	// Abandoned is the number of records failed for good because their subscription is gone.
	Abandoned int
}

// backoffFactor spreads retries of less important notifications further apart.
func backoffFactor(priority Priority) time.Duration {
	switch priority {
	case PriorityUrgent:
		return 1
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 8
	default:
		return 4
	}
}

// RetryBackoff returns how long after a failure a record may be retried.
// A zero base disables backoff and a zero limit leaves it uncapped.
func RetryBackoff(priority Priority, retryCount int, base, limit time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base * backoffFactor(priority)
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if limit > 0 && delay >= limit {
			return limit
		}
	}
	if limit > 0 && delay > limit {
		return limit
	}
	return delay
}

// RetryFailed re-sends failed records that still have retries left, oldest first.
func (service *Service) RetryFailed(ctx context.Context, maxRetries int) (result RetryResult, err error) {
	defer mon.Task()(&ctx)(&err)

	now := service.now()
	var createdAfter time.Time
	if service.config.Retry.Window > 0 {
		createdAfter = now.Add(-service.config.Retry.Window)
	}

	candidates, err := service.records.NeedsRetry(ctx, maxRetries, createdAfter, service.config.Retry.BatchLimit)
	if err != nil {
		return result, Error.Wrap(err)
	}

	var group errs.Group
	items := make([]delivery, 0, len(candidates))
	for _, record := range candidates {
		if err := ctx.Err(); err != nil {
			group.Add(err)
			break
		}

		if record.FailedAt != nil {
			backoff := RetryBackoff(record.Priority, record.RetryCount, service.config.Retry.BaseBackoff, service.config.Retry.MaxBackoff)
			if now.Before(record.FailedAt.Add(backoff)) {
				result.Skipped++
				continue
			}
		}

		sub, err := service.subs.Get(ctx, record.SubscriptionID)
		switch {
		case ErrSubscriptionNotFound.Has(err) || (err == nil && !sub.IsActive):
			if err := service.records.MarkFailed(ctx, record.ID, ReasonSubscriptionInactive, true, now); err != nil {
				group.Add(err)
				continue
			}
			result.Abandoned++
			continue
		case err != nil:
			group.Add(err)
			continue
		}

		record, err = service.records.IncrementRetry(ctx, record.ID, maxRetries)
		if err != nil {
			// another pass may have picked the record up already.
			if !ErrInvalidStateTransition.Has(err) {
				group.Add(err)
			}
			continue
		}
		items = append(items, delivery{record: record, sub: sub})
	}

	for _, batch := range chunk(items, service.config.BatchSize) {
		var outcome DispatchResult
		service.deliver(ctx, batch, &outcome)

		result.Retried += len(batch)
		result.Delivered += outcome.Sent
		result.Failed += outcome.Failed
		group.Add(outcome.Errors...)
	}

	mon.Counter("push_retried").Inc(int64(result.Retried))
	service.log.Info("retry pass completed",
		zap.Int("candidates", len(candidates)),
		zap.Int("retried", result.Retried),
		zap.Int("delivered", result.Delivered),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Int("abandoned", result.Abandoned))

	return result, Error.Wrap(group.Err())
}
