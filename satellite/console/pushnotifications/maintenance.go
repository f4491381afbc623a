// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package pushnotifications

import (
	"context"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// CleanupResult summarizes a cleanup.
type CleanupResult struct {
	DeletedRecords       int64
	DeletedSubscriptions int64
}

// Cleanup deletes delivered and terminally failed records older than daysToKeep
// days and inactive subscriptions past their retention. Pending, sent and
// retryable failed records are never deleted.
func (service *Service) Cleanup(ctx context.Context, daysToKeep int) (result CleanupResult, err error) {
	defer mon.Task()(&ctx)(&err)

	if daysToKeep <= 0 {
		return result, ErrConfig.New("days to keep must be positive, got %d", daysToKeep)
	}
	retention := time.Duration(daysToKeep) * 24 * time.Hour
	if retention <= service.config.Retry.Window {
		return result, ErrConfig.New("retention of %d days does not exceed the retry window %s", daysToKeep, service.config.Retry.Window)
	}

	now := service.now()
	result.DeletedRecords, err = service.records.Cleanup(ctx, now.Add(-retention), service.config.MaxRetries)
	if err != nil {
		return result, Error.Wrap(err)
	}

	if service.config.Maintenance.SubscriptionRetention > 0 {
		result.DeletedSubscriptions, err = service.subs.DeleteInactive(ctx, now.Add(-service.config.Maintenance.SubscriptionRetention))
		if err != nil {
			return result, Error.Wrap(err)
		}
	}

	service.log.Info("cleanup completed",
		zap.Int("days_to_keep", daysToKeep),
		zap.Int64("deleted_records", result.DeletedRecords),
		zap.Int64("deleted_subscriptions", result.DeletedSubscriptions))
	return result, nil
}

// SweepStale fails records that stayed sent longer than their TTL plus grace
// without a delivery report. Swept records remain retryable.
func (service *Service) SweepStale(ctx context.Context) (swept int64, err error) {
	defer mon.Task()(&ctx)(&err)

	now := service.now()
	var group errs.Group
	for _, priority := range Priorities {
		ttl := time.Duration(PriorityHints(priority).TTL) * time.Second
		cutoff := now.Add(-ttl - service.config.Maintenance.StaleGrace)

		n, err := service.records.FailStaleSent(ctx, priority, cutoff, ReasonNoReport, now)
		if err != nil {
			group.Add(err)
			continue
		}
		swept += n
	}

	if swept > 0 {
		mon.Counter("push_stale_swept").Inc(swept)
		service.log.Info("failed stale notifications", zap.Int64("count", swept))
	}
	return swept, Error.Wrap(group.Err())
}
