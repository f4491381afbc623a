// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package pushnotifications

import (
	"context"

	"github.com/go-stack/stack"
	"go.uber.org/zap"

	"storj.io/common/sync2"
)

// RetryChore periodically retries failed notifications.
type RetryChore struct {
	log        *zap.Logger
	service    *Service
	maxRetries int

	Loop *sync2.Cycle
}

// NewRetryChore instantiates RetryChore.
func NewRetryChore(log *zap.Logger, service *Service, config Config) *RetryChore {
	return &RetryChore{
		log:        log,
		service:    service,
		maxRetries: config.MaxRetries,
		Loop:       sync2.NewCycle(config.Retry.Interval),
	}
}

// Run runs the retry chore.
func (chore *RetryChore) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	return chore.Loop.Run(ctx, func(ctx context.Context) (err error) {
		defer mon.Task()(&ctx)(&err)
		defer recoverPanic(chore.log)

		_, err = chore.service.RetryFailed(ctx, chore.maxRetries)
		if err != nil {
			chore.log.Error("retry pass failed", zap.Error(err))
		}
		return nil
	})
}

// Close halts the chore.
func (chore *RetryChore) Close() error {
	chore.Loop.Close()
	return nil
}

// MaintenanceChore periodically fails stale notifications and removes old data.
type MaintenanceChore struct {
	log           *zap.Logger
	service       *Service
	retentionDays int

	Loop *sync2.Cycle
}

// NewMaintenanceChore instantiates MaintenanceChore.
func NewMaintenanceChore(log *zap.Logger, service *Service, config Config) *MaintenanceChore {
	return &MaintenanceChore{
		log:           log,
		service:       service,
		retentionDays: config.Maintenance.RecordRetentionDays,
		Loop:          sync2.NewCycle(config.Maintenance.Interval),
	}
}

// Run runs the maintenance chore.
func (chore *MaintenanceChore) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	return chore.Loop.Run(ctx, func(ctx context.Context) (err error) {
		defer mon.Task()(&ctx)(&err)
		defer recoverPanic(chore.log)

		if _, err := chore.service.SweepStale(ctx); err != nil {
			chore.log.Error("stale sweep failed", zap.Error(err))
		}
		if chore.retentionDays > 0 {
			if _, err := chore.service.Cleanup(ctx, chore.retentionDays); err != nil {
				chore.log.Error("cleanup failed", zap.Error(err))
			}
		}
		return nil
	})
}

// Close halts the chore.
func (chore *MaintenanceChore) Close() error {
	chore.Loop.Close()
	return nil
}

func recoverPanic(log *zap.Logger) {
	if r := recover(); r != nil {
		log.Error("panic in chore", zap.Any("error", r))
		log.Error("stack", zap.String("stack", stack.Trace().String()))
	}
}
