// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package pushnotifications_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/StorXNetwork/StorXPush/satellite/console/pushnotifications"
	"github.com/StorXNetwork/StorXPush/satellite/console/pushnotifications/pushtest"
	"github.com/StorXNetwork/StorXPush/satellite/satellitedb"
	"github.com/StorXNetwork/StorXPush/satellite/satellitedb/satellitedbtest"
	"storj.io/common/testcontext"
	"storj.io/common/testrand"
)

func TestRetryChore(t *testing.T) {
	satellitedbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *satellitedb.DB) {
		config := testConfig()
		config.Retry.Interval = time.Hour
		env := newEnv(t, db, config, nil)

		sub := env.subscribe(ctx, t, testrand.UUID(), "https://push.example.test/flaky")
		env.transport.SetOutcome(sub.Endpoint, pushtest.Transient)

		result, err := env.service.Dispatch(ctx, pushnotifications.ForAll(), "title", "body", pushnotifications.Options{})
		require.NoError(t, err)
		require.Equal(t, 1, result.Failed)

		env.transport.SetOutcome(sub.Endpoint, pushtest.Success)

		chore := pushnotifications.NewRetryChore(zaptest.NewLogger(t), env.service, config)
		ctx.Go(func() error { return chore.Run(ctx) })
		defer ctx.Check(chore.Close)

		chore.Loop.TriggerWait()

		record := env.record(ctx, t, result.RecordIDs[0])
		require.Equal(t, pushnotifications.StatusDelivered, record.Status)
		require.Equal(t, 1, record.RetryCount)
	})
}

func TestMaintenanceChore(t *testing.T) {
	satellitedbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *satellitedb.DB) {
		config := testConfig()
		config.Maintenance.Interval = time.Hour
		env := newEnv(t, db, config, nil)

		now := time.Now()
		record, err := env.db.Records().Create(ctx, pushnotifications.NewRecord{
			UserID:         testrand.UUID(),
			SubscriptionID: testrand.UUID(),
			Priority:       pushnotifications.PriorityLow,
			Category:       pushnotifications.CategorySystem,
			CreatedAt:      now.Add(-time.Hour),
		})
		require.NoError(t, err)
		require.NoError(t, env.db.Records().MarkSent(ctx, record.ID, now.Add(-time.Hour)))

		chore := pushnotifications.NewMaintenanceChore(zaptest.NewLogger(t), env.service, config)
		ctx.Go(func() error { return chore.Run(ctx) })
		defer ctx.Check(chore.Close)

		chore.Loop.TriggerWait()

		swept := env.record(ctx, t, record.ID)
		require.Equal(t, pushnotifications.StatusFailed, swept.Status)
		require.False(t, swept.Permanent)
		require.Equal(t, pushnotifications.ReasonNoReport, swept.LastError)
	})
}
