// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package satellite_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/StorXNetwork/StorXPush/satellite"
	"github.com/StorXNetwork/StorXPush/satellite/console/pushnotifications"
	"github.com/StorXNetwork/StorXPush/satellite/console/pushnotifications/webpush"
	"github.com/StorXNetwork/StorXPush/satellite/satellitedb"
	"github.com/StorXNetwork/StorXPush/satellite/satellitedb/satellitedbtest"
	"storj.io/common/memory"
	"storj.io/common/testcontext"
	"storj.io/common/testrand"
)

func pushConfig(t *testing.T) *satellite.PushConfig {
	privateKey, publicKey, err := webpush.GenerateKeys()
	require.NoError(t, err)

	return &satellite.PushConfig{
		Notifications: pushnotifications.Config{
			ChunkSize:      100,
			BatchSize:      50,
			MaxRetries:     3,
			MaxPayloadSize: 4 * memory.KB,
			Retry: pushnotifications.RetryConfig{
				Interval: time.Hour,
				Window:   24 * time.Hour,
			},
			Maintenance: pushnotifications.MaintenanceConfig{
				Interval:            time.Hour,
				RecordRetentionDays: 90,
			},
		},
		WebPush: webpush.Config{
			VAPIDPublicKey:  publicKey,
			VAPIDPrivateKey: privateKey,
			Subscriber:      "mailto:ops@example.test",
			Workers:         2,
			SendTimeout:     time.Second,
		},
	}
}

func TestPushRequiresTransport(t *testing.T) {
	satellitedbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *satellitedb.DB) {
		config := pushConfig(t)
		config.WebPush = webpush.Config{}

		_, err := satellite.NewPush(ctx, zaptest.NewLogger(t), db.PushNotifications(), config)
		require.True(t, pushnotifications.ErrConfig.Has(err))

		config = pushConfig(t)
		config.WebPush.Subscriber = ""
		_, err = satellite.NewPush(ctx, zaptest.NewLogger(t), db.PushNotifications(), config)
		require.True(t, webpush.ErrConfig.Has(err))
	})
}

func TestPushRun(t *testing.T) {
	satellitedbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *satellitedb.DB) {
		admin := testrand.UUID()
		rolesFile := filepath.Join(t.TempDir(), "roles.yaml")
		require.NoError(t, os.WriteFile(rolesFile, []byte("roles:\n  admin:\n    - "+admin.String()+"\n"), 0o600))

		config := pushConfig(t)
		config.RolesFile = rolesFile

		peer, err := satellite.NewPush(ctx, zaptest.NewLogger(t), db.PushNotifications(), config)
		require.NoError(t, err)
		require.NotNil(t, peer.Transport.WebPush)
		require.Nil(t, peer.Transport.FCM)
		require.Equal(t, []string{"admin"}, peer.Roles.Roles())

		// no subscriptions are registered for the role yet.
		result, err := peer.Notifications.Service.Dispatch(ctx, pushnotifications.ForRole("admin"), "title", "body", pushnotifications.Options{})
		require.NoError(t, err)
		require.Empty(t, result.RecordIDs)

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- peer.Run(runCtx) }()

		peer.Notifications.RetryChore.Loop.TriggerWait()
		peer.Notifications.MaintenanceChore.Loop.TriggerWait()

		cancel()
		require.NoError(t, <-done)
		require.NoError(t, peer.Close())
	})
}
