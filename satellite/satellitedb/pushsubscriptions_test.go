// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package satellitedb_test

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/StorXNetwork/StorXPush/satellite/console/pushnotifications"
	"github.com/StorXNetwork/StorXPush/satellite/satellitedb"
	"github.com/StorXNetwork/StorXPush/satellite/satellitedb/satellitedbtest"
	"storj.io/common/testcontext"
	"storj.io/common/testrand"
	"storj.io/common/uuid"
)

func insertSubscription(ctx *testcontext.Context, t *testing.T, subs pushnotifications.Subscriptions, userID uuid.UUID, endpoint string) pushnotifications.Subscription {
	sub, err := subs.Insert(ctx, pushnotifications.Subscription{
		UserID:     userID,
		Endpoint:   endpoint,
		PublicKey:  "p256dh",
		AuthSecret: "auth",
	})
	require.NoError(t, err)
	return sub
}

func TestPushSubscriptionsInsertGet(t *testing.T) {
	satellitedbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *satellitedb.DB) {
		subs := db.PushNotifications().Subscriptions()
		userID := testrand.UUID()

		sub := insertSubscription(ctx, t, subs, userID, "https://push.example.test/1")
		require.False(t, sub.ID.IsZero())
		require.Equal(t, userID, sub.UserID)
		require.Equal(t, pushnotifications.PlatformWeb, sub.Platform)
		require.True(t, sub.IsActive)
		require.Zero(t, sub.FailureCount)
		require.Nil(t, sub.LastSuccessAt)
		require.WithinDuration(t, time.Now(), sub.CreatedAt, time.Minute)

		got, err := subs.Get(ctx, sub.ID)
		require.NoError(t, err)
		require.Equal(t, sub.Endpoint, got.Endpoint)
		require.Equal(t, "p256dh", got.PublicKey)
		require.Equal(t, "auth", got.AuthSecret)

		_, err = subs.Get(ctx, testrand.UUID())
		require.True(t, pushnotifications.ErrSubscriptionNotFound.Has(err))

		// one active subscription per user and endpoint.
		_, err = subs.Insert(ctx, pushnotifications.Subscription{UserID: userID, Endpoint: sub.Endpoint})
		require.True(t, pushnotifications.ErrSubscriptionExists.Has(err))

		// another user may use the same endpoint.
		insertSubscription(ctx, t, subs, testrand.UUID(), sub.Endpoint)

		// once expired, the endpoint can be registered again.
		require.NoError(t, subs.MarkExpired(ctx, sub.ID, time.Now()))
		again := insertSubscription(ctx, t, subs, userID, sub.Endpoint)
		require.NotEqual(t, sub.ID, again.ID)
	})
}

func TestPushSubscriptionsListActive(t *testing.T) {
	satellitedbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *satellitedb.DB) {
		subs := db.PushNotifications().Subscriptions()
		alice, bob, carol := testrand.UUID(), testrand.UUID(), testrand.UUID()

		var expected []uuid.UUID
		for i := 0; i < 5; i++ {
			sub := insertSubscription(ctx, t, subs, alice, "https://push.example.test/alice/"+testrand.UUID().String())
			expected = append(expected, sub.ID)
		}
		for i := 0; i < 3; i++ {
			sub := insertSubscription(ctx, t, subs, bob, "https://push.example.test/bob/"+testrand.UUID().String())
			expected = append(expected, sub.ID)
		}
		inactive := insertSubscription(ctx, t, subs, carol, "https://push.example.test/carol")
		require.NoError(t, subs.MarkExpired(ctx, inactive.ID, time.Now()))

		listAll := func(selector pushnotifications.Selector, limit int) (ids []uuid.UUID, pages int) {
			cursor := pushnotifications.Cursor{Limit: limit}
			for {
				page, err := subs.ListActive(ctx, selector, cursor)
				require.NoError(t, err)
				require.LessOrEqual(t, len(page.Subscriptions), limit)
				pages++
				for _, sub := range page.Subscriptions {
					require.True(t, sub.IsActive)
					ids = append(ids, sub.ID)
				}
				if !page.More {
					return ids, pages
				}
				cursor = page.Next
			}
		}

		sort.Slice(expected, func(i, j int) bool { return expected[i].Less(expected[j]) })

		ids, pages := listAll(pushnotifications.ForAll(), 3)
		require.Equal(t, expected, ids)
		require.Equal(t, 3, pages)

		ids, _ = listAll(pushnotifications.ForUser(bob), 100)
		require.Len(t, ids, 3)

		ids, _ = listAll(pushnotifications.ForUsers(alice, carol), 2)
		require.Len(t, ids, 5)

		ids, _ = listAll(pushnotifications.ForUsers(), 10)
		require.Empty(t, ids)

		ids, _ = listAll(pushnotifications.ForUser(carol), 10)
		require.Empty(t, ids)

		_, err := subs.ListActive(ctx, pushnotifications.ForRole("admin"), pushnotifications.Cursor{Limit: 10})
		require.True(t, pushnotifications.ErrInvalidSelector.Has(err))
	})
}

func TestPushSubscriptionsListActiveManyUsers(t *testing.T) {
	satellitedbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *satellitedb.DB) {
		subs := db.PushNotifications().Subscriptions()

		userIDs := make([]uuid.UUID, 2500)
		for i := range userIDs {
			userIDs[i] = testrand.UUID()
		}
		// duplicates must not produce duplicate subscriptions.
		userIDs = append(userIDs, userIDs[0], userIDs[1500])

		var expected []uuid.UUID
		for _, i := range []int{0, 999, 1000, 1500, 2499} {
			sub := insertSubscription(ctx, t, subs, userIDs[i], "https://push.example.test/"+testrand.UUID().String())
			expected = append(expected, sub.ID)
		}
		insertSubscription(ctx, t, subs, testrand.UUID(), "https://push.example.test/outsider")
		sort.Slice(expected, func(i, j int) bool { return expected[i].Less(expected[j]) })

		var ids []uuid.UUID
		cursor := pushnotifications.Cursor{Limit: 2}
		for {
			page, err := subs.ListActive(ctx, pushnotifications.ForUsers(userIDs...), cursor)
			require.NoError(t, err)
			require.LessOrEqual(t, len(page.Subscriptions), 2)
			for _, sub := range page.Subscriptions {
				ids = append(ids, sub.ID)
			}
			if !page.More {
				break
			}
			cursor = page.Next
		}
		require.Equal(t, expected, ids)
	})
}

func TestPushSubscriptionsHealth(t *testing.T) {
	satellitedbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *satellitedb.DB) {
		subs := db.PushNotifications().Subscriptions()
		sub := insertSubscription(ctx, t, subs, testrand.UUID(), "https://push.example.test/health")
		now := time.Now()

		for i := 0; i < 2; i++ {
			require.NoError(t, subs.RecordFailure(ctx, sub.ID, "gateway-error", now, 3))
		}
		got, err := subs.Get(ctx, sub.ID)
		require.NoError(t, err)
		require.Equal(t, 2, got.FailureCount)
		require.Equal(t, "gateway-error", got.LastError)
		require.NotNil(t, got.LastFailureAt)
		require.True(t, got.IsActive)

		require.NoError(t, subs.RecordSuccess(ctx, sub.ID, now))
		got, err = subs.Get(ctx, sub.ID)
		require.NoError(t, err)
		require.Zero(t, got.FailureCount)
		require.NotNil(t, got.LastSuccessAt)
		require.True(t, got.IsActive)

		for i := 0; i < 3; i++ {
			require.NoError(t, subs.RecordFailure(ctx, sub.ID, "gateway-error", now, 3))
		}
		got, err = subs.Get(ctx, sub.ID)
		require.NoError(t, err)
		require.Equal(t, 3, got.FailureCount)
		require.False(t, got.IsActive)

		unlimited := insertSubscription(ctx, t, subs, testrand.UUID(), "https://push.example.test/unlimited")
		for i := 0; i < 5; i++ {
			require.NoError(t, subs.RecordFailure(ctx, unlimited.ID, "gateway-error", now, 0))
		}
		got, err = subs.Get(ctx, unlimited.ID)
		require.NoError(t, err)
		require.Equal(t, 5, got.FailureCount)
		require.True(t, got.IsActive)

		missing := testrand.UUID()
		require.True(t, pushnotifications.ErrSubscriptionNotFound.Has(subs.RecordSuccess(ctx, missing, now)))
		require.True(t, pushnotifications.ErrSubscriptionNotFound.Has(subs.RecordFailure(ctx, missing, "x", now, 3)))
		require.True(t, pushnotifications.ErrSubscriptionNotFound.Has(subs.MarkExpired(ctx, missing, now)))
	})
}

func TestPushSubscriptionsMarkExpiredAndDelete(t *testing.T) {
	satellitedbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *satellitedb.DB) {
		subs := db.PushNotifications().Subscriptions()
		active := insertSubscription(ctx, t, subs, testrand.UUID(), "https://push.example.test/active")
		expired := insertSubscription(ctx, t, subs, testrand.UUID(), "https://push.example.test/expired")

		now := time.Now()
		require.NoError(t, subs.MarkExpired(ctx, expired.ID, now))
		require.NoError(t, subs.MarkExpired(ctx, expired.ID, now))

		got, err := subs.Get(ctx, expired.ID)
		require.NoError(t, err)
		require.False(t, got.IsActive)

		deleted, err := subs.DeleteInactive(ctx, now.Add(-time.Hour))
		require.NoError(t, err)
		require.Zero(t, deleted)

		deleted, err = subs.DeleteInactive(ctx, now.Add(time.Hour))
		require.NoError(t, err)
		require.EqualValues(t, 1, deleted)

		_, err = subs.Get(ctx, expired.ID)
		require.True(t, pushnotifications.ErrSubscriptionNotFound.Has(err))
		_, err = subs.Get(ctx, active.ID)
		require.NoError(t, err)
	})
}
