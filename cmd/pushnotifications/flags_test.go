// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/StorXNetwork/StorXPush/satellite/console/pushnotifications"
	"storj.io/common/testrand"
)

func TestSelectorFlag(t *testing.T) {
	var flag selectorFlag
	require.Empty(t, flag.String())
	require.Equal(t, "selector", flag.Type())

	userID := testrand.UUID()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Var(&flag, "selector", "")
	require.NoError(t, flags.Parse([]string{"--selector", "user:" + userID.String()}))
	require.Equal(t, pushnotifications.ForUser(userID), flag.Selector)
	require.Equal(t, "user:"+userID.String(), flag.String())

	require.NoError(t, flag.Set("role:admin"))
	require.Equal(t, pushnotifications.ForRole("admin"), flag.Selector)

	require.Error(t, flag.Set("group:admins"))
	require.Equal(t, pushnotifications.ForRole("admin"), flag.Selector)
}

func TestRetryLimit(t *testing.T) {
	require.Equal(t, 5, retryLimit(0, 5))
	require.Equal(t, 2, retryLimit(2, 5))
}
