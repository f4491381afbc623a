// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package pushnotifications

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/common/testrand"
	"storj.io/common/uuid"
)

func TestSelectorValidate(t *testing.T) {
	id := testrand.UUID()

	valid := []Selector{
		ForUser(id),
		ForUsers(id, testrand.UUID()),
		ForUsers(),
		ForRole("admin"),
		ForAll(),
	}
	for _, selector := range valid {
		require.NoError(t, selector.Validate(), selector.String())
	}

	invalid := []Selector{
		{},
		ForUser(uuid.UUID{}),
		{Kind: SelectUser, UserIDs: []uuid.UUID{id, id}},
		{Kind: SelectUser, UserIDs: []uuid.UUID{id}, Role: "admin"},
		{Kind: SelectUsers, UserIDs: []uuid.UUID{id}, Role: "admin"},
		ForRole(" "),
		{Kind: SelectRole, Role: "admin", UserIDs: []uuid.UUID{id}},
		{Kind: SelectAll, Role: "admin"},
		{Kind: SelectorKind(42)},
	}
	for _, selector := range invalid {
		err := selector.Validate()
		require.Error(t, err, selector.String())
		require.True(t, ErrInvalidSelector.Has(err))
	}
}

func TestParseSelector(t *testing.T) {
	a, b := testrand.UUID(), testrand.UUID()

	for _, selector := range []Selector{ForUser(a), ForUsers(a, b), ForRole("ops"), ForAll()} {
		parsed, err := ParseSelector(selector.String())
		require.NoError(t, err)
		require.Equal(t, selector, parsed)
	}

	for _, value := range []string{"", "everyone", "user:not-a-uuid", "group:x", "users:" + a.String() + ",nope"} {
		_, err := ParseSelector(value)
		require.Error(t, err, value)
		require.True(t, ErrInvalidSelector.Has(err))
	}
}

func TestResolveRole(t *testing.T) {
	ctx := testcontext.New(t)
	a, b := testrand.UUID(), testrand.UUID()

	roles := RoleResolverFunc(func(ctx context.Context, role string) ([]uuid.UUID, error) {
		switch role {
		case "ops":
			return []uuid.UUID{a, b}, nil
		case "broken":
			return nil, errors.New("directory unavailable")
		}
		return nil, nil
	})

	resolved, err := resolve(ctx, roles, ForRole("ops"))
	require.NoError(t, err)
	require.Equal(t, ForUsers(a, b), resolved)

	resolved, err = resolve(ctx, roles, ForRole("nobody"))
	require.NoError(t, err)
	require.True(t, resolved.Empty())

	_, err = resolve(ctx, roles, ForRole("broken"))
	require.Error(t, err)

	_, err = resolve(ctx, nil, ForRole("ops"))
	require.True(t, ErrConfig.Has(err))

	resolved, err = resolve(ctx, nil, ForAll())
	require.NoError(t, err)
	require.Equal(t, ForAll(), resolved)
}
