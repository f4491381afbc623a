// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package pushnotifications

import (
	"context"
	"strings"

	"storj.io/common/uuid"
)

// SelectorKind is the kind of target a Selector names.
type SelectorKind int

const (
	// SelectUser targets a single user.
	SelectUser SelectorKind = iota + 1
	// SelectUsers targets a set of users.
	SelectUsers
	// SelectRole targets every user holding a role.
	SelectRole
	// SelectAll targets every active subscription.
	SelectAll
)

// String implements fmt.Stringer.
func (kind SelectorKind) String() string {
	switch kind {
	case SelectUser:
		return "user"
	case SelectUsers:
		return "users"
	case SelectRole:
		return "role"
	case SelectAll:
		return "all"
	}
	return "unknown"
}

// Selector names the recipients of a dispatch. Exactly one target is set.
type Selector struct {
	Kind    SelectorKind
	UserIDs []uuid.UUID
	Role    string
}

// ForUser selects the subscriptions of a single user.
func ForUser(userID uuid.UUID) Selector {
	return Selector{Kind: SelectUser, UserIDs: []uuid.UUID{userID}}
}

// ForUsers selects the subscriptions of a set of users.
func ForUsers(userIDs ...uuid.UUID) Selector {
	return Selector{Kind: SelectUsers, UserIDs: userIDs}
}

// ForRole selects the subscriptions of every user holding role.
func ForRole(role string) Selector {
	return Selector{Kind: SelectRole, Role: role}
}

// ForAll selects every active subscription.
func ForAll() Selector {
	return Selector{Kind: SelectAll}
}

// Validate checks that the selector names exactly one target.
func (selector Selector) Validate() error {
	switch selector.Kind {
	case SelectUser:
		if len(selector.UserIDs) != 1 || selector.UserIDs[0].IsZero() {
			return ErrInvalidSelector.New("user selector requires exactly one user id")
		}
		if selector.Role != "" {
			return ErrInvalidSelector.New("user selector must not name a role")
		}
	case SelectUsers:
		if selector.Role != "" {
			return ErrInvalidSelector.New("users selector must not name a role")
		}
		for _, id := range selector.UserIDs {
			if id.IsZero() {
				return ErrInvalidSelector.New("users selector contains a zero user id")
			}
		}
	case SelectRole:
		if strings.TrimSpace(selector.Role) == "" {
			return ErrInvalidSelector.New("role selector requires a role")
		}
		if len(selector.UserIDs) > 0 {
			return ErrInvalidSelector.New("role selector must not name users")
		}
	case SelectAll:
		if len(selector.UserIDs) > 0 || selector.Role != "" {
			return ErrInvalidSelector.New("all selector must not name users or a role")
		}
	default:
		return ErrInvalidSelector.New("unknown selector kind %d", selector.Kind)
	}
	return nil
}

// Empty returns whether a resolved selector cannot match any subscription.
func (selector Selector) Empty() bool {
	return (selector.Kind == SelectUser || selector.Kind == SelectUsers) && len(selector.UserIDs) == 0
}

// String implements fmt.Stringer.
func (selector Selector) String() string {
	switch selector.Kind {
	case SelectUser, SelectUsers:
		ids := make([]string, 0, len(selector.UserIDs))
		for _, id := range selector.UserIDs {
			ids = append(ids, id.String())
		}
		return selector.Kind.String() + ":" + strings.Join(ids, ",")
	case SelectRole:
		return "role:" + selector.Role
	case SelectAll:
		return "all"
	}
	return "unknown"
}

// ParseSelector parses the textual form produced by Selector.String:
// "user:<id>", "users:<id>,<id>", "role:<name>" or "all".
func ParseSelector(value string) (Selector, error) {
	value = strings.TrimSpace(value)
	if value == "all" {
		return ForAll(), nil
	}

	kind, arg, ok := strings.Cut(value, ":")
	if !ok {
		return Selector{}, ErrInvalidSelector.New("%q", value)
	}

	switch kind {
	case "user":
		id, err := uuid.FromString(strings.TrimSpace(arg))
		if err != nil {
			return Selector{}, ErrInvalidSelector.Wrap(err)
		}
		return ForUser(id), nil
	case "users":
		var ids []uuid.UUID
		for _, part := range strings.Split(arg, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := uuid.FromString(part)
			if err != nil {
				return Selector{}, ErrInvalidSelector.Wrap(err)
			}
			ids = append(ids, id)
		}
		return ForUsers(ids...), nil
	case "role":
		return ForRole(strings.TrimSpace(arg)), nil
	}
	return Selector{}, ErrInvalidSelector.New("unknown selector kind %q", kind)
}

// RoleResolver expands a role name into user ids.
type RoleResolver interface {
	ResolveRole(ctx context.Context, role string) ([]uuid.UUID, error)
}

// RoleResolverFunc adapts a function to RoleResolver.
type RoleResolverFunc func(ctx context.Context, role string) ([]uuid.UUID, error)

// ResolveRole implements RoleResolver.
func (fn RoleResolverFunc) ResolveRole(ctx context.Context, role string) ([]uuid.UUID, error) {
	return fn(ctx, role)
}

// resolve turns a role selector into a user set selector. Other selectors are returned as is.
func resolve(ctx context.Context, roles RoleResolver, selector Selector) (Selector, error) {
	if selector.Kind != SelectRole {
		return selector, nil
	}
	if roles == nil {
		return Selector{}, ErrConfig.New("no role resolver configured for role %q", selector.Role)
	}
	userIDs, err := roles.ResolveRole(ctx, selector.Role)
	if err != nil {
		return Selector{}, Error.Wrap(err)
	}
	return ForUsers(userIDs...), nil
}
