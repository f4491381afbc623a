// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package roles resolves role selectors from a static YAML file.
package roles

import (
	"context"
	"os"
	"sort"

	"github.com/zeebo/errs"
	"gopkg.in/yaml.v3"

	"github.com/StorXNetwork/StorXPush/satellite/console/pushnotifications"
	"storj.io/common/uuid"
)

// Error is the default roles errs class.
var Error = errs.Class("roles")

// File is the on-disk format:
//
//	roles:
//	  admin:
//	    - 5f0b2a3e-...
type File struct {
	Roles map[string][]string `yaml:"roles"`
}

// Static maps role names to user ids.
type Static struct {
	roles map[string][]uuid.UUID
}

var _ pushnotifications.RoleResolver = (*Static)(nil)

// Load reads a roles file.
func Load(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return Parse(data)
}

// Parse parses the contents of a roles file.
func Parse(data []byte) (*Static, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, Error.Wrap(err)
	}

	static := &Static{roles: make(map[string][]uuid.UUID, len(file.Roles))}
	for role, members := range file.Roles {
		seen := make(map[uuid.UUID]struct{}, len(members))
		for _, member := range members {
			id, err := uuid.FromString(member)
			if err != nil {
				return nil, Error.New("role %q: invalid user id %q: %v", role, member, err)
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			static.roles[role] = append(static.roles[role], id)
		}
	}
	return static, nil
}

// Roles returns the known role names in order.
func (static *Static) Roles() []string {
	names := make([]string, 0, len(static.roles))
	for name := range static.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveRole implements pushnotifications.RoleResolver. Unknown roles have no members.
func (static *Static) ResolveRole(ctx context.Context, role string) ([]uuid.UUID, error) {
	return append([]uuid.UUID(nil), static.roles[role]...), nil
}
