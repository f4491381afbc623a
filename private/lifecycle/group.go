// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package lifecycle runs and closes the components of a process.
package lifecycle

import (
	"context"
	"runtime/pprof"

	"github.com/go-stack/stack"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/common/errs2"
)

var mon = monkit.Package()

// Group is a collection of items that are run together and closed in reverse order.
type Group struct {
	log   *zap.Logger
	items []Item
}

// Item is a component of a process. Run and Close are both optional.
type Item struct {
	Name  string
	Run   func(ctx context.Context) error
	Close func() error
}

// NewGroup creates a new group.
func NewGroup(log *zap.Logger) *Group {
	return &Group{log: log}
}

// Add adds an item to the group.
func (group *Group) Add(item Item) {
	group.items = append(group.items, item)
}

// Names returns the names of the items in the order they were added.
func (group *Group) Names() []string {
	names := make([]string, 0, len(group.items))
	for _, item := range group.items {
		names = append(names, item.Name)
	}
	return names
}

// Run starts every item with a Run function on g.
func (group *Group) Run(ctx context.Context, g *errgroup.Group) {
	defer mon.Task()(&ctx)(nil)

	for _, item := range group.items {
		item := item
		if item.Run == nil {
			continue
		}

		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					group.log.Error("panic", zap.String("name", item.Name), zap.Any("recovered", r),
						zap.String("stack", stack.Trace().String()))
					err = errs.New("%s panicked: %v", item.Name, r)
				}
			}()

			pprof.Do(ctx, pprof.Labels("name", item.Name), func(ctx context.Context) {
				group.log.Debug("starting", zap.String("name", item.Name))
				err = item.Run(ctx)
			})
			if errs2.IsCanceled(err) {
				err = nil
			}
			if err != nil {
				group.log.Error("unexpected shutdown", zap.String("name", item.Name), zap.Error(err))
			}
			return err
		})
	}
}

// Close closes every item in reverse order.
func (group *Group) Close() error {
	var errlist errs.Group
	for i := len(group.items) - 1; i >= 0; i-- {
		item := group.items[i]
		if item.Close == nil {
			continue
		}
		errlist.Add(item.Close())
	}
	return errlist.Err()
}
