// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package router sends each message through the transport serving its subscription platform.
package router

import (
	"context"

	"github.com/zeebo/errs"
	"golang.org/x/sync/errgroup"

	"github.com/StorXNetwork/StorXPush/satellite/console/pushnotifications"
)

// Error is the default router errs class.
var Error = errs.Class("router")

// Router routes web subscriptions to one transport and native ones to another.
type Router struct {
	web    pushnotifications.Transport
	native pushnotifications.Transport
}

var _ pushnotifications.Transport = (*Router)(nil)

// New creates a router. Either transport may be nil, in which case messages for it are rejected.
func New(web, native pushnotifications.Transport) *Router {
	return &Router{web: web, native: native}
}

// NewBatch implements pushnotifications.Transport.
func (router *Router) NewBatch() pushnotifications.Batch {
	b := &batch{}
	if router.web != nil {
		b.web = router.web.NewBatch()
	}
	if router.native != nil {
		b.native = router.native.NewBatch()
	}
	return b
}

type batch struct {
	web, native             pushnotifications.Batch
	webStaged, nativeStaged int
}

// Enqueue implements pushnotifications.Batch.
func (b *batch) Enqueue(message pushnotifications.Message) error {
	if message.Subscription.Platform.Native() {
		if b.native == nil {
			return Error.New("no transport for platform %q", message.Subscription.Platform)
		}
		if err := b.native.Enqueue(message); err != nil {
			return err
		}
		b.nativeStaged++
		return nil
	}

	if b.web == nil {
		return Error.New("no transport for platform %q", message.Subscription.Platform)
	}
	if err := b.web.Enqueue(message); err != nil {
		return err
	}
	b.webStaged++
	return nil
}

// Flush implements pushnotifications.Batch. Both sub batches are flushed concurrently.
func (b *batch) Flush(ctx context.Context) []pushnotifications.DeliveryReport {
	var webReports, nativeReports []pushnotifications.DeliveryReport

	var group errgroup.Group
	if b.webStaged > 0 {
		group.Go(func() error {
			webReports = b.web.Flush(ctx)
			return nil
		})
	}
	if b.nativeStaged > 0 {
		group.Go(func() error {
			nativeReports = b.native.Flush(ctx)
			return nil
		})
	}
	_ = group.Wait()

	b.webStaged, b.nativeStaged = 0, 0
	return append(webReports, nativeReports...)
}
