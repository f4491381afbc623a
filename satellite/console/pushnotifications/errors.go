// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package pushnotifications

import (
	"github.com/zeebo/errs"
)

var (
	// Error is the default error class of the push notifications pipeline.
	Error = errs.Class("pushnotifications")

	// ErrConfig is returned when the pipeline is misconfigured.
	ErrConfig = errs.Class("pushnotifications: config")

	// ErrInvalidSelector is returned for selectors that do not name exactly one target.
	ErrInvalidSelector = errs.Class("pushnotifications: invalid selector")

	// ErrInvalidStateTransition is returned when a record state change is not allowed.
	ErrInvalidStateTransition = errs.Class("pushnotifications: invalid state transition")

	// ErrRecordNotFound is returned when a record does not exist.
	ErrRecordNotFound = errs.Class("pushnotifications: record not found")

	// ErrSubscriptionNotFound is returned when a subscription does not exist.
	ErrSubscriptionNotFound = errs.Class("pushnotifications: subscription not found")

	// ErrSubscriptionExists is returned when an active subscription already exists for the user and endpoint.
	ErrSubscriptionExists = errs.Class("pushnotifications: subscription exists")

	// ErrInvalidPayload is returned when a payload cannot be encoded or is too large.
	ErrInvalidPayload = errs.Class("pushnotifications: invalid payload")
)
