// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package pushnotifications

// SourceStates returns the states a record may move to `to` from.
// Stores use it to build their conditional updates.
func SourceStates(to Status, permanent bool) []Status {
	switch to {
	case StatusSent:
		return []Status{StatusPending}
	case StatusDelivered:
		return []Status{StatusSent}
	case StatusFailed:
		if permanent {
			return []Status{StatusPending, StatusSent, StatusFailed}
		}
		return []Status{StatusPending, StatusSent}
	case StatusPending:
		return []Status{StatusFailed}
	}
	return nil
}

// CanTransition returns whether a record in state from may move to state to.
// Moving back to pending additionally requires a retryable record.
func CanTransition(from, to Status, permanent bool) bool {
	for _, status := range SourceStates(to, permanent) {
		if status == from {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidStateTransition when the change is not allowed.
func ValidateTransition(from, to Status, permanent bool) error {
	if !CanTransition(from, to, permanent) {
		return ErrInvalidStateTransition.New("%s -> %s", from, to)
	}
	return nil
}
