// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"github.com/spf13/pflag"

	"github.com/StorXNetwork/StorXPush/satellite/console/pushnotifications"
)

// selectorFlag parses a recipient selector from the command line.
type selectorFlag struct {
	pushnotifications.Selector
}

var _ pflag.Value = (*selectorFlag)(nil)

// Set implements pflag.Value.
func (flag *selectorFlag) Set(value string) error {
	selector, err := pushnotifications.ParseSelector(value)
	if err != nil {
		return err
	}
	flag.Selector = selector
	return nil
}

// String implements pflag.Value.
func (flag *selectorFlag) String() string {
	if flag.Selector.Kind == 0 {
		return ""
	}
	return flag.Selector.String()
}

// Type implements pflag.Value.
func (flag *selectorFlag) Type() string { return "selector" }
