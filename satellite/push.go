// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package satellite

import (
	"context"
	"errors"
	"net"
	"runtime/pprof"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/StorXNetwork/StorXPush/private/lifecycle"
	"github.com/StorXNetwork/StorXPush/satellite/console/pushnotifications"
	"github.com/StorXNetwork/StorXPush/satellite/console/pushnotifications/fcm"
	"github.com/StorXNetwork/StorXPush/satellite/console/pushnotifications/roles"
	"github.com/StorXNetwork/StorXPush/satellite/console/pushnotifications/router"
	"github.com/StorXNetwork/StorXPush/satellite/console/pushnotifications/webpush"
	"storj.io/common/debug"
)

var mon = monkit.Package()

// PushConfig is the configuration of the push notifications process.
type PushConfig struct {
	Debug debug.Config

	Notifications pushnotifications.Config
	WebPush       webpush.Config
	FCM           fcm.Config

	RolesFile string `help:"path to a YAML file mapping role names to user ids" default:""`
}

// Push is the process delivering push notifications and running their chores.
//
// architecture: Peer
type Push struct {
	Log *zap.Logger
	DB  pushnotifications.DB

	Servers  *lifecycle.Group
	Services *lifecycle.Group

	Debug struct {
		Listener net.Listener
		Server   *debug.Server
	}

	Transport PushTransports

	Roles *roles.Static

	Notifications struct {
		Service          *pushnotifications.Service
		RetryChore       *pushnotifications.RetryChore
		MaintenanceChore *pushnotifications.MaintenanceChore
	}
}

// NewPush creates a new push notifications peer.
func NewPush(ctx context.Context, log *zap.Logger, db pushnotifications.DB, config *PushConfig) (*Push, error) {
	peer := &Push{
		Log: log,
		DB:  db,

		Servers:  lifecycle.NewGroup(log.Named("servers")),
		Services: lifecycle.NewGroup(log.Named("services")),
	}

	{ // setup debug
		var err error
		if config.Debug.Addr != "" {
			peer.Debug.Listener, err = net.Listen("tcp", config.Debug.Addr)
			if err != nil {
				withoutStack := errors.New(err.Error())
				peer.Log.Warn("failed to start debug endpoints", zap.Error(withoutStack))
			}
		}
		debugConfig := config.Debug
		debugConfig.ControlTitle = "Push"
		peer.Debug.Server = debug.NewServerWithAtomicLevel(log.Named("debug"), peer.Debug.Listener, monkit.Default, debugConfig, nil)
		peer.Servers.Add(lifecycle.Item{
			Name:  "debug",
			Run:   peer.Debug.Server.Run,
			Close: peer.Debug.Server.Close,
		})
	}

	{ // setup transports
		transports, err := NewPushTransports(ctx, log, config)
		if err != nil {
			return nil, errs.Combine(err, peer.Close())
		}
		peer.Transport = *transports
	}

	{ // setup roles
		if config.RolesFile != "" {
			static, err := roles.Load(config.RolesFile)
			if err != nil {
				return nil, errs.Combine(err, peer.Close())
			}
			peer.Roles = static
			peer.Log.Info("loaded roles", zap.Strings("roles", static.Roles()))
		}
	}

	{ // setup notifications
		var resolver pushnotifications.RoleResolver
		if peer.Roles != nil {
			resolver = peer.Roles
		}

		service, err := pushnotifications.NewService(
			log.Named("pushnotifications"),
			db,
			peer.Transport.Router,
			resolver,
			config.Notifications,
		)
		if err != nil {
			return nil, errs.Combine(err, peer.Close())
		}
		peer.Notifications.Service = service

		peer.Notifications.RetryChore = pushnotifications.NewRetryChore(
			log.Named("pushnotifications:retry"), service, config.Notifications)
		peer.Services.Add(lifecycle.Item{
			Name:  "pushnotifications:retry",
			Run:   peer.Notifications.RetryChore.Run,
			Close: peer.Notifications.RetryChore.Close,
		})

		peer.Notifications.MaintenanceChore = pushnotifications.NewMaintenanceChore(
			log.Named("pushnotifications:maintenance"), service, config.Notifications)
		peer.Services.Add(lifecycle.Item{
			Name:  "pushnotifications:maintenance",
			Run:   peer.Notifications.MaintenanceChore.Run,
			Close: peer.Notifications.MaintenanceChore.Close,
		})
	}

	return peer, nil
}

// PushTransports are the transports notifications are delivered through.
type PushTransports struct {
	WebPush *webpush.Client
	FCM     *fcm.Client
	Router  *router.Router
}

// NewPushTransports creates the configured transports. Web push is enabled by
// its VAPID keys and FCM by its flag; at least one of them is required.
func NewPushTransports(ctx context.Context, log *zap.Logger, config *PushConfig) (_ *PushTransports, err error) {
	defer mon.Task()(&ctx)(&err)

	transports := &PushTransports{}
	var web, native pushnotifications.Transport

	if config.WebPush.VAPIDPublicKey != "" || config.WebPush.VAPIDPrivateKey != "" {
		transports.WebPush, err = webpush.New(log.Named("webpush"), config.WebPush, nil)
		if err != nil {
			return nil, err
		}
		web = transports.WebPush
	}

	if config.FCM.Enabled {
		transports.FCM, err = fcm.New(ctx, log.Named("fcm"), config.FCM)
		if err != nil {
			return nil, err
		}
		native = transports.FCM
	}

	if web == nil && native == nil {
		return nil, pushnotifications.ErrConfig.New("neither web push nor FCM is configured")
	}
	transports.Router = router.New(web, native)
	return transports, nil
}

// Run runs the push peer until it's either closed or it errors.
func (peer *Push) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	group, ctx := errgroup.WithContext(ctx)

	pprof.Do(ctx, pprof.Labels("subsystem", "push"), func(ctx context.Context) {
		peer.Servers.Run(ctx, group)
		peer.Services.Run(ctx, group)

		pprof.Do(ctx, pprof.Labels("name", "subsystem-wait"), func(ctx context.Context) {
			err = group.Wait()
		})
	})
	return err
}

// Close closes all the resources.
func (peer *Push) Close() error {
	return errs.Combine(
		peer.Servers.Close(),
		peer.Services.Close(),
	)
}
