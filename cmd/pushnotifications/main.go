// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/StorXNetwork/StorXPush/satellite"
	"github.com/StorXNetwork/StorXPush/satellite/console/pushnotifications"
	"github.com/StorXNetwork/StorXPush/satellite/console/pushnotifications/roles"
	"github.com/StorXNetwork/StorXPush/satellite/console/pushnotifications/webpush"
	"github.com/StorXNetwork/StorXPush/satellite/satellitedb"
	"storj.io/common/cfgstruct"
	"storj.io/common/errs2"
	"storj.io/common/fpath"
	"storj.io/common/process"
	"storj.io/common/uuid"
)

// Push defines the push notifications process configuration.
type Push struct {
	Database string `help:"push notifications database connection string" releaseDefault:"postgres://" devDefault:"sqlite3://push.db"`

	satellite.PushConfig
}

var (
	rootCmd = &cobra.Command{
		Use:   "pushnotifications",
		Short: "Push notification delivery pipeline",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the retry and maintenance chores",
		RunE:  cmdRun,
	}
	setupCmd = &cobra.Command{
		Use:         "setup",
		Short:       "Create config files",
		RunE:        cmdSetup,
		Annotations: map[string]string{"type": "setup"},
	}
	dispatchCmd = &cobra.Command{
		Use:   "dispatch",
		Short: "Send a notification to the selected subscriptions",
		Args:  cobra.NoArgs,
		RunE:  cmdDispatch,
	}
	retryCmd = &cobra.Command{
		Use:   "retry",
		Short: "Retry failed notifications once",
		Args:  cobra.NoArgs,
		RunE:  cmdRetry,
	}
	cleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Fail stale notifications and delete old records",
		Args:  cobra.NoArgs,
		RunE:  cmdCleanup,
	}
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print delivery statistics as JSON",
		Args:  cobra.NoArgs,
		RunE:  cmdStats,
	}
	testNotifyCmd = &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification to a user",
		Args:  cobra.NoArgs,
		RunE:  cmdTestNotify,
	}
	generateKeysCmd = &cobra.Command{
		Use:   "generate-keys",
		Short: "Generate a VAPID key pair",
		Args:  cobra.NoArgs,
		RunE:  cmdGenerateKeys,
	}

	runCfg   Push
	setupCfg Push

	dispatchCfg struct {
		Selector selectorFlag
		Title    string
		Body     string
		Priority string
		Category string
		URL      string
		Icon     string
		Tag      string
	}
	retryCfg struct {
		MaxRetries int
	}
	cleanupCfg struct {
		Days int
	}
	statsCfg struct {
		Days int
	}
	testNotifyCfg struct {
		User string
	}

	confDir string
)

func init() {
	defaultConfDir := fpath.ApplicationDir("storx", "pushnotifications")
	cfgstruct.SetupFlag(zap.L(), rootCmd, &confDir, "config-dir", defaultConfDir, "main directory for push notifications configuration")
	defaults := cfgstruct.DefaultsFlag(rootCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(testNotifyCmd)
	rootCmd.AddCommand(generateKeysCmd)

	process.Bind(runCmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(setupCmd, &setupCfg, defaults, cfgstruct.ConfDir(confDir), cfgstruct.SetupMode())
	for _, cmd := range []*cobra.Command{dispatchCmd, retryCmd, cleanupCmd, statsCmd, testNotifyCmd} {
		process.Bind(cmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	}

	dispatchCmd.Flags().Var(&dispatchCfg.Selector, "selector", "recipients: user:<id>, users:<id>,<id>, role:<name> or all")
	dispatchCmd.Flags().StringVar(&dispatchCfg.Title, "title", "", "notification title")
	dispatchCmd.Flags().StringVar(&dispatchCfg.Body, "body", "", "notification body")
	dispatchCmd.Flags().StringVar(&dispatchCfg.Priority, "priority", string(pushnotifications.PriorityNormal), "low, normal, high or urgent")
	dispatchCmd.Flags().StringVar(&dispatchCfg.Category, "category", string(pushnotifications.CategorySystem), "notification category")
	dispatchCmd.Flags().StringVar(&dispatchCfg.URL, "url", "", "url opened when the notification is clicked")
	dispatchCmd.Flags().StringVar(&dispatchCfg.Icon, "icon", "", "icon overriding the default")
	dispatchCmd.Flags().StringVar(&dispatchCfg.Tag, "tag", "", "tag replacing earlier notifications with the same tag")
	_ = dispatchCmd.MarkFlagRequired("selector")
	_ = dispatchCmd.MarkFlagRequired("title")

	retryCmd.Flags().IntVar(&retryCfg.MaxRetries, "max-retries", 0, "maximum number of retries of a notification (0 uses the configured limit)")
	cleanupCmd.Flags().IntVar(&cleanupCfg.Days, "days", 90, "number of days finished records are kept")
	statsCmd.Flags().IntVar(&statsCfg.Days, "days", 7, "number of days to summarize")
	testNotifyCmd.Flags().StringVar(&testNotifyCfg.User, "user", "", "id of the user receiving the test notification")
	_ = testNotifyCmd.MarkFlagRequired("user")
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	db, err := openDB(ctx, log)
	if err != nil {
		return err
	}
	defer func() {
		err = errs.Combine(err, db.Close())
	}()

	peer, err := satellite.NewPush(ctx, log, db.PushNotifications(), &runCfg.PushConfig)
	if err != nil {
		log.Error("Failed to create push notifications peer", zap.Error(err))
		return errs.New("Failed to create push notifications peer: %+v", err)
	}

	log.Info("Starting push notifications",
		zap.Stringer("database", db.Implementation()),
		zap.Bool("web_push", peer.Transport.WebPush != nil),
		zap.Bool("fcm", peer.Transport.FCM != nil),
		zap.Duration("retry_interval", runCfg.Notifications.Retry.Interval),
		zap.Duration("maintenance_interval", runCfg.Notifications.Maintenance.Interval),
	)

	runError := peer.Run(ctx)
	closeError := peer.Close()
	return errs2.IgnoreCanceled(errs.Combine(runError, closeError))
}

func cmdSetup(cmd *cobra.Command, args []string) (err error) {
	setupDir, err := filepath.Abs(confDir)
	if err != nil {
		return err
	}

	valid, _ := fpath.IsValidSetupDir(setupDir)
	if !valid {
		return errs.New("push notifications configuration already exists (%v)", setupDir)
	}

	return process.SaveConfig(cmd, filepath.Join(setupDir, "config.yaml"))
}

func cmdDispatch(cmd *cobra.Command, args []string) error {
	priority := pushnotifications.Priority(dispatchCfg.Priority)
	if !priority.Valid() {
		return errs.New("invalid priority %q", dispatchCfg.Priority)
	}

	return withService(cmd, func(ctx context.Context, service *pushnotifications.Service) error {
		result, err := service.Dispatch(ctx, dispatchCfg.Selector.Selector, dispatchCfg.Title, dispatchCfg.Body, pushnotifications.Options{
			Icon:     dispatchCfg.Icon,
			URL:      dispatchCfg.URL,
			Tag:      dispatchCfg.Tag,
			Priority: priority,
			Category: pushnotifications.Category(dispatchCfg.Category),
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "records: %d sent: %d failed: %d\n", len(result.RecordIDs), result.Sent, result.Failed)
		return errs.Combine(err, result.Err())
	})
}

// retryLimit returns the flag value, or the configured limit when the flag is unset.
func retryLimit(flag, configured int) int {
	if flag > 0 {
		return flag
	}
	return configured
}

func cmdRetry(cmd *cobra.Command, args []string) error {
	return withService(cmd, func(ctx context.Context, service *pushnotifications.Service) error {
		result, err := service.RetryFailed(ctx, retryLimit(retryCfg.MaxRetries, runCfg.Notifications.MaxRetries))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "retried: %d delivered: %d failed: %d skipped: %d abandoned: %d\n",
			result.Retried, result.Delivered, result.Failed, result.Skipped, result.Abandoned)
		return err
	})
}

func cmdCleanup(cmd *cobra.Command, args []string) error {
	return withService(cmd, func(ctx context.Context, service *pushnotifications.Service) error {
		swept, err := service.SweepStale(ctx)
		if err != nil {
			return err
		}
		result, err := service.Cleanup(ctx, cleanupCfg.Days)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "stale: %d deleted records: %d deleted subscriptions: %d\n",
			swept, result.DeletedRecords, result.DeletedSubscriptions)
		return err
	})
}

func cmdStats(cmd *cobra.Command, args []string) error {
	return withService(cmd, func(ctx context.Context, service *pushnotifications.Service) error {
		stats, err := service.GetStatistics(ctx, statsCfg.Days)
		if err != nil {
			return err
		}
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return errs.Wrap(encoder.Encode(stats))
	})
}

func cmdTestNotify(cmd *cobra.Command, args []string) error {
	userID, err := uuid.FromString(testNotifyCfg.User)
	if err != nil {
		return errs.New("invalid user id %q: %v", testNotifyCfg.User, err)
	}

	return withService(cmd, func(ctx context.Context, service *pushnotifications.Service) error {
		result, err := service.SendTest(ctx, userID)
		if err != nil {
			return err
		}
		if len(result.RecordIDs) == 0 {
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "user has no active subscriptions")
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "sent: %d failed: %d\n", result.Sent, result.Failed)
		return errs.Combine(err, result.Err())
	})
}

func cmdGenerateKeys(cmd *cobra.Command, args []string) error {
	privateKey, publicKey, err := webpush.GenerateKeys()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "web-push.vapid-public-key: %s\nweb-push.vapid-private-key: %s\n", publicKey, privateKey)
	return err
}

func openDB(ctx context.Context, log *zap.Logger) (*satellitedb.DB, error) {
	if runCfg.Database == "" || runCfg.Database == "postgres://" {
		log.Error("Database connection string is not properly configured")
		return nil, errs.New("Database connection string is not properly configured. Please set the --database flag or configure it in your config file.")
	}

	db, err := satellitedb.Open(ctx, log.Named("db"), runCfg.Database)
	if err != nil {
		log.Error("Failed to connect to database", zap.Error(err))
		return nil, errs.New("Error opening database: %+v", err)
	}
	if err := db.MigrateToLatest(ctx); err != nil {
		return nil, errs.Combine(errs.New("Error migrating database: %+v", err), db.Close())
	}
	return db, nil
}

// withService runs fn with a service that is not backed by the chores.
func withService(cmd *cobra.Command, fn func(ctx context.Context, service *pushnotifications.Service) error) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	db, err := openDB(ctx, log)
	if err != nil {
		return err
	}
	defer func() {
		err = errs.Combine(err, db.Close())
	}()

	transports, err := satellite.NewPushTransports(ctx, log, &runCfg.PushConfig)
	if err != nil {
		return err
	}

	var resolver pushnotifications.RoleResolver
	if runCfg.RolesFile != "" {
		static, err := roles.Load(runCfg.RolesFile)
		if err != nil {
			return err
		}
		resolver = static
	}

	service, err := pushnotifications.NewService(log.Named("pushnotifications"), db.PushNotifications(), transports.Router, resolver, runCfg.Notifications)
	if err != nil {
		return err
	}
	return errs2.IgnoreCanceled(fn(ctx, service))
}

func main() {
	logger, _, _ := process.NewLogger("pushnotifications")
	zap.ReplaceGlobals(logger)

	process.ExecCustomDebug(rootCmd)
}
