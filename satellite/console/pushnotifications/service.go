// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package pushnotifications

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/uuid"
)

var mon = monkit.Package()

// Options are the optional parts of a notification.
type Options struct {
	Icon     string
	Image    string
	URL      string
	Tag      string
	Data     map[string]interface{}
	Priority Priority
	Category Category
}

// DispatchResult summarizes a dispatch. Sent and Failed count records that
// reached delivered or failed during the pass.
type DispatchResult struct {
	Sent      int
	Failed    int
	RecordIDs []uuid.UUID
	// Errors contains problems with individual records that did not stop the dispatch.
	Errors []error
}

// Err combines the per record errors.
func (result DispatchResult) Err() error {
	return errs.Combine(result.Errors...)
}

// Service fans notifications out to subscriptions and tracks their delivery.
//
// architecture: Service
type Service struct {
	log       *zap.Logger
	subs      Subscriptions
	records   Records
	transport Transport
	roles     RoleResolver
	encoder   Encoder
	config    Config

	nowFn func() time.Time
}

// NewService creates a new push notifications service.
func NewService(log *zap.Logger, db DB, transport Transport, roles RoleResolver, config Config) (*Service, error) {
	if db == nil {
		return nil, ErrConfig.New("database is required")
	}
	if transport == nil {
		return nil, ErrConfig.New("transport is required")
	}
	config = config.normalize()

	return &Service{
		log:       log,
		subs:      db.Subscriptions(),
		records:   db.Records(),
		transport: transport,
		roles:     roles,
		encoder: Encoder{
			DefaultIcon:    config.DefaultIcon,
			Badge:          config.Badge,
			MaxPayloadSize: config.MaxPayloadSize.Int(),
		},
		config: config,
		nowFn:  time.Now,
	}, nil
}

// TestSetNow replaces the clock used by the service.
func (service *Service) TestSetNow(now func() time.Time) {
	service.nowFn = now
}

func (service *Service) now() time.Time {
	return service.nowFn().UTC()
}

// Dispatch creates a record for every active subscription matched by the
// selector and delivers them in batches.
func (service *Service) Dispatch(ctx context.Context, selector Selector, title, body string, opts Options) (result DispatchResult, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := selector.Validate(); err != nil {
		return result, err
	}
	resolved, err := resolve(ctx, service.roles, selector)
	if err != nil {
		return result, err
	}
	if resolved.Empty() {
		service.log.Debug("no recipients", zap.Stringer("selector", selector))
		return result, nil
	}

	content := Content{
		Title: title,
		Body:  body,
		Icon:  opts.Icon,
		Image: opts.Image,
		URL:   opts.URL,
		Tag:   opts.Tag,
		Data:  opts.Data,
	}
	priority := opts.Priority
	if !priority.Valid() {
		priority = PriorityNormal
	}
	category := opts.Category
	if category == "" {
		category = CategorySystem
	}

	cursor := Cursor{Limit: service.config.ChunkSize}
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		page, err := service.subs.ListActive(ctx, resolved, cursor)
		if err != nil {
			return result, Error.Wrap(err)
		}

		for _, batch := range chunk(page.Subscriptions, service.config.BatchSize) {
			if err := ctx.Err(); err != nil {
				return result, err
			}

			items := make([]delivery, 0, len(batch))
			for _, sub := range batch {
				record, err := service.records.Create(ctx, NewRecord{
					UserID:         sub.UserID,
					SubscriptionID: sub.ID,
					Content:        content,
					Priority:       priority,
					Category:       category,
					CreatedAt:      service.now(),
				})
				if err != nil {
					service.log.Warn("failed to create notification record",
						zap.Stringer("subscription_id", sub.ID), zap.Error(err))
					result.Errors = append(result.Errors, Error.Wrap(err))
					continue
				}
				result.RecordIDs = append(result.RecordIDs, record.ID)
				items = append(items, delivery{record: record, sub: sub})
			}

			service.deliver(ctx, items, &result)
		}

		if !page.More {
			break
		}
		cursor = page.Next
	}

	mon.Counter("push_dispatch_sent").Inc(int64(result.Sent))
	mon.Counter("push_dispatch_failed").Inc(int64(result.Failed))
	service.log.Info("dispatch completed",
		zap.Stringer("selector", selector),
		zap.Int("records", len(result.RecordIDs)),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed))

	return result, nil
}

// SendTest sends a test notification to the subscriptions of a user.
func (service *Service) SendTest(ctx context.Context, userID uuid.UUID) (result DispatchResult, err error) {
	defer mon.Task()(&ctx)(&err)

	return service.Dispatch(ctx, ForUser(userID),
		"Test Notification",
		"This is a test notification to verify push delivery is working.",
		Options{
			Priority: PriorityNormal,
			Category: CategorySystem,
			Data:     map[string]interface{}{"test": true},
		})
}

// MarkClicked records that the client acted on a delivered notification.
func (service *Service) MarkClicked(ctx context.Context, recordID uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	return service.records.MarkClicked(ctx, recordID, service.now())
}

// delivery is a record paired with the subscription it is addressed to.
type delivery struct {
	record Record
	sub    Subscription
}

// deliver encodes, sends and applies the reports of a batch of pending records.
// Once messages are staged the batch is flushed to completion even when ctx is canceled.
func (service *Service) deliver(ctx context.Context, items []delivery, result *DispatchResult) {
	if len(items) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)

	batch := service.transport.NewBatch()
	staged := make(map[uuid.UUID]delivery, len(items))

	for _, item := range items {
		message, err := service.encoder.Encode(item.record, item.sub)
		if err != nil {
			service.fail(ctx, item, err.Error(), true, result)
			continue
		}

		if err := service.records.MarkSent(ctx, item.record.ID, service.now()); err != nil {
			service.log.Warn("failed to mark notification sent",
				zap.Stringer("record_id", item.record.ID), zap.Error(err))
			service.fail(ctx, item, err.Error(), false, result)
			continue
		}

		if err := batch.Enqueue(message); err != nil {
			service.fail(ctx, item, err.Error(), false, result)
			continue
		}
		staged[item.record.ID] = item
	}

	if len(staged) == 0 {
		return
	}

	for _, report := range batch.Flush(ctx) {
		item, ok := staged[report.RecordID]
		if !ok {
			service.log.Warn("report for unknown record",
				zap.Stringer("record_id", report.RecordID),
				zap.String("endpoint", report.Endpoint))
			continue
		}
		delete(staged, report.RecordID)
		service.apply(ctx, item, report, result)
	}

	for _, item := range staged {
		service.apply(ctx, item, DeliveryReport{
			RecordID:       item.record.ID,
			SubscriptionID: item.sub.ID,
			Endpoint:       item.sub.Endpoint,
			Reason:         ReasonNoReport,
		}, result)
	}
}

// apply updates the record and subscription from a delivery report.
func (service *Service) apply(ctx context.Context, item delivery, report DeliveryReport, result *DispatchResult) {
	now := service.now()
	log := service.log.With(
		zap.Stringer("record_id", item.record.ID),
		zap.Stringer("subscription_id", item.sub.ID))

	if report.Success {
		if err := service.records.MarkDelivered(ctx, item.record.ID, now); err != nil {
			log.Warn("failed to mark notification delivered", zap.Error(err))
			result.Errors = append(result.Errors, Error.Wrap(err))
			return
		}
		if err := service.subs.RecordSuccess(ctx, item.sub.ID, now); err != nil {
			log.Warn("failed to record subscription success", zap.Error(err))
		}
		mon.Counter("push_delivered").Inc(1)
		result.Sent++
		return
	}

	if report.SubscriptionExpired {
		log.Info("subscription expired", zap.String("reason", report.Reason), zap.Int("status", report.StatusCode))
		if err := service.subs.MarkExpired(ctx, item.sub.ID, now); err != nil {
			log.Warn("failed to mark subscription expired", zap.Error(err))
		}
		mon.Counter("push_subscription_expired").Inc(1)
	}

	reason := report.Reason
	if reason == "" {
		reason = ReasonGatewayError
	}
	// a rejected message says nothing about the health of the subscription.
	if !report.InvalidPayload {
		if err := service.subs.RecordFailure(ctx, item.sub.ID, reason, now, service.config.MaxSubscriptionFailures); err != nil {
			log.Warn("failed to record subscription failure", zap.Error(err))
		}
	}

	service.fail(ctx, item, reason, report.SubscriptionExpired || report.InvalidPayload, result)
}

// fail marks a record failed and counts it.
func (service *Service) fail(ctx context.Context, item delivery, reason string, permanent bool, result *DispatchResult) {
	if err := service.records.MarkFailed(ctx, item.record.ID, reason, permanent, service.now()); err != nil {
		service.log.Warn("failed to mark notification failed",
			zap.Stringer("record_id", item.record.ID), zap.Error(err))
		result.Errors = append(result.Errors, Error.Wrap(err))
		return
	}
	mon.Counter("push_failed").Inc(1)
	result.Failed++
}

func chunk[T any](items []T, size int) [][]T {
	var chunks [][]T
	for size > 0 && len(items) > 0 {
		n := min(size, len(items))
		chunks = append(chunks, items[:n:n])
		items = items[n:]
	}
	return chunks
}
