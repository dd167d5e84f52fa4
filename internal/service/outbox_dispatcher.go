package service

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/spec-kit/campus-helpdesk/internal/config"
	"github.com/spec-kit/campus-helpdesk/internal/domain"
	"github.com/spec-kit/campus-helpdesk/internal/notify"
	"github.com/spec-kit/campus-helpdesk/internal/observability"
	"github.com/spec-kit/campus-helpdesk/internal/repository"
	apperrors "github.com/spec-kit/campus-helpdesk/pkg/util/errorutil"
)

// OutboxDispatcher delivers pending outbox rows to notification
// senders. Delivery is at-least-once; sender failures never touch the
// transactions that created the rows.
type OutboxDispatcher struct {
	store    repository.Store
	registry *notify.Registry
	clock    clockwork.Clock
	cfg      config.OutboxConfig
	logger   *zap.Logger
}

// NewOutboxDispatcher constructs the dispatcher.
func NewOutboxDispatcher(store repository.Store, registry *notify.Registry, clock clockwork.Clock, cfg config.OutboxConfig, logger *zap.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{store: store, registry: registry, clock: clock, cfg: cfg, logger: logger}
}

// FlushResult reports one dispatcher run.
type FlushResult struct {
	Sent         int
	Failed       int
	StillPending int
}

// Flush claims and delivers batches until the queue drains or the
// deadline nears. Rows still claimed when the deadline hits are
// released back to pending; the next scheduled run picks them up.
func (d *OutboxDispatcher) Flush(ctx context.Context, batchSize int, deadline time.Time) (FlushResult, error) {
	var result FlushResult
	if batchSize <= 0 {
		batchSize = d.cfg.BatchSize
	}
	repos := d.store.Repos()
	start := d.clock.Now()

	// Leave room for one full send before the deadline; claiming work
	// we cannot attempt just delays it behind a PROCESSING status.
	headroom := d.cfg.SendTimeout() + time.Second

	for {
		if !d.clock.Now().Add(headroom).Before(deadline) {
			break
		}
		if ctx.Err() != nil {
			break
		}

		// claims older than a full run are abandoned (crashed holder)
		// and eligible for redelivery
		now := d.clock.Now()
		batch, err := repos.Outbox.ClaimBatch(ctx, now, now.Add(-d.cfg.RunTimeout()), batchSize)
		if err != nil {
			return result, apperrors.MapError(err)
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			if !d.clock.Now().Add(headroom).Before(deadline) || ctx.Err() != nil {
				ids := make([]string, 0, len(batch)-i)
				for _, event := range batch[i:] {
					ids = append(ids, event.ID)
				}
				if err := repos.Outbox.Release(ctx, ids); err != nil {
					d.logger.Error("failed to release claimed outbox rows", zap.Error(err))
				}
				result.StillPending, _ = repos.Outbox.CountPending(ctx)
				observability.OutboxFlushDuration().Observe(d.clock.Since(start).Seconds())
				return result, nil
			}
			d.deliver(ctx, repos.Outbox, &batch[i], &result)
		}

		if len(batch) < batchSize {
			break
		}
	}

	pending, err := repos.Outbox.CountPending(ctx)
	if err != nil {
		d.logger.Warn("failed to count pending outbox rows", zap.Error(err))
	}
	result.StillPending = pending
	observability.OutboxFlushDuration().Observe(d.clock.Since(start).Seconds())
	return result, nil
}

func (d *OutboxDispatcher) deliver(ctx context.Context, outbox repository.OutboxRepository, event *domain.OutboxEvent, result *FlushResult) {
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout())
	err := d.registry.Dispatch(sendCtx, event.Channel, notify.Message{
		EventID:       event.ID,
		EventType:     string(event.EventType),
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		OccurredAt:    event.CreatedAt,
	})
	cancel()

	if err == nil {
		if err := outbox.MarkSent(ctx, event.ID); err != nil {
			d.logger.Error("failed to mark outbox row sent",
				zap.String("event_id", event.ID), zap.Error(err))
			return
		}
		result.Sent++
		observability.OutboxDelivered().WithLabelValues("sent").Inc()
		return
	}

	attempts := event.Attempts + 1
	if attempts >= d.cfg.MaxAttempts {
		if markErr := outbox.MarkFailed(ctx, event.ID, err.Error()); markErr != nil {
			d.logger.Error("failed to mark outbox row failed",
				zap.String("event_id", event.ID), zap.Error(markErr))
			return
		}
		result.Failed++
		observability.OutboxDelivered().WithLabelValues("failed").Inc()
		d.logger.Error("outbox delivery failed permanently",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.EventType)),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return
	}

	nextAttempt := d.clock.Now().Add(d.retryDelay(attempts))
	if markErr := outbox.MarkRetry(ctx, event.ID, err.Error(), nextAttempt); markErr != nil {
		d.logger.Error("failed to schedule outbox retry",
			zap.String("event_id", event.ID), zap.Error(markErr))
		return
	}
	observability.OutboxDelivered().WithLabelValues("retried").Inc()
	d.logger.Warn("outbox delivery failed, will retry",
		zap.String("event_id", event.ID),
		zap.Int("attempts", attempts),
		zap.Time("next_attempt_at", nextAttempt),
		zap.Error(err))
}

// retryDelay doubles per attempt: base, 2*base, 4*base, ...
func (d *OutboxDispatcher) retryDelay(attempts int) time.Duration {
	delay := d.cfg.RetryBase()
	for i := 1; i < attempts; i++ {
		delay *= 2
	}
	return delay
}
