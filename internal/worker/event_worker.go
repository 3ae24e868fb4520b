package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sewapay/paycore/internal/notify"
	"github.com/sewapay/paycore/internal/observability"
	"github.com/sewapay/paycore/internal/repository"
	"github.com/sewapay/paycore/internal/service"
	"go.uber.org/zap"
)

// EventWorker drains undelivered payment intent events to the configured
// notifier. Claims use FOR UPDATE SKIP LOCKED so concurrent instances never
// deliver the same event twice from the queue, though a crash after delivery
// but before the delivered mark re-sends it: delivery is at-least-once.
type EventWorker struct {
	store        service.QueryStore
	notifier     notify.Notifier
	pollInterval time.Duration
	batchSize    int32
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewEventWorker(store service.QueryStore, notifier notify.Notifier) *EventWorker {
	return &EventWorker{
		store:        store,
		notifier:     notifier,
		pollInterval: 5 * time.Second,
		batchSize:    25,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets the poll interval.
func (w *EventWorker) WithPollInterval(interval time.Duration) *EventWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithBatchSize sets how many events one pass claims at most.
func (w *EventWorker) WithBatchSize(size int32) *EventWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks and drains the queue at the configured interval.
func (w *EventWorker) Start(ctx context.Context) {
	zap.L().Info("event worker starting",
		zap.Duration("interval", w.pollInterval),
		zap.Int32("batch", w.batchSize),
	)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("event worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("event worker stop signal received")
			return
		case <-ticker.C:
			if _, err := w.DeliverOnce(ctx); err != nil {
				observability.IncrementWorkerRun("event_delivery", "failed")
				zap.L().Error("event delivery pass failed", zap.Error(err))
			} else {
				observability.IncrementWorkerRun("event_delivery", "success")
			}
		}
	}
}

// Stop stops the running worker loop.
func (w *EventWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *EventWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// DeliverOnce claims one batch and pushes it to the notifier. Returns how
// many events were delivered.
func (w *EventWorker) DeliverOnce(ctx context.Context) (int, error) {
	var delivered int
	err := w.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		events, err := qtx.ClaimUndeliveredEvents(ctx, w.batchSize)
		if err != nil {
			return fmt.Errorf("claim undelivered events: %w", err)
		}
		for _, event := range events {
			if err := w.notifier.Deliver(ctx, event); err != nil {
				if markErr := qtx.MarkEventFailed(ctx, event.ID, err.Error()); markErr != nil {
					return markErr
				}
				zap.L().Warn("event delivery attempt failed",
					zap.Int64("event_id", event.ID),
					zap.Int32("attempts", event.Attempts+1),
					zap.Error(err),
				)
				continue
			}
			if err := qtx.MarkEventDelivered(ctx, event.ID); err != nil {
				return err
			}
			delivered++
		}
		return nil
	})
	return delivered, err
}
