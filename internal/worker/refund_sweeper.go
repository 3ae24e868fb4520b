package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sewapay/paycore/internal/observability"
	"github.com/sewapay/paycore/internal/service"
	"go.uber.org/zap"
)

// RefundSweeper releases refund escrows whose hold window has elapsed.
// Safe for concurrent instances thanks to FOR UPDATE SKIP LOCKED.
type RefundSweeper struct {
	refunds      *service.RefundService
	pollInterval time.Duration
	batchSize    int32
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewRefundSweeper(refunds *service.RefundService) *RefundSweeper {
	return &RefundSweeper{
		refunds:      refunds,
		pollInterval: time.Minute,
		batchSize:    50,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets the poll interval.
func (w *RefundSweeper) WithPollInterval(interval time.Duration) *RefundSweeper {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithBatchSize sets how many due refunds one sweep releases at most.
func (w *RefundSweeper) WithBatchSize(size int32) *RefundSweeper {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks and sweeps at the configured interval.
func (w *RefundSweeper) Start(ctx context.Context) {
	zap.L().Info("refund sweeper starting",
		zap.Duration("interval", w.pollInterval),
		zap.Int32("batch", w.batchSize),
	)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("refund sweeper context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("refund sweeper stop signal received")
			return
		case <-ticker.C:
			w.sweepOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *RefundSweeper) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *RefundSweeper) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// SweepOnce runs a single sweep immediately. Useful for tests.
func (w *RefundSweeper) SweepOnce(ctx context.Context) (int, error) {
	return w.refunds.SweepDue(ctx, w.batchSize)
}

func (w *RefundSweeper) sweepOnce(ctx context.Context) {
	if _, err := w.refunds.SweepDue(ctx, w.batchSize); err != nil {
		observability.IncrementWorkerRun("refund_sweeper", "failed")
		zap.L().Error("refund sweep failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("refund_sweeper", "success")
}
