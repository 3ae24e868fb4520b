package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sewapay/paycore/internal/domain"
	"github.com/sewapay/paycore/internal/observability"
	"github.com/sewapay/paycore/internal/service"
	"go.uber.org/zap"
)

// CardResetWorker zeroes rolling card spend counters at their period
// boundaries. The reset queries are idempotent per boundary, so the worker
// can run far more often than the boundaries occur and concurrent instances
// never double-reset.
type CardResetWorker struct {
	cards        *service.CardService
	pollInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewCardResetWorker(cards *service.CardService) *CardResetWorker {
	return &CardResetWorker{
		cards:        cards,
		pollInterval: 15 * time.Minute,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets the poll interval.
func (w *CardResetWorker) WithPollInterval(interval time.Duration) *CardResetWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// Start blocks and runs resets at the configured interval.
func (w *CardResetWorker) Start(ctx context.Context) {
	zap.L().Info("card reset worker starting", zap.Duration("interval", w.pollInterval))
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.resetOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("card reset worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("card reset worker stop signal received")
			return
		case <-ticker.C:
			w.resetOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *CardResetWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *CardResetWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// ResetOnce runs all three period resets immediately. Useful for tests.
func (w *CardResetWorker) ResetOnce(ctx context.Context) error {
	now := time.Now()
	for _, period := range []string{domain.PeriodDaily, domain.PeriodWeekly, domain.PeriodMonthly} {
		if _, err := w.cards.ResetPeriod(ctx, period, now); err != nil {
			return err
		}
	}
	return nil
}

func (w *CardResetWorker) resetOnce(ctx context.Context) {
	now := time.Now()
	for _, period := range []string{domain.PeriodDaily, domain.PeriodWeekly, domain.PeriodMonthly} {
		reset, err := w.cards.ResetPeriod(ctx, period, now)
		if err != nil {
			observability.IncrementWorkerRun("card_reset", "failed")
			zap.L().Error("card counter reset failed",
				zap.String("period", period),
				zap.Error(err),
			)
			return
		}
		if reset > 0 {
			zap.L().Info("card counters reset",
				zap.String("period", period),
				zap.Int64("cards", reset),
			)
		}
	}
	observability.IncrementWorkerRun("card_reset", "success")
}
