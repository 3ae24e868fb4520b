package notify

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/sewapay/paycore/internal/models"
	"go.uber.org/zap"
)

// Notifier delivers payment intent lifecycle events to an external listener.
// Delivery is at-least-once; receivers must tolerate duplicates.
type Notifier interface {
	// Deliver pushes one event. A nil return marks the event delivered;
	// anything else leaves it queued for retry.
	Deliver(ctx context.Context, event models.PaymentIntentEvent) error
}

// LogNotifier writes events to the structured log. It is the default sink
// when no external webhook endpoint is configured.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Deliver(_ context.Context, event models.PaymentIntentEvent) error {
	zap.L().Info("payment intent event",
		zap.Int64("event_id", event.ID),
		zap.String("intent_id", event.IntentID.String()),
		zap.String("event_type", event.EventType),
	)
	return nil
}

// FlakyNotifier simulates an unreliable external listener for testing the
// retry path. It sleeps briefly and fails at the configured rate.
type FlakyNotifier struct {
	// FailureRate is the probability of failure (0.0 to 1.0).
	FailureRate float64
}

func NewFlakyNotifier() *FlakyNotifier {
	return &FlakyNotifier{FailureRate: 0.1}
}

func (n *FlakyNotifier) Deliver(ctx context.Context, event models.PaymentIntentEvent) error {
	delay := time.Duration(10+rand.Intn(40)) * time.Millisecond
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return fmt.Errorf("delivery canceled: %w", ctx.Err())
	}
	if rand.Float64() < n.FailureRate {
		return fmt.Errorf("listener temporarily unavailable")
	}
	return nil
}
