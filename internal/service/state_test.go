package service

import (
	"testing"

	"github.com/sewapay/paycore/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestLedgerTransitions(t *testing.T) {
	allowed := [][2]string{
		{"PENDING", "COMPLETED"},
		{"PENDING", "FAILED"},
		{"PENDING", "CANCELLED"},
		{"COMPLETED", "REVERSED"},
		{"FAILED", "CANCELLED"},
	}
	for _, tc := range allowed {
		assert.True(t, canTransitionLedger(tc[0], tc[1]), "%s -> %s should be legal", tc[0], tc[1])
	}

	denied := [][2]string{
		{"COMPLETED", "PENDING"},
		{"COMPLETED", "FAILED"},
		{"REVERSED", "COMPLETED"},
		{"CANCELLED", "PENDING"},
		{"FAILED", "COMPLETED"},
		{"PENDING", "REVERSED"},
	}
	for _, tc := range denied {
		assert.False(t, canTransitionLedger(tc[0], tc[1]), "%s -> %s should be illegal", tc[0], tc[1])
	}

	// Case and whitespace are forgiven.
	assert.True(t, canTransitionLedger(" pending ", "completed"))
	assert.False(t, canTransitionLedger("bogus", "COMPLETED"))
}

func TestIntentTransitions(t *testing.T) {
	assert.True(t, canTransitionIntent(domain.IntentStatusRequiresPaymentMethod, domain.IntentStatusProcessing))
	assert.True(t, canTransitionIntent(domain.IntentStatusProcessing, domain.IntentStatusRequiresCapture))
	assert.True(t, canTransitionIntent(domain.IntentStatusProcessing, domain.IntentStatusSucceeded))
	assert.True(t, canTransitionIntent(domain.IntentStatusRequiresCapture, domain.IntentStatusCanceled))

	// No edge leaves a terminal state, and none re-enters an earlier one.
	for _, terminal := range []string{
		domain.IntentStatusSucceeded,
		domain.IntentStatusFailed,
		domain.IntentStatusCanceled,
	} {
		assert.True(t, intentTerminal(terminal))
		for next := range intentTransitions {
			assert.False(t, canTransitionIntent(terminal, next), "%s -> %s", terminal, next)
		}
	}
	assert.False(t, canTransitionIntent(domain.IntentStatusProcessing, domain.IntentStatusRequiresPaymentMethod))
	assert.False(t, canTransitionIntent(domain.IntentStatusRequiresCapture, domain.IntentStatusProcessing))
	assert.False(t, intentTerminal(domain.IntentStatusProcessing))
}
