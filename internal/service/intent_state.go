package service

import "github.com/sewapay/paycore/internal/domain"

// Legal payment intent status transitions. succeeded, failed and canceled are
// terminal; no edge re-enters an earlier state.
var intentTransitions = map[string]map[string]struct{}{
	domain.IntentStatusRequiresPaymentMethod: {
		domain.IntentStatusRequiresConfirmation: {},
		domain.IntentStatusProcessing:           {},
		domain.IntentStatusCanceled:             {},
	},
	domain.IntentStatusRequiresConfirmation: {
		domain.IntentStatusProcessing: {},
		domain.IntentStatusCanceled:   {},
	},
	domain.IntentStatusProcessing: {
		domain.IntentStatusRequiresCapture: {},
		domain.IntentStatusSucceeded:       {},
		domain.IntentStatusFailed:          {},
		domain.IntentStatusCanceled:        {},
	},
	domain.IntentStatusRequiresCapture: {
		domain.IntentStatusSucceeded: {},
		domain.IntentStatusCanceled:  {},
	},
	domain.IntentStatusSucceeded: {},
	domain.IntentStatusFailed:    {},
	domain.IntentStatusCanceled:  {},
}

func canTransitionIntent(current, next string) bool {
	nextStates, ok := intentTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

func intentTerminal(status string) bool {
	switch status {
	case domain.IntentStatusSucceeded, domain.IntentStatusFailed, domain.IntentStatusCanceled:
		return true
	}
	return false
}
