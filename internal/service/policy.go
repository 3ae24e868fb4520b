package service

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sewapay/paycore/internal/domain"
	"github.com/sewapay/paycore/internal/models"
	"go.uber.org/zap"
)

// PolicyCache holds the effective exchange limit policy per role tier as an
// immutable snapshot. Hot-path reads never touch the database; Refresh swaps
// the whole snapshot atomically.
type PolicyCache struct {
	store    QueryStore
	snapshot atomic.Pointer[map[string]models.ExchangeLimitPolicy]
}

func NewPolicyCache(store QueryStore) *PolicyCache {
	c := &PolicyCache{store: store}
	empty := map[string]models.ExchangeLimitPolicy{}
	c.snapshot.Store(&empty)
	return c
}

// Refresh reloads the newest effective policy row per role. Policies are
// versioned and effective-dated; mid-flight operations keep the snapshot they
// started with.
func (c *PolicyCache) Refresh(ctx context.Context) error {
	policies, err := c.store.Queries().ListEffectiveLimitPolicies(ctx)
	if err != nil {
		return fmt.Errorf("load limit policies: %w", err)
	}
	next := make(map[string]models.ExchangeLimitPolicy, len(policies))
	for _, p := range policies {
		next[p.Role] = p
	}
	c.snapshot.Store(&next)
	zap.L().Debug("limit policy snapshot refreshed", zap.Int("roles", len(next)))
	return nil
}

// ForRole returns the policy for the given role, falling back to the standard
// tier when the role has no dedicated row.
func (c *PolicyCache) ForRole(role string) (models.ExchangeLimitPolicy, bool) {
	snap := *c.snapshot.Load()
	if p, ok := snap[role]; ok {
		return p, true
	}
	p, ok := snap[domain.RoleStandard]
	return p, ok
}
