package subscriptions

import (
	"time"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

// Gate decides whether a tenant may reach the conversation engine. With
// enforcement off (the default) every tenant passes; with it on, access
// requires an unexpired free account or an active/trialing subscription.
// There is no grace period for past_due.
type Gate struct {
	enforce bool
	now     func() time.Time
	logger  *logging.Logger
}

func NewGate(enforce bool, logger *logging.Logger) *Gate {
	if logger == nil {
		logger = logging.Default()
	}
	return &Gate{enforce: enforce, now: time.Now, logger: logger}
}

// Allow implements the conversation worker's AccessGate.
func (g *Gate) Allow(tenant *accounts.Account) bool {
	if !g.enforce {
		return true
	}
	if tenant == nil {
		return false
	}
	allowed := tenant.HasAccess(g.now())
	if !allowed {
		g.logger.Info("tenant denied by subscription gate",
			"tenant_id", tenant.ID,
			"subscription_status", string(tenant.Subscription.Status),
			"free_account", tenant.Subscription.IsFreeAccount)
	}
	return allowed
}
