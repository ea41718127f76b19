package subscriptions

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/internal/payments"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

var syncerTracer = otel.Tracer("citas.internal.subscriptions")

// subscriptionWriter is the Store subset the syncer writes through.
type subscriptionWriter interface {
	Upsert(ctx context.Context, sub *Subscription) error
}

// tenantDirectory is the accounts-store subset the syncer resolves and
// updates tenants through.
type tenantDirectory interface {
	Get(ctx context.Context, id string) (*accounts.Account, error)
	GetByCustomer(ctx context.Context, customerID string) (*accounts.Account, error)
	UpdateSubscription(ctx context.Context, id, customerID, tierID string, status accounts.SubscriptionStatus, periodEnd *time.Time) error
}

// Syncer applies Stripe subscription lifecycle events to the local mirror and
// the tenant's account block. It implements the payment webhook's
// SubscriptionSyncer.
type Syncer struct {
	subs    subscriptionWriter
	tenants tenantDirectory
	logger  *logging.Logger
}

func NewSyncer(subs subscriptionWriter, tenants tenantDirectory, logger *logging.Logger) *Syncer {
	if subs == nil {
		panic("subscriptions: subscription store required")
	}
	if tenants == nil {
		panic("subscriptions: tenant directory required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Syncer{subs: subs, tenants: tenants, logger: logger}
}

// Sync writes the event through to the subscription row and the tenant.
// A deleted subscription lands as canceled.
func (s *Syncer) Sync(ctx context.Context, evt payments.SubscriptionEvent) error {
	ctx, span := syncerTracer.Start(ctx, "subscriptions.sync")
	defer span.End()
	span.SetAttributes(
		attribute.String("citas.subscription_id", evt.SubscriptionID),
		attribute.String("citas.subscription_status", evt.Status),
		attribute.Bool("citas.subscription_deleted", evt.Deleted),
	)

	tenant, err := s.resolveTenant(ctx, evt)
	if err != nil {
		return fmt.Errorf("subscriptions: resolve tenant for %s: %w", evt.SubscriptionID, err)
	}

	status := accounts.SubscriptionStatus(evt.Status)
	if evt.Deleted {
		status = accounts.SubCanceled
	}

	var periodEnd *time.Time
	if !evt.CurrentPeriodEnd.IsZero() {
		pe := evt.CurrentPeriodEnd
		periodEnd = &pe
	}

	sub := &Subscription{
		ID:                evt.SubscriptionID,
		TenantID:          tenant.ID,
		CustomerID:        evt.CustomerID,
		TierID:            evt.TierID,
		Status:            status,
		CurrentPeriodEnd:  periodEnd,
		CancelAtPeriodEnd: evt.CancelAtPeriod,
	}
	if err := s.subs.Upsert(ctx, sub); err != nil {
		return err
	}

	if err := s.tenants.UpdateSubscription(ctx, tenant.ID, evt.CustomerID, evt.TierID, status, periodEnd); err != nil {
		return fmt.Errorf("subscriptions: update tenant %s: %w", tenant.ID, err)
	}

	s.logger.Info("subscription synced",
		"subscription_id", evt.SubscriptionID,
		"tenant_id", tenant.ID,
		"status", string(status),
		"cancel_at_period_end", evt.CancelAtPeriod)
	return nil
}

// resolveTenant prefers the tenant_id stamped into the subscription's
// metadata at checkout; older subscriptions fall back to the billing
// customer.
func (s *Syncer) resolveTenant(ctx context.Context, evt payments.SubscriptionEvent) (*accounts.Account, error) {
	if evt.TenantID != "" {
		tenant, err := s.tenants.Get(ctx, evt.TenantID)
		if err == nil {
			return tenant, nil
		}
		s.logger.Warn("subscription metadata names an unknown tenant, falling back to customer",
			"tenant_id", evt.TenantID, "subscription_id", evt.SubscriptionID, "error", err)
	}
	if evt.CustomerID == "" {
		return nil, accounts.ErrNotFound
	}
	return s.tenants.GetByCustomer(ctx, evt.CustomerID)
}
