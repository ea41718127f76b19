// Package dedup suppresses redelivered chat platform messages. The platform
// retries webhook deliveries whenever it does not see a fast 200, so the same
// message id can arrive several times and must produce exactly one reply.
package dedup

import (
	"context"
	"time"

	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

// Claimer is the storage a Deduper needs. *Store satisfies it.
type Claimer interface {
	Claim(ctx context.Context, tenantKey, messageID string) (bool, error)
	Sweep(ctx context.Context, ttl time.Duration) (int64, error)
}

// Deduper decides whether an inbound message should be handled or dropped as
// a duplicate. It fails open: when the claim store is unreachable the message
// is processed anyway, since a duplicate reply is cheaper than a lost one.
type Deduper struct {
	store   Claimer
	ttl     time.Duration
	enabled bool
	logger  *logging.Logger
}

func New(store Claimer, enabled bool, ttl time.Duration, logger *logging.Logger) *Deduper {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Deduper{
		store:   store,
		ttl:     ttl,
		enabled: enabled && store != nil,
		logger:  logger,
	}
}

// ShouldProcess reports whether the message is first-seen. Duplicates return
// false. Messages without an id are always processed.
func (d *Deduper) ShouldProcess(ctx context.Context, tenantKey, messageID string) bool {
	if d == nil || !d.enabled || messageID == "" {
		return true
	}
	claimed, err := d.store.Claim(ctx, tenantKey, messageID)
	if err != nil {
		d.logger.Warn("dedup claim failed, processing anyway", "error", err, "tenant_key", tenantKey, "message_id", messageID)
		return true
	}
	if !claimed {
		d.logger.Info("duplicate message ignored", "tenant_key", tenantKey, "message_id", messageID)
	}
	return claimed
}

// RunSweeper deletes expired claims on the given interval until ctx ends.
// Intended to run as a single background goroutine per process.
func (d *Deduper) RunSweeper(ctx context.Context, interval time.Duration) {
	if d == nil || !d.enabled {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			removed, err := d.store.Sweep(sweepCtx, d.ttl)
			cancel()
			if err != nil {
				d.logger.Warn("dedup sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				d.logger.Info("dedup sweep removed expired claims", "removed", removed)
			}
		}
	}
}
