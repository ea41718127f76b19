// Package reminders sends day-of appointment reminders and routes patient
// replies to them. A reminder opens a 24-hour context keyed by the patient's
// canonical phone; while the context lives, inbound messages from that phone
// go to the reply router instead of opening a new conversation.
package reminders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ContextTTL is how long a reminder reply window stays open.
const ContextTTL = 24 * time.Hour

// ActiveContext binds a canonical phone to the appointment it was reminded
// about. SET semantics mean the latest reminder wins when a patient has two.
type ActiveContext struct {
	AppointmentID string    `json:"appointment_id"`
	TenantID      string    `json:"tenant_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// ContextStore keeps active reminder contexts in Redis with a 24h TTL.
type ContextStore struct {
	redis *redis.Client
}

func NewContextStore(client *redis.Client) *ContextStore {
	if client == nil {
		panic("reminders: redis client required")
	}
	return &ContextStore{redis: client}
}

// Set opens (or replaces) the reply window for a phone.
func (s *ContextStore) Set(ctx context.Context, phone string, ac ActiveContext) error {
	if ac.CreatedAt.IsZero() {
		ac.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(ac)
	if err != nil {
		return fmt.Errorf("reminders: encode context: %w", err)
	}
	if err := s.redis.Set(ctx, contextKey(phone), data, ContextTTL).Err(); err != nil {
		return fmt.Errorf("reminders: persist context: %w", err)
	}
	return nil
}

// Get returns the active context for a phone, or nil when the window is
// closed or never opened.
func (s *ContextStore) Get(ctx context.Context, phone string) (*ActiveContext, error) {
	data, err := s.redis.Get(ctx, contextKey(phone)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("reminders: load context: %w", err)
	}
	var ac ActiveContext
	if err := json.Unmarshal(data, &ac); err != nil {
		return nil, fmt.Errorf("reminders: decode context: %w", err)
	}
	return &ac, nil
}

// Clear closes the reply window once the reply is resolved.
func (s *ContextStore) Clear(ctx context.Context, phone string) error {
	if err := s.redis.Del(ctx, contextKey(phone)).Err(); err != nil {
		return fmt.Errorf("reminders: clear context: %w", err)
	}
	return nil
}

func contextKey(phone string) string {
	return fmt.Sprintf("reminder_ctx:%s", phone)
}
