package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/medagenda/citas-ai-platform/internal/apperrors"
)

const stateTTL = time.Hour

// StateStore issues one-shot CSRF states for the OAuth connect flow.
type StateStore struct {
	redis *redis.Client
}

func NewStateStore(client *redis.Client) *StateStore {
	if client == nil {
		panic("tokens: redis client required")
	}
	return &StateStore{redis: client}
}

// Create mints a state bound to the tenant starting the connect flow.
func (s *StateStore) Create(ctx context.Context, tenantID string) (string, error) {
	state := uuid.NewString()
	if err := s.redis.Set(ctx, stateKey(state), tenantID, stateTTL).Err(); err != nil {
		return "", fmt.Errorf("tokens: persist oauth state: %w", err)
	}
	return state, nil
}

// Consume returns the tenant bound to the state and burns it. A state can be
// consumed once; replays and expired states fail.
func (s *StateStore) Consume(ctx context.Context, state string) (string, error) {
	tenantID, err := s.redis.GetDel(ctx, stateKey(state)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", apperrors.New(apperrors.KindAuthentication, "unknown or expired oauth state")
		}
		return "", fmt.Errorf("tokens: consume oauth state: %w", err)
	}
	return tenantID, nil
}

func stateKey(state string) string {
	return fmt.Sprintf("oauth_state:%s", state)
}
