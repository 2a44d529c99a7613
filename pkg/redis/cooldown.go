package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CooldownStore shares a source's "blocked until" instant between processes.
// Entries expire on their own once the instant has passed.
type CooldownStore struct {
	client *Client
	prefix string
}

// NewCooldownStore creates a cooldown store under prefix
func NewCooldownStore(client *Client, prefix string) *CooldownStore {
	return &CooldownStore{client: client, prefix: prefix}
}

func (s *CooldownStore) key(source string) string {
	return fmt.Sprintf("%s:cooldown:%s", s.prefix, source)
}

// SetBlockedUntil records that source accepts no calls before until
func (s *CooldownStore) SetBlockedUntil(ctx context.Context, source string, until time.Time) error {
	if !s.client.Enabled() {
		return nil
	}

	ttl := time.Until(until)
	if ttl <= 0 {
		return s.client.Redis().Del(ctx, s.key(source)).Err()
	}
	value := until.UTC().Format(time.RFC3339Nano)
	if err := s.client.Redis().Set(ctx, s.key(source), value, ttl).Err(); err != nil {
		return fmt.Errorf("cooldown set failed: %w", err)
	}
	return nil
}

// BlockedUntil returns the recorded instant, or the zero time when none is set
func (s *CooldownStore) BlockedUntil(ctx context.Context, source string) (time.Time, error) {
	if !s.client.Enabled() {
		return time.Time{}, nil
	}

	value, err := s.client.Redis().Get(ctx, s.key(source)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("cooldown get failed: %w", err)
	}

	until, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("cooldown value %q: %w", value, err)
	}
	return until, nil
}
