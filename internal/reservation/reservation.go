// Package reservation holds in-flight cart quantities so concurrent
// checkouts see each other's claims before anything is committed to the
// lot ledger. Holds live in Redis under a session token and expire on
// their own when a cart is abandoned.
package reservation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "reserve"

// Store tracks quantity holds per checkout session.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore builds a Store. ttl bounds how long an untouched hold survives.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// NewSession mints a session token for a checkout.
func NewSession() string {
	return uuid.NewString()
}

func holdKey(session string, productID, unitID int64) string {
	return fmt.Sprintf("%s:%s:%d:%d", keyPrefix, session, productID, unitID)
}

// Reserve sets the session's hold for a product unit to qty, refreshing the
// hold's lifetime. A zero or negative qty releases the hold.
func (s *Store) Reserve(ctx context.Context, session string, productID, unitID int64, qty float64) error {
	key := holdKey(session, productID, unitID)
	if qty <= 0 {
		return s.client.Del(ctx, key).Err()
	}
	return s.client.Set(ctx, key, qty, s.ttl).Err()
}

// Held sums every other session's holds on a product unit.
func (s *Store) Held(ctx context.Context, productID, unitID int64, excludeSession string) (float64, error) {
	pattern := fmt.Sprintf("%s:*:%d:%d", keyPrefix, productID, unitID)
	var (
		cursor uint64
		total  float64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return 0, err
		}
		for _, key := range keys {
			if excludeSession != "" && key == holdKey(excludeSession, productID, unitID) {
				continue
			}
			raw, err := s.client.Get(ctx, key).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return 0, err
			}
			qty, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			total += qty
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return total, nil
}

// Release drops every hold owned by the session.
func (s *Store) Release(ctx context.Context, session string) error {
	pattern := fmt.Sprintf("%s:%s:*", keyPrefix, session)
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Purge removes holds that somehow lost their expiry so the keyspace cannot
// grow without bound.
func (s *Store) Purge(ctx context.Context) (int, error) {
	pattern := keyPrefix + ":*"
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return removed, err
		}
		for _, key := range keys {
			ttl, err := s.client.TTL(ctx, key).Result()
			if err != nil {
				return removed, err
			}
			if ttl < 0 {
				if err := s.client.Del(ctx, key).Err(); err != nil {
					return removed, err
				}
				removed++
			}
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}
