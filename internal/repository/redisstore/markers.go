package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codepair/matching-service/internal/domain"
	"github.com/codepair/matching-service/internal/repository"
)

type markerStore struct {
	client *redis.Client
}

// NewMarkerStore creates the short-lived marker store: one per-user
// active-request marker for creation-time dedup and one per-request stream
// marker enforcing a single live subscriber.
func NewMarkerStore(client *redis.Client) repository.MarkerStore {
	return &markerStore{client: client}
}

func (m *markerStore) ClaimActiveUser(ctx context.Context, userID, reqID string, ttl time.Duration) (string, bool, error) {
	key := activeUserKey(userID)
	set, err := m.client.SetNX(ctx, key, reqID, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("%w: claim active marker for %s: %v", domain.ErrStoreUnavailable, userID, err)
	}
	if set {
		return "", true, nil
	}
	existing, err := m.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// marker expired between SETNX and GET; let the caller retry the
		// claim rather than guessing
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: read active marker for %s: %v", domain.ErrStoreUnavailable, userID, err)
	}
	return existing, false, nil
}

func (m *markerStore) SetActiveUser(ctx context.Context, userID, reqID string, ttl time.Duration) error {
	if err := m.client.Set(ctx, activeUserKey(userID), reqID, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set active marker for %s: %v", domain.ErrStoreUnavailable, userID, err)
	}
	return nil
}

func (m *markerStore) ReleaseActiveUser(ctx context.Context, userID string) error {
	if err := m.client.Del(ctx, activeUserKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: release active marker for %s: %v", domain.ErrStoreUnavailable, userID, err)
	}
	return nil
}

func (m *markerStore) ClaimStream(ctx context.Context, reqID, token string, ttl time.Duration) (bool, error) {
	set, err := m.client.SetNX(ctx, streamKey(reqID), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: claim stream marker for %s: %v", domain.ErrStoreUnavailable, reqID, err)
	}
	return set, nil
}

// RefreshStream extends the marker TTL only while this subscriber still owns
// it; a marker that expired and was re-claimed elsewhere is left alone.
func (m *markerStore) RefreshStream(ctx context.Context, reqID, token string, ttl time.Duration) error {
	key := streamKey(reqID)
	current, err := m.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) || (err == nil && current != token) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: refresh stream marker for %s: %v", domain.ErrStoreUnavailable, reqID, err)
	}
	if err := m.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("%w: refresh stream marker for %s: %v", domain.ErrStoreUnavailable, reqID, err)
	}
	return nil
}

func (m *markerStore) ReleaseStream(ctx context.Context, reqID string) error {
	if err := m.client.Del(ctx, streamKey(reqID)).Err(); err != nil {
		return fmt.Errorf("%w: release stream marker for %s: %v", domain.ErrStoreUnavailable, reqID, err)
	}
	return nil
}
