package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codepair/matching-service/internal/domain"
	"github.com/codepair/matching-service/internal/repository"
)

type matchQueue struct {
	client *redis.Client
}

// NewMatchQueue creates the per-difficulty waiting lines, one sorted set per
// tier scored by enqueue instant in milliseconds.
func NewMatchQueue(client *redis.Client) repository.MatchQueue {
	return &matchQueue{client: client}
}

func (q *matchQueue) Enqueue(ctx context.Context, reqID string, difficulty domain.Difficulty, score time.Time) error {
	err := q.client.ZAdd(ctx, queueKey(difficulty), redis.Z{
		Score:  float64(score.UnixMilli()),
		Member: reqID,
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: enqueue %s on %s: %v", domain.ErrStoreUnavailable, reqID, difficulty, err)
	}
	return nil
}

// PopOldest removes and returns up to count lowest-score entries in one
// atomic ZPOPMIN, so concurrent matchers never pop the same request.
func (q *matchQueue) PopOldest(ctx context.Context, difficulty domain.Difficulty, count int64) ([]repository.QueueEntry, error) {
	zs, err := q.client.ZPopMin(ctx, queueKey(difficulty), count).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: pop from %s: %v", domain.ErrStoreUnavailable, difficulty, err)
	}
	entries := make([]repository.QueueEntry, 0, len(zs))
	for _, z := range zs {
		entries = append(entries, repository.QueueEntry{
			ReqID: z.Member.(string),
			Score: time.UnixMilli(int64(z.Score)),
		})
	}
	return entries, nil
}

func (q *matchQueue) Remove(ctx context.Context, reqID string, difficulty domain.Difficulty) error {
	if err := q.client.ZRem(ctx, queueKey(difficulty), reqID).Err(); err != nil {
		return fmt.Errorf("%w: remove %s from %s: %v", domain.ErrStoreUnavailable, reqID, difficulty, err)
	}
	return nil
}

func (q *matchQueue) Depth(ctx context.Context, difficulty domain.Difficulty) (int64, error) {
	n, err := q.client.ZCard(ctx, queueKey(difficulty)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: depth of %s: %v", domain.ErrStoreUnavailable, difficulty, err)
	}
	return n, nil
}
