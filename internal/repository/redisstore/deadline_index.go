package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codepair/matching-service/internal/domain"
	"github.com/codepair/matching-service/internal/repository"
)

// sweepBatch caps how many expired entries one PopExpired call claims.
const sweepBatch = 128

type deadlineIndex struct {
	client *redis.Client
}

// NewDeadlineIndex creates the global deadline index: a single sorted set of
// (reqID, difficulty) members scored by deadline in milliseconds.
func NewDeadlineIndex(client *redis.Client) repository.DeadlineIndex {
	return &deadlineIndex{client: client}
}

func (d *deadlineIndex) Arm(ctx context.Context, reqID string, difficulty domain.Difficulty, deadline time.Time) error {
	err := d.client.ZAdd(ctx, deadlinesKey(), redis.Z{
		Score:  float64(deadline.UnixMilli()),
		Member: deadlineMember(reqID, difficulty),
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: arm deadline for %s: %v", domain.ErrStoreUnavailable, reqID, err)
	}
	return nil
}

func (d *deadlineIndex) Disarm(ctx context.Context, reqID string, difficulty domain.Difficulty) error {
	if err := d.client.ZRem(ctx, deadlinesKey(), deadlineMember(reqID, difficulty)).Err(); err != nil {
		return fmt.Errorf("%w: disarm deadline for %s: %v", domain.ErrStoreUnavailable, reqID, err)
	}
	return nil
}

// PopExpired claims expired entries one by one: ZRANGEBYSCORE lists the
// candidates, and a ZREM returning 1 is the claim. Sweepers racing across
// instances each get a disjoint subset.
func (d *deadlineIndex) PopExpired(ctx context.Context, now time.Time) ([]repository.DeadlineEntry, error) {
	members, err := d.client.ZRangeByScore(ctx, deadlinesKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: sweepBatch,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list expired deadlines: %v", domain.ErrStoreUnavailable, err)
	}

	var claimed []repository.DeadlineEntry
	for _, member := range members {
		removed, err := d.client.ZRem(ctx, deadlinesKey(), member).Result()
		if err != nil {
			return claimed, fmt.Errorf("%w: claim deadline %s: %v", domain.ErrStoreUnavailable, member, err)
		}
		if removed == 0 {
			// another sweeper got there first
			continue
		}
		reqID, difficulty, err := parseDeadlineMember(member)
		if err != nil {
			continue
		}
		claimed = append(claimed, repository.DeadlineEntry{ReqID: reqID, Difficulty: difficulty})
	}
	return claimed, nil
}
