package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codepair/matching-service/internal/domain"
	"github.com/codepair/matching-service/internal/repository"
)

// casRetries bounds the optimistic WATCH/MULTI loop. Contention beyond this
// is surfaced to the caller instead of looping.
const casRetries = 3

const (
	fieldUserID     = "user_id"
	fieldDifficulty = "difficulty"
	fieldTopics     = "topics"
	fieldLanguages  = "languages"
	fieldStatus     = "status"
	fieldCreatedAt  = "created_at"
	fieldSessionID  = "session_id"
	fieldAuthToken  = "auth_token"
)

type requestStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRequestStore creates the Redis-backed request store. retention is how
// long records outlive their creation before Redis expires them.
func NewRequestStore(client *redis.Client, retention time.Duration) repository.RequestStore {
	return &requestStore{client: client, retention: retention}
}

func (s *requestStore) Create(ctx context.Context, req *domain.MatchRequest) error {
	topics, err := json.Marshal(req.Topics)
	if err != nil {
		return fmt.Errorf("encode topics: %w", err)
	}
	languages, err := json.Marshal(req.Languages)
	if err != nil {
		return fmt.Errorf("encode languages: %w", err)
	}

	key := requestKey(req.ID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			fieldUserID:     req.UserID,
			fieldDifficulty: string(req.Difficulty),
			fieldTopics:     string(topics),
			fieldLanguages:  string(languages),
			fieldStatus:     string(req.Status),
			fieldCreatedAt:  req.CreatedAt.Format(time.RFC3339Nano),
			fieldSessionID:  req.SessionID,
			fieldAuthToken:  req.AuthToken,
		})
		pipe.Expire(ctx, key, s.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: create request %s: %v", domain.ErrStoreUnavailable, req.ID, err)
	}
	return nil
}

func (s *requestStore) Get(ctx context.Context, reqID string) (*domain.MatchRequest, error) {
	fields, err := s.client.HGetAll(ctx, requestKey(reqID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: read request %s: %v", domain.ErrStoreUnavailable, reqID, err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrRequestNotFound
	}
	return decodeRequest(reqID, fields)
}

// Transition is the compare-and-swap primitive every status change goes
// through: WATCH the request key, read the current status, and commit the
// update in a MULTI only if nothing touched the key in between.
func (s *requestStore) Transition(ctx context.Context, reqID string, from, to domain.Status, sessionID string) (bool, error) {
	key := requestKey(reqID)
	var swapped bool

	txn := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, fieldStatus).Result()
		if errors.Is(err, redis.Nil) {
			return domain.ErrRequestNotFound
		}
		if err != nil {
			return err
		}
		if current != string(from) {
			swapped = false
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			// session_id is written unconditionally so a matched->queued
			// rollback clears it; it is set iff status is matched
			pipe.HSet(ctx, key, fieldStatus, string(to), fieldSessionID, sessionID)
			return nil
		})
		if err == nil {
			swapped = true
		}
		return err
	}

	for i := 0; i < casRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		switch {
		case err == nil:
			return swapped, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, domain.ErrRequestNotFound):
			return false, err
		default:
			return false, fmt.Errorf("%w: transition %s %s->%s: %v", domain.ErrStoreUnavailable, reqID, from, to, err)
		}
	}
	return false, fmt.Errorf("transition %s %s->%s: contention retries exhausted", reqID, from, to)
}

func decodeRequest(reqID string, fields map[string]string) (*domain.MatchRequest, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, fields[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("request %s: bad created_at %q: %w", reqID, fields[fieldCreatedAt], err)
	}
	var topics, languages []string
	if err := json.Unmarshal([]byte(fields[fieldTopics]), &topics); err != nil {
		return nil, fmt.Errorf("request %s: bad topics: %w", reqID, err)
	}
	if err := json.Unmarshal([]byte(fields[fieldLanguages]), &languages); err != nil {
		return nil, fmt.Errorf("request %s: bad languages: %w", reqID, err)
	}
	return &domain.MatchRequest{
		ID:         reqID,
		UserID:     fields[fieldUserID],
		Difficulty: domain.Difficulty(fields[fieldDifficulty]),
		Topics:     topics,
		Languages:  languages,
		Status:     domain.Status(fields[fieldStatus]),
		CreatedAt:  createdAt,
		SessionID:  fields[fieldSessionID],
		AuthToken:  fields[fieldAuthToken],
	}, nil
}
