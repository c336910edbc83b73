package repository

import (
	"context"
	"time"

	"github.com/codepair/matching-service/internal/domain"
)

// RequestStore is the durable record of every match request. Transition is
// the single primitive all lifecycle changes build on: an atomic
// compare-and-swap on the request's status, linearizable per request key.
type RequestStore interface {
	Create(ctx context.Context, req *domain.MatchRequest) error
	Get(ctx context.Context, reqID string) (*domain.MatchRequest, error)
	// Transition changes status from `from` to `to` only if the current
	// status still equals `from`. sessionID is written alongside
	// unconditionally, so transitioning away from matched clears it.
	// A false return means the request changed state through another path;
	// callers must re-read and react, never assume success.
	Transition(ctx context.Context, reqID string, from, to domain.Status, sessionID string) (bool, error)
}

// QueueEntry is a queued request id with its ordering score.
type QueueEntry struct {
	ReqID string
	Score time.Time
}

// MatchQueue is one FIFO-ordered waiting line per difficulty tier.
type MatchQueue interface {
	Enqueue(ctx context.Context, reqID string, difficulty domain.Difficulty, score time.Time) error
	// PopOldest atomically removes and returns up to count lowest-score
	// entries. Callers must restore any entry they cannot use.
	PopOldest(ctx context.Context, difficulty domain.Difficulty, count int64) ([]QueueEntry, error)
	Remove(ctx context.Context, reqID string, difficulty domain.Difficulty) error
	Depth(ctx context.Context, difficulty domain.Difficulty) (int64, error)
}

// DeadlineEntry identifies one armed timeout.
type DeadlineEntry struct {
	ReqID      string
	Difficulty domain.Difficulty
}

// DeadlineIndex is the single ordered structure tracking every outstanding
// request's deadline, independent of difficulty.
type DeadlineIndex interface {
	Arm(ctx context.Context, reqID string, difficulty domain.Difficulty, deadline time.Time) error
	Disarm(ctx context.Context, reqID string, difficulty domain.Difficulty) error
	// PopExpired atomically claims every entry whose deadline has passed.
	// Each expired entry is returned by exactly one concurrent caller.
	PopExpired(ctx context.Context, now time.Time) ([]DeadlineEntry, error)
}

// MarkerStore holds the short-lived dedup and stream-exclusivity markers.
type MarkerStore interface {
	// ClaimActiveUser marks userID as having an active request. When the
	// marker already exists the existing request id is returned with
	// claimed=false; the marker is advisory, callers verify against the
	// RequestStore before rejecting.
	ClaimActiveUser(ctx context.Context, userID, reqID string, ttl time.Duration) (existing string, claimed bool, err error)
	// SetActiveUser overwrites the marker unconditionally, for taking over
	// a stale marker whose request is no longer queued.
	SetActiveUser(ctx context.Context, userID, reqID string, ttl time.Duration) error
	ReleaseActiveUser(ctx context.Context, userID string) error

	ClaimStream(ctx context.Context, reqID, token string, ttl time.Duration) (bool, error)
	RefreshStream(ctx context.Context, reqID, token string, ttl time.Duration) error
	ReleaseStream(ctx context.Context, reqID string) error
}

// EventSubscription delivers status events for a single request until closed.
type EventSubscription interface {
	Events() <-chan domain.StatusEvent
	Close() error
}

// TriggerSubscription delivers matcher wake-ups, one difficulty per message.
type TriggerSubscription interface {
	Triggers() <-chan domain.Difficulty
	Close() error
}

// EventBus fans out status changes and matcher triggers across all service
// instances.
type EventBus interface {
	PublishEvent(ctx context.Context, reqID string, ev domain.StatusEvent) error
	SubscribeEvents(ctx context.Context, reqID string) (EventSubscription, error)
	PublishTrigger(ctx context.Context, difficulty domain.Difficulty) error
	SubscribeTriggers(ctx context.Context) (TriggerSubscription, error)
}

// HistoryRepository archives committed pairings, best-effort.
type HistoryRepository interface {
	Record(ctx context.Context, rec *domain.MatchRecord) error
}
