// Package matching implements the matchmaking engine: request lifecycle,
// the pairing algorithm, timeout sweeping, and live status streams. Multiple
// service instances run concurrently against one shared store; every
// cross-request guarantee comes from the store's compare-and-swap and atomic
// pop/remove primitives, never from process-local locks.
package matching

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codepair/matching-service/internal/config"
	"github.com/codepair/matching-service/internal/domain"
	"github.com/codepair/matching-service/internal/infrastructure/collab"
	"github.com/codepair/matching-service/internal/infrastructure/metrics"
	"github.com/codepair/matching-service/internal/repository"
)

// SessionClient creates and tears down collaborative sessions for committed
// pairings. Implemented by the collab service client.
type SessionClient interface {
	CreateSession(ctx context.Context, req collab.SessionRequest) (*domain.SessionInfo, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

type Service struct {
	store     repository.RequestStore
	queue     repository.MatchQueue
	deadlines repository.DeadlineIndex
	markers   repository.MarkerStore
	bus       repository.EventBus
	sessions  SessionClient
	history   repository.HistoryRepository
	clock     clock.Clock
	log       *zap.Logger
	metrics   *metrics.Metrics
	cfg       config.MatchConfig
}

func NewService(
	store repository.RequestStore,
	queue repository.MatchQueue,
	deadlines repository.DeadlineIndex,
	markers repository.MarkerStore,
	bus repository.EventBus,
	sessions SessionClient,
	history repository.HistoryRepository,
	clk clock.Clock,
	log *zap.Logger,
	m *metrics.Metrics,
	cfg config.MatchConfig,
) *Service {
	if m == nil {
		m = metrics.New()
	}
	return &Service{
		store:     store,
		queue:     queue,
		deadlines: deadlines,
		markers:   markers,
		bus:       bus,
		sessions:  sessions,
		history:   history,
		clock:     clk,
		log:       log,
		metrics:   m,
		cfg:       cfg,
	}
}

// CreateInput carries the caller-supplied fields of a new match request.
type CreateInput struct {
	Difficulty string
	Topics     []string
	Languages  []string
}

// Create registers a new match request: it claims the user's active-request
// marker, persists the record, places it on its difficulty queue and the
// deadline index, and wakes the matchers for that tier.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput, authToken string) (*domain.MatchRequest, error) {
	difficulty := domain.Difficulty(strings.TrimSpace(in.Difficulty))
	if !difficulty.Valid() {
		return nil, fmt.Errorf("%w: unknown difficulty %q", domain.ErrInvalidRequest, in.Difficulty)
	}
	topics := normalizeSet(in.Topics)
	if len(topics) == 0 {
		return nil, fmt.Errorf("%w: at least one topic is required", domain.ErrInvalidRequest)
	}
	languages := normalizeSet(in.Languages)
	if len(languages) == 0 {
		return nil, fmt.Errorf("%w: at least one language is required", domain.ErrInvalidRequest)
	}

	reqID := uuid.NewString()

	existing, claimed, err := s.markers.ClaimActiveUser(ctx, userID, reqID, s.cfg.RequestTTL)
	if err != nil {
		return nil, err
	}
	if !claimed {
		if existing != "" {
			prev, err := s.store.Get(ctx, existing)
			switch {
			case err == nil && prev.Status == domain.StatusQueued:
				return nil, &domain.DuplicateRequestError{ReqID: existing}
			case err != nil && !errors.Is(err, domain.ErrRequestNotFound):
				return nil, err
			}
			// the marker points at a resolved or expired request; it is not
			// authoritative for status, so take it over
		}
		if err := s.markers.SetActiveUser(ctx, userID, reqID, s.cfg.RequestTTL); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	req := &domain.MatchRequest{
		ID:         reqID,
		UserID:     userID,
		Difficulty: difficulty,
		Topics:     topics,
		Languages:  languages,
		Status:     domain.StatusQueued,
		CreatedAt:  now,
		AuthToken:  authToken,
	}

	if err := s.store.Create(ctx, req); err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, reqID, difficulty, now); err != nil {
		s.abandonCreate(ctx, req)
		return nil, err
	}
	if err := s.deadlines.Arm(ctx, reqID, difficulty, now.Add(s.cfg.RequestTTL)); err != nil {
		s.abandonCreate(ctx, req)
		return nil, err
	}

	// the request is durably queued at this point; a lost trigger only
	// delays pairing until the next one
	if err := s.bus.PublishTrigger(ctx, difficulty); err != nil {
		s.log.Warn("failed to publish matcher trigger",
			zap.String("req_id", reqID), zap.Error(err))
	}

	s.log.Info("match request created",
		zap.String("req_id", reqID),
		zap.String("user_id", userID),
		zap.String("difficulty", string(difficulty)))
	return req, nil
}

// Get returns the current snapshot of a request. Only the owner may read it.
func (s *Service) Get(ctx context.Context, reqID, userID string) (*domain.MatchRequest, error) {
	req, err := s.store.Get(ctx, reqID)
	if err != nil {
		return nil, err
	}
	if req.UserID != userID {
		return nil, domain.ErrForbidden
	}
	return req, nil
}

// cancelAttempts bounds the re-read loop when cancellation races with
// matching or timeout.
const cancelAttempts = 3

// Cancel moves a queued request to cancelled. Cancelling an already
// cancelled or timed-out request is an idempotent success; a matched request
// is not torn down and the conflict carries its session id.
func (s *Service) Cancel(ctx context.Context, reqID, userID string) error {
	for attempt := 0; attempt < cancelAttempts; attempt++ {
		req, err := s.store.Get(ctx, reqID)
		if err != nil {
			return err
		}
		if req.UserID != userID {
			return domain.ErrForbidden
		}
		switch req.Status {
		case domain.StatusMatched:
			return &domain.AlreadyMatchedError{SessionID: req.SessionID}
		case domain.StatusCancelled, domain.StatusTimeout:
			return nil
		}

		ok, err := s.store.Transition(ctx, reqID, domain.StatusQueued, domain.StatusCancelled, "")
		if err != nil {
			return err
		}
		if !ok {
			// the status changed concurrently, typically to matched or
			// timeout; re-read and take the matching branch
			continue
		}

		s.cleanupResolved(ctx, req)
		s.publishEvent(ctx, domain.StatusEvent{ReqID: reqID, Status: domain.StatusCancelled})
		s.metrics.Cancellations.Inc()
		s.log.Info("match request cancelled",
			zap.String("req_id", reqID), zap.String("user_id", userID))
		return nil
	}
	return fmt.Errorf("cancel %s: status kept changing concurrently", reqID)
}

// abandonCreate unwinds a creation that failed after the record was stored:
// the half-registered request is moved to cancelled and its queue entry,
// deadline entry and dedup marker are released so the user can retry at once
// instead of waiting out the marker TTL.
func (s *Service) abandonCreate(ctx context.Context, req *domain.MatchRequest) {
	ok, err := s.store.Transition(ctx, req.ID, domain.StatusQueued, domain.StatusCancelled, "")
	if err != nil || !ok {
		s.log.Warn("failed to abandon half-created request",
			zap.String("req_id", req.ID), zap.Error(err))
	}
	s.cleanupResolved(ctx, req)
}

// cleanupResolved removes the queue entry, deadline entry and user marker of
// a request that just left queued. Failures are logged; the matcher and
// sweeper reconcile leftovers against the authoritative status.
func (s *Service) cleanupResolved(ctx context.Context, req *domain.MatchRequest) {
	if err := s.queue.Remove(ctx, req.ID, req.Difficulty); err != nil {
		s.log.Warn("failed to remove request from queue", zap.String("req_id", req.ID), zap.Error(err))
	}
	if err := s.deadlines.Disarm(ctx, req.ID, req.Difficulty); err != nil {
		s.log.Warn("failed to disarm deadline", zap.String("req_id", req.ID), zap.Error(err))
	}
	if err := s.markers.ReleaseActiveUser(ctx, req.UserID); err != nil {
		s.log.Warn("failed to release active-user marker", zap.String("user_id", req.UserID), zap.Error(err))
	}
}

func (s *Service) publishEvent(ctx context.Context, ev domain.StatusEvent) {
	if err := s.bus.PublishEvent(ctx, ev.ReqID, ev); err != nil {
		s.log.Warn("failed to publish status event",
			zap.String("req_id", ev.ReqID), zap.String("status", string(ev.Status)), zap.Error(err))
	}
}

// normalizeSet trims surrounding whitespace, drops empties and duplicates,
// and preserves first-seen order. Comparison later is exact set membership.
func normalizeSet(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
