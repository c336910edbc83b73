package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/codepair/matching-service/internal/domain"
	"github.com/codepair/matching-service/internal/infrastructure/collab"
)

// RunMatchLoop subscribes to the matcher trigger channel and drains the
// signalled tier on every wake-up. Triggers are at-least-once and may arrive
// redundantly across instances; TryMatch is safe under arbitrary
// interleavings. Blocks until ctx is cancelled.
func (s *Service) RunMatchLoop(ctx context.Context) error {
	sub, err := s.bus.SubscribeTriggers(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case difficulty, ok := <-sub.Triggers():
			if !ok {
				return nil
			}
			s.drainTier(ctx, difficulty)
		}
	}
}

// drainTier keeps pairing until the tier has no matchable pair left, so one
// trigger is enough even when several requests queued up since the last one.
func (s *Service) drainTier(ctx context.Context, difficulty domain.Difficulty) {
	for {
		matched, err := s.TryMatch(ctx, difficulty)
		if err != nil {
			s.log.Error("match attempt failed",
				zap.String("difficulty", string(difficulty)), zap.Error(err))
			return
		}
		if !matched {
			return
		}
	}
}

// TryMatch runs one pairing attempt for a tier: pop the two oldest queued
// requests, verify both are still live and compatible, create the session,
// and commit both sides via compare-and-swap. Every early exit restores
// whatever it popped; a request is never silently dropped.
func (s *Service) TryMatch(ctx context.Context, difficulty domain.Difficulty) (bool, error) {
	entries, err := s.queue.PopOldest(ctx, difficulty, 2)
	if err != nil {
		return false, err
	}
	if len(entries) < 2 {
		// no pair yet; put back the one we took, keeping its old position
		if len(entries) == 1 {
			if err := s.queue.Enqueue(ctx, entries[0].ReqID, difficulty, entries[0].Score); err != nil {
				s.log.Error("failed to restore lone queue entry",
					zap.String("req_id", entries[0].ReqID), zap.Error(err))
			}
		}
		return false, nil
	}

	r1, ok1 := s.liveRequest(ctx, entries[0].ReqID)
	r2, ok2 := s.liveRequest(ctx, entries[1].ReqID)
	if !ok1 || !ok2 {
		// the counterpart was cancelled, timed out or matched elsewhere;
		// requeue whichever is still queued with a fresh score
		var alive []*domain.MatchRequest
		if ok1 {
			alive = append(alive, r1)
		}
		if ok2 {
			alive = append(alive, r2)
		}
		s.requeue(ctx, difficulty, false, alive...)
		return false, nil
	}

	if r1.UserID == r2.UserID {
		// self-match guard
		s.requeue(ctx, difficulty, false, r1, r2)
		return false, nil
	}

	if !domain.Intersects(r1.Topics, r2.Topics) || !domain.Intersects(r1.Languages, r2.Languages) {
		s.requeue(ctx, difficulty, false, r1, r2)
		return false, nil
	}

	authToken := r1.AuthToken
	if authToken == "" {
		authToken = r2.AuthToken
	}
	info, err := s.sessions.CreateSession(ctx, collab.SessionRequest{
		Difficulty: difficulty,
		UserIDs:    []string{r1.UserID, r2.UserID},
		Topics:     domain.Union(r1.Topics, r2.Topics),
		Languages:  domain.Union(r1.Languages, r2.Languages),
		AuthToken:  authToken,
	})
	if err != nil {
		// do not leave the pair stranded off-queue
		s.metrics.UpstreamFails.Inc()
		s.requeue(ctx, difficulty, true, r1, r2)
		return false, fmt.Errorf("session creation for %s and %s: %w", r1.ID, r2.ID, err)
	}

	committed1 := s.commit(ctx, r1, info.SessionID)
	committed2 := s.commit(ctx, r2, info.SessionID)

	switch {
	case committed1 && committed2:
		s.finalizeMatch(ctx, r1, r2, difficulty, info)
		return true, nil
	case committed1 != committed2:
		winner := r1
		if committed2 {
			winner = r2
		}
		s.rollbackHalfMatch(ctx, winner, difficulty, info.SessionID)
		return false, nil
	default:
		// both sides changed state via some other path already
		s.deleteSession(info.SessionID)
		return false, nil
	}
}

// liveRequest reads a popped request and reports whether it is still queued.
func (s *Service) liveRequest(ctx context.Context, reqID string) (*domain.MatchRequest, bool) {
	req, err := s.store.Get(ctx, reqID)
	if err != nil {
		if !errors.Is(err, domain.ErrRequestNotFound) {
			s.log.Warn("failed to read popped request", zap.String("req_id", reqID), zap.Error(err))
		}
		return nil, false
	}
	return req, req.Status == domain.StatusQueued
}

func (s *Service) commit(ctx context.Context, req *domain.MatchRequest, sessionID string) bool {
	ok, err := s.store.Transition(ctx, req.ID, domain.StatusQueued, domain.StatusMatched, sessionID)
	if err != nil {
		s.log.Warn("match commit transition failed",
			zap.String("req_id", req.ID), zap.Error(err))
		return false
	}
	return ok
}

// requeue restores requests with fresh scores. The second request is offset
// by one millisecond to keep relative order deterministic; refreshing to
// "now" keeps an incompatible pair from retrying each other in a tight loop
// at the cost of strict global FIFO fairness. rearm re-adds the deadline
// entry at the request's original deadline.
func (s *Service) requeue(ctx context.Context, difficulty domain.Difficulty, rearm bool, reqs ...*domain.MatchRequest) {
	now := s.clock.Now()
	for i, req := range reqs {
		score := now.Add(time.Duration(i) * time.Millisecond)
		if err := s.queue.Enqueue(ctx, req.ID, difficulty, score); err != nil {
			s.log.Error("failed to requeue request", zap.String("req_id", req.ID), zap.Error(err))
			continue
		}
		if rearm {
			deadline := req.CreatedAt.Add(s.cfg.RequestTTL)
			if err := s.deadlines.Arm(ctx, req.ID, difficulty, deadline); err != nil {
				s.log.Error("failed to re-arm deadline", zap.String("req_id", req.ID), zap.Error(err))
			}
		}
	}
}

// finalizeMatch runs after both sides committed: clear deadline entries and
// user markers, publish matched events, record metrics and archive the pair.
func (s *Service) finalizeMatch(ctx context.Context, r1, r2 *domain.MatchRequest, difficulty domain.Difficulty, info *domain.SessionInfo) {
	now := s.clock.Now()
	for _, req := range []*domain.MatchRequest{r1, r2} {
		if err := s.deadlines.Disarm(ctx, req.ID, difficulty); err != nil {
			s.log.Warn("failed to disarm deadline", zap.String("req_id", req.ID), zap.Error(err))
		}
		if err := s.markers.ReleaseActiveUser(ctx, req.UserID); err != nil {
			s.log.Warn("failed to release active-user marker", zap.String("user_id", req.UserID), zap.Error(err))
		}
		s.publishEvent(ctx, domain.StatusEvent{
			ReqID:             req.ID,
			Status:            domain.StatusMatched,
			SessionID:         info.SessionID,
			QuestionID:        info.QuestionID,
			QuestionMatchType: info.QuestionMatchType,
			Language:          info.Language,
		})
		s.metrics.MatchLatency.Observe(now.Sub(req.CreatedAt).Seconds())
	}
	s.metrics.Matches.Inc()

	s.log.Info("match committed",
		zap.String("req1_id", r1.ID),
		zap.String("req2_id", r2.ID),
		zap.String("session_id", info.SessionID),
		zap.String("difficulty", string(difficulty)))

	if s.history != nil {
		rec := &domain.MatchRecord{
			Req1ID:     r1.ID,
			Req2ID:     r2.ID,
			User1ID:    r1.UserID,
			User2ID:    r2.UserID,
			Difficulty: difficulty,
			SessionID:  info.SessionID,
			MatchedAt:  now,
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.history.Record(ctx, rec); err != nil {
				s.log.Warn("failed to archive match", zap.String("session_id", rec.SessionID), zap.Error(err))
			}
		}()
	}
}

// rollbackHalfMatch reverts the side whose commit won a lost race: the other
// side was cancelled or timed out between session creation and commit. If
// the rollback CAS fails, another transition owns the request now and it is
// left alone rather than retried.
func (s *Service) rollbackHalfMatch(ctx context.Context, winner *domain.MatchRequest, difficulty domain.Difficulty, sessionID string) {
	rolled, err := s.store.Transition(ctx, winner.ID, domain.StatusMatched, domain.StatusQueued, "")
	if err != nil {
		s.log.Error("rollback transition failed, abandoning",
			zap.String("req_id", winner.ID), zap.Error(err))
	} else if rolled {
		s.requeue(ctx, difficulty, true, winner)
		s.log.Info("rolled back half-committed match",
			zap.String("req_id", winner.ID), zap.String("session_id", sessionID))
	}
	s.deleteSession(sessionID)
}

// deleteSession tears down an orphaned external session. Failure is logged,
// not fatal.
func (s *Service) deleteSession(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sessions.DeleteSession(ctx, sessionID); err != nil {
		s.log.Warn("failed to delete orphaned session",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}
