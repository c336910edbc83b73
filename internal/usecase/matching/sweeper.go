package matching

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/codepair/matching-service/internal/domain"
)

// RunSweeper evicts requests past their deadline on a fixed period and
// samples queue depth for metrics. The sweeper may run in every instance
// simultaneously; the deadline index hands each expired entry to exactly one
// of them. Blocks until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context) {
	ticker := s.clock.Ticker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Error("sweep failed", zap.Error(err))
			}
			s.sampleQueueDepth(ctx)
		}
	}
}

// Sweep claims every expired deadline entry and times out the requests that
// are still queued. Entries whose request already resolved through another
// path are dropped without further action.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	// entries claimed before a scan error are still this sweeper's to finish:
	// their deadline entries are already gone, so no later sweep will see them
	entries, scanErr := s.deadlines.PopExpired(ctx, s.clock.Now())

	evicted := 0
	for _, entry := range entries {
		req, err := s.store.Get(ctx, entry.ReqID)
		if errors.Is(err, domain.ErrRequestNotFound) {
			continue
		}
		if err != nil {
			s.log.Warn("failed to read expired request",
				zap.String("req_id", entry.ReqID), zap.Error(err))
			continue
		}
		if req.Status != domain.StatusQueued {
			continue
		}

		ok, err := s.store.Transition(ctx, entry.ReqID, domain.StatusQueued, domain.StatusTimeout, "")
		if err != nil {
			s.log.Warn("timeout transition failed",
				zap.String("req_id", entry.ReqID), zap.Error(err))
			continue
		}
		if !ok {
			// another path resolved it between read and transition
			continue
		}

		if err := s.queue.Remove(ctx, entry.ReqID, entry.Difficulty); err != nil {
			s.log.Warn("failed to remove timed-out request from queue",
				zap.String("req_id", entry.ReqID), zap.Error(err))
		}
		if err := s.markers.ReleaseActiveUser(ctx, req.UserID); err != nil {
			s.log.Warn("failed to release active-user marker",
				zap.String("user_id", req.UserID), zap.Error(err))
		}
		s.publishEvent(ctx, domain.StatusEvent{ReqID: entry.ReqID, Status: domain.StatusTimeout})
		s.metrics.Timeouts.Inc()
		evicted++

		s.log.Info("match request timed out",
			zap.String("req_id", entry.ReqID),
			zap.String("difficulty", string(entry.Difficulty)))
	}
	return evicted, scanErr
}

func (s *Service) sampleQueueDepth(ctx context.Context) {
	for _, difficulty := range domain.Difficulties {
		depth, err := s.queue.Depth(ctx, difficulty)
		if err != nil {
			continue
		}
		s.metrics.SetQueueDepth(difficulty, depth)
	}
}
