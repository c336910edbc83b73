package matching

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codepair/matching-service/internal/domain"
	"github.com/codepair/matching-service/internal/repository"
)

// Stream is one live status subscription for a request: an initial snapshot,
// then heartbeats while queued and a single terminal event, after which the
// events channel closes.
type Stream struct {
	events chan domain.StatusEvent
}

// Events yields status events until the stream closes.
func (st *Stream) Events() <-chan domain.StatusEvent { return st.events }

func (st *Stream) send(ctx context.Context, ev domain.StatusEvent) bool {
	select {
	case st.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// OpenStream opens the single live status stream allowed per request.
// ctx is the transport's lifetime: when it ends while the request is still
// queued, the request is implicitly cancelled; an abandoned client should
// not hold a queue slot forever. Marker release and subscription teardown
// run exactly once regardless of which exit path fires.
func (s *Service) OpenStream(ctx context.Context, reqID, userID string) (*Stream, error) {
	req, err := s.store.Get(ctx, reqID)
	if err != nil {
		return nil, err
	}
	if req.UserID != userID {
		return nil, domain.ErrForbidden
	}

	token := uuid.NewString()
	claimed, err := s.markers.ClaimStream(ctx, reqID, token, s.cfg.StreamMarkerTTL)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, domain.ErrDuplicateStream
	}

	// subscribe before the snapshot read so a terminal transition landing in
	// between is either seen in the snapshot or delivered on the channel
	sub, err := s.bus.SubscribeEvents(ctx, reqID)
	if err != nil {
		s.releaseStream(reqID, nil)
		return nil, err
	}

	req, err = s.store.Get(ctx, reqID)
	if err != nil {
		s.releaseStream(reqID, sub)
		return nil, err
	}

	st := &Stream{events: make(chan domain.StatusEvent, 8)}
	s.metrics.LiveStreams.Inc()
	go s.runStream(ctx, req, token, sub, st)
	return st, nil
}

func (s *Service) runStream(ctx context.Context, req *domain.MatchRequest, token string, sub repository.EventSubscription, st *Stream) {
	ticker := s.clock.Ticker(s.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		s.releaseStream(req.ID, sub)
		s.metrics.LiveStreams.Dec()
		close(st.events)
	}()

	if !st.send(ctx, s.snapshotEvent(req)) {
		s.cancelAbandoned(req)
		return
	}
	if req.Status.Terminal() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			s.cancelAbandoned(req)
			return
		case <-ticker.C:
			// heartbeats are computed locally from the creation instant; no
			// store read
			hb := domain.StatusEvent{
				ReqID:   req.ID,
				Status:  domain.StatusQueued,
				Elapsed: s.clock.Now().Sub(req.CreatedAt).Seconds(),
			}
			if !st.send(ctx, hb) {
				s.cancelAbandoned(req)
				return
			}
			if err := s.markers.RefreshStream(ctx, req.ID, token, s.cfg.StreamMarkerTTL); err != nil {
				s.log.Warn("failed to refresh stream marker",
					zap.String("req_id", req.ID), zap.Error(err))
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.ReqID != "" && ev.ReqID != req.ID {
				continue
			}
			if !st.send(ctx, ev) {
				s.cancelAbandoned(req)
				return
			}
			if ev.Status.Terminal() {
				return
			}
		}
	}
}

func (s *Service) snapshotEvent(req *domain.MatchRequest) domain.StatusEvent {
	ev := domain.StatusEvent{
		ReqID:  req.ID,
		Status: req.Status,
	}
	if req.Status == domain.StatusMatched {
		ev.SessionID = req.SessionID
	}
	if req.Status == domain.StatusQueued {
		ev.Elapsed = s.clock.Now().Sub(req.CreatedAt).Seconds()
	}
	return ev
}

// cancelAbandoned treats a dropped subscriber as an implicit cancellation
// when the request is still queued.
func (s *Service) cancelAbandoned(req *domain.MatchRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	current, err := s.store.Get(ctx, req.ID)
	if err != nil || current.Status != domain.StatusQueued {
		return
	}
	if err := s.Cancel(ctx, req.ID, req.UserID); err != nil {
		s.log.Warn("implicit cancel after disconnect failed",
			zap.String("req_id", req.ID), zap.Error(err))
	}
}

func (s *Service) releaseStream(reqID string, sub repository.EventSubscription) {
	if sub != nil {
		_ = sub.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.markers.ReleaseStream(ctx, reqID); err != nil {
		s.log.Warn("failed to release stream marker",
			zap.String("req_id", reqID), zap.Error(err))
	}
}
