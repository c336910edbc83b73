package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/codepair/matching-service/internal/domain"
	"github.com/codepair/matching-service/internal/repository"
)

type eventBus struct {
	client *redis.Client
	log    *zap.Logger
}

// NewEventBus creates the pub/sub fan-out: one channel per request for
// status events and one shared channel for matcher triggers.
func NewEventBus(client *redis.Client, log *zap.Logger) repository.EventBus {
	return &eventBus{client: client, log: log}
}

func (b *eventBus) PublishEvent(ctx context.Context, reqID string, ev domain.StatusEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode status event: %w", err)
	}
	if err := b.client.Publish(ctx, eventsChannel(reqID), payload).Err(); err != nil {
		return fmt.Errorf("%w: publish event for %s: %v", domain.ErrStoreUnavailable, reqID, err)
	}
	return nil
}

func (b *eventBus) SubscribeEvents(ctx context.Context, reqID string) (repository.EventSubscription, error) {
	ps := b.client.Subscribe(ctx, eventsChannel(reqID))
	// force the SUBSCRIBE round-trip so a missing broker fails here, not on
	// first receive
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: subscribe events for %s: %v", domain.ErrStoreUnavailable, reqID, err)
	}

	sub := &eventSubscription{
		ps:   ps,
		out:  make(chan domain.StatusEvent, 8),
		done: make(chan struct{}),
	}
	go func() {
		defer close(sub.out)
		for msg := range ps.Channel() {
			var ev domain.StatusEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Warn("dropping undecodable status event",
					zap.String("req_id", reqID), zap.Error(err))
				continue
			}
			// a consumer that stopped reading must not park this goroutine
			// past Close
			select {
			case sub.out <- ev:
			case <-sub.done:
				return
			}
		}
	}()
	return sub, nil
}

type eventSubscription struct {
	ps        *redis.PubSub
	out       chan domain.StatusEvent
	done      chan struct{}
	closeOnce sync.Once
}

func (s *eventSubscription) Events() <-chan domain.StatusEvent { return s.out }

func (s *eventSubscription) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.ps.Close()
}

type triggerMessage struct {
	Difficulty domain.Difficulty `json:"difficulty"`
}

func (b *eventBus) PublishTrigger(ctx context.Context, difficulty domain.Difficulty) error {
	payload, err := json.Marshal(triggerMessage{Difficulty: difficulty})
	if err != nil {
		return fmt.Errorf("encode trigger: %w", err)
	}
	if err := b.client.Publish(ctx, triggerChannel(), payload).Err(); err != nil {
		return fmt.Errorf("%w: publish trigger for %s: %v", domain.ErrStoreUnavailable, difficulty, err)
	}
	return nil
}

func (b *eventBus) SubscribeTriggers(ctx context.Context) (repository.TriggerSubscription, error) {
	ps := b.client.Subscribe(ctx, triggerChannel())
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: subscribe triggers: %v", domain.ErrStoreUnavailable, err)
	}

	sub := &triggerSubscription{
		ps:   ps,
		out:  make(chan domain.Difficulty, 16),
		done: make(chan struct{}),
	}
	go func() {
		defer close(sub.out)
		for msg := range ps.Channel() {
			var t triggerMessage
			if err := json.Unmarshal([]byte(msg.Payload), &t); err != nil {
				b.log.Warn("dropping undecodable matcher trigger", zap.Error(err))
				continue
			}
			if !t.Difficulty.Valid() {
				continue
			}
			select {
			case sub.out <- t.Difficulty:
			case <-sub.done:
				return
			}
		}
	}()
	return sub, nil
}

type triggerSubscription struct {
	ps        *redis.PubSub
	out       chan domain.Difficulty
	done      chan struct{}
	closeOnce sync.Once
}

func (s *triggerSubscription) Triggers() <-chan domain.Difficulty { return s.out }

func (s *triggerSubscription) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.ps.Close()
}
