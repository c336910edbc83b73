package matching

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codepair/matching-service/internal/config"
	"github.com/codepair/matching-service/internal/domain"
	"github.com/codepair/matching-service/internal/infrastructure/collab"
	"github.com/codepair/matching-service/internal/infrastructure/metrics"
	"github.com/codepair/matching-service/internal/repository"
	"github.com/codepair/matching-service/internal/repository/redisstore"
)

type testEnv struct {
	svc       *Service
	store     repository.RequestStore
	queue     repository.MatchQueue
	deadlines repository.DeadlineIndex
	markers   repository.MarkerStore
	bus       repository.EventBus
	sessions  *fakeSessions
	clk       *clock.Mock
	mr        *miniredis.Miniredis
	cfg       config.MatchConfig
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.MatchConfig{
		RequestTTL:        30 * time.Second,
		RetentionGrace:    5 * time.Minute,
		SweepInterval:     time.Second,
		StreamMarkerTTL:   15 * time.Second,
		HeartbeatInterval: time.Second,
	}

	clk := clock.NewMock()
	clk.Set(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	log := zap.NewNop()
	env := &testEnv{
		store:     redisstore.NewRequestStore(client, cfg.RequestTTL+cfg.RetentionGrace),
		queue:     redisstore.NewMatchQueue(client),
		deadlines: redisstore.NewDeadlineIndex(client),
		markers:   redisstore.NewMarkerStore(client),
		bus:       redisstore.NewEventBus(client, log),
		sessions:  &fakeSessions{},
		clk:       clk,
		mr:        mr,
		cfg:       cfg,
	}
	env.svc = NewService(
		env.store, env.queue, env.deadlines, env.markers, env.bus,
		env.sessions, nil, clk, log, metrics.New(), cfg,
	)
	return env
}

func (e *testEnv) create(t *testing.T, userID string, topics, languages []string) *domain.MatchRequest {
	t.Helper()
	req, err := e.svc.Create(context.Background(), userID, CreateInput{
		Difficulty: string(domain.DifficultyEasy),
		Topics:     topics,
		Languages:  languages,
	}, "token-"+userID)
	require.NoError(t, err)
	return req
}

// createBypassingDedup seeds a queued request directly, for scenarios the
// public API forbids (e.g. one user queued twice).
func (e *testEnv) createBypassingDedup(t *testing.T, reqID, userID string, topics, languages []string) *domain.MatchRequest {
	t.Helper()
	ctx := context.Background()
	req := &domain.MatchRequest{
		ID:         reqID,
		UserID:     userID,
		Difficulty: domain.DifficultyEasy,
		Topics:     topics,
		Languages:  languages,
		Status:     domain.StatusQueued,
		CreatedAt:  e.clk.Now(),
	}
	require.NoError(t, e.store.Create(ctx, req))
	require.NoError(t, e.queue.Enqueue(ctx, reqID, req.Difficulty, req.CreatedAt))
	require.NoError(t, e.deadlines.Arm(ctx, reqID, req.Difficulty, req.CreatedAt.Add(e.cfg.RequestTTL)))
	return req
}

func (e *testEnv) status(t *testing.T, reqID string) domain.Status {
	t.Helper()
	req, err := e.store.Get(context.Background(), reqID)
	require.NoError(t, err)
	return req.Status
}

func (e *testEnv) queueDepth(t *testing.T, difficulty domain.Difficulty) int64 {
	t.Helper()
	depth, err := e.queue.Depth(context.Background(), difficulty)
	require.NoError(t, err)
	return depth
}

// collectEvent reads one event from a subscription or fails after a timeout.
func collectEvent(t *testing.T, sub repository.EventSubscription) domain.StatusEvent {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status event")
		return domain.StatusEvent{}
	}
}

type fakeSessions struct {
	mu      sync.Mutex
	err     error
	hook    func()
	created []collab.SessionRequest
	deleted []string
	seq     int
}

func (f *fakeSessions) CreateSession(_ context.Context, req collab.SessionRequest) (*domain.SessionInfo, error) {
	f.mu.Lock()
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		// runs between queue pop and commit, where concurrent cancellations
		// and timeouts race the matcher
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.seq++
	f.created = append(f.created, req)
	return &domain.SessionInfo{
		SessionID:  fmt.Sprintf("session-%d", f.seq),
		QuestionID: "q-1",
		Language:   "python",
	}, nil
}

func (f *fakeSessions) DeleteSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, sessionID)
	return nil
}

func (f *fakeSessions) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeSessions) deletedSessions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}
