package matching

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codepair/matching-service/internal/domain"
	"github.com/codepair/matching-service/internal/infrastructure/metrics"
	"github.com/codepair/matching-service/internal/repository"
)

func TestSweepEvictsExpiredRequests(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := env.create(t, "user-1", []string{"arrays"}, []string{"python"})

	sub, err := env.bus.SubscribeEvents(ctx, req.ID)
	require.NoError(t, err)
	defer sub.Close()

	// not due yet
	evicted, err := env.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, evicted)
	assert.Equal(t, domain.StatusQueued, env.status(t, req.ID))

	env.clk.Add(env.cfg.RequestTTL + time.Second)

	evicted, err = env.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, domain.StatusTimeout, env.status(t, req.ID))
	assert.Zero(t, env.queueDepth(t, domain.DifficultyEasy))

	ev := collectEvent(t, sub)
	assert.Equal(t, domain.StatusTimeout, ev.Status)

	// the user can queue again immediately
	_, err = env.svc.Create(ctx, "user-1", CreateInput{
		Difficulty: string(domain.DifficultyEasy),
		Topics:     []string{"arrays"},
		Languages:  []string{"python"},
	}, "")
	require.NoError(t, err)

	// the claimed deadline entry is gone, so a second sweep finds nothing
	// expired and leaves the fresh request alone
	evicted, err = env.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, evicted)
}

func TestSweepSkipsAlreadyResolvedRequests(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := env.create(t, "user-1", []string{"arrays"}, []string{"python"})

	// cancelled behind the deadline index's back
	ok, err := env.store.Transition(ctx, req.ID, domain.StatusQueued, domain.StatusCancelled, "")
	require.NoError(t, err)
	require.True(t, ok)

	env.clk.Add(env.cfg.RequestTTL + time.Second)

	evicted, err := env.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, evicted)
	assert.Equal(t, domain.StatusCancelled, env.status(t, req.ID))
}

func TestSweepSkipsEntriesForExpiredRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// a deadline entry whose request record is gone entirely
	require.NoError(t, env.deadlines.Arm(ctx, "ghost", domain.DifficultyEasy, env.clk.Now().Add(-time.Second)))

	evicted, err := env.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, evicted)
}

type scanFailingDeadlines struct {
	repository.DeadlineIndex
	err error
}

func (d scanFailingDeadlines) PopExpired(ctx context.Context, now time.Time) ([]repository.DeadlineEntry, error) {
	entries, err := d.DeadlineIndex.PopExpired(ctx, now)
	if err != nil {
		return entries, err
	}
	return entries, d.err
}

func TestSweepFinishesClaimedEntriesOnScanError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := env.create(t, "user-1", []string{"arrays"}, []string{"python"})
	env.clk.Add(env.cfg.RequestTTL + time.Second)

	scanErr := errors.New("scan interrupted")
	failing := NewService(
		env.store, env.queue,
		scanFailingDeadlines{env.deadlines, scanErr},
		env.markers, env.bus,
		env.sessions, nil, env.clk, zap.NewNop(), metrics.New(), env.cfg,
	)

	// the entry was claimed before the error surfaced; it must still be
	// evicted, no later sweep will ever see it again
	evicted, err := failing.Sweep(ctx)
	assert.ErrorIs(t, err, scanErr)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, domain.StatusTimeout, env.status(t, req.ID))
	assert.Zero(t, env.queueDepth(t, domain.DifficultyEasy))
}

func TestRunSweeperTicks(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := env.create(t, "user-1", []string{"arrays"}, []string{"python"})

	done := make(chan struct{})
	go func() {
		env.svc.RunSweeper(ctx)
		close(done)
	}()

	// let the sweeper register its ticker before moving the clock
	time.Sleep(50 * time.Millisecond)
	env.clk.Add(env.cfg.RequestTTL + env.cfg.SweepInterval)

	require.Eventually(t, func() bool {
		r, err := env.store.Get(context.Background(), req.ID)
		return err == nil && r.Status == domain.StatusTimeout
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop on context cancellation")
	}
}
