package matching

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codepair/matching-service/internal/domain"
)

// nextStreamEvent nudges the mock clock while waiting so heartbeat ticks fire
// even though the stream goroutine registers its ticker asynchronously.
func nextStreamEvent(t *testing.T, env *testEnv, st *Stream) domain.StatusEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		env.clk.Add(env.cfg.HeartbeatInterval)
		select {
		case ev, ok := <-st.Events():
			require.True(t, ok, "stream closed while waiting for an event")
			return ev
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("timed out waiting for stream event")
		}
	}
}

func waitClosed(t *testing.T, st *Stream) {
	t.Helper()
	for {
		select {
		case ev, ok := <-st.Events():
			if !ok {
				return
			}
			// trailing heartbeats may still be buffered
			assert.Equal(t, domain.StatusQueued, ev.Status)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for stream to close")
		}
	}
}

func TestStreamSnapshotAndHeartbeats(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := env.create(t, "user-1", []string{"arrays"}, []string{"python"})

	st, err := env.svc.OpenStream(ctx, req.ID, "user-1")
	require.NoError(t, err)

	snap := collectStreamEvent(t, st)
	assert.Equal(t, domain.StatusQueued, snap.Status)
	assert.Zero(t, snap.Elapsed)

	hb := nextStreamEvent(t, env, st)
	assert.Equal(t, domain.StatusQueued, hb.Status)
	assert.Greater(t, hb.Elapsed, 0.0)
}

func TestStreamSecondSubscriberRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := env.create(t, "user-1", []string{"arrays"}, []string{"python"})

	st, err := env.svc.OpenStream(ctx, req.ID, "user-1")
	require.NoError(t, err)
	collectStreamEvent(t, st)

	_, err = env.svc.OpenStream(ctx, req.ID, "user-1")
	assert.ErrorIs(t, err, domain.ErrDuplicateStream)
}

func TestStreamTerminalSnapshotClosesImmediately(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := env.create(t, "user-1", []string{"arrays"}, []string{"python"})
	require.NoError(t, env.svc.Cancel(ctx, req.ID, "user-1"))

	st, err := env.svc.OpenStream(ctx, req.ID, "user-1")
	require.NoError(t, err)

	snap := collectStreamEvent(t, st)
	assert.Equal(t, domain.StatusCancelled, snap.Status)
	waitClosed(t, st)
}

func TestStreamDeliversCancellation(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := env.create(t, "user-1", []string{"arrays"}, []string{"python"})

	st, err := env.svc.OpenStream(ctx, req.ID, "user-1")
	require.NoError(t, err)
	collectStreamEvent(t, st)

	require.NoError(t, env.svc.Cancel(context.Background(), req.ID, "user-1"))

	for {
		ev := collectStreamEvent(t, st)
		if ev.Status == domain.StatusQueued {
			continue
		}
		assert.Equal(t, domain.StatusCancelled, ev.Status)
		break
	}
	waitClosed(t, st)

	// the marker is released, so a reconnect is allowed again
	claimed, err := env.markers.ClaimStream(context.Background(), req.ID, "probe", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestStreamDeliversMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r1 := env.create(t, "user-1", []string{"arrays"}, []string{"python"})
	env.clk.Add(time.Millisecond)
	env.create(t, "user-2", []string{"arrays"}, []string{"python"})

	st, err := env.svc.OpenStream(ctx, r1.ID, "user-1")
	require.NoError(t, err)
	collectStreamEvent(t, st)

	matched, err := env.svc.TryMatch(context.Background(), domain.DifficultyEasy)
	require.NoError(t, err)
	require.True(t, matched)

	for {
		ev := collectStreamEvent(t, st)
		if ev.Status == domain.StatusQueued {
			continue
		}
		assert.Equal(t, domain.StatusMatched, ev.Status)
		assert.Equal(t, "session-1", ev.SessionID)
		break
	}
	waitClosed(t, st)
}

func TestStreamDisconnectCancelsQueuedRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	req := env.create(t, "user-1", []string{"arrays"}, []string{"python"})

	st, err := env.svc.OpenStream(ctx, req.ID, "user-1")
	require.NoError(t, err)
	collectStreamEvent(t, st)

	cancel()

	require.Eventually(t, func() bool {
		r, err := env.store.Get(context.Background(), req.ID)
		return err == nil && r.Status == domain.StatusCancelled
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		claimed, err := env.markers.ClaimStream(context.Background(), req.ID, "probe", time.Minute)
		return err == nil && claimed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamOwnershipAndExistence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := env.create(t, "user-1", []string{"arrays"}, []string{"python"})

	_, err := env.svc.OpenStream(ctx, req.ID, "user-2")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = env.svc.OpenStream(ctx, "missing", "user-1")
	assert.ErrorIs(t, err, domain.ErrRequestNotFound)

	// a failed open does not burn the stream slot
	st, err := env.svc.OpenStream(ctx, req.ID, "user-1")
	require.NoError(t, err)
	collectStreamEvent(t, st)
}

// collectStreamEvent reads one event without touching the clock.
func collectStreamEvent(t *testing.T, st *Stream) domain.StatusEvent {
	t.Helper()
	select {
	case ev, ok := <-st.Events():
		require.True(t, ok, "stream closed unexpectedly")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream event")
		return domain.StatusEvent{}
	}
}
