package service

import (
	"context"
	"fmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"recording-orchestrator/pkg/coordination"
	"recording-orchestrator/pkg/heartbeat"
	"recording-orchestrator/repository"
	"sync"
	"testing"
	"time"
)

func newTestPool(t *testing.T) (PoolManager, repository.Repository, *fakeLiveness, *heartbeat.Registry) {
	t.Helper()
	repo := repository.NewMemoryRepo()
	liveness := newFakeLiveness()
	beats := heartbeat.NewRegistry(time.Hour)
	pool := NewPoolManager(repo, liveness, beats)
	t.Cleanup(pool.Stop)
	return pool, repo, liveness, beats
}

func TestPool_ResizeCreatesExactCount(t *testing.T) {
	ctx := context.Background()
	pool, repo, liveness, beats := newTestPool(t)

	for _, n := range []int{0, 3, 5, 2, 0, 4} {
		require.NoError(t, pool.Resize(ctx, n))
		recorders, err := repo.ListRecorders(ctx)
		require.NoError(t, err)
		assert.Len(t, recorders, n, "resize(%d)", n)
		assert.Equal(t, n, beats.Len())
		for _, r := range recorders {
			assert.Contains(t, liveness.seeded, r.RecorderId)
		}
	}
}

func TestPool_ResizeKeepsRecordingEntries(t *testing.T) {
	ctx := context.Background()
	pool, repo, _, _ := newTestPool(t)
	require.NoError(t, pool.Resize(ctx, 4))

	busy := map[string]bool{}
	for _, room := range []string{"room-a", "room-b"} {
		id, ok, err := pool.Assign(ctx, room)
		require.NoError(t, err)
		require.True(t, ok)
		busy[id] = true
	}

	require.NoError(t, pool.Resize(ctx, 2))
	recorders, err := repo.ListRecorders(ctx)
	require.NoError(t, err)
	require.Len(t, recorders, 2)
	for _, r := range recorders {
		assert.True(t, busy[r.RecorderId])
		assert.True(t, r.IsRecording)
	}

	// a target below the busy count never removes recording rows
	require.NoError(t, pool.Resize(ctx, 0))
	recorders, err = repo.ListRecorders(ctx)
	require.NoError(t, err)
	assert.Len(t, recorders, 2)
}

func TestPool_AssignStopsHeartbeatAndReleaseRearms(t *testing.T) {
	ctx := context.Background()
	pool, _, liveness, beats := newTestPool(t)
	require.NoError(t, pool.Resize(ctx, 1))

	id, ok, err := pool.Assign(ctx, "room-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, beats.Running(id))
	assert.Equal(t, 1, liveness.progress[id])

	_, ok, err = pool.Assign(ctx, "room-b")
	require.NoError(t, err)
	assert.False(t, ok, "exhausted pool is not an error")

	require.NoError(t, pool.Release(ctx, "room-a"))
	assert.True(t, beats.Running(id))
	assert.Equal(t, 0, liveness.progress[id])

	assert.ErrorIs(t, pool.Release(ctx, "room-a"), ErrRecorderNotFound)
}

func TestPool_ConcurrentAssignNeverDoubleBooks(t *testing.T) {
	ctx := context.Background()
	pool, _, _, _ := newTestPool(t)
	require.NoError(t, pool.Resize(ctx, 5))

	var (
		mu       sync.Mutex
		assigned = map[string]string{}
		misses   int
		wg       sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room := fmt.Sprintf("room-%d", i)
			id, ok, err := pool.Assign(ctx, room)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if !ok {
				misses++
				return
			}
			prev, dup := assigned[id]
			assert.False(t, dup, "recorder %s given to %s and %s", id, prev, room)
			assigned[id] = room
		}(i)
	}
	wg.Wait()

	assert.Len(t, assigned, 5)
	assert.Equal(t, 15, misses)
}

func TestPool_PingConflictIsSilent(t *testing.T) {
	ctx := context.Background()
	liveness := newFakeLiveness()
	liveness.pingErr = coordination.ErrConflict
	pool := &poolManager{liveness: liveness}

	assert.NoError(t, pool.ping(ctx, "rec-1"))
	assert.Equal(t, 1, liveness.pings)
	assert.Empty(t, liveness.seeded)
}

func TestPool_PingReseedsMissingRecord(t *testing.T) {
	ctx := context.Background()
	liveness := newFakeLiveness()
	liveness.pingErr = coordination.ErrMissing
	pool := &poolManager{liveness: liveness}

	assert.NoError(t, pool.ping(ctx, "rec-1"))
	assert.Equal(t, 1, liveness.seeded["rec-1"])
}

func TestPool_StartRearmsIdleRecorders(t *testing.T) {
	ctx := context.Background()
	pool, repo, _, beats := newTestPool(t)
	require.NoError(t, pool.Resize(ctx, 3))
	_, ok, err := pool.Assign(ctx, "room-a")
	require.NoError(t, err)
	require.True(t, ok)
	beats.StopAll()

	restarted := NewPoolManager(repo, newFakeLiveness(), beats)
	require.NoError(t, restarted.Start(ctx))
	assert.Equal(t, 2, beats.Len())
}
