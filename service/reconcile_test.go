package service

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"recording-orchestrator/constant"
	"recording-orchestrator/dto"
	"recording-orchestrator/entities"
	"recording-orchestrator/pkg/heartbeat"
	"recording-orchestrator/repository"
	"testing"
	"time"
)

type reconcileFixture struct {
	reconciler Reconciler
	repo       repository.Repository
	rooms      *fakeRooms
	egress     *fakeEgress
	pool       PoolManager
	now        time.Time
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	t.Helper()
	repo := repository.NewMemoryRepo()
	rooms := &fakeRooms{}
	egress := &fakeEgress{}
	sessions := NewSessionManager(repo, egress, &fakeIngress{}, nil, testSessionOptions())
	pool := NewPoolManager(repo, newFakeLiveness(), heartbeat.NewRegistry(time.Hour))
	t.Cleanup(pool.Stop)

	now := time.Unix(100000, 0)
	r := NewReconciler(repo, rooms, sessions, pool, 5*time.Minute, fastPolicy)
	r.(*reconciler).now = func() time.Time { return now }
	return &reconcileFixture{reconciler: r, repo: repo, rooms: rooms, egress: egress, pool: pool, now: now}
}

func TestReconcile_SyncRoomsEndsOnlyMissingRooms(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(t)
	for _, room := range []string{"A", "B", "C"} {
		require.NoError(t, f.repo.CreateConference(ctx, &entities.ConferenceSession{
			RoomId:   room,
			RoomSid:  "RM_" + room,
			Started:  time.Unix(1000, 0),
			IsActive: true,
		}))
	}
	f.rooms.rooms = []dto.RoomInfo{{RoomId: "A"}, {RoomId: "C"}}

	require.NoError(t, f.reconciler.SyncRooms(ctx))

	for room, ended := range map[string]bool{"A": false, "B": true, "C": false} {
		conference, err := f.repo.FindLatestConference(ctx, room)
		require.NoError(t, err)
		if ended {
			require.NotNil(t, conference.Ended, room)
			assert.Equal(t, f.now, *conference.Ended)
			assert.False(t, conference.IsActive)
		} else {
			assert.Nil(t, conference.Ended, room)
		}
	}

	// already ended conferences are left alone
	f.rooms.rooms = nil
	later := f.now.Add(time.Minute)
	f.reconciler.(*reconciler).now = func() time.Time { return later }
	require.NoError(t, f.reconciler.SyncRooms(ctx))
	conference, err := f.repo.FindLatestConference(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, f.now, *conference.Ended)
}

func TestReconcile_SyncRoomsFailureIsReported(t *testing.T) {
	f := newReconcileFixture(t)
	f.rooms.err = errBackend
	assert.Error(t, f.reconciler.SyncRooms(context.Background()))
}

func TestReconcile_SyncEgressStopsOrphans(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(t)
	require.NoError(t, f.pool.Resize(ctx, 3))

	old := f.now.Add(-10 * time.Minute)
	recent := f.now.Add(-time.Minute)
	sessions := map[string]*entities.EgressSession{
		"orphan":    {RoomId: "orphan", EgressId: "EG_orphan", Status: constant.EgressStatusActive, CreatedAt: old},
		"recording": {RoomId: "recording", EgressId: "EG_recording", Status: constant.EgressStatusActive, CreatedAt: old},
		"fresh":     {RoomId: "fresh", EgressId: "EG_fresh", Status: constant.EgressStatusStarting, CreatedAt: recent},
	}
	for room, s := range sessions {
		id, ok, err := f.pool.Assign(ctx, room)
		require.NoError(t, err)
		require.True(t, ok)
		s.RecorderId = id
		require.NoError(t, f.repo.CreateEgressSession(ctx, s))
	}
	f.rooms.rooms = []dto.RoomInfo{{RoomId: "recording", IsRecording: true}, {RoomId: "fresh"}}

	require.NoError(t, f.reconciler.SyncEgress(ctx))

	want := map[string]constant.EgressStatus{
		"EG_orphan":    constant.EgressStatusComplete,
		"EG_recording": constant.EgressStatusActive,
		"EG_fresh":     constant.EgressStatusStarting,
	}
	for egressId, status := range want {
		s, err := f.repo.FindEgressSessionByEgressId(ctx, egressId)
		require.NoError(t, err)
		assert.Equal(t, status, s.Status, egressId)
	}
	assert.Equal(t, 1, f.egress.stopCalls)

	_, err := f.repo.FindRecorderByRoom(ctx, "orphan")
	assert.ErrorIs(t, err, repository.ErrNotFound, "orphan's recorder is released")
}

func TestReconcile_SyncEgressStopFailureStillCompletes(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(t)
	f.egress.stopErr = errBackend
	require.NoError(t, f.repo.CreateEgressSession(ctx, &entities.EgressSession{
		RecorderId: "rec-1",
		RoomId:     "gone",
		EgressId:   "EG_gone",
		Status:     constant.EgressStatusActive,
		CreatedAt:  f.now.Add(-time.Hour),
	}))

	require.NoError(t, f.reconciler.SyncEgress(ctx))
	s, err := f.repo.FindEgressSessionByEgressId(ctx, "EG_gone")
	require.NoError(t, err)
	assert.Equal(t, constant.EgressStatusComplete, s.Status)
}
