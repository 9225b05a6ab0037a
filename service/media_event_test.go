package service

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"recording-orchestrator/constant"
	"recording-orchestrator/entities"
	"recording-orchestrator/repository"
	"strings"
	"testing"
	"time"
)

func testMediaOptions() MediaEventOptions {
	opts := DefaultMediaEventOptions()
	opts.RetryPolicy = fastPolicy
	return opts
}

func newTestMedia(t *testing.T) (MediaEventManager, repository.Repository, *fakeMedia) {
	t.Helper()
	repo := repository.NewMemoryRepo()
	api := newFakeMedia()
	return NewMediaEventManager(repo, api, testMediaOptions()), repo, api
}

func testWindow(start time.Time) RecordingWindow {
	return RecordingWindow{
		Conference: entities.ConferenceSession{RoomId: "room-a", RoomSid: "RM_a", Title: "Lecture"},
		RecorderId: "rec-1",
		Type:       constant.RecorderTypeRoomComposite,
		Start:      start,
	}
}

func TestMediaEvent_StateMachine(t *testing.T) {
	ctx := context.Background()
	media, repo, api := newTestMedia(t)

	event, err := media.StartRecording(ctx, testWindow(time.Unix(1000, 0)))
	require.NoError(t, err)
	assert.Equal(t, constant.RecordingStateCapturing, event.RecordingState)
	assert.Equal(t, constant.AgentStateCapturing, event.AgentState)
	assert.Equal(t, "series-Lecture", event.SeriesId)
	assert.NotEmpty(t, event.MediaPackage)
	require.Len(t, api.scheduled, 1)
	assert.Equal(t, "recorder-rec-1", api.scheduled[0].Agent)
	assert.True(t, strings.Contains(api.scheduled[0].Catalog, "<dcterms:title>Lecture</dcterms:title>"))

	require.NoError(t, media.CaptureFinished(ctx, event))
	assert.Equal(t, constant.RecordingStateCaptureFinished, event.RecordingState)
	assert.Equal(t, constant.AgentStateIdle, event.AgentState)

	require.NoError(t, media.Uploading(ctx, event))
	assert.Equal(t, constant.RecordingStateUploading, event.RecordingState)

	stored, err := repo.FindMediaEventByEventId(ctx, event.EventId)
	require.NoError(t, err)
	assert.Equal(t, constant.RecordingStateUploading, stored.RecordingState)
	assert.Equal(t, constant.AgentStateIdle, stored.AgentState)

	assert.Equal(t, []string{"capturing", "capture_finished", "uploading"}, api.recordingStates[event.EventId])
	assert.Equal(t, []string{"capturing", "idle"}, api.agentStates["recorder-rec-1"])
}

func TestMediaEvent_FailedExternalCallKeepsState(t *testing.T) {
	ctx := context.Background()
	media, repo, api := newTestMedia(t)

	event, err := media.StartRecording(ctx, testWindow(time.Unix(1000, 0)))
	require.NoError(t, err)

	api.stateErr = errBackend
	assert.Error(t, media.CaptureFinished(ctx, event))
	assert.Equal(t, constant.RecordingStateCapturing, event.RecordingState)

	stored, err := repo.FindMediaEventByEventId(ctx, event.EventId)
	require.NoError(t, err)
	assert.Equal(t, constant.RecordingStateCapturing, stored.RecordingState)
}

func TestMediaEvent_RestartReusesEvent(t *testing.T) {
	ctx := context.Background()
	media, _, api := newTestMedia(t)

	first, err := media.StartRecording(ctx, testWindow(time.Unix(1000, 0)))
	require.NoError(t, err)

	window := testWindow(time.Unix(2000, 0))
	window.End = first.End.Add(time.Hour)
	second, err := media.StartRecording(ctx, window)
	require.NoError(t, err)

	assert.Equal(t, first.EventId, second.EventId)
	assert.Equal(t, window.End, second.End)
	assert.Equal(t, 1, api.packages, "no new media package on reuse")
	assert.Len(t, api.scheduled, 1)
	assert.Equal(t, []string{first.EventId}, api.updated)
}

func TestMediaEvent_RestartAfterIngestSchedulesNewEvent(t *testing.T) {
	ctx := context.Background()
	media, repo, api := newTestMedia(t)

	first, err := media.StartRecording(ctx, testWindow(time.Unix(1000, 0)))
	require.NoError(t, err)
	require.NoError(t, media.CaptureFinished(ctx, first))
	require.NoError(t, media.Uploading(ctx, first))
	require.NoError(t, media.UploadFinished(ctx, first))

	second, err := media.StartRecording(ctx, testWindow(time.Unix(20000, 0)))
	require.NoError(t, err)

	assert.NotEqual(t, first.EventId, second.EventId)
	assert.Equal(t, constant.RecordingStateCapturing, second.RecordingState)
	assert.Len(t, api.scheduled, 2)
	assert.Empty(t, api.updated)

	stored, err := repo.FindMediaEventByEventId(ctx, first.EventId)
	require.NoError(t, err)
	assert.Equal(t, constant.RecordingStateUploadFinished, stored.RecordingState)
}

func TestMediaEvent_SeriesGetOrCreate(t *testing.T) {
	ctx := context.Background()
	media, _, api := newTestMedia(t)
	api.series["Existing"] = "series-42"

	id, err := media.ResolveSeries(ctx, "Existing")
	require.NoError(t, err)
	assert.Equal(t, "series-42", id)

	id, err = media.ResolveSeries(ctx, "New")
	require.NoError(t, err)
	assert.Equal(t, "series-New", id)

	again, err := media.ResolveSeries(ctx, "New")
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestMediaEvent_RecordingStoppedFinishesCapture(t *testing.T) {
	ctx := context.Background()
	media, repo, _ := newTestMedia(t)
	require.NoError(t, repo.CreateConference(ctx, &entities.ConferenceSession{
		RoomId:  "room-a",
		RoomSid: "RM_a",
		Title:   "Lecture",
		Started: time.Unix(900, 0),
	}))

	event, err := media.StartRecording(ctx, testWindow(time.Unix(1000, 0)))
	require.NoError(t, err)

	require.NoError(t, media.RecordingStopped(ctx, "room-a", "rec-1", nil))
	stored, err := repo.FindMediaEventByEventId(ctx, event.EventId)
	require.NoError(t, err)
	assert.Equal(t, constant.RecordingStateCaptureFinished, stored.RecordingState)

	assert.ErrorIs(t, media.RecordingStopped(ctx, "room-x", "rec-1", nil), ErrEventNotFound)
}

func TestMediaEvent_PrepareUploadCreatesMissingEvent(t *testing.T) {
	ctx := context.Background()
	media, _, api := newTestMedia(t)

	event, err := media.PrepareUpload(ctx, testWindow(time.Unix(1000, 0)), "")
	require.NoError(t, err)
	assert.Equal(t, constant.RecordingStateUploading, event.RecordingState)
	assert.Equal(t, 1, api.packages)
}
