package handler

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"recording-orchestrator/constant"
	"recording-orchestrator/dto"
	"recording-orchestrator/entities"
	"recording-orchestrator/pkg/rabbitmq"
	"recording-orchestrator/service"
	"testing"
	"time"
)

type fakeIngest struct {
	prepared []dto.UploadJobMessage
	attached []dto.AttachJobMessage
	failed   []uuid.UUID
}

func (f *fakeIngest) Prepare(ctx context.Context, msg dto.UploadJobMessage) error {
	f.prepared = append(f.prepared, msg)
	return nil
}

func (f *fakeIngest) Attach(ctx context.Context, msg dto.AttachJobMessage) error {
	f.attached = append(f.attached, msg)
	return nil
}

func (f *fakeIngest) Fail(ctx context.Context, jobId uuid.UUID, cause error) error {
	f.failed = append(f.failed, jobId)
	return nil
}

type fakeEvents struct {
	handled []dto.Event
	err     error
}

func (f *fakeEvents) Handle(ctx context.Context, event dto.Event) error {
	f.handled = append(f.handled, event)
	return f.err
}

type fakeRecording struct {
	startErr error
	mediaErr error
	pingErr  error
	started  []string
	stopped  []string
}

func (f *fakeRecording) StartEgressRecording(ctx context.Context, roomId string) (*entities.EgressSession, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, roomId)
	return &entities.EgressSession{RoomId: roomId, RecorderId: "rec-1", EgressId: "EG_1", Status: constant.EgressStatusActive}, f.mediaErr
}

func (f *fakeRecording) StopEgressRecording(ctx context.Context, roomId string) error {
	f.stopped = append(f.stopped, roomId)
	return nil
}

func (f *fakeRecording) StartApplianceRecording(ctx context.Context, roomId string, deviceId string) (*entities.MediaEvent, error) {
	return &entities.MediaEvent{EventId: "ev-1", RecorderId: deviceId}, nil
}

func (f *fakeRecording) StopApplianceRecording(ctx context.Context, roomId string, deviceId string) error {
	return nil
}

func (f *fakeRecording) PingAppliance(ctx context.Context, deviceId string) error {
	return f.pingErr
}

type fakeSessions struct {
	service.SessionManager
	deleted []string
}

func (f *fakeSessions) CreateOrGetIngress(ctx context.Context, roomId string, deviceId string) (*dto.IngressInfo, error) {
	return &dto.IngressInfo{IngressId: "IN_1", RoomId: roomId, StreamKey: "key"}, nil
}

func (f *fakeSessions) DeleteIngressForRoom(ctx context.Context, roomId string) error {
	f.deleted = append(f.deleted, roomId)
	return nil
}

type fakeConferences struct {
	service.ConferenceService
}

func (f *fakeConferences) CreateRoom(ctx context.Context, cmd dto.CreateRoomCommand) (*entities.ConferenceSession, error) {
	return &entities.ConferenceSession{RoomId: cmd.RoomId, Title: cmd.Title, IsActive: true}, nil
}

type fakeReplier struct {
	replies []dto.CommandReply
}

func (f *fakeReplier) Reply(ctx context.Context, msg amqp.Delivery, reply dto.CommandReply) error {
	f.replies = append(f.replies, reply)
	return nil
}

type testDeps struct {
	ServiceDependencies
	ingest    *fakeIngest
	events    *fakeEvents
	recording *fakeRecording
	sessions  *fakeSessions
	replier   *fakeReplier
}

func newDeps() testDeps {
	d := testDeps{
		ingest:    &fakeIngest{},
		events:    &fakeEvents{},
		recording: &fakeRecording{},
		sessions:  &fakeSessions{},
		replier:   &fakeReplier{},
	}
	d.ServiceDependencies = ServiceDependencies{
		IngestService:     d.ingest,
		EventService:      d.events,
		RecordingService:  d.recording,
		SessionManager:    d.sessions,
		ConferenceService: &fakeConferences{},
		Replier:           d.replier,
		Validate:          validator.New(),
	}
	return d
}

func delivery(t *testing.T, v any) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return amqp.Delivery{Body: body, ReplyTo: "reply", CorrelationId: "c-1"}
}

func command(t *testing.T, typ constant.CommandType, payload any) amqp.Delivery {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return delivery(t, dto.Command{Type: typ, Payload: raw})
}

func TestPrepareHandler(t *testing.T) {
	d := newDeps()
	ctx := context.Background()

	err := PrepareHandler(ctx, amqp.Delivery{Body: []byte("{")}, d.ServiceDependencies)
	assert.ErrorIs(t, err, rabbitmq.ErrPermanent)

	err = PrepareHandler(ctx, delivery(t, dto.UploadJobMessage{JobId: uuid.New()}), d.ServiceDependencies)
	assert.ErrorIs(t, err, rabbitmq.ErrPermanent)
	assert.Empty(t, d.ingest.prepared)

	job := dto.UploadJobMessage{
		JobId:      uuid.New(),
		Type:       constant.RecorderTypeRoomComposite,
		Recordings: []dto.Recording{{FileName: "r1-100.mp4", Started: 100}},
		Recorder:   "rec-1",
		BasePath:   "/recordings",
	}
	require.NoError(t, PrepareHandler(ctx, delivery(t, job), d.ServiceDependencies))
	require.Len(t, d.ingest.prepared, 1)
	assert.Equal(t, job.JobId, d.ingest.prepared[0].JobId)
}

func TestAttachHandler(t *testing.T) {
	d := newDeps()
	job := dto.AttachJobMessage{
		JobId:        uuid.New(),
		Type:         constant.RecorderTypeAppliance,
		EventId:      "ev-1",
		MediaPackage: "<mediapackage/>",
		Recordings:   []dto.Recording{{FileName: "pearl-1-100.mp4"}},
		Recorder:     "pearl-1",
		BasePath:     "/recordings/appliances/pearl-1",
	}
	require.NoError(t, AttachHandler(context.Background(), delivery(t, job), d.ServiceDependencies))
	assert.Len(t, d.ingest.attached, 1)
}

func TestJobExhausted_MarksJobFailed(t *testing.T) {
	d := newDeps()
	jobId := uuid.New()
	JobExhausted(context.Background(), delivery(t, map[string]any{"jobId": jobId}), d.ServiceDependencies, errors.New("boom"))
	JobExhausted(context.Background(), amqp.Delivery{Body: []byte("garbage")}, d.ServiceDependencies, errors.New("boom"))
	assert.Equal(t, []uuid.UUID{jobId}, d.ingest.failed)
}

func TestEventHandler_SwallowsServiceErrors(t *testing.T) {
	d := newDeps()
	d.events.err = errors.New("backend down")

	event := dto.Event{Kind: constant.EventRoomFinished, RoomId: "r1", At: time.Unix(100, 0)}
	require.NoError(t, EventHandler(context.Background(), delivery(t, event), d.ServiceDependencies))
	assert.Len(t, d.events.handled, 1)

	err := EventHandler(context.Background(), delivery(t, dto.Event{Kind: "participant_joined", RoomId: "r1"}), d.ServiceDependencies)
	assert.ErrorIs(t, err, rabbitmq.ErrPermanent)
}

func TestCommandHandler_StartEgress(t *testing.T) {
	d := newDeps()
	require.NoError(t, CommandHandler(context.Background(), command(t, constant.CommandStartEgressRecording, dto.RoomCommand{RoomId: "r1"}), d.ServiceDependencies))

	require.Len(t, d.replier.replies, 1)
	reply := d.replier.replies[0]
	assert.True(t, reply.Ok)
	assert.Equal(t, EgressCommandResult{RoomId: "r1", RecorderId: "rec-1", EgressId: "EG_1", MediaEvent: true}, reply.Data)
}

func TestCommandHandler_StartEgressReportsMissingMediaEvent(t *testing.T) {
	d := newDeps()
	d.recording.mediaErr = errors.New("start media event: scheduler down")

	require.NoError(t, CommandHandler(context.Background(), command(t, constant.CommandStartEgressRecording, dto.RoomCommand{RoomId: "r1"}), d.ServiceDependencies))
	require.Len(t, d.replier.replies, 1)
	reply := d.replier.replies[0]
	assert.True(t, reply.Ok, "the egress is running")
	assert.Empty(t, reply.Error)
	assert.Equal(t, EgressCommandResult{
		RoomId:          "r1",
		RecorderId:      "rec-1",
		EgressId:        "EG_1",
		MediaEvent:      false,
		MediaEventError: "start media event: scheduler down",
	}, reply.Data)
}

func TestCommandHandler_ContentionIsTypedFailure(t *testing.T) {
	d := newDeps()
	d.recording.startErr = service.ErrNoFreeRecorder

	require.NoError(t, CommandHandler(context.Background(), command(t, constant.CommandStartEgressRecording, dto.RoomCommand{RoomId: "r1"}), d.ServiceDependencies))
	require.Len(t, d.replier.replies, 1)
	assert.False(t, d.replier.replies[0].Ok)
	assert.Equal(t, service.ErrNoFreeRecorder.Error(), d.replier.replies[0].Error)
}

func TestCommandHandler_InvalidPayloadHasNoSideEffects(t *testing.T) {
	d := newDeps()
	ctx := context.Background()

	require.NoError(t, CommandHandler(ctx, command(t, constant.CommandStopEgressRecording, dto.RoomCommand{}), d.ServiceDependencies))
	require.NoError(t, CommandHandler(ctx, command(t, "reboot_everything", dto.RoomCommand{RoomId: "r1"}), d.ServiceDependencies))
	require.NoError(t, CommandHandler(ctx, amqp.Delivery{Body: []byte("not json")}, d.ServiceDependencies))

	assert.Empty(t, d.recording.stopped)
	require.Len(t, d.replier.replies, 3)
	for _, reply := range d.replier.replies {
		assert.False(t, reply.Ok)
	}
	assert.Equal(t, errUnknownCommand.Error(), d.replier.replies[1].Error)
}

func TestCommandHandler_Dispatch(t *testing.T) {
	d := newDeps()
	d.recording.pingErr = errors.New("connection refused")
	ctx := context.Background()

	require.NoError(t, CommandHandler(ctx, command(t, constant.CommandPingAppliance, dto.PingApplianceCommand{DeviceId: "pearl-1"}), d.ServiceDependencies))
	require.NoError(t, CommandHandler(ctx, command(t, constant.CommandCreateOrGetIngress, dto.IngressCommand{RoomId: "r1", DeviceId: "pearl-1"}), d.ServiceDependencies))
	require.NoError(t, CommandHandler(ctx, command(t, constant.CommandDeleteIngress, dto.RoomCommand{RoomId: "r1"}), d.ServiceDependencies))
	require.NoError(t, CommandHandler(ctx, command(t, constant.CommandStartApplianceRecording, dto.ApplianceCommand{RoomId: "r1", DeviceId: "pearl-1"}), d.ServiceDependencies))
	require.NoError(t, CommandHandler(ctx, command(t, constant.CommandCreateRoom, dto.CreateRoomCommand{RoomId: "r2", Title: "Lecture"}), d.ServiceDependencies))

	require.Len(t, d.replier.replies, 5)
	for _, reply := range d.replier.replies {
		assert.True(t, reply.Ok, reply.Error)
	}
	assert.Equal(t, PingResult{DeviceId: "pearl-1", Reachable: false}, d.replier.replies[0].Data)
	assert.Equal(t, "IN_1", d.replier.replies[1].Data.(*dto.IngressInfo).IngressId)
	assert.Equal(t, []string{"r1"}, d.sessions.deleted)
	assert.Equal(t, "ev-1", d.replier.replies[3].Data.(ApplianceCommandResult).EventId)
	assert.Equal(t, "r2", d.replier.replies[4].Data.(*entities.ConferenceSession).RoomId)
}
