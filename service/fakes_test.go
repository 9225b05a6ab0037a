package service

import (
	"context"
	"errors"
	"fmt"
	"recording-orchestrator/dto"
	"recording-orchestrator/entities"
	"recording-orchestrator/pkg/coordination"
	"recording-orchestrator/pkg/retry"
	"sync"
	"time"
)

var fastPolicy = retry.Policy{
	InitialInterval: time.Millisecond,
	Multiplier:      1,
	MaxInterval:     time.Millisecond,
	MaxTries:        2,
}

type fakeRooms struct {
	mu      sync.Mutex
	rooms   []dto.RoomInfo
	err     error
	created []string
}

func (f *fakeRooms) ActiveRooms(ctx context.Context) ([]dto.RoomInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]dto.RoomInfo(nil), f.rooms...), nil
}

func (f *fakeRooms) IsRoomActive(ctx context.Context, roomId string) (bool, error) {
	room, err := f.ActiveRoom(ctx, roomId)
	return room != nil, err
}

func (f *fakeRooms) ActiveRoom(ctx context.Context, roomId string) (*dto.RoomInfo, error) {
	rooms, err := f.ActiveRooms(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range rooms {
		if r.RoomId == roomId {
			found := r
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakeRooms) CreateRoom(ctx context.Context, roomId string, emptyTimeout uint32, maxParticipants uint32) (*dto.RoomInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room := dto.RoomInfo{RoomId: roomId, RoomSid: "RM_" + roomId, Created: time.Unix(1000, 0)}
	f.rooms = append(f.rooms, room)
	f.created = append(f.created, roomId)
	return &room, nil
}

type fakeEgress struct {
	mu        sync.Mutex
	seq       int
	startErr  error
	stopErr   error
	stopCalls int
	files     []dto.FileResult
	started   []string
}

func (f *fakeEgress) StartRoomComposite(ctx context.Context, roomId string, filepath string) (*dto.EgressInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.seq++
	f.started = append(f.started, filepath)
	return &dto.EgressInfo{EgressId: fmt.Sprintf("EG_%d", f.seq), RoomId: roomId, Status: "EGRESS_ACTIVE"}, nil
}

func (f *fakeEgress) StopEgress(ctx context.Context, egressId string) (*dto.EgressInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	if f.stopErr != nil {
		return nil, f.stopErr
	}
	return &dto.EgressInfo{EgressId: egressId, Files: f.files}, nil
}

func (f *fakeEgress) ListEgress(ctx context.Context, roomId string, active bool) ([]dto.EgressInfo, error) {
	return nil, nil
}

type fakeIngress struct {
	mu        sync.Mutex
	endpoints []dto.IngressInfo
	created   int
	deleted   []string
	deleteErr error
}

func (f *fakeIngress) ListIngress(ctx context.Context, roomId string) ([]dto.IngressInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []dto.IngressInfo
	for _, in := range f.endpoints {
		if in.RoomId == roomId {
			out = append(out, in)
		}
	}
	return out, nil
}

func (f *fakeIngress) CreateIngress(ctx context.Context, roomId string, name string, identity string) (*dto.IngressInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	in := dto.IngressInfo{
		IngressId: fmt.Sprintf("IN_%d", f.created),
		Name:      name,
		RoomId:    roomId,
		URL:       "rtmp://ingress.local/x",
		StreamKey: fmt.Sprintf("key-%d", f.created),
	}
	f.endpoints = append(f.endpoints, in)
	return &in, nil
}

func (f *fakeIngress) DeleteIngress(ctx context.Context, ingressId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, ingressId)
	kept := f.endpoints[:0]
	for _, in := range f.endpoints {
		if in.IngressId != ingressId {
			kept = append(kept, in)
		}
	}
	f.endpoints = kept
	return nil
}

type fakeMedia struct {
	mu              sync.Mutex
	packages        int
	series          map[string]string
	recordingStates map[string][]string
	agentStates     map[string][]string
	tracks          []string
	ingested        []string
	scheduled       []ScheduleRequest
	updated         []string
	stateErr        error
	trackErr        error
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{
		series:          make(map[string]string),
		recordingStates: make(map[string][]string),
		agentStates:     make(map[string][]string),
	}
}

func (f *fakeMedia) CreateMediaPackage(ctx context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packages++
	return "<mediapackage id=\"" + id + "\"/>", nil
}

func (f *fakeMedia) AddCatalog(ctx context.Context, mediaPackage string, flavor string, catalog string) (string, error) {
	return mediaPackage, nil
}

func (f *fakeMedia) AddAttachment(ctx context.Context, mediaPackage string, flavor string, name string, content string) (string, error) {
	return mediaPackage, nil
}

func (f *fakeMedia) AddTrack(ctx context.Context, mediaPackage string, flavor string, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trackErr != nil {
		return "", f.trackErr
	}
	f.tracks = append(f.tracks, flavor+"="+path)
	return mediaPackage, nil
}

func (f *fakeMedia) Ingest(ctx context.Context, mediaPackage string, workflow string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested = append(f.ingested, workflow)
	return nil
}

func (f *fakeMedia) Schedule(ctx context.Context, req ScheduleRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, req)
	return nil
}

func (f *fakeMedia) UpdateSchedule(ctx context.Context, eventId string, start time.Time, end time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, eventId)
	return nil
}

func (f *fakeMedia) SetAgentState(ctx context.Context, agent string, state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stateErr != nil {
		return f.stateErr
	}
	f.agentStates[agent] = append(f.agentStates[agent], state)
	return nil
}

func (f *fakeMedia) SetRecordingState(ctx context.Context, eventId string, state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stateErr != nil {
		return f.stateErr
	}
	f.recordingStates[eventId] = append(f.recordingStates[eventId], state)
	return nil
}

func (f *fakeMedia) FindSeries(ctx context.Context, title string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.series[title], nil
}

func (f *fakeMedia) CreateSeries(ctx context.Context, title string, acl string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "series-" + title
	f.series[title] = id
	return id, nil
}

func (f *fakeMedia) ACL(ctx context.Context, roles []string) (string, error) {
	return "<Policy/>", nil
}

type fakeAppliances struct {
	mu        sync.Mutex
	started   []string
	stopped   []string
	archive   map[string][]dto.ArchiveFile
	downloads []string
	err       error
}

func (f *fakeAppliances) StartRecording(ctx context.Context, deviceId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.started = append(f.started, deviceId)
	return nil
}

func (f *fakeAppliances) StopRecording(ctx context.Context, deviceId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.stopped = append(f.stopped, deviceId)
	return nil
}

func (f *fakeAppliances) Ping(ctx context.Context, deviceId string) error {
	return f.err
}

func (f *fakeAppliances) ListArchive(ctx context.Context, deviceId string) ([]dto.ArchiveFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.archive[deviceId], nil
}

func (f *fakeAppliances) DownloadArchive(ctx context.Context, deviceId string, file dto.ArchiveFile, dest string) error {
	f.mu.Lock()
	f.downloads = append(f.downloads, dest)
	f.mu.Unlock()
	return writeFile(dest)
}

type fakePublisher struct {
	mu      sync.Mutex
	uploads []dto.UploadJobMessage
	attachs []dto.AttachJobMessage
	err     error
}

func (f *fakePublisher) PublishUploadJob(ctx context.Context, job dto.UploadJobMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.uploads = append(f.uploads, job)
	return nil
}

func (f *fakePublisher) PublishAttachJob(ctx context.Context, job dto.AttachJobMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.attachs = append(f.attachs, job)
	return nil
}

type fakeArchiver struct {
	paths []string
}

func (f *fakeArchiver) Archive(ctx context.Context, conference entities.ConferenceSession, paths []string) error {
	f.paths = append(f.paths, paths...)
	return nil
}

type fakeLiveness struct {
	mu       sync.Mutex
	seeded   map[string]int
	progress map[string]int
	pings    int
	pingErr  error
}

func newFakeLiveness() *fakeLiveness {
	return &fakeLiveness{seeded: make(map[string]int), progress: make(map[string]int)}
}

func (f *fakeLiveness) Seed(ctx context.Context, recorderId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeded[recorderId]++
	return nil
}

func (f *fakeLiveness) Ping(ctx context.Context, recorderId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.pingErr
}

func (f *fakeLiveness) SetProgress(ctx context.Context, recorderId string, progress int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress[recorderId] = progress
	return nil
}

func (f *fakeLiveness) Remove(ctx context.Context, recorderId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seeded, recorderId)
	return nil
}

var _ LivenessStore = (*coordination.Store)(nil)

var errBackend = errors.New("backend unavailable")
