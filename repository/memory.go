package repository

import (
	"context"
	"github.com/google/uuid"
	"recording-orchestrator/constant"
	"recording-orchestrator/entities"
	"slices"
	"sort"
	"sync"
	"time"
)

// memoryRepo is a process-local Repository used for local runs
// (persistence.driver=memory) and service tests. Rows are copied in and out
// so callers never share pointers with the store.
type memoryRepo struct {
	mu          sync.Mutex
	recorders   map[string]*entities.Recorder
	conferences map[uuid.UUID]*entities.ConferenceSession
	egress      map[uuid.UUID]*entities.EgressSession
	events      map[uuid.UUID]*entities.MediaEvent
	jobs        map[uuid.UUID]*entities.UploadJob
	now         func() time.Time
}

func NewMemoryRepo() Repository {
	return &memoryRepo{
		recorders:   make(map[string]*entities.Recorder),
		conferences: make(map[uuid.UUID]*entities.ConferenceSession),
		egress:      make(map[uuid.UUID]*entities.EgressSession),
		events:      make(map[uuid.UUID]*entities.MediaEvent),
		jobs:        make(map[uuid.UUID]*entities.UploadJob),
		now:         time.Now,
	}
}

func (m *memoryRepo) Transaction(ctx context.Context, callback func(ctx context.Context, tx Repository) error) error {
	return callback(ctx, m)
}

func (m *memoryRepo) AutoMigrate(ctx context.Context) error {
	return nil
}

func (m *memoryRepo) ListRecorders(ctx context.Context) ([]*entities.Recorder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entities.Recorder, 0, len(m.recorders))
	for _, r := range m.recorders {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RecorderId < out[j].RecorderId
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *memoryRepo) CreateRecorder(ctx context.Context, recorder *entities.Recorder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recorders[recorder.RecorderId]; ok {
		return ErrDuplicate
	}
	now := m.now()
	recorder.CreatedAt, recorder.UpdatedAt = now, now
	cp := *recorder
	m.recorders[recorder.RecorderId] = &cp
	return nil
}

func (m *memoryRepo) DeleteRecorder(ctx context.Context, recorderId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recorders[recorderId]
	if !ok || r.IsRecording {
		return ErrNotFound
	}
	delete(m.recorders, recorderId)
	return nil
}

func (m *memoryRepo) ClaimRecorder(ctx context.Context, recorderId string, roomId string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recorders[recorderId]
	if !ok || r.IsRecording {
		return false, nil
	}
	r.IsRecording = true
	r.RoomId = roomId
	r.UpdatedAt = m.now()
	return true, nil
}

func (m *memoryRepo) FindRecorderByRoom(ctx context.Context, roomId string) (*entities.Recorder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recorders {
		if r.IsRecording && r.RoomId == roomId {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryRepo) ReleaseRecorder(ctx context.Context, recorderId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recorders[recorderId]
	if !ok {
		return ErrNotFound
	}
	r.IsRecording = false
	r.RoomId = ""
	r.UpdatedAt = m.now()
	return nil
}

func (m *memoryRepo) CreateConference(ctx context.Context, conference *entities.ConferenceSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conference.ID == uuid.Nil {
		conference.ID = uuid.New()
	}
	conference.CreatedAt = m.now()
	cp := *conference
	m.conferences[conference.ID] = &cp
	return nil
}

func (m *memoryRepo) ListOpenConferences(ctx context.Context) ([]*entities.ConferenceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entities.ConferenceSession
	for _, c := range m.conferences {
		if c.Ended == nil {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out, nil
}

func (m *memoryRepo) MarkConferenceEnded(ctx context.Context, id uuid.UUID, ended time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conferences[id]
	if !ok {
		return ErrNotFound
	}
	if c.Ended != nil {
		return nil
	}
	c.Ended = &ended
	c.IsActive = false
	c.IsRecording = false
	return nil
}

func (m *memoryRepo) FindLatestConference(ctx context.Context, roomId string) (*entities.ConferenceSession, error) {
	return m.latestConference(func(c *entities.ConferenceSession) bool { return c.RoomId == roomId })
}

func (m *memoryRepo) FindConferenceBySid(ctx context.Context, roomSid string) (*entities.ConferenceSession, error) {
	return m.latestConference(func(c *entities.ConferenceSession) bool { return c.RoomSid == roomSid })
}

func (m *memoryRepo) latestConference(match func(c *entities.ConferenceSession) bool) (*entities.ConferenceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *entities.ConferenceSession
	for _, c := range m.conferences {
		if match(c) && (latest == nil || c.Started.After(latest.Started)) {
			latest = c
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *memoryRepo) SetConferenceRecording(ctx context.Context, id uuid.UUID, recording bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conferences[id]
	if !ok {
		return ErrNotFound
	}
	c.IsRecording = recording
	return nil
}

func (m *memoryRepo) CreateEgressSession(ctx context.Context, session *entities.EgressSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = m.now()
	}
	session.UpdatedAt = session.CreatedAt
	cp := *session
	m.egress[session.ID] = &cp
	return nil
}

func (m *memoryRepo) ListEgressSessionsByRecorder(ctx context.Context, recorderId string, statuses ...constant.EgressStatus) ([]*entities.EgressSession, error) {
	return m.listEgress(func(s *entities.EgressSession) bool {
		return s.RecorderId == recorderId && (len(statuses) == 0 || slices.Contains(statuses, s.Status))
	}), nil
}

func (m *memoryRepo) ListEgressSessionsByStatus(ctx context.Context, statuses ...constant.EgressStatus) ([]*entities.EgressSession, error) {
	return m.listEgress(func(s *entities.EgressSession) bool {
		return len(statuses) == 0 || slices.Contains(statuses, s.Status)
	}), nil
}

func (m *memoryRepo) listEgress(match func(s *entities.EgressSession) bool) []*entities.EgressSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entities.EgressSession
	for _, s := range m.egress {
		if match(s) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *memoryRepo) FindEgressSessionByEgressId(ctx context.Context, egressId string) (*entities.EgressSession, error) {
	for _, s := range m.listEgress(func(s *entities.EgressSession) bool { return s.EgressId == egressId }) {
		return s, nil
	}
	return nil, ErrNotFound
}

func (m *memoryRepo) FindLatestEgressSessionForRoom(ctx context.Context, roomId string) (*entities.EgressSession, error) {
	sessions := m.listEgress(func(s *entities.EgressSession) bool { return s.RoomId == roomId })
	if len(sessions) == 0 {
		return nil, ErrNotFound
	}
	return sessions[len(sessions)-1], nil
}

func (m *memoryRepo) UpdateEgressStatus(ctx context.Context, id uuid.UUID, status constant.EgressStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.egress[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = status
	s.UpdatedAt = m.now()
	return nil
}

func (m *memoryRepo) MarkEgressFilesUploaded(ctx context.Context, roomId string, recorderId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.egress {
		if s.RoomId == roomId && s.RecorderId == recorderId && s.Status == constant.EgressStatusComplete {
			s.FilesUploaded = true
		}
	}
	return nil
}

func (m *memoryRepo) SaveMediaEvent(ctx context.Context, event *entities.MediaEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
		event.CreatedAt = m.now()
	}
	event.UpdatedAt = m.now()
	cp := *event
	m.events[event.ID] = &cp
	return nil
}

func (m *memoryRepo) FindScheduledMediaEvent(ctx context.Context, roomSid string, recorderId string) (*entities.MediaEvent, error) {
	events := m.listEvents(func(e *entities.MediaEvent) bool {
		return e.RoomSid == roomSid && e.RecorderId == recorderId && e.EventId != "" &&
			slices.Contains(constant.ReusableRecordingStates, e.RecordingState)
	})
	if len(events) == 0 {
		return nil, ErrNotFound
	}
	return events[len(events)-1], nil
}

func (m *memoryRepo) FindMediaEventByEventId(ctx context.Context, eventId string) (*entities.MediaEvent, error) {
	for _, e := range m.listEvents(func(e *entities.MediaEvent) bool { return e.EventId == eventId }) {
		return e, nil
	}
	return nil, ErrNotFound
}

func (m *memoryRepo) ListMediaEventsByRecorder(ctx context.Context, recorderId string, states ...constant.RecordingState) ([]*entities.MediaEvent, error) {
	return m.listEvents(func(e *entities.MediaEvent) bool {
		return e.RecorderId == recorderId && (len(states) == 0 || slices.Contains(states, e.RecordingState))
	}), nil
}

func (m *memoryRepo) listEvents(match func(e *entities.MediaEvent) bool) []*entities.MediaEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entities.MediaEvent
	for _, e := range m.events {
		if match(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func (m *memoryRepo) CreateUploadJob(ctx context.Context, job *entities.UploadJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.Key == job.Key {
			return ErrDuplicate
		}
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := m.now()
	job.CreatedAt, job.UpdatedAt = now, now
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memoryRepo) FindUploadJob(ctx context.Context, id uuid.UUID) (*entities.UploadJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memoryRepo) UploadJobExists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.Key == key {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRepo) UpdateUploadJob(ctx context.Context, id uuid.UUID, status constant.JobStatus, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = status
	j.LastError = lastError
	j.UpdatedAt = m.now()
	return nil
}

func (m *memoryRepo) IncrementUploadJobAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return 0, ErrNotFound
	}
	j.Attempts++
	return j.Attempts, nil
}

func (m *memoryRepo) DeleteUploadJob(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}
