package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"recording-orchestrator/dto"
	"recording-orchestrator/entities"
	"recording-orchestrator/pkg/retry"
	"recording-orchestrator/repository"
	"time"
)

var ErrRoomNotActive = errors.New("room is not active")

type ConferenceService interface {
	CreateRoom(ctx context.Context, cmd dto.CreateRoomCommand) (*entities.ConferenceSession, error)
	// Resolve returns the open conference for roomId, creating the record from the live room if needed.
	Resolve(ctx context.Context, roomId string) (*entities.ConferenceSession, error)
	MarkEnded(ctx context.Context, roomId string, roomSid string, at time.Time) error
}

type conferenceService struct {
	repo   repository.ConferenceRepository
	api    ConferenceAPI
	policy retry.Policy
}

func NewConferenceService(repo repository.ConferenceRepository, api ConferenceAPI, policy retry.Policy) ConferenceService {
	return &conferenceService{repo: repo, api: api, policy: policy}
}

func (s *conferenceService) CreateRoom(ctx context.Context, cmd dto.CreateRoomCommand) (*entities.ConferenceSession, error) {
	room, err := retry.Do(ctx, s.policy, "room.create", func(ctx context.Context) (*dto.RoomInfo, error) {
		return s.api.CreateRoom(ctx, cmd.RoomId, cmd.EmptyTimeout, cmd.MaxParticipants)
	})
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	conference := &entities.ConferenceSession{
		RoomId:   cmd.RoomId,
		RoomSid:  room.RoomSid,
		Title:    cmd.Title,
		Started:  room.Created,
		IsActive: true,
	}
	if conference.Started.IsZero() {
		conference.Started = time.Now()
	}
	if err := s.repo.CreateConference(ctx, conference); err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("room_id", cmd.RoomId).Str("room_sid", room.RoomSid).Msg("conference created")
	return conference, nil
}

func (s *conferenceService) Resolve(ctx context.Context, roomId string) (*entities.ConferenceSession, error) {
	conference, err := s.repo.FindLatestConference(ctx, roomId)
	if err == nil && conference.Ended == nil {
		return conference, nil
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	room, err := retry.Do(ctx, s.policy, "room.get", func(ctx context.Context) (*dto.RoomInfo, error) {
		return s.api.ActiveRoom(ctx, roomId)
	})
	if err != nil {
		return nil, fmt.Errorf("get active room: %w", err)
	}
	if room == nil {
		return nil, ErrRoomNotActive
	}

	conference = &entities.ConferenceSession{
		RoomId:      roomId,
		RoomSid:     room.RoomSid,
		Started:     room.Created,
		IsActive:    true,
		IsRecording: room.IsRecording,
	}
	if conference.Started.IsZero() {
		conference.Started = time.Now()
	}
	if err := s.repo.CreateConference(ctx, conference); err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("room_id", roomId).Str("room_sid", room.RoomSid).Msg("conference record created from live room")
	return conference, nil
}

func (s *conferenceService) MarkEnded(ctx context.Context, roomId string, roomSid string, at time.Time) error {
	var (
		conference *entities.ConferenceSession
		err        error
	)
	if roomSid != "" {
		conference, err = s.repo.FindConferenceBySid(ctx, roomSid)
	} else {
		conference, err = s.repo.FindLatestConference(ctx, roomId)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.repo.MarkConferenceEnded(ctx, conference.ID, at)
}
