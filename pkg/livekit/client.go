// Package livekit adapts the LiveKit server APIs to the orchestrator's
// conferencing, egress and ingress ports.
package livekit

import (
	"context"
	"fmt"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"recording-orchestrator/dto"
	"time"
)

type Config struct {
	URL       string
	APIKey    string
	APISecret string
	// Layout is the room-composite layout, e.g. "speaker" or "grid".
	Layout string
}

type Client struct {
	rooms   *lksdk.RoomServiceClient
	egress  *lksdk.EgressClient
	ingress *lksdk.IngressClient
	layout  string
}

func New(cfg Config) *Client {
	return &Client{
		rooms:   lksdk.NewRoomServiceClient(cfg.URL, cfg.APIKey, cfg.APISecret),
		egress:  lksdk.NewEgressClient(cfg.URL, cfg.APIKey, cfg.APISecret),
		ingress: lksdk.NewIngressClient(cfg.URL, cfg.APIKey, cfg.APISecret),
		layout:  cfg.Layout,
	}
}

func (c *Client) ActiveRooms(ctx context.Context) ([]dto.RoomInfo, error) {
	return c.listRooms(ctx, nil)
}

func (c *Client) IsRoomActive(ctx context.Context, roomId string) (bool, error) {
	room, err := c.ActiveRoom(ctx, roomId)
	if err != nil {
		return false, err
	}
	return room != nil, nil
}

// ActiveRoom returns nil without error when the room is not live.
func (c *Client) ActiveRoom(ctx context.Context, roomId string) (*dto.RoomInfo, error) {
	rooms, err := c.listRooms(ctx, []string{roomId})
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

func (c *Client) listRooms(ctx context.Context, names []string) ([]dto.RoomInfo, error) {
	resp, err := c.rooms.ListRooms(ctx, &livekit.ListRoomsRequest{Names: names})
	if err != nil {
		return nil, fmt.Errorf("livekit list rooms: %w", err)
	}
	rooms := make([]dto.RoomInfo, 0, len(resp.GetRooms()))
	for _, r := range resp.GetRooms() {
		rooms = append(rooms, toRoom(r))
	}
	return rooms, nil
}

func (c *Client) CreateRoom(ctx context.Context, roomId string, emptyTimeout uint32, maxParticipants uint32) (*dto.RoomInfo, error) {
	room, err := c.rooms.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:            roomId,
		EmptyTimeout:    emptyTimeout,
		MaxParticipants: maxParticipants,
	})
	if err != nil {
		return nil, fmt.Errorf("livekit create room: %w", err)
	}
	info := toRoom(room)
	return &info, nil
}

func (c *Client) StartRoomComposite(ctx context.Context, roomId string, filepath string) (*dto.EgressInfo, error) {
	info, err := c.egress.StartRoomCompositeEgress(ctx, &livekit.RoomCompositeEgressRequest{
		RoomName: roomId,
		Layout:   c.layout,
		FileOutputs: []*livekit.EncodedFileOutput{{
			FileType: livekit.EncodedFileType_MP4,
			Filepath: filepath,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("livekit start egress: %w", err)
	}
	out := toEgress(info)
	return &out, nil
}

func (c *Client) StopEgress(ctx context.Context, egressId string) (*dto.EgressInfo, error) {
	info, err := c.egress.StopEgress(ctx, &livekit.StopEgressRequest{EgressId: egressId})
	if err != nil {
		return nil, fmt.Errorf("livekit stop egress %s: %w", egressId, err)
	}
	out := toEgress(info)
	return &out, nil
}

func (c *Client) ListEgress(ctx context.Context, roomId string, active bool) ([]dto.EgressInfo, error) {
	resp, err := c.egress.ListEgress(ctx, &livekit.ListEgressRequest{RoomName: roomId, Active: active})
	if err != nil {
		return nil, fmt.Errorf("livekit list egress: %w", err)
	}
	items := make([]dto.EgressInfo, 0, len(resp.GetItems()))
	for _, info := range resp.GetItems() {
		items = append(items, toEgress(info))
	}
	return items, nil
}

func (c *Client) ListIngress(ctx context.Context, roomId string) ([]dto.IngressInfo, error) {
	resp, err := c.ingress.ListIngress(ctx, &livekit.ListIngressRequest{RoomName: roomId})
	if err != nil {
		return nil, fmt.Errorf("livekit list ingress: %w", err)
	}
	items := make([]dto.IngressInfo, 0, len(resp.GetItems()))
	for _, info := range resp.GetItems() {
		items = append(items, toIngress(info))
	}
	return items, nil
}

func (c *Client) CreateIngress(ctx context.Context, roomId string, name string, identity string) (*dto.IngressInfo, error) {
	info, err := c.ingress.CreateIngress(ctx, &livekit.CreateIngressRequest{
		InputType:           livekit.IngressInput_RTMP_INPUT,
		Name:                name,
		RoomName:            roomId,
		ParticipantIdentity: identity,
		ParticipantName:     identity,
	})
	if err != nil {
		return nil, fmt.Errorf("livekit create ingress: %w", err)
	}
	out := toIngress(info)
	return &out, nil
}

func (c *Client) DeleteIngress(ctx context.Context, ingressId string) error {
	if _, err := c.ingress.DeleteIngress(ctx, &livekit.DeleteIngressRequest{IngressId: ingressId}); err != nil {
		return fmt.Errorf("livekit delete ingress %s: %w", ingressId, err)
	}
	return nil
}

func toRoom(r *livekit.Room) dto.RoomInfo {
	return dto.RoomInfo{
		RoomId:          r.GetName(),
		RoomSid:         r.GetSid(),
		Created:         time.Unix(r.GetCreationTime(), 0),
		NumParticipants: r.GetNumParticipants(),
		IsRecording:     r.GetActiveRecording(),
	}
}

func toEgress(info *livekit.EgressInfo) dto.EgressInfo {
	out := dto.EgressInfo{
		EgressId: info.GetEgressId(),
		RoomId:   info.GetRoomName(),
		Status:   info.GetStatus().String(),
	}
	if ns := info.GetStartedAt(); ns > 0 {
		out.StartedAt = time.Unix(0, ns)
	}
	if ns := info.GetEndedAt(); ns > 0 {
		out.EndedAt = time.Unix(0, ns)
	}
	for _, f := range info.GetFileResults() {
		out.Files = append(out.Files, dto.FileResult{
			FileName: f.GetFilename(),
			Location: f.GetLocation(),
			Size:     f.GetSize(),
			Started:  time.Unix(0, f.GetStartedAt()).Unix(),
		})
	}
	return out
}

func toIngress(info *livekit.IngressInfo) dto.IngressInfo {
	status := info.GetState().GetStatus()
	return dto.IngressInfo{
		IngressId:  info.GetIngressId(),
		Name:       info.GetName(),
		RoomId:     info.GetRoomName(),
		URL:        info.GetUrl(),
		StreamKey:  info.GetStreamKey(),
		Publishing: status == livekit.IngressState_ENDPOINT_PUBLISHING,
		Buffering:  status == livekit.IngressState_ENDPOINT_BUFFERING,
	}
}
