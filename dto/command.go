package dto

import (
	"encoding/json"
	"recording-orchestrator/constant"
)

// Command is the envelope of every message on the command bus.
type Command struct {
	Type    constant.CommandType `json:"type" validate:"required"`
	Payload json.RawMessage      `json:"payload" validate:"required"`
}

type CommandReply struct {
	Ok    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

type RoomCommand struct {
	RoomId string `json:"roomId" validate:"required,max=255"`
}

type CreateRoomCommand struct {
	RoomId          string `json:"roomId" validate:"required,max=255"`
	Title           string `json:"title" validate:"max=255"`
	EmptyTimeout    uint32 `json:"emptyTimeout"`
	MaxParticipants uint32 `json:"maxParticipants"`
}

type ApplianceCommand struct {
	RoomId   string `json:"roomId" validate:"required,max=255"`
	DeviceId string `json:"deviceId" validate:"required,max=64"`
}

type PingApplianceCommand struct {
	DeviceId string `json:"deviceId" validate:"required,max=64"`
}

type IngressCommand struct {
	RoomId   string `json:"roomId" validate:"required,max=255"`
	DeviceId string `json:"deviceId" validate:"required,max=64"`
}
