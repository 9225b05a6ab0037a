package dto

import (
	"time"
)

// RoomInfo is the conferencing system's view of a live room.
type RoomInfo struct {
	RoomId          string    `json:"roomId"`
	RoomSid         string    `json:"roomSid"`
	Created         time.Time `json:"created"`
	NumParticipants uint32    `json:"numParticipants"`
	IsRecording     bool      `json:"isRecording"`
}

type EgressInfo struct {
	EgressId  string       `json:"egressId"`
	RoomId    string       `json:"roomId"`
	Status    string       `json:"status"`
	StartedAt time.Time    `json:"startedAt"`
	EndedAt   time.Time    `json:"endedAt"`
	Files     []FileResult `json:"files"`
}

type FileResult struct {
	FileName string `json:"fileName"`
	Location string `json:"location"`
	Size     int64  `json:"size"`
	Started  int64  `json:"started"`
}

type IngressInfo struct {
	IngressId  string `json:"ingressId"`
	Name       string `json:"name"`
	RoomId     string `json:"roomId"`
	URL        string `json:"url"`
	StreamKey  string `json:"streamKey"`
	Publishing bool   `json:"publishing"`
	Buffering  bool   `json:"buffering"`
}

// ArchiveFile is a finished file stored on a hardware appliance.
type ArchiveFile struct {
	Id      string    `json:"id"`
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	Created time.Time `json:"created"`
}
