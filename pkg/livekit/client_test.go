package livekit

import (
	"github.com/livekit/protocol/livekit"
	"github.com/stretchr/testify/assert"
	"recording-orchestrator/dto"
	"testing"
	"time"
)

func TestToRoom(t *testing.T) {
	room := toRoom(&livekit.Room{Sid: "RM_1", Name: "lecture", CreationTime: 1700000000, NumParticipants: 3, ActiveRecording: true})
	assert.Equal(t, dto.RoomInfo{
		RoomId:          "lecture",
		RoomSid:         "RM_1",
		Created:         time.Unix(1700000000, 0),
		NumParticipants: 3,
		IsRecording:     true,
	}, room)
}

func TestToEgress(t *testing.T) {
	started := time.Unix(1700000000, 0)
	info := toEgress(&livekit.EgressInfo{
		EgressId:  "EG_1",
		RoomName:  "lecture",
		Status:    livekit.EgressStatus_EGRESS_COMPLETE,
		StartedAt: started.UnixNano(),
		FileResults: []*livekit.FileInfo{{
			Filename:  "lecture/lecture-1700000000.mp4",
			StartedAt: started.UnixNano(),
			Size:      42,
			Location:  "s3://bucket/lecture-1700000000.mp4",
		}},
	})

	assert.Equal(t, "EG_1", info.EgressId)
	assert.Equal(t, "EGRESS_COMPLETE", info.Status)
	assert.True(t, info.StartedAt.Equal(started))
	assert.True(t, info.EndedAt.IsZero())
	assert.Equal(t, []dto.FileResult{{
		FileName: "lecture/lecture-1700000000.mp4",
		Location: "s3://bucket/lecture-1700000000.mp4",
		Size:     42,
		Started:  1700000000,
	}}, info.Files)
}

func TestToIngress_EndpointState(t *testing.T) {
	cases := []struct {
		status     livekit.IngressState_Status
		publishing bool
		buffering  bool
	}{
		{livekit.IngressState_ENDPOINT_INACTIVE, false, false},
		{livekit.IngressState_ENDPOINT_BUFFERING, false, true},
		{livekit.IngressState_ENDPOINT_PUBLISHING, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.status.String(), func(t *testing.T) {
			info := toIngress(&livekit.IngressInfo{
				IngressId: "IN_1",
				Name:      "lecture-pearl-1",
				RoomName:  "lecture",
				State:     &livekit.IngressState{Status: tc.status},
			})
			assert.Equal(t, tc.publishing, info.Publishing)
			assert.Equal(t, tc.buffering, info.Buffering)
			assert.Equal(t, "lecture", info.RoomId)
		})
	}

	assert.False(t, toIngress(&livekit.IngressInfo{IngressId: "IN_2"}).Publishing)
}
