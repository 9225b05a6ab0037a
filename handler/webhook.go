package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"io"
	"net/http"
	"recording-orchestrator/constant"
	"recording-orchestrator/dto"
	"recording-orchestrator/metrics"
	"time"
)

const SignatureHeader = "X-Signature"

const maxWebhookBody = 1 << 20

// EventPublisher re-emits verified lifecycle events onto the event bus.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event dto.Event) error
}

type webhookPayload struct {
	Event      string         `json:"event"`
	CreatedAt  int64          `json:"createdAt"`
	Room       *webhookRoom   `json:"room"`
	EgressInfo *webhookEgress `json:"egressInfo"`
}

type webhookRoom struct {
	Sid  string `json:"sid"`
	Name string `json:"name"`
}

type webhookEgress struct {
	EgressId    string        `json:"egressId"`
	RoomName    string        `json:"roomName"`
	FileResults []webhookFile `json:"fileResults"`
}

type webhookFile struct {
	Filename  string `json:"filename"`
	Location  string `json:"location"`
	Size      int64  `json:"size"`
	StartedAt int64  `json:"startedAt"`
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func verify(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// Webhook verifies conferencing lifecycle notifications and forwards the
// room-finished and egress-ended kinds. Publish failures are logged and
// acknowledged since the sender redelivers on its own schedule.
func Webhook(secret string, publisher EventPublisher) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		log := zerolog.Ctx(ctx)

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			metrics.RecordWebhook("invalid")
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		if !verify(secret, body, c.GetHeader(SignatureHeader)) {
			metrics.RecordWebhook("unauthorized")
			log.Warn().Str("remote", c.ClientIP()).Msg("webhook signature rejected")
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			metrics.RecordWebhook("invalid")
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
			return
		}

		event, ok := toEvent(payload)
		if !ok {
			metrics.RecordWebhook("ignored")
			c.Status(http.StatusOK)
			return
		}

		if err := publisher.PublishEvent(ctx, event); err != nil {
			metrics.RecordWebhook("error")
			log.Error().Err(err).Str("kind", string(event.Kind)).Str("room_id", event.RoomId).Msg("failed to forward webhook event")
			c.Status(http.StatusOK)
			return
		}

		metrics.RecordWebhook("accepted")
		log.Info().Str("kind", string(event.Kind)).Str("room_id", event.RoomId).Msg("webhook event forwarded")
		c.Status(http.StatusOK)
	}
}

func toEvent(p webhookPayload) (dto.Event, bool) {
	at := time.Now()
	if p.CreatedAt > 0 {
		at = time.Unix(p.CreatedAt, 0)
	}

	switch constant.EventKind(p.Event) {
	case constant.EventRoomFinished:
		if p.Room == nil || p.Room.Name == "" {
			return dto.Event{}, false
		}
		return dto.Event{
			Kind:    constant.EventRoomFinished,
			RoomId:  p.Room.Name,
			RoomSid: p.Room.Sid,
			At:      at,
		}, true

	case constant.EventEgressEnded:
		if p.EgressInfo == nil || p.EgressInfo.EgressId == "" {
			return dto.Event{}, false
		}
		event := dto.Event{
			Kind:     constant.EventEgressEnded,
			RoomId:   p.EgressInfo.RoomName,
			EgressId: p.EgressInfo.EgressId,
			At:       at,
		}
		if p.Room != nil {
			event.RoomSid = p.Room.Sid
		}
		for _, f := range p.EgressInfo.FileResults {
			event.Files = append(event.Files, dto.FileResult{
				FileName: f.Filename,
				Location: f.Location,
				Size:     f.Size,
				Started:  time.Unix(0, f.StartedAt).Unix(),
			})
		}
		return event, true
	}
	return dto.Event{}, false
}
