package handler

import (
	"bytes"
	"context"
	"errors"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"recording-orchestrator/constant"
	"recording-orchestrator/dto"
	"testing"
)

const testSecret = "webhook-secret"

type fakeEventPublisher struct {
	events []dto.Event
	err    error
}

func (f *fakeEventPublisher) PublishEvent(ctx context.Context, event dto.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func newWebhookRouter(publisher EventPublisher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhook/livekit", Webhook(testSecret, publisher))
	return r
}

func post(r http.Handler, body string, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/livekit", bytes.NewBufferString(body))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	publisher := &fakeEventPublisher{}
	r := newWebhookRouter(publisher)
	body := `{"event":"room_finished","room":{"name":"r1","sid":"RM_1"}}`

	assert.Equal(t, http.StatusUnauthorized, post(r, body, "").Code)
	assert.Equal(t, http.StatusUnauthorized, post(r, body, Sign("other-secret", []byte(body))).Code)
	assert.Equal(t, http.StatusUnauthorized, post(r, body, "zz-not-hex").Code)
	assert.Empty(t, publisher.events)
}

func TestWebhook_ForwardsRoomFinished(t *testing.T) {
	publisher := &fakeEventPublisher{}
	r := newWebhookRouter(publisher)
	body := `{"event":"room_finished","createdAt":1700000000,"room":{"name":"r1","sid":"RM_1"}}`

	w := post(r, body, Sign(testSecret, []byte(body)))
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, publisher.events, 1)
	event := publisher.events[0]
	assert.Equal(t, constant.EventRoomFinished, event.Kind)
	assert.Equal(t, "r1", event.RoomId)
	assert.Equal(t, "RM_1", event.RoomSid)
	assert.Equal(t, int64(1700000000), event.At.Unix())
}

func TestWebhook_ForwardsEgressEndedWithFiles(t *testing.T) {
	publisher := &fakeEventPublisher{}
	r := newWebhookRouter(publisher)
	body := `{"event":"egress_ended","egressInfo":{"egressId":"EG_1","roomName":"r1","fileResults":[{"filename":"r1/r1-100.mp4","size":10,"startedAt":100000000000}]}}`

	require.Equal(t, http.StatusOK, post(r, body, Sign(testSecret, []byte(body))).Code)
	require.Len(t, publisher.events, 1)
	event := publisher.events[0]
	assert.Equal(t, constant.EventEgressEnded, event.Kind)
	assert.Equal(t, "EG_1", event.EgressId)
	assert.Equal(t, []dto.FileResult{{FileName: "r1/r1-100.mp4", Size: 10, Started: 100}}, event.Files)
}

func TestWebhook_IgnoresOtherKinds(t *testing.T) {
	publisher := &fakeEventPublisher{}
	r := newWebhookRouter(publisher)

	for _, body := range []string{
		`{"event":"participant_joined","room":{"name":"r1"}}`,
		`{"event":"egress_started","egressInfo":{"egressId":"EG_1"}}`,
		`{"event":"room_finished"}`,
	} {
		assert.Equal(t, http.StatusOK, post(r, body, Sign(testSecret, []byte(body))).Code)
	}
	assert.Empty(t, publisher.events)

	bad := `{"event":`
	assert.Equal(t, http.StatusBadRequest, post(r, bad, Sign(testSecret, []byte(bad))).Code)
}

func TestWebhook_PublishFailureIsAcknowledged(t *testing.T) {
	publisher := &fakeEventPublisher{err: errors.New("broker down")}
	r := newWebhookRouter(publisher)
	body := `{"event":"room_finished","room":{"name":"r1"}}`

	assert.Equal(t, http.StatusOK, post(r, body, Sign(testSecret, []byte(body))).Code)
}
