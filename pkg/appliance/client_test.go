package appliance

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"recording-orchestrator/dto"
	"recording-orchestrator/pkg/retry"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New([]Device{{Id: "pearl-1", URL: srv.URL, User: "admin", Password: "secret", Channel: "2"}}, srv.Client())
}

func TestClient_ControlUsesChannelAndBasicAuth(t *testing.T) {
	var paths []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		paths = append(paths, r.Method+" "+r.URL.Path)
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	})

	ctx := context.Background()
	require.NoError(t, client.StartRecording(ctx, "pearl-1"))
	require.NoError(t, client.StopRecording(ctx, "pearl-1"))
	require.NoError(t, client.Ping(ctx, "pearl-1"))
	assert.Equal(t, []string{
		"POST /api/v2.0/recorders/2/control/start",
		"POST /api/v2.0/recorders/2/control/stop",
		"GET /api/v2.0/system/status",
	}, paths)
}

func TestClient_UnknownDevice(t *testing.T) {
	client := New(nil, nil)
	assert.ErrorIs(t, client.StartRecording(context.Background(), "nope"), ErrUnknownDevice)
}

func TestClient_ErrorStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"error","message":"recorder busy"}`)
	})
	err := client.StartRecording(context.Background(), "pearl-1")
	var se *retry.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "recorder busy", se.Body)

	unauthorized := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	err = unauthorized.Ping(context.Background(), "pearl-1")
	assert.False(t, retry.Retryable(err))
}

func TestClient_ArchiveListAndDownload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2.0/recorders/2/archive/files":
			_, _ = io.WriteString(w, `{"status":"ok","result":[{"id":"f1","name":"pearl-1-1000.mp4","size":5,"created":1000}]}`)
		case "/api/v2.0/recorders/2/archive/files/f1":
			_, _ = io.WriteString(w, "video")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	files, err := client.ListArchive(ctx, "pearl-1")
	require.NoError(t, err)
	require.Equal(t, []dto.ArchiveFile{{Id: "f1", Name: "pearl-1-1000.mp4", Size: 5, Created: time.Unix(1000, 0)}}, files)

	dest := filepath.Join(t.TempDir(), "pearl-1-1000.mp4")
	require.NoError(t, client.DownloadArchive(ctx, "pearl-1", files[0], dest))
	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "video", string(content))

	missing := dto.ArchiveFile{Id: "gone"}
	assert.Error(t, client.DownloadArchive(ctx, "pearl-1", missing, filepath.Join(t.TempDir(), "x.mp4")))
}
