package server

import (
	"context"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"recording-orchestrator/config"
	"recording-orchestrator/dto"
	"testing"
	"time"
)

type nopPublisher struct{}

func (nopPublisher) PublishUploadJob(ctx context.Context, job dto.UploadJobMessage) error { return nil }
func (nopPublisher) PublishAttachJob(ctx context.Context, job dto.AttachJobMessage) error { return nil }

func testConfig(redisAddr string) *config.Config {
	return &config.Config{
		App:         config.App{Name: "test", Environment: "develop"},
		Persistence: config.Persistence{Driver: "memory", AutoMigrate: true},
		Queue:       &config.RabbitMQ{Kind: "direct", MaxAttempts: 3},
		Redis:       config.Redis{Addr: redisAddr},
		LiveKit:     config.LiveKit{URL: "http://127.0.0.1:1", FileTemplate: "{room}/{room}.mp4"},
		Opencast:    config.Opencast{URL: "http://127.0.0.1:1", Workflow: "schedule-and-upload", AgentPrefix: "recorder-"},
		Pool:        config.Pool{Size: 2, PingInterval: time.Hour},
		Recordings:  config.Recordings{BasePath: "/tmp"},
		Intervals: config.Intervals{
			Discovery:             time.Minute,
			RoomSync:              30 * time.Second,
			EgressSync:            45 * time.Second,
			EgressOrphanThreshold: 5 * time.Minute,
		},
		Attach: config.Attach{PollInterval: time.Second, MaxPolls: 3, MaxAttempts: 5},
	}
}

func TestOpenRepository(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig("")

	repo, err := OpenRepository(ctx, cfg)
	require.NoError(t, err)
	assert.NotNil(t, repo)

	cfg.Persistence.Driver = "sqlite"
	_, err = OpenRepository(ctx, cfg)
	assert.ErrorContains(t, err, "unknown persistence driver")
}

func TestSetupLogger_LevelOverride(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	SetupLogger(&config.Config{App: config.App{Environment: "develop"}})
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	ctx := SetupLogger(&config.Config{App: config.App{Environment: "production", LogLevel: "warn"}})
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
	assert.NotEqual(t, zerolog.Disabled, zerolog.Ctx(ctx).GetLevel())
}

func TestNewServices_PoolAndLoops(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(mr.Addr())
	ctx := context.Background()

	repo, err := OpenRepository(ctx, cfg)
	require.NoError(t, err)
	svc := NewServices(cfg, repo, nopPublisher{})
	t.Cleanup(func() { _ = svc.Close() })

	require.NoError(t, svc.Pool.Start(ctx))
	require.NoError(t, svc.Pool.Resize(ctx, cfg.Pool.Size))
	recorders, err := repo.ListRecorders(ctx)
	require.NoError(t, err)
	assert.Len(t, recorders, 2)

	loops := svc.Loops(cfg)
	names := make([]string, 0, len(loops))
	for _, l := range loops {
		names = append(names, l.Name)
		assert.Positive(t, l.Interval)
	}
	assert.Equal(t, []string{"discovery", "room_sync", "egress_sync"}, names)
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	cfg := testConfig(mr.Addr())
	repo, err := OpenRepository(context.Background(), cfg)
	require.NoError(t, err)
	svc := NewServices(cfg, repo, nopPublisher{})
	t.Cleanup(func() { _ = svc.Close() })

	r := gin.New()
	addHealth(r, svc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health?deep=true", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "opencast")

	mr.Close()
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
