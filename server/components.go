package server

import (
	"context"
	"fmt"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"recording-orchestrator/config"
	"recording-orchestrator/pkg/appliance"
	"recording-orchestrator/pkg/coordination"
	"recording-orchestrator/pkg/heartbeat"
	"recording-orchestrator/pkg/livekit"
	"recording-orchestrator/pkg/opencast"
	"recording-orchestrator/pkg/retry"
	"recording-orchestrator/repository"
	"recording-orchestrator/service"
)

// Services is the fully wired control plane.
type Services struct {
	Repo        repository.Repository
	Redis       *redis.Client
	Opencast    *opencast.Client
	Pool        service.PoolManager
	Sessions    service.SessionManager
	Media       service.MediaEventManager
	Conferences service.ConferenceService
	Recording   service.RecordingService
	Events      service.EventService
	Ingest      service.IngestService
	Discovery   service.DiscoveryService
	Reconciler  service.Reconciler
}

func OpenRepository(ctx context.Context, cfg *config.Config) (repository.Repository, error) {
	var repo repository.Repository
	switch cfg.Persistence.Driver {
	case "memory":
		zerolog.Ctx(ctx).Warn().Msg("using in-memory persistence, state is lost on restart")
		return repository.NewMemoryRepo(), nil
	case "postgres", "":
		var err error
		repo, err = repository.Open(cfg.Persistence.DSN, zerolog.Ctx(ctx))
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown persistence driver %q", cfg.Persistence.Driver)
	}

	if cfg.Persistence.AutoMigrate {
		if err := repo.AutoMigrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return repo, nil
}

// NewPool wires the recorder pool to redis liveness.
func NewPool(cfg *config.Config, repo repository.Repository) (service.PoolManager, *redis.Client) {
	client := coordination.NewClient(coordination.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	heartbeats := heartbeat.NewRegistry(cfg.Pool.PingInterval)
	return service.NewPoolManager(repo, coordination.NewStore(client), heartbeats), client
}

func NewServices(cfg *config.Config, repo repository.Repository, publisher service.JobPublisher) *Services {
	policy := retry.DefaultPolicy

	lk := livekit.New(livekit.Config{
		URL:       cfg.LiveKit.URL,
		APIKey:    cfg.LiveKit.APIKey,
		APISecret: cfg.LiveKit.APISecret,
		Layout:    cfg.LiveKit.Layout,
	})
	oc := opencast.New(opencast.Config{
		URL:      cfg.Opencast.URL,
		User:     cfg.Opencast.User,
		Password: cfg.Opencast.Password,
		Timeout:  cfg.Opencast.Timeout,
	}, nil)
	appliances := appliance.New(cfg.Appliances, nil)

	pool, redisClient := NewPool(cfg, repo)

	mediaOpts := service.DefaultMediaEventOptions()
	mediaOpts.AgentPrefix = cfg.Opencast.AgentPrefix
	mediaOpts.Workflow = cfg.Opencast.Workflow
	if len(cfg.Opencast.ACLRoles) > 0 {
		mediaOpts.ACLRoles = cfg.Opencast.ACLRoles
	}
	media := service.NewMediaEventManager(repo, oc, mediaOpts)

	sessionOpts := service.DefaultSessionOptions()
	sessionOpts.FileTemplate = cfg.LiveKit.FileTemplate
	sessions := service.NewSessionManager(repo, lk, lk, media, sessionOpts)

	conferences := service.NewConferenceService(repo, lk, policy)
	recording := service.NewRecordingService(repo, pool, sessions, media, conferences, appliances, cfg.ApplianceIds(), policy)

	var archiver service.Archiver
	if cfg.Storage != nil {
		archiver = service.NewObjectArchiver(cfg.Storage, cfg.MinIO.Bucket)
	}
	ingestOpts := service.DefaultIngestOptions()
	ingestOpts.Workflow = cfg.Opencast.Workflow
	ingestOpts.MaxAttempts = cfg.Attach.MaxAttempts
	ingestOpts.PollInterval = cfg.Attach.PollInterval
	ingestOpts.MaxPolls = cfg.Attach.MaxPolls

	return &Services{
		Repo:        repo,
		Redis:       redisClient,
		Opencast:    oc,
		Pool:        pool,
		Sessions:    sessions,
		Media:       media,
		Conferences: conferences,
		Recording:   recording,
		Events:      service.NewEventService(repo, pool, sessions, recording, conferences),
		Ingest:      service.NewIngestService(repo, media, oc, publisher, archiver, ingestOpts),
		Discovery: service.NewDiscoveryService(repo, lk, appliances, publisher, service.DiscoveryOptions{
			BasePath:       cfg.Recordings.BasePath,
			ApplianceSlack: cfg.Recordings.ApplianceSlack,
			Devices:        cfg.ApplianceIds(),
			RetryPolicy:    policy,
		}),
		Reconciler: service.NewReconciler(repo, lk, sessions, pool, cfg.Intervals.EgressOrphanThreshold, policy),
	}
}

// Loops returns the periodic reconciliation and discovery tasks.
func (s *Services) Loops(cfg *config.Config) []service.Loop {
	return []service.Loop{
		{
			Name:     "discovery",
			Interval: cfg.Intervals.Discovery,
			Run: func(ctx context.Context) error {
				if err := s.Discovery.SyncAppliances(ctx); err != nil {
					zerolog.Ctx(ctx).Warn().Err(err).Msg("appliance sync incomplete")
				}
				_, err := s.Discovery.Discover(ctx)
				return err
			},
		},
		{Name: "room_sync", Interval: cfg.Intervals.RoomSync, Run: s.Reconciler.SyncRooms},
		{Name: "egress_sync", Interval: cfg.Intervals.EgressSync, Run: s.Reconciler.SyncEgress},
	}
}

func (s *Services) Close() error {
	s.Pool.Stop()
	return s.Redis.Close()
}
