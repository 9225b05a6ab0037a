package server

import (
	"context"
	"errors"
	"fmt"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"net"
	"net/http"
	"os"
	"os/signal"
	"recording-orchestrator/config"
	"recording-orchestrator/constant"
	jobHandler "recording-orchestrator/handler"
	"recording-orchestrator/pkg/rabbitmq"
	"recording-orchestrator/service"
	"syscall"
	"time"
)

func RunHttp(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(SetupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		return fmt.Errorf("connect rabbitmq: %w", err)
	}
	publisher, err := rabbitmq.NewPublisher(conn, cfg.Queue)
	if err != nil {
		return fmt.Errorf("rabbitmq publisher: %w", err)
	}
	defer publisher.Close()

	repo, err := OpenRepository(ctx, cfg)
	if err != nil {
		return err
	}
	svc := NewServices(cfg, repo, publisher)
	defer func() {
		if err := svc.Close(); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to close services")
		}
	}()

	if err := svc.Pool.Start(ctx); err != nil {
		return fmt.Errorf("start pool: %w", err)
	}
	if err := svc.Pool.Resize(ctx, cfg.Pool.Size); err != nil {
		return fmt.Errorf("resize pool: %w", err)
	}

	serviceDeps := jobHandler.ServiceDependencies{
		IngestService:     svc.Ingest,
		EventService:      svc.Events,
		RecordingService:  svc.Recording,
		SessionManager:    svc.Sessions,
		ConferenceService: svc.Conferences,
		Replier:           publisher,
		Validate:          validator.New(),
	}

	g, ctx := errgroup.WithContext(ctx)

	for _, c := range consumers(conn, cfg) {
		g.Go(func() error {
			err := c.Consume(ctx, serviceDeps)
			if err != nil && !errors.Is(err, context.Canceled) {
				zerolog.Ctx(ctx).Error().Err(err).Msg("consumer stopped")
				return err
			}
			return nil
		})
	}

	for _, loop := range svc.Loops(cfg) {
		g.Go(func() error {
			return service.RunLoop(ctx, loop)
		})
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(ctx))
	addHealth(r, svc)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/webhook/livekit", jobHandler.Webhook(cfg.LiveKit.WebhookSecret, publisher))

	handler := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	g.Go(func() error {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Str("addr", handler.Addr).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		zerolog.Ctx(ctx).Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return handler.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
	return err
}

func consumers(conn *amqp.Connection, cfg *config.Config) []rabbitmq.Consumer[jobHandler.ServiceDependencies] {
	exhausted := rabbitmq.WithExhausted(jobHandler.JobExhausted)
	return []rabbitmq.Consumer[jobHandler.ServiceDependencies]{
		rabbitmq.NewConsumer(conn, cfg.Queue, rabbitmq.PrepareQueue, cfg.Server.Workers, jobHandler.PrepareHandler, exhausted),
		rabbitmq.NewConsumer(conn, cfg.Queue, rabbitmq.AttachQueue, cfg.Server.Workers, jobHandler.AttachHandler, exhausted),
		rabbitmq.NewConsumer(conn, cfg.Queue, rabbitmq.EventQueue, 1, jobHandler.EventHandler),
		rabbitmq.NewConsumer(conn, cfg.Queue, rabbitmq.CommandQueue, cfg.Server.Workers, jobHandler.CommandHandler),
	}
}

// addHealth serves liveness; ?deep=true also checks the media-management system.
func addHealth(r *gin.Engine, svc *Services) {
	r.GET("/health", func(c *gin.Context) {
		ctx := c.Request.Context()
		if err := svc.Redis.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "degraded",
				"redis":  err.Error(),
			})
			return
		}
		if c.Query("deep") == "true" {
			if err := svc.Opencast.Health(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":   "degraded",
					"opencast": err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})
}

func requestLogger(ctx context.Context) gin.HandlerFunc {
	log := zerolog.Ctx(ctx)
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(log.WithContext(c.Request.Context()))
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}

// SetupLogger builds the root logger and returns a context carrying it.
func SetupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if cfg.App.LogLevel != "" {
		if level, err := zerolog.ParseLevel(cfg.App.LogLevel); err == nil {
			zerolog.SetGlobalLevel(level)
		}
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.App.Name).Logger()
	return logger.WithContext(context.Background())
}
