package config

import (
	"errors"
	"fmt"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
	"recording-orchestrator/pkg/appliance"
	"strings"
	"time"
)

type Config struct {
	App         App
	Server      Server
	Persistence Persistence
	Queue       *RabbitMQ
	Redis       Redis
	LiveKit     LiveKit
	Opencast    Opencast
	Appliances  []appliance.Device
	MinIO       MinIO
	Storage     *minio.Client
	Pool        Pool
	Recordings  Recordings
	Intervals   Intervals
	Attach      Attach
}

type App struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
	Workers  int    `yaml:"workers"`
}

type Persistence struct {
	// Driver is "postgres" or "memory".
	Driver      string `yaml:"driver"`
	DSN         string `yaml:"dsn"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LiveKit struct {
	URL           string `yaml:"url"`
	APIKey        string `yaml:"api_key"`
	APISecret     string `yaml:"api_secret"`
	WebhookSecret string `yaml:"webhook_secret"`
	Layout        string `yaml:"layout"`
	FileTemplate  string `yaml:"file_template"`
}

type Opencast struct {
	URL         string        `yaml:"url"`
	User        string        `yaml:"user"`
	Password    string        `yaml:"password"`
	Workflow    string        `yaml:"workflow"`
	AgentPrefix string        `yaml:"agent_prefix"`
	ACLRoles    []string      `yaml:"acl_roles"`
	Timeout     time.Duration `yaml:"timeout"`
}

type MinIO struct {
	Enabled         bool   `yaml:"enabled"`
	URL             string `yaml:"url"`
	AccessId        string `yaml:"access_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	Secure          bool   `yaml:"secure"`
}

type Pool struct {
	Size         int           `yaml:"size"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

type Recordings struct {
	BasePath       string        `yaml:"base_path"`
	ApplianceSlack time.Duration `yaml:"appliance_slack"`
}

type Intervals struct {
	Discovery             time.Duration `yaml:"discovery"`
	RoomSync              time.Duration `yaml:"room_sync"`
	EgressSync            time.Duration `yaml:"egress_sync"`
	EgressOrphanThreshold time.Duration `yaml:"egress_orphan_threshold"`
}

type Attach struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxPolls     int           `yaml:"max_polls"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

type RabbitMQ struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	User        string `json:"user"`
	Pass        string `json:"pass"`
	Kind        string `json:"kind"`
	MaxAttempts int    `json:"max_attempts"`
}

func (r *RabbitMQ) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", r.User, r.Pass, r.Host, r.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "recording-orchestrator")
	v.SetDefault("app.environment", "develop")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.workers", 4)
	v.SetDefault("persistence.driver", "postgres")
	v.SetDefault("persistence.auto_migrate", true)
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.kind", "direct")
	v.SetDefault("rabbitmq.max_attempts", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("livekit.layout", "speaker")
	v.SetDefault("livekit.file_template", "{room}/{room}-{time}.mp4")
	v.SetDefault("opencast.workflow", "schedule-and-upload")
	v.SetDefault("opencast.agent_prefix", "recorder-")
	v.SetDefault("opencast.acl_roles", []string{"ROLE_ADMIN"})
	v.SetDefault("opencast.timeout", "30s")
	v.SetDefault("pool.size", 2)
	v.SetDefault("pool.ping_interval", "2s")
	v.SetDefault("recordings.base_path", "/recordings")
	v.SetDefault("recordings.appliance_slack", "5m")
	v.SetDefault("intervals.discovery", "1m")
	v.SetDefault("intervals.room_sync", "30s")
	v.SetDefault("intervals.egress_sync", "45s")
	v.SetDefault("intervals.egress_orphan_threshold", "5m")
	v.SetDefault("attach.poll_interval", "5s")
	v.SetDefault("attach.max_polls", 60)
	v.SetDefault("attach.max_attempts", 5)
}

// Load reads config.yaml from path. Every key can be overridden from the
// environment, e.g. RABBITMQ_HOST for rabbitmq.host.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	devices, err := loadAppliances(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: App{
			Name:        v.GetString("app.name"),
			Environment: v.GetString("app.environment"),
			LogLevel:    v.GetString("app.log_level"),
		},
		Server: Server{
			HttpPort: v.GetString("server.port"),
			Workers:  v.GetInt("server.workers"),
		},
		Persistence: Persistence{
			Driver:      v.GetString("persistence.driver"),
			DSN:         v.GetString("postgres.dsn"),
			AutoMigrate: v.GetBool("persistence.auto_migrate"),
		},
		Queue: &RabbitMQ{
			Host:        v.GetString("rabbitmq.host"),
			Port:        v.GetInt("rabbitmq.port"),
			User:        v.GetString("rabbitmq.user"),
			Pass:        v.GetString("rabbitmq.pass"),
			Kind:        v.GetString("rabbitmq.kind"),
			MaxAttempts: v.GetInt("rabbitmq.max_attempts"),
		},
		Redis: Redis{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		LiveKit: LiveKit{
			URL:           v.GetString("livekit.url"),
			APIKey:        v.GetString("livekit.api_key"),
			APISecret:     v.GetString("livekit.api_secret"),
			WebhookSecret: v.GetString("livekit.webhook_secret"),
			Layout:        v.GetString("livekit.layout"),
			FileTemplate:  v.GetString("livekit.file_template"),
		},
		Opencast: Opencast{
			URL:         v.GetString("opencast.url"),
			User:        v.GetString("opencast.user"),
			Password:    v.GetString("opencast.password"),
			Workflow:    v.GetString("opencast.workflow"),
			AgentPrefix: v.GetString("opencast.agent_prefix"),
			ACLRoles:    v.GetStringSlice("opencast.acl_roles"),
			Timeout:     v.GetDuration("opencast.timeout"),
		},
		Appliances: devices,
		MinIO: MinIO{
			Enabled:         v.GetBool("minio.enabled"),
			URL:             v.GetString("minio.url"),
			AccessId:        v.GetString("minio.access_id"),
			SecretAccessKey: v.GetString("minio.secret_access_key"),
			Bucket:          v.GetString("minio.bucket"),
			Secure:          v.GetBool("minio.secure"),
		},
		Pool: Pool{
			Size:         v.GetInt("pool.size"),
			PingInterval: v.GetDuration("pool.ping_interval"),
		},
		Recordings: Recordings{
			BasePath:       v.GetString("recordings.base_path"),
			ApplianceSlack: v.GetDuration("recordings.appliance_slack"),
		},
		Intervals: Intervals{
			Discovery:             v.GetDuration("intervals.discovery"),
			RoomSync:              v.GetDuration("intervals.room_sync"),
			EgressSync:            v.GetDuration("intervals.egress_sync"),
			EgressOrphanThreshold: v.GetDuration("intervals.egress_orphan_threshold"),
		},
		Attach: Attach{
			PollInterval: v.GetDuration("attach.poll_interval"),
			MaxPolls:     v.GetInt("attach.max_polls"),
			MaxAttempts:  v.GetInt("attach.max_attempts"),
		},
	}

	if cfg.MinIO.Enabled {
		minioClient, err := minio.New(cfg.MinIO.URL, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIO.AccessId, cfg.MinIO.SecretAccessKey, ""),
			Secure: cfg.MinIO.Secure,
		})
		if err != nil {
			return nil, err
		}
		cfg.Storage = minioClient
	}

	return cfg, nil
}

func loadAppliances(v *viper.Viper) ([]appliance.Device, error) {
	var raw []struct {
		Id       string `mapstructure:"id"`
		URL      string `mapstructure:"url"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Channel  string `mapstructure:"channel"`
	}
	if err := v.UnmarshalKey("appliances", &raw); err != nil {
		return nil, fmt.Errorf("appliances: %w", err)
	}

	devices := make([]appliance.Device, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, d := range raw {
		if d.Id == "" || d.URL == "" {
			return nil, fmt.Errorf("appliances: id and url are required")
		}
		if seen[d.Id] {
			return nil, fmt.Errorf("appliances: duplicate id %q", d.Id)
		}
		seen[d.Id] = true
		devices = append(devices, appliance.Device{
			Id:       d.Id,
			URL:      d.URL,
			User:     d.User,
			Password: d.Password,
			Channel:  d.Channel,
		})
	}
	return devices, nil
}

// ApplianceIds lists the configured appliance ids.
func (c *Config) ApplianceIds() []string {
	ids := make([]string, 0, len(c.Appliances))
	for _, d := range c.Appliances {
		ids = append(ids, d.Id)
	}
	return ids
}
