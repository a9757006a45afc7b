package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Scylla    ScyllaConfig    `mapstructure:"scylla"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Routing   RoutingConfig   `mapstructure:"routing"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Platform  PlatformConfig  `mapstructure:"platform"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	BaseURL      string        `mapstructure:"base_url"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	HealthQuery     string        `mapstructure:"health_query"`
}

type ScyllaConfig struct {
	Hosts             []string      `mapstructure:"hosts"`
	Port              int           `mapstructure:"port"`
	Keyspace          string        `mapstructure:"keyspace"`
	Consistency       string        `mapstructure:"consistency"`
	Timeout           time.Duration `mapstructure:"timeout"`
	DisableInitSchema bool          `mapstructure:"disable_init_schema"`
}

type KafkaConfig struct {
	Brokers          []string      `mapstructure:"brokers"`
	ClientID         string        `mapstructure:"client_id"`
	AgentTopicPrefix string        `mapstructure:"agent_topic_prefix"`
	CallEventTopic   string        `mapstructure:"call_event_topic"`
	QueueStatsTopic  string        `mapstructure:"queue_stats_topic"`
	CommitInterval   time.Duration `mapstructure:"commit_interval"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint          string        `mapstructure:"endpoint"`
	ServiceName       string        `mapstructure:"service_name"`
	SampleRatio       float64       `mapstructure:"sample_ratio"`
	MetricsInterval   time.Duration `mapstructure:"metrics_interval"`
	MetricsEnabled    bool          `mapstructure:"metrics_enabled"`
	TracingEnabled    bool          `mapstructure:"tracing_enabled"`
	Propagators       []string      `mapstructure:"propagators"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	CollectorProtocol string        `mapstructure:"collector_protocol"`
}

type AgentsConfig struct {
	// StatusTTL bounds how long an agent status record survives without a
	// refresh, so crashed agent clients cannot stay "available" forever.
	StatusTTL time.Duration `mapstructure:"status_ttl"`
}

type RoutingConfig struct {
	Queues           []string          `mapstructure:"queues"`
	DefaultPriority  int               `mapstructure:"default_priority"`
	AvgHandleSeconds int               `mapstructure:"avg_handle_seconds"`
	HoldRetry        time.Duration     `mapstructure:"hold_retry"`
	MaxWait          time.Duration     `mapstructure:"max_wait"`
	AssignTimeout    time.Duration     `mapstructure:"assign_timeout"`
	AIFallback       map[string]string `mapstructure:"ai_fallback"`
}

type MonitorConfig struct {
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
	LockKeyPrefix string        `mapstructure:"lock_key_prefix"`
}

type PlatformConfig struct {
	Space          string        `mapstructure:"space"`
	ProjectKey     string        `mapstructure:"project_key"`
	Token          string        `mapstructure:"token"`
	FromNumber     string        `mapstructure:"from_number"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("CALLCENTER")
	v.SetEnvKeyReplacer(NewEnvReplacer())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Routing.DefaultPriority <= 0 {
		c.Routing.DefaultPriority = 5
	}
	if c.Routing.AvgHandleSeconds <= 0 {
		c.Routing.AvgHandleSeconds = 180
	}
	if c.Routing.HoldRetry <= 0 {
		c.Routing.HoldRetry = 15 * time.Second
	}
	if c.Routing.MaxWait <= 0 {
		c.Routing.MaxWait = 120 * time.Second
	}
	if c.Routing.AssignTimeout <= 0 {
		c.Routing.AssignTimeout = 30 * time.Second
	}
	if len(c.Routing.Queues) == 0 {
		c.Routing.Queues = []string{"sales", "support", "billing"}
	}
	if c.Agents.StatusTTL <= 0 {
		c.Agents.StatusTTL = 8 * time.Hour
	}
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}
