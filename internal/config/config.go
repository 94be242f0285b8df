package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/RecSpeed/firmwareextrs/internal/extract"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Cache backends
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	App        AppConfig        `yaml:"app"`
	Logging    LoggingConfig    `yaml:"logging"`
	Cache      CacheConfig      `yaml:"cache"`
	Redis      RedisConfig      `yaml:"redis"`
	Database   DatabaseConfig   `yaml:"database"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	GitHub     GitHubConfig     `yaml:"github"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	NoColor      bool   `yaml:"no_color"`
}

// CacheConfig selects the job record backend and its TTLs
type CacheConfig struct {
	Backend   string    `yaml:"backend"`
	KeyPrefix string    `yaml:"key_prefix"`
	TTL       TTLConfig `yaml:"ttl"`
}

// TTLConfig holds record lifetimes per state
type TTLConfig struct {
	Processing time.Duration `yaml:"processing"`
	Done       time.Duration `yaml:"done"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds the job event publisher configuration
type RabbitMQConfig struct {
	Enabled       bool             `yaml:"enabled"`
	Host          string           `yaml:"host"`
	Port          int              `yaml:"port"`
	User          string           `yaml:"user"`
	Password      string           `yaml:"password"`
	VHost         string           `yaml:"vhost"`
	Exchange      ExchangeConfig   `yaml:"exchange"`
	RoutingPrefix string           `yaml:"routing_prefix"`
	Connection    ConnectionConfig `yaml:"connection"`
	Publish       PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// GitHubConfig points at the repository running the extraction workflow
type GitHubConfig struct {
	APIURL      string        `yaml:"api_url"`
	Owner       string        `yaml:"owner"`
	Repo        string        `yaml:"repo"`
	Workflow    string        `yaml:"workflow"`
	Ref         string        `yaml:"ref"`
	ReleaseTag  string        `yaml:"release_tag"`
	Token       string        `yaml:"token"`
	UserAgent   string        `yaml:"user_agent"`
	Timeout     time.Duration `yaml:"timeout"`
	RunsPerPage int           `yaml:"runs_per_page"`
}

// ExtractionConfig tunes request handling
type ExtractionConfig struct {
	ImageTypes       []string      `yaml:"image_types"`
	DefaultImageType string        `yaml:"default_image_type"`
	MirrorHosts      []string      `yaml:"mirror_hosts"`
	CanonicalMirror  string        `yaml:"canonical_mirror"`
	DispatchGrace    time.Duration `yaml:"dispatch_grace"`
	FailureCooldown  time.Duration `yaml:"failure_cooldown"`
	Wait             WaitConfig    `yaml:"wait"`
}

// WaitConfig controls whether requests block until the job settles
type WaitConfig struct {
	Mode        extract.WaitMode `yaml:"mode"`
	MaxAttempts int              `yaml:"max_attempts"`
	Interval    time.Duration    `yaml:"interval"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Load reads and parses the configuration file, then applies defaults and
// environment overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	config.applyEnv()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 200 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.App.Name == "" {
		c.App.Name = "fce-api"
	}
	if c.App.Environment == "" {
		c.App.Environment = "development"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = BackendRedis
	}
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = "fce:"
	}
	if c.Cache.TTL.Processing == 0 {
		c.Cache.TTL.Processing = 300 * time.Second
	}
	if c.Cache.TTL.Done == 0 {
		c.Cache.TTL.Done = 6 * time.Hour
	}

	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}

	if c.RabbitMQ.Exchange.Type == "" {
		c.RabbitMQ.Exchange.Type = "topic"
	}
	if c.RabbitMQ.RoutingPrefix == "" {
		c.RabbitMQ.RoutingPrefix = "fce.job"
	}

	if c.GitHub.Ref == "" {
		c.GitHub.Ref = "main"
	}
	if c.GitHub.ReleaseTag == "" {
		c.GitHub.ReleaseTag = "latest"
	}
	if c.GitHub.Timeout == 0 {
		c.GitHub.Timeout = 15 * time.Second
	}

	if len(c.Extraction.ImageTypes) == 0 {
		c.Extraction.ImageTypes = []string{"boot", "recovery", "modem"}
	}
	if c.Extraction.DefaultImageType == "" {
		c.Extraction.DefaultImageType = c.Extraction.ImageTypes[0]
	}
	if c.Extraction.Wait.Mode == "" {
		c.Extraction.Wait.Mode = extract.WaitFireAndForget
	}
	if c.Extraction.Wait.Mode == extract.WaitPoll {
		if c.Extraction.Wait.MaxAttempts == 0 {
			c.Extraction.Wait.MaxAttempts = 36
		}
		if c.Extraction.Wait.Interval == 0 {
			c.Extraction.Wait.Interval = 5 * time.Second
		}
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "fce"
	}
}

// applyEnv lets deployment secrets override the file
func (c *Config) applyEnv() {
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		c.GitHub.Token = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("RABBITMQ_PASSWORD"); v != "" {
		c.RabbitMQ.Password = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateCache(); err != nil {
		return err
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
	}

	if c.GitHub.Owner == "" || c.GitHub.Repo == "" {
		return fmt.Errorf("github owner and repo are required")
	}
	if c.GitHub.Workflow == "" {
		return fmt.Errorf("github workflow is required")
	}

	return c.validateExtraction()
}

func (c *Config) validateCache() error {
	switch c.Cache.Backend {
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("redis url is required for the redis cache backend")
		}
	case BackendPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required for the postgres cache backend")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown cache backend: %q", c.Cache.Backend)
	}

	if c.Cache.TTL.Processing < 0 || c.Cache.TTL.Done < 0 {
		return fmt.Errorf("cache ttls must not be negative")
	}
	return nil
}

func (c *Config) validateExtraction() error {
	e := c.Extraction
	if !slices.Contains(e.ImageTypes, e.DefaultImageType) {
		return fmt.Errorf("default image type %q is not one of %v", e.DefaultImageType, e.ImageTypes)
	}
	if e.DispatchGrace < 0 {
		return fmt.Errorf("dispatch_grace must not be negative")
	}
	if e.FailureCooldown < 0 {
		return fmt.Errorf("failure_cooldown must not be negative")
	}

	mode, err := extract.ParseWaitMode(string(e.Wait.Mode))
	if err != nil {
		return err
	}
	if mode != extract.WaitPoll {
		return nil
	}

	if e.Wait.MaxAttempts <= 0 {
		return fmt.Errorf("wait max_attempts must be greater than 0")
	}
	if e.Wait.Interval <= 0 {
		return fmt.Errorf("wait interval must be greater than 0")
	}
	// each attempt sleeps, then may spend a release lookup and a run status query
	perAttempt := e.Wait.Interval + 2*c.GitHub.Timeout
	if budget := time.Duration(e.Wait.MaxAttempts) * perAttempt; budget >= c.Server.WriteTimeout {
		return fmt.Errorf("wait budget %s exceeds server write_timeout %s", budget, c.Server.WriteTimeout)
	}
	return nil
}
