package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"

	"github.com/kisman271128/salesman-dashboard/internal/util"
)

// Config holds every knob the service reads. All values are fixed at
// initialization and read-only afterwards.
type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Scylla        ScyllaConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	Device        DeviceConfig
	Bucketing     BucketingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableTLS    bool
	AutoCert     bool
	AutoCertDir  string
	Domain       string
	Email        string
	CertFile     string
	KeyFile      string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Brokers     []string
	DeviceTopic string
}

type ElasticsearchConfig struct {
	URL      string
	Username string
	Password string
	Index    string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

// DeviceConfig carries the device slot-allocation policy.
type DeviceConfig struct {
	MaxDevices    int
	BypassUserID  string
	BypassRole    string
	LocalStoreDir string

	// Validation-attempt rate limiting (best effort, Redis-backed).
	RateLimitMax    int
	RateLimitWindow time.Duration
	RateLimitLock   time.Duration
}

type BucketingConfig struct {
	UserBuckets  int
	EventBuckets int
}

// LoadConfig reads configuration from the environment, loading .env first
// when present (development convenience; ignored if missing).
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: util.GetEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:         util.GetEnv("SERVER_HOST", "0.0.0.0"),
			Port:         util.GetEnvInt("SERVER_PORT", 8080),
			TLSPort:      util.GetEnvInt("SERVER_TLS_PORT", 8443),
			ReadTimeout:  time.Duration(util.GetEnvInt("SERVER_READ_TIMEOUT_SECONDS", 15)) * time.Second,
			WriteTimeout: time.Duration(util.GetEnvInt("SERVER_WRITE_TIMEOUT_SECONDS", 15)) * time.Second,
			IdleTimeout:  time.Duration(util.GetEnvInt("SERVER_IDLE_TIMEOUT_SECONDS", 60)) * time.Second,
			EnableTLS:    util.GetEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     util.GetEnvBool("SERVER_AUTO_CERT", false),
			AutoCertDir:  util.GetEnv("SERVER_AUTO_CERT_DIR", "./certs"),
			Domain:       util.GetEnv("SERVER_DOMAIN", "localhost"),
			Email:        util.GetEnv("SERVER_ACME_EMAIL", ""),
			CertFile:     util.GetEnv("SERVER_CERT_FILE", ""),
			KeyFile:      util.GetEnv("SERVER_KEY_FILE", ""),
		},
		Logging: LoggingConfig{
			Level:  util.GetEnv("LOG_LEVEL", "info"),
			Format: util.GetEnv("LOG_FORMAT", "json"),
		},
		Scylla: ScyllaConfig{
			Nodes:    util.GetEnvList("SCYLLA_NODES", []string{"127.0.0.1:9042"}),
			Keyspace: util.GetEnv("SCYLLA_KEYSPACE", "salesman"),
			Username: util.GetEnv("SCYLLA_USERNAME", ""),
			Password: util.GetEnv("SCYLLA_PASSWORD", ""),
		},
		Redis: RedisConfig{
			URL:      util.GetEnv("REDIS_URL", "redis://127.0.0.1:6379/0"),
			Password: util.GetEnv("REDIS_PASSWORD", ""),
			DB:       util.GetEnvInt("REDIS_DB", 0),
			PoolSize: util.GetEnvInt("REDIS_POOL_SIZE", 50),
		},
		Kafka: KafkaConfig{
			Brokers:     util.GetEnvList("KAFKA_BROKERS", []string{"127.0.0.1:9092"}),
			DeviceTopic: util.GetEnv("KAFKA_DEVICE_TOPIC", "device-events"),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:      util.GetEnv("ELASTIC_URL", "http://127.0.0.1:9200"),
			Username: util.GetEnv("ELASTIC_USERNAME", ""),
			Password: util.GetEnv("ELASTIC_PASSWORD", ""),
			Index:    util.GetEnv("ELASTIC_DEVICE_INDEX", "registered-devices"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      util.GetEnv("CLICKHOUSE_URL", "http://127.0.0.1:8123"),
			Username: util.GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password: util.GetEnv("CLICKHOUSE_PASSWORD", ""),
			Database: util.GetEnv("CLICKHOUSE_DATABASE", "salesman"),
		},
		Device: DeviceConfig{
			MaxDevices:      util.GetEnvInt("MAX_DEVICES", 2),
			BypassUserID:    util.GetEnv("DEVICE_BYPASS_USER", "admin"),
			BypassRole:      util.GetEnv("DEVICE_BYPASS_ROLE", "admin"),
			LocalStoreDir:   util.GetEnv("LOCAL_STORE_DIR", "./data/devices"),
			RateLimitMax:    util.GetEnvInt("DEVICE_RATE_LIMIT_MAX", 10),
			RateLimitWindow: time.Duration(util.GetEnvInt("DEVICE_RATE_LIMIT_WINDOW_SECONDS", 300)) * time.Second,
			RateLimitLock:   time.Duration(util.GetEnvInt("DEVICE_RATE_LIMIT_LOCK_SECONDS", 900)) * time.Second,
		},
		Bucketing: BucketingConfig{
			UserBuckets:  util.GetEnvInt("USER_BUCKETS", 64),
			EventBuckets: util.GetEnvInt("EVENT_BUCKETS", 16),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

// GetServerAddress returns the plain HTTP listen address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
