package config

import "time"

type AppConfig struct {
	Name               string `mapstructure:"name"`
	Env                string `mapstructure:"env"`
	NodeID             string `mapstructure:"node_id"`
	LogDev             bool   `mapstructure:"log_dev"`
	MaxAttachmentBytes int64  `mapstructure:"max_attachment_bytes"`
}

type HTTPConfig struct {
	Addr                   string `mapstructure:"addr"`
	ReadTimeoutSeconds     int    `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds    int    `mapstructure:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
}

type WSConfig struct {
	PingIntervalSeconds  int   `mapstructure:"ping_interval_seconds"`
	PongWaitSeconds      int   `mapstructure:"pong_wait_seconds"`
	WriteDeadlineSeconds int   `mapstructure:"write_deadline_seconds"`
	MaxMessageSizeBytes  int64 `mapstructure:"max_message_size_bytes"`
	SendBuffer           int   `mapstructure:"send_buffer"`
}

type PresenceConfig struct {
	Backend            string `mapstructure:"backend"`
	TTLSeconds         int    `mapstructure:"ttl_seconds"`
	TypingStaleSeconds int    `mapstructure:"typing_stale_seconds"`
	ActivitySeconds    int    `mapstructure:"activity_seconds"`
}

type RepositoryConfig struct {
	Backend               string `mapstructure:"backend"`
	StartupTimeoutSeconds int    `mapstructure:"startup_timeout_seconds"`
	OpTimeoutSeconds      int    `mapstructure:"op_timeout_seconds"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type PostgresConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `mapstructure:"conn_max_lifetime_seconds"`
	AutoMigrate            bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type BusConfig struct {
	Backend string `mapstructure:"backend"`
	Prefix  string `mapstructure:"prefix"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type KafkaConfig struct {
	Brokers           []string `mapstructure:"brokers"`
	EventsTopic       string   `mapstructure:"events_topic"`
	ApplicationsTopic string   `mapstructure:"applications_topic"`
	GroupID           string   `mapstructure:"group_id"`
	Buffer            int      `mapstructure:"buffer"`
}

type JWTConfig struct {
	Secret        string `mapstructure:"secret"`
	PublicKeyPath string `mapstructure:"public_key_path"`
	Issuer        string `mapstructure:"issuer"`
	ServiceToken  string `mapstructure:"service_token"`
}

type S3Config struct {
	Bucket           string `mapstructure:"bucket"`
	Region           string `mapstructure:"region"`
	Endpoint         string `mapstructure:"endpoint"`
	AccessKey        string `mapstructure:"access_key"`
	SecretKey        string `mapstructure:"secret_key"`
	URLExpirySeconds int    `mapstructure:"url_expiry_seconds"`
	PublicBaseURL    string `mapstructure:"public_base_url"`
}

type OTelConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
	ServiceName string `mapstructure:"service_name"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	WS         WSConfig         `mapstructure:"ws"`
	Presence   PresenceConfig   `mapstructure:"presence"`
	Repository RepositoryConfig `mapstructure:"repository"`
	Mongo      MongoConfig      `mapstructure:"mongo"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Bus        BusConfig        `mapstructure:"bus"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	S3         S3Config         `mapstructure:"s3"`
	OTel       OTelConfig       `mapstructure:"otel"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`

	// derived
	ReadTimeout     time.Duration `mapstructure:"-"`
	WriteTimeout    time.Duration `mapstructure:"-"`
	ShutdownTimeout time.Duration `mapstructure:"-"`
	PingInterval    time.Duration `mapstructure:"-"`
	PongWait        time.Duration `mapstructure:"-"`
	WriteDeadline   time.Duration `mapstructure:"-"`
	PresenceTTL     time.Duration `mapstructure:"-"`
	TypingStale     time.Duration `mapstructure:"-"`
	ActivityEvery   time.Duration `mapstructure:"-"`
	StartupTimeout  time.Duration `mapstructure:"-"`
	OpTimeout       time.Duration `mapstructure:"-"`
	ConnMaxLifetime time.Duration `mapstructure:"-"`
	URLExpiry       time.Duration `mapstructure:"-"`
}
