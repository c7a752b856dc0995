package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "CHAT"

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "jobboard-chat")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.node_id", "")
	v.SetDefault("app.log_dev", false)
	v.SetDefault("app.max_attachment_bytes", 10<<20)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout_seconds", 15)
	v.SetDefault("http.write_timeout_seconds", 15)
	v.SetDefault("http.shutdown_timeout_seconds", 10)

	v.SetDefault("ws.ping_interval_seconds", 25)
	v.SetDefault("ws.pong_wait_seconds", 60)
	v.SetDefault("ws.write_deadline_seconds", 10)
	v.SetDefault("ws.max_message_size_bytes", 65536)
	v.SetDefault("ws.send_buffer", 256)

	v.SetDefault("presence.backend", "memory")
	v.SetDefault("presence.ttl_seconds", 300)
	v.SetDefault("presence.typing_stale_seconds", 10)
	v.SetDefault("presence.activity_seconds", 30)

	v.SetDefault("repository.backend", "memory")
	v.SetDefault("repository.startup_timeout_seconds", 30)
	v.SetDefault("repository.op_timeout_seconds", 5)

	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "jobboard_chat")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_open_conns", 20)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime_seconds", 1800)
	v.SetDefault("postgres.auto_migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "chat")

	v.SetDefault("bus.backend", "local")
	v.SetDefault("bus.prefix", "chat")

	v.SetDefault("nats.url", "")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.events_topic", "chat.events")
	v.SetDefault("kafka.applications_topic", "application.created")
	v.SetDefault("kafka.group_id", "jobboard-chat")
	v.SetDefault("kafka.buffer", 1024)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.public_key_path", "")
	v.SetDefault("jwt.issuer", "")
	v.SetDefault("jwt.service_token", "")

	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("s3.url_expiry_seconds", 900)
	v.SetDefault("s3.public_base_url", "")

	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.insecure", true)
	v.SetDefault("otel.service_name", "jobboard-chat")

	v.SetDefault("ratelimit.rps", 20)
	v.SetDefault("ratelimit.burst", 40)
}

// Load reads an optional .env, then the config file at path (or
// ./config.yaml when path is empty and the file exists), then CHAT_*
// environment overrides such as CHAT_REDIS_ADDR.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.derive()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (c *Config) derive() {
	c.ReadTimeout = seconds(c.HTTP.ReadTimeoutSeconds)
	c.WriteTimeout = seconds(c.HTTP.WriteTimeoutSeconds)
	c.ShutdownTimeout = seconds(c.HTTP.ShutdownTimeoutSeconds)
	c.PingInterval = seconds(c.WS.PingIntervalSeconds)
	c.PongWait = seconds(c.WS.PongWaitSeconds)
	c.WriteDeadline = seconds(c.WS.WriteDeadlineSeconds)
	c.PresenceTTL = seconds(c.Presence.TTLSeconds)
	c.TypingStale = seconds(c.Presence.TypingStaleSeconds)
	c.ActivityEvery = seconds(c.Presence.ActivitySeconds)
	c.StartupTimeout = seconds(c.Repository.StartupTimeoutSeconds)
	c.OpTimeout = seconds(c.Repository.OpTimeoutSeconds)
	c.ConnMaxLifetime = seconds(c.Postgres.ConnMaxLifetimeSeconds)
	c.URLExpiry = seconds(c.S3.URLExpirySeconds)

	brokers := c.Kafka.Brokers[:0]
	for _, b := range c.Kafka.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	c.Kafka.Brokers = brokers
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s: unknown value %q (want one of %s)", field, value, strings.Join(allowed, ", "))
}

func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(oneOf("repository.backend", c.Repository.Backend, "memory", "mongo", "postgres"))
	add(oneOf("presence.backend", c.Presence.Backend, "memory", "redis"))
	add(oneOf("bus.backend", c.Bus.Backend, "local", "redis", "nats"))

	if c.JWT.Secret == "" && c.JWT.PublicKeyPath == "" {
		add(errors.New("jwt: secret or public_key_path is required"))
	}
	if c.Repository.Backend == "mongo" && c.Mongo.URI == "" {
		add(errors.New("mongo.uri is required for the mongo repository"))
	}
	if c.Repository.Backend == "postgres" && c.Postgres.DSN == "" {
		add(errors.New("postgres.dsn is required for the postgres repository"))
	}
	if (c.Presence.Backend == "redis" || c.Bus.Backend == "redis") && c.Redis.Addr == "" {
		add(errors.New("redis.addr is required for redis presence or bus"))
	}
	if c.Bus.Backend == "nats" && c.NATS.URL == "" {
		add(errors.New("nats.url is required for the nats bus"))
	}
	if c.PongWait <= c.PingInterval {
		add(errors.New("ws.pong_wait_seconds must exceed ws.ping_interval_seconds"))
	}
	return errors.Join(errs...)
}
