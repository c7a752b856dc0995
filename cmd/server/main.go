package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fathima-sithara/jobboard-chat/internal/api"
	"github.com/fathima-sithara/jobboard-chat/internal/auth"
	"github.com/fathima-sithara/jobboard-chat/internal/bus"
	"github.com/fathima-sithara/jobboard-chat/internal/config"
	"github.com/fathima-sithara/jobboard-chat/internal/database"
	"github.com/fathima-sithara/jobboard-chat/internal/events"
	"github.com/fathima-sithara/jobboard-chat/internal/hub"
	"github.com/fathima-sithara/jobboard-chat/internal/metrics"
	"github.com/fathima-sithara/jobboard-chat/internal/observability"
	"github.com/fathima-sithara/jobboard-chat/internal/presence"
	"github.com/fathima-sithara/jobboard-chat/internal/repository"
	"github.com/fathima-sithara/jobboard-chat/internal/service"
	"github.com/fathima-sithara/jobboard-chat/internal/session"
	"github.com/fathima-sithara/jobboard-chat/internal/storage"
	"github.com/fathima-sithara/jobboard-chat/internal/utils"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (defaults to ./config.yaml when present)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zl, err := utils.NewLogger(cfg.App.LogDev)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	logger := zl.Sugar()

	if err := run(cfg, logger); err != nil {
		logger.Errorw("server stopped", "error", err)
		_ = zl.Sync()
		os.Exit(1)
	}
}

// closer is released in reverse order of acquisition on shutdown.
type closer struct {
	name string
	fn   func(ctx context.Context) error
}

func run(cfg *config.Config, logger *zap.SugaredLogger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var closers []closer
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer scancel()
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].fn(sctx); err != nil {
				logger.Warnw("shutdown", "component", closers[i].name, "error", err)
			}
		}
	}()
	onClose := func(name string, fn func(ctx context.Context) error) {
		closers = append(closers, closer{name: name, fn: fn})
	}

	metrics.Init()

	shutdownTracing, err := observability.Setup(ctx, cfg.OTel, cfg.App.Env, logger)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	onClose("tracing", shutdownTracing)

	nodeID := cfg.App.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	store, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	onClose("repository", store.Close)

	var rdb *redis.Client
	if cfg.Presence.Backend == "redis" || cfg.Bus.Backend == "redis" {
		rdb, err = database.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.StartupTimeout, logger)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		onClose("redis", func(context.Context) error { return rdb.Close() })
	}

	var marker presence.Store = presence.NewMemoryStore(cfg.PresenceTTL)
	if cfg.Presence.Backend == "redis" {
		marker = presence.NewRedisStore(rdb, cfg.Redis.Prefix, cfg.PresenceTTL)
	}
	tracker := presence.NewTracker(marker, store, logger)
	tracker.SetActivityInterval(cfg.ActivityEvery)

	b, err := openBus(ctx, cfg, rdb, logger)
	if err != nil {
		return err
	}
	onClose("bus", func(context.Context) error { return b.Close() })

	registry := hub.NewRegistry()
	dispatcher := hub.NewDispatcher(registry, b, nodeID, logger)
	go func() {
		if err := dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Errorw("bus subscription ended", "error", err)
		}
	}()

	urls, err := openResolver(ctx, cfg)
	if err != nil {
		return err
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := events.NewProducer(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic), cfg.Kafka.Buffer, logger)
		onClose("kafka producer", producer.Close)
		publisher = producer
	}

	chat := service.NewChatService(service.Deps{
		Repo:     store,
		Users:    store,
		Presence: tracker,
		Out:      dispatcher,
		URLs:     urls,
		Events:   publisher,
		Logger:   logger,
	}, service.Config{
		MaxAttachmentSize: cfg.App.MaxAttachmentBytes,
		TypingStaleAfter:  cfg.TypingStale,
	})

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.ApplicationsTopic != "" {
		handle := func(ctx context.Context, ev events.ApplicationCreated) error {
			_, err := chat.OpenForApplication(ctx, ev)
			return err
		}
		consumer := events.NewConsumer(
			events.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.ApplicationsTopic),
			handle, logger,
		)
		onClose("kafka consumer", func(context.Context) error { return consumer.Close() })
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Errorw("application consumer stopped", "error", err)
			}
		}()
	}

	verifier, err := openVerifier(cfg)
	if err != nil {
		return fmt.Errorf("jwt verifier: %w", err)
	}

	app := api.NewServer(api.Options{
		AppName:      cfg.App.Name,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Chat:         chat,
		Status:       tracker,
		Sessions: session.Deps{
			Chat:     chat,
			Registry: registry,
			Presence: tracker,
			Logger:   logger,
		},
		Session: session.Config{
			PingInterval:   cfg.PingInterval,
			PongWait:       cfg.PongWait,
			WriteWait:      cfg.WriteDeadline,
			MaxMessageSize: cfg.WS.MaxMessageSizeBytes,
			SendBuffer:     cfg.WS.SendBuffer,
			RateLimit:      cfg.RateLimit.RPS,
			RateBurst:      cfg.RateLimit.Burst,
		},
		Verifier:     verifier,
		ServiceToken: cfg.JWT.ServiceToken,
		Logger:       logger,
		BaseContext:  ctx,
	})

	errs := make(chan error, 1)
	go func() {
		logger.Infow("listening", "addr", cfg.HTTP.Addr, "node_id", nodeID,
			"repository", cfg.Repository.Backend, "presence", cfg.Presence.Backend, "bus", cfg.Bus.Backend)
		errs <- app.Listen(cfg.HTTP.Addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errs:
		return fmt.Errorf("listen: %w", err)
	case s := <-sig:
		logger.Infow("signal received", "signal", s.String())
	}

	// Cancelling first lets open sessions send their close frames while
	// fiber drains.
	cancel()
	if err := app.ShutdownWithTimeout(cfg.ShutdownTimeout); err != nil {
		logger.Warnw("http shutdown", "error", err)
	}
	logger.Info("shutting down")
	return nil
}

func openRepository(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (repository.Store, error) {
	switch cfg.Repository.Backend {
	case "mongo":
		client, err := database.ConnectMongo(ctx, cfg.Mongo.URI, cfg.StartupTimeout, logger)
		if err != nil {
			return nil, fmt.Errorf("mongo: %w", err)
		}
		store, err := repository.NewMongoStore(ctx, client, cfg.Mongo.Database, cfg.OpTimeout)
		if err != nil {
			_ = client.Disconnect(ctx)
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		return store, nil
	case "postgres":
		db, err := database.ConnectPostgres(ctx, cfg.Postgres.DSN, database.PoolConfig{
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		}, cfg.StartupTimeout, logger)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if cfg.Postgres.AutoMigrate {
			if err := repository.Migrate(db); err != nil {
				return nil, fmt.Errorf("postgres migrate: %w", err)
			}
		}
		return repository.NewPostgresStore(db), nil
	default:
		logger.Warn("using the in-memory repository; data is lost on restart")
		return repository.NewMemoryStore(), nil
	}
}

// busCloser is a hub.Bus that owns a connection.
type busCloser interface {
	hub.Bus
	io.Closer
}

func openBus(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger *zap.SugaredLogger) (busCloser, error) {
	switch cfg.Bus.Backend {
	case "redis":
		return bus.NewRedis(rdb, cfg.Bus.Prefix), nil
	case "nats":
		nc, err := database.ConnectNATS(ctx, cfg.NATS.URL, cfg.App.Name, cfg.StartupTimeout, logger)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		return bus.NewNATS(nc, cfg.Bus.Prefix), nil
	default:
		return bus.NewLocal(), nil
	}
}

func openResolver(ctx context.Context, cfg *config.Config) (storage.Resolver, error) {
	if cfg.S3.Bucket == "" {
		return storage.StaticResolver{BaseURL: cfg.S3.PublicBaseURL}, nil
	}
	r, err := storage.NewS3Resolver(ctx, storage.S3Config{
		Region:    cfg.S3.Region,
		Bucket:    cfg.S3.Bucket,
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		URLExpiry: cfg.URLExpiry,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: %w", err)
	}
	return r, nil
}

func openVerifier(cfg *config.Config) (*auth.Verifier, error) {
	if cfg.JWT.PublicKeyPath != "" {
		return auth.NewRS256Verifier(cfg.JWT.PublicKeyPath, cfg.JWT.Issuer)
	}
	return auth.NewHS256Verifier(cfg.JWT.Secret, cfg.JWT.Issuer)
}
