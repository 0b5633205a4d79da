// Package bootstrap assembles the services shared by the API server and the worker.
package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/pushgate/pushgate/internal/auth"
	"github.com/pushgate/pushgate/internal/config"
	"github.com/pushgate/pushgate/internal/database"
	"github.com/pushgate/pushgate/internal/device"
	"github.com/pushgate/pushgate/internal/notification"
	"github.com/pushgate/pushgate/internal/provider/resilience"
	"github.com/pushgate/pushgate/internal/push"
	"github.com/pushgate/pushgate/internal/push/apns"
	"github.com/pushgate/pushgate/internal/push/fcm"
	"github.com/pushgate/pushgate/internal/push/webpush"
	"github.com/pushgate/pushgate/internal/tenant"
	"github.com/pushgate/pushgate/internal/topic"
)

// NewLogger creates the root logger of a process.
func NewLogger(service, version string) zerolog.Logger {
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Logger()
}

// OpenDatabase connects to PostgreSQL and applies the schema when configured to.
func OpenDatabase(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*pgxpool.Pool, error) {
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("host", cfg.Database.Host).
		Int("port", cfg.Database.Port).
		Str("database", cfg.Database.Database).
		Msg("database connected")

	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info().Msg("database schema applied")
	}
	return pool, nil
}

// Repositories are the stores the services run on.
type Repositories struct {
	Devices       device.Repository
	Topics        topic.Repository
	Notifications notification.Repository
}

// PostgresRepositories returns the PostgreSQL implementations.
func PostgresRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Devices:       device.NewPostgresRepository(pool),
		Topics:        topic.NewPostgresRepository(pool),
		Notifications: notification.NewPostgresRepository(pool),
	}
}

// InMemoryRepositories returns process-local stores.
func InMemoryRepositories() Repositories {
	topics := topic.NewInMemoryRepository()
	return Repositories{
		Devices:       device.NewInMemoryRepository().CascadeSubscriptions(topics),
		Topics:        topics,
		Notifications: notification.NewInMemoryRepository(),
	}
}

// Core holds the domain services.
type Core struct {
	Devices *device.Service
	Topics  *topic.Service
	Engine  *notification.Engine
}

// NewCore wires the device, topic and notification services together.
func NewCore(repos Repositories, senders *push.Registry, log zerolog.Logger) (*Core, error) {
	devices := device.NewService(device.ServiceConfig{
		Repository: repos.Devices,
		Logger:     log.With().Str("component", "devices").Logger(),
	})
	topics := topic.NewService(topic.ServiceConfig{
		Repository:    repos.Topics,
		Users:         devices,
		Notifications: repos.Notifications,
		Logger:        log.With().Str("component", "topics").Logger(),
	})

	engine, err := notification.NewEngine(notification.EngineConfig{
		Repository: repos.Notifications,
		Targets:    notification.NewTargetResolver(topics, devices),
		Topics:     topics,
		Devices:    devices,
		Senders:    senders,
		Logger:     log.With().Str("component", "dispatch").Logger(),
	})
	if err != nil {
		return nil, err
	}

	return &Core{Devices: devices, Topics: topics, Engine: engine}, nil
}

// NewSenders creates a sender for every configured provider, each behind a
// circuit breaker tracked by health.
func NewSenders(ctx context.Context, cfg *config.Config, health *resilience.Registry, log zerolog.Logger) (*push.Registry, error) {
	senders := push.NewRegistry()

	register := func(provider device.Provider, s push.Sender) {
		name := string(provider)
		senders.Register(name, push.WithBreaker(s, push.BreakerConfig{
			Name:   name,
			Health: health,
			Logger: log,
		}))
		log.Info().Str("provider", name).Msg("push provider enabled")
	}

	if cfg.FCM.Enabled() {
		client, err := fcm.NewClient(ctx, fcm.Config{
			ProjectID:       cfg.FCM.ProjectID,
			CredentialsFile: cfg.FCM.CredentialsFile,
			Endpoint:        cfg.FCM.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		register(device.ProviderFCM, fcm.NewSender(client, log))
	}

	if cfg.APNs.Enabled() {
		key, err := os.ReadFile(cfg.APNs.KeyFile) //nolint:gosec // path comes from operator configuration
		if err != nil {
			return nil, fmt.Errorf("reading APNs key file: %w", err)
		}
		apnsCfg := apns.Config{
			KeyID:      cfg.APNs.KeyID,
			TeamID:     cfg.APNs.TeamID,
			BundleID:   cfg.APNs.BundleID,
			P8Key:      string(key),
			Production: cfg.APNs.Production,
		}
		client, err := apns.NewClient(apnsCfg)
		if err != nil {
			return nil, err
		}
		register(device.ProviderAPNS, apns.NewSender(client, apnsCfg, log))
	}

	if cfg.WebPush.Enabled() {
		register(device.ProviderWebPush, webpush.NewSender(webpush.Config{
			Subscriber:      cfg.WebPush.Subscriber,
			VAPIDPublicKey:  cfg.WebPush.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.WebPush.VAPIDPrivateKey,
			TTL:             cfg.WebPush.TTL,
		}, log))
	}

	if len(senders.Providers()) == 0 {
		log.Warn().Msg("no push providers configured, deliveries will fail")
	}
	return senders, nil
}

// NewDirectory returns the tenant directory: the YAML file when one is
// configured, otherwise the tenants table.
func NewDirectory(cfg *config.Config, pool *pgxpool.Pool, log zerolog.Logger) (tenant.Directory, error) {
	if cfg.TenantsFile != "" {
		dir, err := tenant.LoadFile(cfg.TenantsFile)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.TenantsFile).Msg("tenants loaded from file")
		return dir, nil
	}
	return tenant.NewPostgresDirectory(pool), nil
}

// NewAuthenticator creates the bearer token verifier. Key set documents are
// fetched through a resilient client registered with health.
func NewAuthenticator(cfg *config.Config, dir tenant.Directory, health *resilience.Registry) *auth.Authenticator {
	clientCfg := resilience.DefaultClientConfig("jwks")
	clientCfg.UserAgent = "pushgate"
	clientCfg.Registry = health

	cache := auth.NewKeySetCache(auth.KeySetCacheConfig{
		MaxEntries: cfg.Auth.KeySetCacheSize,
		Cooldown:   cfg.Auth.KeySetCooldown,
		HTTPClient: resilience.NewClient(clientCfg),
	})

	return auth.NewAuthenticator(auth.AuthenticatorConfig{
		Directory:               dir,
		Resolver:                auth.NewKeyResolver(cache),
		Leeway:                  cfg.Auth.Leeway,
		RequireApplicationClaim: cfg.Auth.RequireApplicationClaim,
	})
}
