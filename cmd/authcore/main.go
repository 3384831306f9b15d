// Retail Auth Core - authentication and authorisation for retail POS estates.
//
// This is the main entry point. It loads configuration, opens the SQLite
// account store, wires the audit pipeline (SQLite, MQTT and InfluxDB) and
// serves the REST/WebSocket API until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/nerrad567/retail-auth-core/migrations"

	"github.com/nerrad567/retail-auth-core/internal/api"
	"github.com/nerrad567/retail-auth-core/internal/audit"
	"github.com/nerrad567/retail-auth-core/internal/auth"
	"github.com/nerrad567/retail-auth-core/internal/infrastructure/config"
	"github.com/nerrad567/retail-auth-core/internal/infrastructure/database"
	"github.com/nerrad567/retail-auth-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/retail-auth-core/internal/infrastructure/logging"
	"github.com/nerrad567/retail-auth-core/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnvVar overrides defaultConfigPath.
const configEnvVar = config.EnvPrefix + "CONFIG"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting retail auth core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version).With("instance_id", cfg.Service.InstanceID)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	roles := auth.NewRoleRepository(db.DB)
	if cfg.Security.Bootstrap.SeedDefaults {
		seeded, seedErr := auth.SeedDefaults(ctx, roles, log.Logger, time.Now())
		if seedErr != nil {
			return fmt.Errorf("seeding roles: %w", seedErr)
		}
		log.Info("default roles ensured",
			"permissions", seeded.Permissions,
			"roles", seeded.Roles,
			"grants", seeded.Grants,
		)
	}

	// Optional event fan-out
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	auditRepo := audit.NewSQLiteRepository(db.DB)
	asyncSink := audit.NewAsyncSink(buildAuditSink(auditRepo, mqttClient, influxClient), audit.DefaultQueueSize, log.Logger)

	// The audit writer outlives the API server so queued events are drained
	// before the database closes.
	auditCtx, stopAudit := context.WithCancel(context.Background())
	var auditWG sync.WaitGroup
	auditWG.Add(1)
	go func() {
		defer auditWG.Done()
		asyncSink.Run(auditCtx)
	}()
	defer func() {
		stopAudit()
		auditWG.Wait()
		if n := asyncSink.Dropped(); n > 0 {
			log.Warn("audit events dropped", "count", n)
		}
	}()

	emitter := audit.NewEmitter(asyncSink, log.Logger)
	svc, err := buildService(cfg, db, roles, emitter, log)
	if err != nil {
		return fmt.Errorf("building auth service: %w", err)
	}

	apiDeps := api.Deps{
		Config:     cfg.API,
		InstanceID: cfg.Service.InstanceID,
		Logger:     log,
		Auth:       svc,
		Audit:      emitter,
		AuditLog:   auditRepo,
		Database:   db,
		Version:    version,
	}
	if mqttClient != nil {
		apiDeps.MQTT = mqttClient
	}
	server, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()
	log.Info("API server listening", "address", cfg.Address())

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	go runSessionCleanup(ctx, svc.Sessions, cfg.Security.Sessions.CleanupEvery(), log)

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API server, audit writer,
	// InfluxDB, MQTT, database.
	log.Info("retail auth core stopped")
	return nil
}

// getConfigPath returns RETAILAUTH_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildAuditSink fans events out to the durable log plus whichever
// exporters are connected. Nil clients are skipped.
func buildAuditSink(repo audit.Sink, mqttClient *mqtt.Client, influxClient *influxdb.Client) audit.Sink {
	sinks := audit.MultiSink{repo}
	if mqttClient != nil {
		sinks = append(sinks, audit.NewMQTTSink(mqttClient, mqttClient.Topics()))
	}
	if influxClient != nil {
		sinks = append(sinks, audit.NewInfluxSink(influxClient))
	}
	if len(sinks) == 1 {
		return repo
	}
	return sinks
}

// buildService translates the security configuration into auth options.
func buildService(cfg *config.Config, db *database.DB, roles auth.RoleRepository, emitter *audit.Emitter, log *logging.Logger) (*auth.Service, error) {
	hasher, err := auth.NewHasher(cfg.Security.Password.Hasher, auth.DefaultArgon2Params, cfg.Security.Password.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	byRole, fallback := cfg.Security.Sessions.Timeouts()

	opts := auth.DefaultOptions()
	opts.JWTSecret = cfg.Security.JWT.Secret
	opts.JWTIssuer = cfg.Security.JWT.Issuer
	opts.AccessTokenTTL = cfg.Security.JWT.AccessTokenTTLDuration()
	opts.EnforceSessionBinding = cfg.Security.JWT.EnforceSessionBinding
	opts.Lockout = auth.LockoutPolicy{
		MaxAttempts: cfg.Security.Lockout.MaxAttempts,
		Duration:    cfg.Security.Lockout.LockoutDuration(),
	}
	opts.Timeouts = auth.TimeoutPolicy{ByRole: byRole, Default: fallback}

	return auth.NewService(auth.Deps{
		Users:   auth.NewUserRepository(db.DB),
		Roles:   roles,
		Hasher:  hasher,
		Audit:   emitter,
		Metrics: auth.NewMetrics(prometheus.DefaultRegisterer),
		Logger:  log.Logger,
	}, opts)
}

// sessionCleaner is the part of the session manager the cleanup loop needs.
type sessionCleaner interface {
	CleanupExpiredSessions(ctx context.Context) (int, error)
}

// runSessionCleanup clears lapsed sessions every interval until ctx ends.
func runSessionCleanup(ctx context.Context, sessions sessionCleaner, interval time.Duration, log *logging.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.CleanupExpiredSessions(ctx)
			if err != nil {
				log.Error("session cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("expired sessions cleaned", "count", n)
			}
		}
	}
}

// healthCheck verifies every enabled connection. Nil clients are skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
