// Akuvox Access Core
//
// akuvoxd keeps the user lists of Akuvox intercoms and keypads in line with
// a central user registry. It serves the registry over REST, reconciles
// devices on a debounced schedule and collects their door logs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/akuvox-access-core/migrations"

	"github.com/nerrad567/akuvox-access-core/internal/api"
	"github.com/nerrad567/akuvox-access-core/internal/audit"
	"github.com/nerrad567/akuvox-access-core/internal/device"
	"github.com/nerrad567/akuvox-access-core/internal/events"
	"github.com/nerrad567/akuvox-access-core/internal/history"
	"github.com/nerrad567/akuvox-access-core/internal/infrastructure/config"
	"github.com/nerrad567/akuvox-access-core/internal/infrastructure/database"
	"github.com/nerrad567/akuvox-access-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/akuvox-access-core/internal/infrastructure/logging"
	"github.com/nerrad567/akuvox-access-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/akuvox-access-core/internal/reconcile"
	"github.com/nerrad567/akuvox-access-core/internal/registry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// janitorInterval is how often abandoned user reservations are purged.
const janitorInterval = 30 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // startup wiring: one linear sequence of components
	log := logging.Default()
	log.Info("starting Akuvox Access Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"devices", len(cfg.Devices),
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

	backup, err := db.BackupBeforeMigrate(ctx)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	if backup != "" {
		log.Info("database backed up before migration", "backup", backup)
	}
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	store := registry.NewSQLiteStore(db.DB)

	// User registry
	users := registry.NewRegistry(store)
	users.SetLogger(log.Component("registry"))
	users.SetReservationTTL(cfg.Sync.ReservationTTL())
	if loadErr := users.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading user registry: %w", loadErr)
	}
	log.Info("user registry loaded", "users", len(users.Users()))

	// Device registry
	devices := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	devices.SetLogger(log.Component("device"))
	if refreshErr := devices.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	if seedErr := seedDevices(ctx, devices, cfg.Devices, log); seedErr != nil {
		return seedErr
	}
	log.Info("device registry initialised", "devices", devices.GetDeviceCount())

	// Optional sinks
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			log.Warn("MQTT unavailable, continuing without it", "error", err)
		} else {
			mqttClient.SetLogger(log.Component("mqtt"))
			defer func() {
				log.Info("disconnecting from MQTT")
				if closeErr := mqttClient.Close(); closeErr != nil {
					log.Error("error closing MQTT", "error", closeErr)
				}
			}()
			log.Info("MQTT connected",
				"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
				"client_id", cfg.MQTT.Broker.ClientID,
			)
		}
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, influxdb.WithDefaultTag("site", cfg.Site.ID))
		if err != nil {
			log.Warn("InfluxDB unavailable, continuing without it", "error", err)
		} else {
			influxClient.SetOnError(func(err error) {
				log.Error("InfluxDB write error", "error", err)
			})
			defer func() {
				log.Info("closing InfluxDB connection")
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		}
	}

	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo)
	recorder.SetLogger(log.Component("audit"))
	recorder.Start(ctx)
	defer recorder.Stop()

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	go hub.Run(ctx)

	sinks := events.Sinks{Hub: hub, Audit: recorder, Devices: devices}
	if mqttClient != nil {
		sinks.MQTT = mqttClient
	}
	if influxClient != nil {
		sinks.Points = influxClient
	}
	fanout := events.New(sinks)
	fanout.SetLogger(log.Component("events"))
	defer fanout.Stop()

	// Reconciliation
	pool := reconcile.NewPool(cfg.Sync.ProbeTimeout(), cfg.Sync.RequestTimeout())
	pool.SetLogger(log.Component("akuvox"))

	engine := reconcile.NewEngine(users, devices, pool, reconcile.EngineConfig{
		ReplaceBackoff: cfg.Sync.ReplaceBackoff(),
		FaceBaseURL:    cfg.Sync.FaceBaseURL,
	})
	engine.SetLogger(log.Component("reconcile"))
	engine.AddObserver(fanout)

	scheduler := reconcile.NewScheduler(engine, devices, users, reconcile.SchedulerConfig{
		Debounce:          cfg.Sync.DebounceDelay(),
		FullSyncInterval:  cfg.Sync.FullSyncInterval(),
		IntegrityInterval: cfg.Sync.IntegrityInterval(),
	})
	scheduler.SetLogger(log.Component("scheduler"))
	users.SetNotifier(scheduler)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	users.StartJanitor(ctx, janitorInterval)
	defer users.StopJanitor()

	if mqttClient != nil {
		// #nosec G115 -- QoS is validated to 0..2 by config
		if subErr := fanout.ListenForCommands(mqttClient, scheduler, byte(cfg.MQTT.QoS)); subErr != nil {
			log.Warn("MQTT sync commands disabled", "error", subErr)
		}
	}

	// Door logs
	collector := history.NewCollector(history.NewBuffer(), devices,
		func(rec *device.Record) history.DoorLogReader { return pool.Akuvox(rec) },
		store,
		history.CollectorConfig{
			Interval: cfg.History.PollInterval(),
			Limit:    cfg.History.Limit,
		})
	collector.SetLogger(log.Component("history"))
	collector.AddObserver(fanout)
	if loadErr := collector.Load(ctx); loadErr != nil {
		log.Warn("access history not restored", "error", loadErr)
	}
	collector.Start(ctx)
	defer collector.Stop()

	// REST API
	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log.Component("api"),
		Registry:  users,
		Devices:   devices,
		Scheduler: scheduler,
		DeviceOps: pool,
		History:   collector,
		AuditRepo: auditRepo,
		Audit:     recorder,
		MQTT:      mqttClient,
		DB:        db.DB,
		Hub:       hub,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// Bring every device up to date once at startup.
	scheduler.MarkChange("")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API, collector, janitor, scheduler,
	// fan-out, audit, InfluxDB, MQTT, database.
	log.Info("Akuvox Access Core stopped")
	return nil
}

// getConfigPath returns AKUVOX_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("AKUVOX_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// seedDevices makes sure every configured device exists. Options edited at
// runtime are kept for devices already in the database.
func seedDevices(ctx context.Context, devices *device.Registry, cfgs []config.DeviceConfig, log *logging.Logger) error {
	for _, dc := range cfgs {
		rec, err := recordFromConfig(dc)
		if err != nil {
			return fmt.Errorf("device %s: %w", dc.ID, err)
		}
		created, err := devices.SeedDevice(ctx, rec)
		if err != nil {
			return fmt.Errorf("seeding device %s: %w", dc.ID, err)
		}
		if created {
			log.Info("device added from config", "id", rec.ID, "host", rec.Connection.Host)
		}
	}
	return nil
}

func recordFromConfig(dc config.DeviceConfig) (*device.Record, error) {
	relayA, err := device.ParseRelayRole(dc.RelayA)
	if err != nil {
		return nil, err
	}
	relayB, err := device.ParseRelayRole(dc.RelayB)
	if err != nil {
		return nil, err
	}

	rec := &device.Record{
		ID:   dc.ID,
		Name: dc.Name,
		Connection: device.Connection{
			Host:      dc.Host,
			Port:      dc.Port,
			Scheme:    dc.Scheme,
			VerifyTLS: dc.VerifyTLS,
			Username:  dc.Username,
			Password:  dc.Password,
		},
		Options: device.Options{
			Participate: dc.ParticipatesInSync(),
			SyncGroups:  dc.SyncGroups,
			ExitDevice:  dc.ExitDevice,
			Relays:      device.RelayRoles{A: relayA, B: relayB},
		},
		Health: device.Health{SyncStatus: device.SyncPending},
	}
	if dc.Type == string(device.TypeKeypad) {
		rec.Health.DeviceType = device.TypeKeypad
	} else if dc.Type == string(device.TypeIntercom) {
		rec.Health.DeviceType = device.TypeIntercom
	}
	if rec.Name == "" {
		rec.Name = dc.ID
	}
	return rec, nil
}

// healthCheck verifies the infrastructure connections that were opened.
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
