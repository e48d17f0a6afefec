// TapForge Core - Android UI Automation Engine
//
// This is the main entry point for the TapForge Core daemon. TapForge
// schedules and runs UI automation presets against a pool of Android
// devices:
//   - Execution loops rotate presets across accounts on a schedule
//   - A worker pool drains the queue and drives devices over adb
//   - Remote device agents register and heartbeat over MQTT
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/tapforge/tapforge-core/migrations"

	"github.com/tapforge/tapforge-core/internal/account"
	"github.com/tapforge/tapforge-core/internal/adb"
	"github.com/tapforge/tapforge-core/internal/device"
	"github.com/tapforge/tapforge-core/internal/execution"
	"github.com/tapforge/tapforge-core/internal/infrastructure/config"
	"github.com/tapforge/tapforge-core/internal/infrastructure/database"
	"github.com/tapforge/tapforge-core/internal/infrastructure/influxdb"
	"github.com/tapforge/tapforge-core/internal/infrastructure/logging"
	"github.com/tapforge/tapforge-core/internal/infrastructure/mqtt"
	"github.com/tapforge/tapforge-core/internal/interpreter"
	"github.com/tapforge/tapforge-core/internal/loop"
	"github.com/tapforge/tapforge-core/internal/preset"
	"github.com/tapforge/tapforge-core/internal/worker"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting TapForge Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Repositories
	accountRepo := account.NewSQLiteRepository(db.DB)
	deviceRepo := device.NewSQLiteRepository(db.DB)
	presetRepo := preset.NewSQLiteRepository(db.DB)
	executionRepo := execution.NewSQLiteRepository(db.DB)
	loopRepo := loop.NewSQLiteRepository(db.DB)

	// Preset registry (write-through cache over the repository)
	registry := preset.NewRegistry(presetRepo)
	registry.SetLogger(log)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading preset registry: %w", refreshErr)
	}

	// Device pool
	devicePool := device.NewPool(deviceRepo)
	devicePool.SetLogger(log)

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
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
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Agent gateway: remote agents register devices and heartbeat their
	// presence. Disabled entirely when no pairing code is configured.
	if cfg.Agents.PairingCode != "" {
		gateway := device.NewAgentGateway(deviceRepo, cfg.Agents.PairingCode)
		gateway.SetLogger(log)

		topics := mqtt.Topics{}
		qos := byte(cfg.MQTT.QoS)
		if subErr := mqttClient.Subscribe(topics.AllAgentRegistrations(), qos, gateway.HandleRegistration); subErr != nil {
			return fmt.Errorf("subscribing to agent registrations: %w", subErr)
		}
		if subErr := mqttClient.Subscribe(topics.AllAgentHeartbeats(), qos, gateway.HandleHeartbeat); subErr != nil {
			return fmt.Errorf("subscribing to agent heartbeats: %w", subErr)
		}
		log.Info("agent gateway listening")
	} else {
		log.Info("agent registration disabled (no pairing code)")
	}

	// Connect to InfluxDB (optional)
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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Work queue over the broker, so the scheduler and workers can be
	// split across processes later without changing either side.
	queue := worker.NewMQTTQueue(mqttClient, mqttClient, mqtt.Topics{}.ExecutionQueue())
	queue.SetLogger(log)

	// Loop scheduler
	scheduler := loop.NewScheduler(loopRepo, accountRepo, deviceRepo, executionRepo,
		registry, queue, time.Duration(cfg.Scheduler.TickInterval)*time.Second)
	scheduler.SetLogger(log)
	if cfg.Scheduler.HistoryRetentionDays > 0 {
		scheduler.SetHistoryRetention(time.Duration(cfg.Scheduler.HistoryRetentionDays) * 24 * time.Hour)
	}
	if influxClient != nil {
		scheduler.SetMetricsWriter(influxClient)
	}

	// Interpreter and device sessions
	interp := interpreter.New(registry)
	interp.SetLogger(log)

	runner := adb.NewExecRunner(cfg.ADB.Binary)
	runner.Timeout = time.Duration(cfg.ADB.CommandTimeout) * time.Second
	sessions := func(serial string) interpreter.Device {
		session := adb.NewSession(serial, runner)
		session.SetLogger(log)
		session.SetDumpRetries(cfg.ADB.DumpRetries)
		return session
	}

	// Execution processor + worker pool
	processor := worker.NewProcessor(executionRepo, registry, accountRepo,
		devicePool, interp, sessions)
	processor.SetLogger(log)
	processor.SetResultRecorder(scheduler)
	if influxClient != nil {
		processor.SetMetricsWriter(influxClient)
	}
	if cfg.Worker.ExecutionTimeout > 0 {
		processor.SetExecutionTimeout(time.Duration(cfg.Worker.ExecutionTimeout) * time.Second)
	}

	pool := worker.NewPool(queue, processor, cfg.Worker.Concurrency)
	pool.SetLogger(log)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// Executions still marked running were interrupted by the previous
	// process dying; fail them before the pool starts consuming.
	if recovered, err := processor.RecoverInterrupted(ctx); err != nil {
		return fmt.Errorf("recovering interrupted executions: %w", err)
	} else if recovered > 0 {
		log.Info("recovered interrupted executions", "count", recovered)
	}

	// Re-enqueue work that was pending when the previous process
	// stopped; the in-flight queue does not survive restarts.
	if err := requeuePending(ctx, executionRepo, queue, log); err != nil {
		return fmt.Errorf("requeueing pending executions: %w", err)
	}

	// Run the scheduler and the worker pool until shutdown
	errCh := make(chan error, 2)
	go func() { errCh <- scheduler.Run(ctx) }()
	go func() { errCh <- pool.Run(ctx) }()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Both components exit on context cancellation; the pool waits for
	// in-flight executions first.
	<-errCh
	<-errCh

	// Deferred Close() calls will run in reverse order:
	// 1. InfluxDB (if enabled)
	// 2. MQTT
	// 3. Database

	log.Info("TapForge Core stopped")
	return nil
}

// requeuePending pushes executions that never reached a worker back
// onto the queue at startup.
func requeuePending(ctx context.Context, repo execution.Repository,
	queue worker.Queue, log *logging.Logger) error {

	pending, err := repo.ListByStatus(ctx, execution.StatusPending, 0)
	if err != nil {
		return err
	}
	for i := range pending {
		if err := queue.Enqueue(ctx, pending[i].ID); err != nil {
			return err
		}
	}
	if len(pending) > 0 {
		log.Info("requeued pending executions", "count", len(pending))
	}
	return nil
}

// getConfigPath returns the configuration file path.
// Uses TAPFORGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TAPFORGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	// InfluxDB is optional
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
