// gpu-persistd - GPU persistence daemon
//
// This is the main entry point for gpu-persistd. The daemon holds GPU
// driver state resident between clients (persistence mode) and drives
// the kernel memory-hotplug state of each device's coherent NUMA
// memory, exposing a local control API over a unix socket.
//
// It is designed to run as a system service, started before any GPU
// workload and stopped after the last one.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/gpu-persistd/migrations"

	"github.com/nerrad567/gpu-persistd/internal/audit"
	"github.com/nerrad567/gpu-persistd/internal/control"
	"github.com/nerrad567/gpu-persistd/internal/device"
	"github.com/nerrad567/gpu-persistd/internal/driver"
	"github.com/nerrad567/gpu-persistd/internal/infrastructure/config"
	"github.com/nerrad567/gpu-persistd/internal/infrastructure/database"
	"github.com/nerrad567/gpu-persistd/internal/infrastructure/influxdb"
	"github.com/nerrad567/gpu-persistd/internal/infrastructure/logging"
	"github.com/nerrad567/gpu-persistd/internal/lifecycle"
	"github.com/nerrad567/gpu-persistd/internal/numa"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "/etc/gpu-persistd/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual daemon logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting gpu-persistd",
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
	if configPath == "" {
		log.Info("no configuration file, running on defaults")
	} else {
		log.Info("configuration loaded", "path", configPath)
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Take the single-instance lock before touching any shared state
	lc := lifecycle.NewManager(cfg.Daemon, log)
	if err := lc.Startup(); err != nil {
		return fmt.Errorf("lifecycle startup: %w", err)
	}
	defer func() {
		if closeErr := lc.Close(); closeErr != nil {
			log.Error("error releasing PID file", "error", closeErr)
		}
	}()

	// Open the audit database
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

	auditRepo := audit.NewSQLiteRepository(db.DB)
	auditRecorder := audit.NewRecorder(auditRepo, log)

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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Initialise the vendor driver
	drv, err := driver.OpenNVML()
	if err != nil {
		return fmt.Errorf("initialising driver: %w", err)
	}
	defer func() {
		log.Info("shutting down driver")
		if shutErr := drv.Shutdown(); shutErr != nil {
			log.Error("error shutting down driver", "error", shutErr)
		}
	}()

	// Discover devices
	registry := device.NewRegistry()
	registry.SetLogger(log)
	if err := registry.Populate(drv); err != nil {
		return fmt.Errorf("populating device registry: %w", err)
	}
	log.Info("device registry populated", "devices", registry.Count())

	// Build the NUMA control stack over the configured kernel roots
	sysfs := numa.NewSysfs(cfg.NUMA.MemoryRoot, cfg.NUMA.NodeRoot, log)
	opener := numa.NewDeviceOpener(cfg.NUMA.ProcRoot, cfg.NUMA.DevRoot)
	numaController := numa.NewController(sysfs, opener, log)

	// Wire the device state machine
	manager := device.NewManager(registry, drv, numaController, log)
	manager.AddRecorder(auditRecorder)
	if influxClient != nil {
		manager.AddRecorder(influxClient)
	}

	// Apply the configured startup mode to every device
	defaultMode, err := device.ParseMode(cfg.Daemon.DefaultPersistenceMode)
	if err != nil {
		return fmt.Errorf("parsing default persistence mode: %w", err)
	}
	manager.ApplyDefaultMode(ctx, defaultMode)
	log.Info("default persistence mode applied", "mode", defaultMode.String())

	// Start the control API on the unix socket
	server, err := control.New(control.Deps{
		SocketPath: cfg.SocketPath(),
		Logger:     log,
		Manager:    manager,
		Audit:      auditRepo,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating control server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting control server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing control server", "error", closeErr)
		}
	}()

	// Verify infrastructure is healthy before announcing readiness
	if err := healthCheck(ctx, db, influxClient, server); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	lc.Ready()

	// Wait for shutdown signal
	<-ctx.Done()

	lc.BeginShutdown()

	// Release every device before the deferred driver shutdown runs.
	// The parent context is already cancelled, so teardown gets its own.
	manager.DisableAll(context.Background())

	log.Info("gpu-persistd stopped")
	return nil
}

// getConfigPath returns the configuration file path.
//
// Uses the GPUPERSISTD_CONFIG environment variable if set. Otherwise
// the default path is used when it exists; a host without a config
// file runs on built-in defaults.
func getConfigPath() string {
	if path := os.Getenv("GPUPERSISTD_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

// healthCheck verifies all infrastructure components are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//   - server: Control server to check
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client, server *control.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("control: %w", err)
	}

	return nil
}
