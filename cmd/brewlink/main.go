// BrewLink - BrewOS companion client
//
// This is the main entry point for the BrewLink application. BrewLink
// connects a frontend shell to a BrewOS espresso machine over exactly
// one of three transports:
//   - Local: direct WebSocket to the appliance on the LAN
//   - Cloud: relay broker session scoped to a paired appliance
//   - Demo: an in-process simulator, no appliance required
//
// The process resolves which transport applies at startup, exposes the
// result through a loopback HTTP control API, and re-resolves whenever
// the user changes what they are connected to.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/brewos/brewlink/migrations"

	"github.com/brewos/brewlink/internal/api"
	"github.com/brewos/brewlink/internal/app"
	"github.com/brewos/brewlink/internal/cloud"
	"github.com/brewos/brewlink/internal/infrastructure/config"
	"github.com/brewos/brewlink/internal/infrastructure/database"
	"github.com/brewos/brewlink/internal/infrastructure/logging"
	"github.com/brewos/brewlink/internal/infrastructure/telemetry"
	"github.com/brewos/brewlink/internal/localapi"
	"github.com/brewos/brewlink/internal/machine"
	"github.com/brewos/brewlink/internal/prefs"
	"github.com/brewos/brewlink/internal/transport"
	cloudtransport "github.com/brewos/brewlink/internal/transport/cloud"
	"github.com/brewos/brewlink/internal/transport/demo"
	"github.com/brewos/brewlink/internal/transport/local"
	"github.com/brewos/brewlink/internal/view"
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
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting BrewLink",
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

	// Open the preferences database
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

	prefStore := prefs.NewStore(db.DB)

	// Domain store and binder: the single snapshot path from whichever
	// transport is active to every reader
	store := machine.NewStore()
	binder := machine.NewBinder(store, log)

	// Single-slot transport registry
	registry := transport.NewRegistry(cfg.Resolver.Strict, log)

	// Appliance REST client (local mode discovery and setup gate)
	deviceAPI := localapi.New(cfg.DeviceBaseURL())

	// Cloud session; a corrupt or missing stored token starts signed out
	session, err := cloud.NewSession(cfg.Cloud, &prefsTokenStore{store: prefStore})
	if err != nil {
		return fmt.Errorf("restoring cloud session: %w", err)
	}
	if session.Authenticated() {
		log.Info("cloud session restored")
	}

	orch := app.New(app.Options{
		DeviceAPI: deviceAPI,
		Session:   session,
		Prefs:     prefStore,
		Registry:  registry,
		Binder:    binder,
		Store:     store,
		Factories: app.Factories{
			Local: func() transport.Transport {
				return local.New(local.Config{
					URL:            cfg.DeviceWSURL(),
					InitialBackoff: time.Duration(cfg.Device.Reconnect.InitialDelay) * time.Second,
					MaxBackoff:     time.Duration(cfg.Device.Reconnect.MaxDelay) * time.Second,
				}, log)
			},
			Cloud: func(deviceID string, creds cloud.RelayCredentials) transport.Transport {
				return cloudtransport.New(cloudtransport.Config{
					Relay:    cfg.Cloud.Relay,
					DeviceID: deviceID,
					Username: creds.Username,
					Password: creds.Password,
				}, log)
			},
			Demo: func() transport.Transport {
				return demo.New(cfg.DemoTickInterval())
			},
		},
		ResolveTimeout: cfg.ResolverTimeout(),
		Logger:         log,
	})

	// Telemetry recorder (optional)
	if cfg.Telemetry.Enabled {
		recorder, telemetryErr := telemetry.Connect(cfg.Telemetry, log)
		if telemetryErr != nil {
			return fmt.Errorf("connecting telemetry: %w", telemetryErr)
		}
		defer func() {
			log.Info("closing telemetry")
			recorder.Close()
		}()
		log.Info("telemetry connected",
			"url", cfg.Telemetry.URL,
			"org", cfg.Telemetry.Org,
			"bucket", cfg.Telemetry.Bucket,
		)

		stopFollow := recorder.Follow(store, func() string {
			return telemetryDeviceID(orch)
		})
		defer stopFollow()
	} else {
		log.Info("telemetry disabled")
	}

	// Control API server
	server, err := api.New(api.Deps{
		Config:       cfg.API,
		Logger:       log,
		Orchestrator: orch,
		Store:        store,
		Registry:     registry,
		Version:      version,
		Health:       db,
	})
	if err != nil {
		return fmt.Errorf("creating control API: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting control API: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing control API", "error", closeErr)
		}
	}()

	// Initial mode resolution. Failure is not fatal: the frontend lands
	// on the routed fallback view and can trigger another resolve.
	if sel, resolveErr := orch.Resolve(ctx); resolveErr != nil {
		log.Warn("initial resolution failed", "error", resolveErr)
	} else {
		log.Info("initial resolution complete", "route", string(sel.Route), "device_id", sel.DeviceID)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Tear the active transport down before the deferred closes run
	orch.Shutdown()

	log.Info("BrewLink stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses BREWLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BREWLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// telemetryDeviceID resolves the device the current readings belong to.
// Local mode has no cloud device identity, so the appliance host stands in.
func telemetryDeviceID(orch *app.Orchestrator) string {
	sel := orch.Selection()
	if sel.DeviceID != "" {
		return sel.DeviceID
	}
	if orch.State().Mode == view.ModeLocal {
		return "local"
	}
	return "unknown"
}

// prefsTokenStore adapts prefs.Store to the context-free cloud.TokenStore
// interface. Token reads and writes are small SQLite operations; a
// background context keeps them out of request cancellation scopes.
type prefsTokenStore struct {
	store *prefs.Store
}

func (p *prefsTokenStore) TokenJSON() (string, error) {
	raw, err := p.store.TokenJSON(context.Background())
	if errors.Is(err, prefs.ErrNotFound) {
		return "", nil
	}
	return raw, err
}

func (p *prefsTokenStore) SaveTokenJSON(tokenJSON string) error {
	return p.store.SaveTokenJSON(context.Background(), tokenJSON)
}
