package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/brewos/brewlink/internal/app"
	"github.com/brewos/brewlink/internal/cloud"
	"github.com/brewos/brewlink/internal/infrastructure/config"
	"github.com/brewos/brewlink/internal/infrastructure/logging"
	"github.com/brewos/brewlink/internal/machine"
	"github.com/brewos/brewlink/internal/transport"
	"github.com/brewos/brewlink/internal/view"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Orchestrator is the application core the API exposes.
// Implemented by app.Orchestrator.
type Orchestrator interface {
	Phase() app.Phase
	State() view.State
	Selection() view.Selection
	Devices() []cloud.Device
	Send(cmd machine.Command) error
	EnterDemo(ctx context.Context) (view.Selection, error)
	ExitDemo(ctx context.Context) (view.Selection, error)
	SelectDevice(ctx context.Context, deviceID string) (view.Selection, error)
	CompleteSetup(ctx context.Context) (view.Selection, error)
	BeginLogin() (string, error)
	CompleteLogin(ctx context.Context, state, code string) (view.Selection, error)
	PairDevice(ctx context.Context, code string) (view.Selection, error)
	UnpairDevice(ctx context.Context, deviceID string) (view.Selection, error)
	Logout(ctx context.Context) (view.Selection, error)
}

// HealthChecker probes a dependency's liveness for the health endpoint.
// Implemented by database.DB.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config       config.APIConfig
	Logger       *logging.Logger
	Orchestrator Orchestrator
	Store        *machine.Store
	Registry     *transport.Registry
	Version      string

	// Health is probed by GET /healthz when set; typically the
	// preferences database.
	Health HealthChecker
}

// Server is the HTTP control API server.
//
// It manages the HTTP listener, routes, and middleware. The server is
// created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	orch     Orchestrator
	store    *machine.Store
	registry *transport.Registry
	version  string
	health   HealthChecker
	server   *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("machine store is required")
	}

	return &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		orch:     deps.Orchestrator,
		store:    deps.Store,
		registry: deps.Registry,
		version:  deps.Version,
		health:   deps.Health,
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	go func() {
		s.logger.Info("control API listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control API server error", "error", err)
		}
	}()

	return nil
}

// HealthCheck verifies the API server is operational.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("control API shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down control API: %w", err)
	}
	return nil
}
