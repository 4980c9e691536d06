package control

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/nerrad567/gpu-persistd/internal/audit"
	"github.com/nerrad567/gpu-persistd/internal/device"
	"github.com/nerrad567/gpu-persistd/internal/infrastructure/logging"
	"github.com/nerrad567/gpu-persistd/internal/numa"
	"github.com/nerrad567/gpu-persistd/internal/pci"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Server timeouts. The surface is local and request bodies are tiny, so
// these are tight.
const (
	readTimeout  = 5 * time.Second
	writeTimeout = 30 * time.Second
	idleTimeout  = 60 * time.Second
)

// socketMode makes the socket world-connectable. Read-only routes are
// open to any local process; mutating routes are gated on peer uid.
const socketMode = 0o666

// DeviceManager is the command surface the server drives. Satisfied by
// *device.Manager; tests supply fakes.
type DeviceManager interface {
	List() []device.Snapshot
	GetPersistenceMode(addr pci.Address) (device.Snapshot, error)
	SetPersistenceMode(ctx context.Context, addr pci.Address, mode device.Mode) error
	SetPersistenceModeOnly(ctx context.Context, addr pci.Address, mode device.Mode) error
	SetNumaStatus(ctx context.Context, addr pci.Address, target numa.Status) error
}

// Deps holds the dependencies required by the control server.
type Deps struct {
	SocketPath string
	Logger     *logging.Logger
	Manager    DeviceManager
	Audit      audit.Repository
	Version    string
}

// Server is the daemon's control API server.
//
// It manages the unix-socket listener, routes and the peer-credential
// root gate. The server is created with New() and started with Start().
type Server struct {
	socketPath string
	logger     *logging.Logger
	manager    DeviceManager
	audit      audit.Repository
	version    string
	server     *http.Server
}

// New creates a new control server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (socket path, logger, manager, audit)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.SocketPath == "" {
		return nil, fmt.Errorf("socket path is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Manager == nil {
		return nil, fmt.Errorf("device manager is required")
	}
	if deps.Audit == nil {
		return nil, fmt.Errorf("audit repository is required")
	}

	return &Server{
		socketPath: deps.SocketPath,
		logger:     deps.Logger,
		manager:    deps.Manager,
		audit:      deps.Audit,
		version:    deps.Version,
	}, nil
}

// Start begins listening on the control socket.
//
// A stale socket file left by an unclean shutdown is removed first; the
// pidfile lock has already established that no other instance is
// running. The listener runs in a background goroutine until Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the socket cannot be created
func (s *Server) Start(_ context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing stale control socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on control socket: %w", err)
	}

	if err := os.Chmod(s.socketPath, socketMode); err != nil {
		listener.Close() //nolint:errcheck // Cleanup on failed start
		return fmt.Errorf("setting control socket permissions: %w", err)
	}

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ConnContext:       peerCredConnContext,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	s.logger.Info("control server listening", "socket", s.socketPath)

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the control server and removes the
// socket file.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("control server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down control server: %w", err)
	}

	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing control socket: %w", err)
	}

	return nil
}

// HealthCheck verifies the control server is running.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("control health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("control server not started")
	}

	return nil
}
