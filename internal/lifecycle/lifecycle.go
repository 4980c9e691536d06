package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/nerrad567/gpu-persistd/internal/infrastructure/config"
)

// State represents the daemon's lifecycle state.
type State string

const (
	StateStopped      State = "stopped"
	StateStarting     State = "starting"
	StateReady        State = "ready"
	StateShuttingDown State = "shutting_down"
)

// ErrAlreadyRunning is returned when another daemon instance holds the
// PID file lock.
var ErrAlreadyRunning = errors.New("lifecycle: another instance is already running")

// runtimeDirMode allows unprivileged processes to traverse into the
// runtime directory and reach the control socket.
const runtimeDirMode = 0o755

// pidFileMode is world-readable so tooling can inspect the daemon PID.
const pidFileMode = 0o644

// Logger defines the logging interface for the lifecycle manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager tracks the daemon's lifecycle state and owns the runtime
// directory and PID file.
type Manager struct {
	cfg    config.DaemonConfig
	logger Logger

	mu      sync.Mutex
	state   State
	pidFile *os.File
}

// NewManager creates a lifecycle manager for the given daemon settings.
//
// Parameters:
//   - cfg: Daemon settings (runtime directory, PID file name)
//   - logger: Logger; nil for no logging
func NewManager(cfg config.DaemonConfig, logger Logger) *Manager {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Manager{
		cfg:    cfg,
		logger: logger,
		state:  StateStopped,
	}
}

// Startup creates the runtime directory and acquires the PID file lock.
//
// It must be called before any component that touches shared state. If
// another instance holds the lock, ErrAlreadyRunning is returned with
// the other instance's PID when it can be read.
//
// Returns:
//   - error: ErrAlreadyRunning, or a filesystem error
func (m *Manager) Startup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateStopped {
		return fmt.Errorf("lifecycle: startup from state %s", m.state)
	}

	if err := os.MkdirAll(m.cfg.RuntimeDir, runtimeDirMode); err != nil {
		return fmt.Errorf("creating runtime directory: %w", err)
	}

	if err := m.acquirePIDFile(); err != nil {
		return err
	}

	m.state = StateStarting
	m.logger.Info("lifecycle starting",
		"runtime_dir", m.cfg.RuntimeDir, "pid", os.Getpid())
	return nil
}

// Ready marks the daemon as fully started and notifies the service
// manager, if one is listening.
func (m *Manager) Ready() {
	m.mu.Lock()
	m.state = StateReady
	m.mu.Unlock()

	if err := sdNotify("READY=1"); err != nil {
		m.logger.Warn("readiness notification failed", "error", err)
	}
	m.logger.Info("daemon ready")
}

// BeginShutdown marks the daemon as shutting down and notifies the
// service manager. Component teardown happens after this call.
func (m *Manager) BeginShutdown() {
	m.mu.Lock()
	m.state = StateShuttingDown
	m.mu.Unlock()

	if err := sdNotify("STOPPING=1"); err != nil {
		m.logger.Warn("shutdown notification failed", "error", err)
	}
	m.logger.Info("daemon shutting down")
}

// Close releases the PID file lock and removes the PID file.
//
// Returns:
//   - error: If the PID file cannot be removed
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pidFile == nil {
		m.state = StateStopped
		return nil
	}

	path := m.pidFile.Name()
	if err := m.pidFile.Close(); err != nil {
		m.logger.Warn("closing PID file failed", "error", err)
	}
	m.pidFile = nil
	m.state = StateStopped

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing PID file: %w", err)
	}
	return nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PIDFilePath returns the full path of the PID file.
func (m *Manager) PIDFilePath() string {
	return filepath.Join(m.cfg.RuntimeDir, m.cfg.PIDFileName)
}

// readOtherPID reads the PID recorded in the locked file, for the
// ErrAlreadyRunning diagnostic. Best effort.
func readOtherPID(f *os.File) int {
	buf := make([]byte, 32)
	n, err := f.ReadAt(buf, 0)
	if n == 0 && err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0
	}
	return pid
}
