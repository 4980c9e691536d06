package lifecycle

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gpu-persistd/internal/infrastructure/config"
)

func testConfig(t *testing.T) config.DaemonConfig {
	t.Helper()
	return config.DaemonConfig{
		RuntimeDir:  filepath.Join(t.TempDir(), "run", "gpu-persistd"),
		PIDFileName: "gpu-persistd.pid",
	}
}

func TestStartup_CreatesRuntimeDirAndPIDFile(t *testing.T) {
	cfg := testConfig(t)
	m := NewManager(cfg, nil)

	if err := m.Startup(); err != nil {
		t.Fatalf("Startup() error = %v", err)
	}
	defer m.Close() //nolint:errcheck // Test cleanup

	if m.State() != StateStarting {
		t.Errorf("State() = %s, want %s", m.State(), StateStarting)
	}

	info, err := os.Stat(cfg.RuntimeDir)
	if err != nil {
		t.Fatalf("runtime dir not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("runtime dir is not a directory")
	}

	data, err := os.ReadFile(m.PIDFilePath())
	if err != nil {
		t.Fatalf("reading PID file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("PID file content %q: %v", data, err)
	}
	if pid != os.Getpid() {
		t.Errorf("PID file = %d, want %d", pid, os.Getpid())
	}
}

func TestStartup_SecondInstanceRejected(t *testing.T) {
	cfg := testConfig(t)

	first := NewManager(cfg, nil)
	if err := first.Startup(); err != nil {
		t.Fatalf("first Startup() error = %v", err)
	}
	defer first.Close() //nolint:errcheck // Test cleanup

	second := NewManager(cfg, nil)
	err := second.Startup()
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Startup() error = %v, want ErrAlreadyRunning", err)
	}
	if !strings.Contains(err.Error(), strconv.Itoa(os.Getpid())) {
		t.Errorf("error %q should name the holding PID", err)
	}
}

func TestClose_ReleasesLock(t *testing.T) {
	cfg := testConfig(t)

	first := NewManager(cfg, nil)
	if err := first.Startup(); err != nil {
		t.Fatalf("Startup() error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := os.Stat(first.PIDFilePath()); !os.IsNotExist(err) {
		t.Error("PID file still present after Close()")
	}
	if first.State() != StateStopped {
		t.Errorf("State() = %s, want %s", first.State(), StateStopped)
	}

	// A fresh instance can now start.
	second := NewManager(cfg, nil)
	if err := second.Startup(); err != nil {
		t.Fatalf("restart Startup() error = %v", err)
	}
	defer second.Close() //nolint:errcheck // Test cleanup
}

func TestStartup_StalePIDFile(t *testing.T) {
	cfg := testConfig(t)

	// A PID file without a live flock must not block startup.
	if err := os.MkdirAll(cfg.RuntimeDir, 0o755); err != nil {
		t.Fatalf("creating runtime dir: %v", err)
	}
	pidPath := filepath.Join(cfg.RuntimeDir, cfg.PIDFileName)
	if err := os.WriteFile(pidPath, []byte("99999\n"), 0o644); err != nil {
		t.Fatalf("writing stale PID file: %v", err)
	}

	m := NewManager(cfg, nil)
	if err := m.Startup(); err != nil {
		t.Fatalf("Startup() over stale PID file error = %v", err)
	}
	defer m.Close() //nolint:errcheck // Test cleanup

	data, err := os.ReadFile(pidPath)
	if err != nil {
		t.Fatalf("reading PID file: %v", err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		t.Errorf("PID file = %q, want own PID %d", data, os.Getpid())
	}
}

func TestReady_NotifiesServiceManager(t *testing.T) {
	notifyPath := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenPacket("unixgram", notifyPath)
	if err != nil {
		t.Fatalf("creating notify socket: %v", err)
	}
	defer conn.Close() //nolint:errcheck // Test cleanup
	t.Setenv("NOTIFY_SOCKET", notifyPath)

	cfg := testConfig(t)
	m := NewManager(cfg, nil)
	if err := m.Startup(); err != nil {
		t.Fatalf("Startup() error = %v", err)
	}
	defer m.Close() //nolint:errcheck // Test cleanup

	m.Ready()

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("setting read deadline: %v", err)
	}
	buf := make([]byte, 64)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("reading notification: %v", err)
	}
	if got := string(buf[:n]); got != "READY=1" {
		t.Errorf("notification = %q, want READY=1", got)
	}
	if m.State() != StateReady {
		t.Errorf("State() = %s, want %s", m.State(), StateReady)
	}
}

func TestBeginShutdown_SetsState(t *testing.T) {
	cfg := testConfig(t)
	m := NewManager(cfg, nil)
	if err := m.Startup(); err != nil {
		t.Fatalf("Startup() error = %v", err)
	}
	defer m.Close() //nolint:errcheck // Test cleanup

	m.BeginShutdown()
	if m.State() != StateShuttingDown {
		t.Errorf("State() = %s, want %s", m.State(), StateShuttingDown)
	}
}

func TestStartup_Twice(t *testing.T) {
	cfg := testConfig(t)
	m := NewManager(cfg, nil)
	if err := m.Startup(); err != nil {
		t.Fatalf("Startup() error = %v", err)
	}
	defer m.Close() //nolint:errcheck // Test cleanup

	if err := m.Startup(); err == nil {
		t.Error("second Startup() on same manager should fail")
	}
}
