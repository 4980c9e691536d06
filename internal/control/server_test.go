package control

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// socketClient returns an HTTP client that dials the given unix socket
// regardless of the request URL host.
func socketClient(socketPath string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}
}

func TestServerLifecycle(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "control.sock")
	s := newTestServer(t, twoDeviceManager(), &fakeAuditRepo{})
	s.socketPath = socketPath

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	client := socketClient(socketPath)
	resp, err := client.Get("http://unix/api/v1/health")
	if err != nil {
		t.Fatalf("health request error = %v", err)
	}
	resp.Body.Close() //nolint:errcheck // Test cleanup
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}

	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket file still present after Close()")
	}
}

func TestStart_RemovesStaleSocket(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "control.sock")

	// Simulate an unclean shutdown leaving a socket file behind.
	stale, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("creating stale socket: %v", err)
	}
	stale.Close() //nolint:errcheck // Deliberately abandoned

	s := newTestServer(t, twoDeviceManager(), &fakeAuditRepo{})
	s.socketPath = socketPath

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() with stale socket error = %v", err)
	}
	defer s.Close() //nolint:errcheck // Test cleanup

	client := socketClient(socketPath)
	resp, err := client.Get("http://unix/api/v1/health")
	if err != nil {
		t.Fatalf("health request error = %v", err)
	}
	resp.Body.Close() //nolint:errcheck // Test cleanup
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}
}

// TestPeerCredGateOverSocket exercises the SO_PEERCRED path end to end.
// The expected outcome depends on who runs the tests: root sees the
// command accepted, everyone else sees the gate reject it.
func TestPeerCredGateOverSocket(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "control.sock")
	mgr := twoDeviceManager()
	s := newTestServer(t, mgr, &fakeAuditRepo{})
	s.socketPath = socketPath

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Close() //nolint:errcheck // Test cleanup

	req, err := http.NewRequest(http.MethodPut, "http://unix/api/v1/devices/0000:65:00.0/mode",
		strings.NewReader(`{"mode":"enabled"}`))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}

	resp, err := socketClient(socketPath).Do(req)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	resp.Body.Close() //nolint:errcheck // Test cleanup

	want := http.StatusForbidden
	if os.Geteuid() == 0 {
		want = http.StatusOK
	}
	if resp.StatusCode != want {
		t.Errorf("status = %d, want %d (euid %d)", resp.StatusCode, want, os.Geteuid())
	}
}
