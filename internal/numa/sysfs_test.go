package numa

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// blockSpec describes one memory block in a fixture tree. An empty state
// leaves the block directory without a state file.
type blockSpec struct {
	state string
	zones string
}

// newSysfsTree builds a fake memory-hotplug tree under a temp directory
// and returns the memory and node roots.
func newSysfsTree(t *testing.T, nodeID int32, blocks map[int]blockSpec) (string, string) {
	t.Helper()

	root := t.TempDir()
	memoryRoot := filepath.Join(root, "memory")
	nodeRoot := filepath.Join(root, "node")
	nodeDir := filepath.Join(nodeRoot, fmt.Sprintf("node%d", nodeID))

	if err := os.MkdirAll(nodeDir, 0o755); err != nil {
		t.Fatalf("creating node dir: %v", err)
	}
	if err := os.MkdirAll(memoryRoot, 0o755); err != nil {
		t.Fatalf("creating memory dir: %v", err)
	}

	for id, spec := range blocks {
		blockDir := filepath.Join(memoryRoot, fmt.Sprintf("memory%d", id))
		if err := os.MkdirAll(blockDir, 0o755); err != nil {
			t.Fatalf("creating block dir: %v", err)
		}
		if spec.state != "" {
			if err := os.WriteFile(filepath.Join(blockDir, "state"), []byte(spec.state+"\n"), 0o644); err != nil {
				t.Fatalf("writing state: %v", err)
			}
		}
		if spec.zones != "" {
			if err := os.WriteFile(filepath.Join(blockDir, "valid_zones"), []byte(spec.zones+"\n"), 0o644); err != nil {
				t.Fatalf("writing valid_zones: %v", err)
			}
		}
		if err := os.WriteFile(filepath.Join(nodeDir, fmt.Sprintf("memory%d", id)), nil, 0o644); err != nil {
			t.Fatalf("creating node block entry: %v", err)
		}
	}

	for _, name := range []string{"probe", "hard_offline_page"} {
		if err := os.WriteFile(filepath.Join(memoryRoot, name), nil, 0o644); err != nil {
			t.Fatalf("creating %s: %v", name, err)
		}
	}

	return memoryRoot, nodeRoot
}

func blockState(t *testing.T, memoryRoot string, id int) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(memoryRoot, fmt.Sprintf("memory%d", id), "state"))
	if err != nil {
		t.Fatalf("reading block %d state: %v", id, err)
	}
	return strings.TrimSpace(string(data))
}

func TestBlockRange(t *testing.T) {
	memoryRoot, nodeRoot := newSysfsTree(t, 1, map[int]blockSpec{
		40: {state: "offline"},
		41: {state: "offline"},
		43: {state: "offline"},
	})
	s := NewSysfs(memoryRoot, nodeRoot, nil)

	minID, maxID, err := s.BlockRange(1)
	if err != nil {
		t.Fatalf("BlockRange() error = %v", err)
	}
	if minID != 40 || maxID != 43 {
		t.Errorf("BlockRange() = (%d, %d), want (40, 43)", minID, maxID)
	}
}

func TestBlockRange_EmptyNode(t *testing.T) {
	memoryRoot, nodeRoot := newSysfsTree(t, 0, nil)
	s := NewSysfs(memoryRoot, nodeRoot, nil)

	if _, _, err := s.BlockRange(0); !errors.Is(err, ErrNoMemoryBlocks) {
		t.Errorf("BlockRange() error = %v, want ErrNoMemoryBlocks", err)
	}
}

func TestAutoOnlineCheck(t *testing.T) {
	tests := []struct {
		name    string
		blocks  map[int]blockSpec
		want    bool
		wantErr error
	}{
		{
			name: "all offline",
			blocks: map[int]blockSpec{
				10: {state: "offline"},
				11: {state: "offline"},
			},
			want: false,
		},
		{
			name: "all online movable",
			blocks: map[int]blockSpec{
				10: {state: "online", zones: "Movable Normal"},
				11: {state: "online", zones: "Movable"},
			},
			want: true,
		},
		{
			name: "partially online",
			blocks: map[int]blockSpec{
				10: {state: "online", zones: "Movable"},
				11: {state: "offline"},
			},
			want: false,
		},
		{
			name: "online outside movable zone",
			blocks: map[int]blockSpec{
				10: {state: "online", zones: "Normal Movable"},
			},
			wantErr: ErrUnsupported,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			memoryRoot, nodeRoot := newSysfsTree(t, 0, tt.blocks)
			s := NewSysfs(memoryRoot, nodeRoot, nil)

			got, err := s.AutoOnlineCheck(0)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("AutoOnlineCheck() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("AutoOnlineCheck() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("AutoOnlineCheck() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChangeBlockState(t *testing.T) {
	memoryRoot, nodeRoot := newSysfsTree(t, 0, map[int]blockSpec{
		5: {state: "offline"},
	})
	s := NewSysfs(memoryRoot, nodeRoot, nil)

	if err := s.ChangeBlockState(5, true); err != nil {
		t.Fatalf("ChangeBlockState(online) error = %v", err)
	}
	if got := blockState(t, memoryRoot, 5); got != "online_movable" {
		t.Errorf("state after onlining = %q, want %q", got, "online_movable")
	}

	if err := s.ChangeBlockState(5, false); err != nil {
		t.Fatalf("ChangeBlockState(offline) error = %v", err)
	}
	if got := blockState(t, memoryRoot, 5); got != "offline" {
		t.Errorf("state after offlining = %q, want %q", got, "offline")
	}
}

func TestChangeBlockState_AlreadyInState(t *testing.T) {
	memoryRoot, nodeRoot := newSysfsTree(t, 0, map[int]blockSpec{
		5: {state: "online"},
	})
	s := NewSysfs(memoryRoot, nodeRoot, nil)

	if err := s.ChangeBlockState(5, true); err != nil {
		t.Fatalf("ChangeBlockState() error = %v", err)
	}
	// The file keeps its original content: no command was written.
	if got := blockState(t, memoryRoot, 5); got != "online" {
		t.Errorf("state = %q, want untouched %q", got, "online")
	}
}

func TestChangeBlockState_MissingStateFile(t *testing.T) {
	memoryRoot, nodeRoot := newSysfsTree(t, 0, map[int]blockSpec{
		5: {},
	})
	s := NewSysfs(memoryRoot, nodeRoot, nil)

	if err := s.ChangeBlockState(5, true); err == nil {
		t.Error("ChangeBlockState() error = nil, want error for missing state file")
	}
}

func TestProbeRange(t *testing.T) {
	memoryRoot, nodeRoot := newSysfsTree(t, 0, nil)
	s := NewSysfs(memoryRoot, nodeRoot, nil)

	if err := s.ProbeRange(0x10000, 0x3000, 0x1000); err != nil {
		t.Fatalf("ProbeRange() error = %v", err)
	}

	// The probe file holds the last span written.
	data, err := os.ReadFile(filepath.Join(memoryRoot, "probe"))
	if err != nil {
		t.Fatalf("reading probe file: %v", err)
	}
	if got := string(data); got != "0x12000" {
		t.Errorf("last probed address = %q, want %q", got, "0x12000")
	}
}

func TestProbeRange_NoProbeFile(t *testing.T) {
	memoryRoot, nodeRoot := newSysfsTree(t, 0, nil)
	if err := os.Remove(filepath.Join(memoryRoot, "probe")); err != nil {
		t.Fatalf("removing probe file: %v", err)
	}
	s := NewSysfs(memoryRoot, nodeRoot, nil)

	if err := s.ProbeRange(0x10000, 0x3000, 0x1000); err != nil {
		t.Errorf("ProbeRange() error = %v, want nil when probing is not needed", err)
	}
}

func TestRetirePages(t *testing.T) {
	memoryRoot, nodeRoot := newSysfsTree(t, 0, nil)
	s := NewSysfs(memoryRoot, nodeRoot, nil)

	if err := s.RetirePages([]uint64{0xdead000, 0xbeef000}); err != nil {
		t.Fatalf("RetirePages() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(memoryRoot, "hard_offline_page"))
	if err != nil {
		t.Fatalf("reading hard_offline_page: %v", err)
	}
	if got := string(data); got != "0xbeef000" {
		t.Errorf("last retired address = %q, want %q", got, "0xbeef000")
	}
}

func TestRetirePages_MissingInterface(t *testing.T) {
	memoryRoot, nodeRoot := newSysfsTree(t, 0, nil)
	if err := os.Remove(filepath.Join(memoryRoot, "hard_offline_page")); err != nil {
		t.Fatalf("removing hard_offline_page: %v", err)
	}
	s := NewSysfs(memoryRoot, nodeRoot, nil)

	if err := s.RetirePages([]uint64{0xdead000}); err == nil {
		t.Error("RetirePages() error = nil, want error for missing interface")
	}

	if err := s.RetirePages(nil); err != nil {
		t.Errorf("RetirePages(nil) error = %v, want nil", err)
	}
}
