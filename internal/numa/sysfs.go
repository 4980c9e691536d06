package numa

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Block state commands written to a memory block's state file. Onlining
// always requests the movable zone so the blocks can be offlined again.
const (
	blockCommandOnline  = "online_movable"
	blockCommandOffline = "offline"
)

// Sysfs drives the kernel memory-hotplug control files for a NUMA node.
//
// The memory and node roots are configurable so tests can point the
// surface at a fixture tree; production uses /sys/devices/system/memory
// and /sys/devices/system/node.
type Sysfs struct {
	memoryRoot string
	nodeRoot   string
	logger     Logger
}

// NewSysfs creates a hotplug surface over the given sysfs roots.
//
// Parameters:
//   - memoryRoot: Memory subsystem root, normally /sys/devices/system/memory
//   - nodeRoot: Node subsystem root, normally /sys/devices/system/node
//   - logger: Logger for hotplug activity; nil for no logging
func NewSysfs(memoryRoot, nodeRoot string, logger Logger) *Sysfs {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Sysfs{
		memoryRoot: memoryRoot,
		nodeRoot:   nodeRoot,
		logger:     logger,
	}
}

// ProbeRange requests kernel probing of every memory block in the given
// physical region.
//
// A missing probe file is not an error: kernels without manual probing
// discover the memory themselves. A block that is already probed
// (EEXIST) is not an error either.
func (s *Sysfs) ProbeRange(base, size, blockSize uint64) error {
	probePath := filepath.Join(s.memoryRoot, "probe")
	if _, err := os.Stat(probePath); errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("memory probe file absent, probing not needed", "path", probePath)
		return nil
	}

	for offset := uint64(0); offset < size; offset += blockSize {
		addr := base + offset
		err := os.WriteFile(probePath, []byte(fmt.Sprintf("0x%x", addr)), 0)
		if err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return fmt.Errorf("numa: probing memory at 0x%x: %w", addr, err)
		}
	}

	s.logger.Debug("probed memory region", "base", fmt.Sprintf("0x%x", base), "size", size)
	return nil
}

// BlockRange returns the lowest and highest memory block id belonging to
// the given NUMA node. Block ids within a node are contiguous, so the
// pair bounds every block the node owns.
//
// Returns:
//   - int: Lowest block id
//   - int: Highest block id
//   - error: ErrNoMemoryBlocks if the node directory has no block entries
func (s *Sysfs) BlockRange(nodeID int32) (int, int, error) {
	dir := filepath.Join(s.nodeRoot, fmt.Sprintf("node%d", nodeID))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, fmt.Errorf("numa: reading node directory %s: %w", dir, err)
	}

	minID, maxID := -1, -1
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "memory") {
			continue
		}
		id, err := strconv.Atoi(strings.TrimPrefix(name, "memory"))
		if err != nil {
			continue
		}
		if minID == -1 || id < minID {
			minID = id
		}
		if id > maxID {
			maxID = id
		}
	}

	if minID == -1 {
		return 0, 0, fmt.Errorf("%w: node %d", ErrNoMemoryBlocks, nodeID)
	}

	return minID, maxID, nil
}

// AutoOnlineCheck inspects the node's memory blocks to decide whether
// the kernel has already onlined them.
//
// Returns:
//   - bool: true when every block is already online in the movable zone
//     and no explicit onlining is needed
//   - error: ErrUnsupported when the kernel auto-onlined blocks outside
//     the movable zone; such blocks cannot be offlined again and the
//     daemon cannot correct the placement
func (s *Sysfs) AutoOnlineCheck(nodeID int32) (bool, error) {
	minID, maxID, err := s.BlockRange(nodeID)
	if err != nil {
		return false, err
	}

	total, online := 0, 0
	for id := minID; id <= maxID; id++ {
		state, err := s.readBlockFile(id, "state")
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return false, err
		}
		total++

		if !strings.HasPrefix(state, "online") {
			continue
		}

		zones, err := s.readBlockFile(id, "valid_zones")
		if err != nil {
			return false, err
		}
		if !strings.HasPrefix(zones, "Movable") {
			s.logger.Error("memory block auto-onlined outside the movable zone",
				"block", id, "zones", zones,
				"hint", "disable CONFIG_MEMORY_HOTPLUG_DEFAULT_ONLINE or udev memory onlining rules, or have them use online_movable")
			return false, fmt.Errorf("%w: block %d in zone %q", ErrUnsupported, id, zones)
		}
		online++
	}

	if total == 0 {
		return false, fmt.Errorf("%w: node %d", ErrNoMemoryBlocks, nodeID)
	}

	return online == total, nil
}

// ChangeBlockState moves a single memory block online or offline. A
// block already in the requested state is left untouched and reported as
// success.
func (s *Sysfs) ChangeBlockState(id int, online bool) error {
	state, err := s.readBlockFile(id, "state")
	if err != nil {
		return err
	}

	if strings.HasPrefix(state, "online") == online {
		return nil
	}

	command := blockCommandOffline
	if online {
		command = blockCommandOnline
	}

	path := filepath.Join(s.memoryRoot, fmt.Sprintf("memory%d", id), "state")
	if err := os.WriteFile(path, []byte(command), 0); err != nil {
		return fmt.Errorf("numa: changing block %d state to %s: %w", id, command, err)
	}

	s.logger.Debug("changed memory block state", "block", id, "command", command)
	return nil
}

// RetirePages retires each blacklisted page address through the kernel's
// hard offlining interface. Any single failure aborts the whole
// retirement.
func (s *Sysfs) RetirePages(addrs []uint64) error {
	if len(addrs) == 0 {
		return nil
	}

	path := filepath.Join(s.memoryRoot, "hard_offline_page")
	for _, addr := range addrs {
		if err := os.WriteFile(path, []byte(fmt.Sprintf("0x%x", addr)), 0); err != nil {
			return fmt.Errorf("numa: retiring page 0x%x: %w", addr, err)
		}
		s.logger.Debug("retired blacklisted page", "address", fmt.Sprintf("0x%x", addr))
	}

	return nil
}

func (s *Sysfs) readBlockFile(id int, name string) (string, error) {
	path := filepath.Join(s.memoryRoot, fmt.Sprintf("memory%d", id), name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("numa: memory block %d has no %s file: %w", id, name, err)
		}
		return "", fmt.Errorf("numa: reading block %d %s: %w", id, name, err)
	}
	return strings.TrimSpace(string(data)), nil
}
