package device

import (
	"fmt"
	"time"

	"github.com/nerrad567/gpu-persistd/internal/driver"
	"github.com/nerrad567/gpu-persistd/internal/numa"
	"github.com/nerrad567/gpu-persistd/internal/pci"
)

// Mode is a device's persistence mode.
type Mode int

const (
	// ModeDisabled means the driver tears down device state when the
	// last client disconnects.
	ModeDisabled Mode = iota

	// ModeEnabled means the daemon holds an attachment that keeps driver
	// state resident between clients.
	ModeEnabled
)

// String returns the mode name used in logs and API responses.
func (m Mode) String() string {
	switch m {
	case ModeDisabled:
		return "disabled"
	case ModeEnabled:
		return "enabled"
	default:
		return "unknown"
	}
}

// ParseMode converts a mode name back into a Mode.
//
// Returns:
//   - Mode: Parsed mode
//   - error: ErrInvalidArgument for unrecognised names
func ParseMode(s string) (Mode, error) {
	switch s {
	case "disabled":
		return ModeDisabled, nil
	case "enabled":
		return ModeEnabled, nil
	default:
		return ModeDisabled, fmt.Errorf("%w: unrecognised mode %q", ErrInvalidArgument, s)
	}
}

// Device is the daemon's view of a single GPU. All fields except the
// address are mutated only by the Manager, under its lock.
type Device struct {
	// Address is the device's PCI address, fixed at discovery.
	Address pci.Address

	// Mode is the current persistence mode.
	Mode Mode

	// NumaStatus is the last NUMA state the daemon drove the device to.
	NumaStatus numa.Status

	// handle is the driver attachment, non-nil exactly while Mode is
	// enabled.
	handle driver.Handle

	// numaClient is the NUMA control descriptor, held while the device
	// memory is online.
	numaClient numa.DeviceClient

	// autoOnline records that the driver onlines the memory itself, so
	// offlining only releases the descriptor.
	autoOnline bool
}

// Snapshot is a read-only copy of a device's state, safe to hand to API
// handlers.
type Snapshot struct {
	Address    string `json:"address"`
	Mode       string `json:"mode"`
	NumaStatus string `json:"numa_status"`
}

// snapshot builds the exported view of the device.
func (d *Device) snapshot() Snapshot {
	return Snapshot{
		Address:    d.Address.String(),
		Mode:       d.Mode.String(),
		NumaStatus: d.NumaStatus.String(),
	}
}

// Transition kinds recorded for observability.
const (
	TransitionKindMode = "mode"
	TransitionKindNuma = "numa"
)

// Transition describes one state transition attempt, successful or not.
type Transition struct {
	// Address is the device's PCI address.
	Address string

	// Kind is TransitionKindMode or TransitionKindNuma.
	Kind string

	// From and To are the state names on either side of the attempt.
	From string
	To   string

	// Success reports whether the transition completed.
	Success bool

	// Error holds the failure description when Success is false.
	Error string

	// At is when the attempt finished.
	At time.Time
}
