package driver

import (
	"errors"

	"github.com/nerrad567/gpu-persistd/internal/pci"
)

// Driver errors.
//
// These can be checked with errors.Is() by callers that need to
// distinguish enumeration failures from attach/detach failures.
var (
	// ErrUnavailable is returned when the driver library cannot be
	// initialised, typically because the kernel driver is not loaded.
	ErrUnavailable = errors.New("driver: unavailable")

	// ErrAttachFailed is returned when the driver refuses to attach a device.
	ErrAttachFailed = errors.New("driver: attach failed")

	// ErrDetachFailed is returned when the driver refuses to release a handle.
	ErrDetachFailed = errors.New("driver: detach failed")

	// ErrNoDevices is returned by Enumerate when the driver reports no devices.
	ErrNoDevices = errors.New("driver: no devices found")
)

// Handle is an opaque ownership token for an attached device.
//
// A handle exists for exactly as long as the device's persistence mode is
// enabled; releasing it through Detach allows the driver to tear down the
// device state.
type Handle interface {
	// Address returns the PCI address the handle is attached to.
	Address() pci.Address
}

// Interface is the vendor driver capability consumed by the device state
// machine. Implementations are not required to be safe for concurrent
// use; the state machine serialises all calls.
type Interface interface {
	// Enumerate returns the PCI addresses of all devices the driver
	// manages. The daemon calls this exactly once, at startup.
	Enumerate() ([]pci.Address, error)

	// Attach establishes driver-level persistent state for the device and
	// returns the ownership handle. Attaching twice without an intervening
	// Detach is a caller error.
	Attach(addr pci.Address) (Handle, error)

	// Detach releases an attachment handle. On failure the handle remains
	// valid and owned by the caller.
	Detach(h Handle) error

	// Shutdown releases the driver library itself. Called once, during
	// daemon teardown, after every device has been detached.
	Shutdown() error
}
