package numa

import "github.com/nerrad567/gpu-persistd/internal/pci"

// DeviceClient is a per-device control descriptor. It carries the two
// driver operations the controller needs: querying the NUMA geometry and
// recording status transitions in the kernel-of-record state.
//
// A client is opened at the start of an online sequence and retained by
// the device state machine for as long as the memory stays online; the
// matching offline sequence closes it. Clients are not safe for
// concurrent use.
type DeviceClient interface {
	// Info returns the device's NUMA geometry and current status.
	Info() (Info, error)

	// SetStatus records a status transition with the driver.
	SetStatus(status Status) error

	// Close releases the descriptor.
	Close() error
}

// Opener opens a control descriptor for the device at the given address.
type Opener func(addr pci.Address) (DeviceClient, error)

// Logger is the logging interface consumed by this package. Callers can
// supply any implementation; a no-op logger is used when none is set.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}
