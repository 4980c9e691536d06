package device

import (
	"fmt"

	"github.com/nerrad567/gpu-persistd/internal/driver"
	"github.com/nerrad567/gpu-persistd/internal/numa"
	"github.com/nerrad567/gpu-persistd/internal/pci"
)

// Logger defines the logging interface used by this package.
// This allows different logging implementations to be used.
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

// Registry holds the devices discovered at startup. The set is fixed
// for the daemon's lifetime; only per-device state changes afterwards.
type Registry struct {
	devices []*Device
	logger  Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{logger: noopLogger{}}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Populate discovers devices through driver enumeration. Called exactly
// once, before the manager starts serving commands.
func (r *Registry) Populate(drv driver.Interface) error {
	addrs, err := drv.Enumerate()
	if err != nil {
		return fmt.Errorf("enumerating devices: %w", err)
	}

	r.devices = make([]*Device, 0, len(addrs))
	for _, addr := range addrs {
		r.devices = append(r.devices, &Device{
			Address:    addr,
			Mode:       ModeDisabled,
			NumaStatus: numa.StatusOffline,
		})
		r.logger.Info("registered device", "address", addr.String())
	}

	r.logger.Info("device registry populated", "count", len(r.devices))
	return nil
}

// Lookup returns the device at the given PCI address. The function
// number is ignored when matching, the way the driver reports whole
// devices.
//
// Returns:
//   - *Device: The registered device, shared with the registry
//   - error: ErrDeviceNotFound if no device matches
func (r *Registry) Lookup(addr pci.Address) (*Device, error) {
	for _, d := range r.devices {
		if d.Address.Matches(addr.Domain, addr.Bus, addr.Slot) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, addr)
}

// All returns the registered devices in discovery order. The slice is
// shared; callers must not modify it.
func (r *Registry) All() []*Device {
	return r.devices
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	return len(r.devices)
}
