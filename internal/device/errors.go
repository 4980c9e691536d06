package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when no registered device matches the
	// requested PCI address.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidArgument is returned when a command carries a value the
	// state machine does not accept.
	ErrInvalidArgument = errors.New("device: invalid argument")

	// ErrDriverFailure wraps attachment and detachment failures reported
	// by the vendor driver.
	ErrDriverFailure = errors.New("device: driver operation failed")

	// ErrNumaFailure wraps failures of the NUMA memory online and
	// offline sequences.
	ErrNumaFailure = errors.New("device: NUMA memory operation failed")
)
