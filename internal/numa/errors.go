package numa

import "errors"

// Controller errors.
//
// These can be checked with errors.Is() by callers that need to map
// failures onto client-visible result codes.
var (
	// ErrDescriptorUnavailable is returned when the per-device control
	// descriptor cannot be opened, or when an offline is requested for a
	// device that holds no descriptor.
	ErrDescriptorUnavailable = errors.New("numa: device descriptor unavailable")

	// ErrInvalidState is returned when the kernel-of-record status is not
	// a valid source state for the requested transition.
	ErrInvalidState = errors.New("numa: invalid source state for transition")

	// ErrInvalidGeometry is returned when the driver reports a NUMA
	// region with a negative node id, a zero block size, a zero base
	// address or a zero region size.
	ErrInvalidGeometry = errors.New("numa: invalid memory region geometry")

	// ErrMisaligned is returned when the region base or end is not
	// aligned to the kernel memory-block size.
	ErrMisaligned = errors.New("numa: memory region not aligned to block size")

	// ErrUnsupported is returned when the kernel auto-onlines memory
	// blocks outside the movable zone, which the daemon cannot correct.
	ErrUnsupported = errors.New("numa: kernel memory auto-onlining unsupported")

	// ErrNoMemoryBlocks is returned when the target node directory
	// exposes no memory block entries.
	ErrNoMemoryBlocks = errors.New("numa: no memory blocks found for node")

	// ErrBlockShortfall is returned when fewer memory blocks changed
	// state than the region requires.
	ErrBlockShortfall = errors.New("numa: insufficient memory blocks changed state")

	// errNoBlocksChanged reports the degenerate shortfall where not a
	// single block changed state. Kept distinct so the log line can say
	// so explicitly.
	errNoBlocksChanged = errors.New("numa: no memory blocks changed state")
)
