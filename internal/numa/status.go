package numa

// Status is the kernel-of-record NUMA memory state for a device. The
// values mirror the driver's on-wire encoding and must not be reordered.
type Status int32

const (
	// StatusDisabled means the device does not participate in NUMA
	// memory onlining at all.
	StatusDisabled Status = iota

	// StatusOffline means the device memory is not part of the host
	// NUMA topology.
	StatusOffline

	// StatusOnlineInProgress is the transient state held while an
	// online sequence runs.
	StatusOnlineInProgress

	// StatusOnline means the device memory is online in the host NUMA
	// topology.
	StatusOnline

	// StatusOnlineFailed records a failed online sequence.
	StatusOnlineFailed

	// StatusOfflineInProgress is the transient state held while an
	// offline sequence runs.
	StatusOfflineInProgress

	// StatusOfflineFailed records a failed offline sequence.
	StatusOfflineFailed
)

// String returns the human-readable name used in logs and API responses.
func (s Status) String() string {
	switch s {
	case StatusDisabled:
		return "disabled"
	case StatusOffline:
		return "offline"
	case StatusOnlineInProgress:
		return "online_in_progress"
	case StatusOnline:
		return "online"
	case StatusOnlineFailed:
		return "online_failed"
	case StatusOfflineInProgress:
		return "offline_in_progress"
	case StatusOfflineFailed:
		return "offline_failed"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the defined status values.
func (s Status) Valid() bool {
	return s >= StatusDisabled && s <= StatusOfflineFailed
}

// Info is the per-device NUMA geometry and state reported by the driver.
type Info struct {
	// NodeID is the NUMA node the device memory belongs to.
	NodeID int32

	// Status is the kernel-of-record NUMA state.
	Status Status

	// MemblockSize is the kernel memory-block granularity in bytes.
	MemblockSize uint64

	// BaseAddr is the physical base address of the device memory region.
	BaseAddr uint64

	// RegionSize is the size of the device memory region in bytes.
	RegionSize uint64

	// OfflineAddresses lists page addresses the driver has blacklisted;
	// each must be retired after the region is onlined.
	OfflineAddresses []uint64

	// UseAutoOnline is set when the driver onlines the memory itself and
	// the daemon must not drive the hotplug sequence.
	UseAutoOnline bool
}
