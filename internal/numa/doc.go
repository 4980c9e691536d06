// Package numa implements the NUMA memory-block controller: the
// multi-step sequence that onlines or offlines a GPU's device-attached
// memory into the host NUMA topology through the kernel memory-hotplug
// control surface.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────────┐
//	│                     NUMA Controller                           │
//	│                                                               │
//	│  ┌────────────────┐   ┌────────────────┐   ┌───────────────┐  │
//	│  │   Controller   │   │     Sysfs      │   │ DeviceClient  │  │
//	│  │ (controller.go)│──▶│   (sysfs.go)   │   │  (device.go)  │  │
//	│  │                │   │                │   │               │  │
//	│  │ • online seq   │   │ • block state  │   │ • NUMA info   │  │
//	│  │ • offline seq  │   │ • probe        │   │ • status set  │  │
//	│  │ • rollback     │   │ • retirement   │   │ • descriptor  │  │
//	│  └────────────────┘   └────────────────┘   └───────────────┘  │
//	└───────────────────────────────────────────────────────────────┘
//
// The Controller consults the kernel-of-record NUMA status (through the
// DeviceClient) before every transition, walks the node's memory blocks
// through the sysfs hotplug files, and guarantees that no block is ever
// left in an in-progress state when a call returns: every sequence ends
// in Online, Offline, OnlineFailed or OfflineFailed.
//
// # Ordering policy
//
// Blocks are onlined in descending id order and offlined in ascending id
// order. The descending online order is required for the kernel placement
// policy to favour the movable zone (see the change_numa_node_state
// discussion at https://patchwork.kernel.org/patch/9625081/); it is
// preserved here as policy, not re-derived.
//
// # Thread safety
//
// The Controller is not safe for concurrent use. The device state
// machine serialises all transitions, matching the daemon's
// single-threaded request model.
package numa
