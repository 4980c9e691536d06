package numa

import (
	"fmt"

	"github.com/nerrad567/gpu-persistd/internal/pci"
)

// Controller runs the NUMA memory online and offline sequences for a
// device, keeping the kernel-of-record status and the sysfs hotplug
// surface consistent with each other.
type Controller struct {
	sysfs  *Sysfs
	open   Opener
	logger Logger
}

// NewController creates a controller over the given hotplug surface.
//
// Parameters:
//   - sysfs: Kernel memory-hotplug surface
//   - open: Per-device control descriptor opener
//   - logger: Logger for sequence progress; nil for no logging
func NewController(sysfs *Sysfs, open Opener, logger Logger) *Controller {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Controller{
		sysfs:  sysfs,
		open:   open,
		logger: logger,
	}
}

// Online brings the device's memory region online in the host NUMA
// topology.
//
// On success the returned client holds the open control descriptor; the
// caller retains it until the matching Offline. When the driver
// auto-onlines the memory itself, autoOnline is true and the descriptor
// is simply held open without driving the hotplug sequence.
//
// On failure the descriptor is closed, a best-effort offline rollback is
// run and the kernel-of-record status is left at OnlineFailed.
//
// Returns:
//   - DeviceClient: Retained control descriptor, nil on failure
//   - bool: true when the driver auto-onlines the memory
//   - error: nil on success
func (c *Controller) Online(addr pci.Address) (DeviceClient, bool, error) {
	client, err := c.open(addr)
	if err != nil {
		return nil, false, err
	}

	info, err := client.Info()
	if err != nil {
		client.Close()
		return nil, false, err
	}

	if info.UseAutoOnline {
		c.logger.Info("driver auto-onlines device memory, retaining descriptor only",
			"device", addr.String())
		return client, true, nil
	}

	switch info.Status {
	case StatusOffline, StatusOnlineFailed, StatusOfflineFailed:
		// Valid source states, proceed.
	case StatusDisabled, StatusOnline:
		return client, false, nil
	default:
		client.Close()
		return nil, false, fmt.Errorf("%w: cannot online from %s", ErrInvalidState, info.Status)
	}

	if info.NodeID < 0 || info.MemblockSize == 0 || info.BaseAddr == 0 || info.RegionSize == 0 {
		client.Close()
		return nil, false, fmt.Errorf("%w: node %d, block size 0x%x, base 0x%x, size 0x%x",
			ErrInvalidGeometry, info.NodeID, info.MemblockSize, info.BaseAddr, info.RegionSize)
	}

	if err := client.SetStatus(StatusOnlineInProgress); err != nil {
		client.Close()
		return nil, false, err
	}

	c.logger.Info("onlining device memory",
		"device", addr.String(),
		"node", info.NodeID,
		"base", fmt.Sprintf("0x%x", info.BaseAddr),
		"size", fmt.Sprintf("0x%x", info.RegionSize))

	if err := c.runOnline(info); err != nil {
		c.failOnline(client, addr, err)
		return nil, false, err
	}

	if err := client.SetStatus(StatusOnline); err != nil {
		c.failOnline(client, addr, err)
		return nil, false, err
	}

	c.logger.Info("device memory onlined", "device", addr.String(), "node", info.NodeID)
	return client, false, nil
}

// runOnline performs the hotplug steps of the online sequence: alignment
// check, probing, block onlining and blacklisted page retirement.
func (c *Controller) runOnline(info Info) error {
	if info.BaseAddr%info.MemblockSize != 0 ||
		(info.BaseAddr+info.RegionSize)%info.MemblockSize != 0 {
		return fmt.Errorf("%w: base 0x%x, size 0x%x, block size 0x%x",
			ErrMisaligned, info.BaseAddr, info.RegionSize, info.MemblockSize)
	}

	if err := c.sysfs.ProbeRange(info.BaseAddr, info.RegionSize, info.MemblockSize); err != nil {
		return err
	}

	autoOnlined, err := c.sysfs.AutoOnlineCheck(info.NodeID)
	if err != nil {
		return err
	}
	if autoOnlined {
		c.logger.Info("memory blocks already auto-onlined into the movable zone",
			"node", info.NodeID)
	} else if err := c.changeNodeState(info, true); err != nil {
		return err
	}

	return c.sysfs.RetirePages(info.OfflineAddresses)
}

// failOnline rolls the device back after a failed online sequence: the
// memory is offlined best-effort, the kernel-of-record status is set to
// OnlineFailed and the descriptor is closed.
func (c *Controller) failOnline(client DeviceClient, addr pci.Address, cause error) {
	c.logger.Error("onlining device memory failed",
		"device", addr.String(), "error", cause)

	if err := c.offlineSequence(client); err != nil {
		c.logger.Warn("offline rollback after failed onlining did not complete",
			"device", addr.String(), "error", err)
	}

	if err := client.SetStatus(StatusOnlineFailed); err != nil {
		c.logger.Warn("recording online failure with the driver failed",
			"device", addr.String(), "error", err)
	}

	client.Close()
}

// Offline takes the device's memory region offline and closes the
// control descriptor.
//
// When autoOnline is set the kernel owns the hotplug state and only the
// descriptor is released. On failure the descriptor stays open and owned
// by the caller, and the kernel-of-record status is left at
// OfflineFailed.
func (c *Controller) Offline(client DeviceClient, addr pci.Address, autoOnline bool) error {
	if client == nil {
		return fmt.Errorf("%w: no descriptor held for %s", ErrDescriptorUnavailable, addr)
	}

	if autoOnline {
		c.logger.Info("driver auto-onlines device memory, releasing descriptor only",
			"device", addr.String())
		return client.Close()
	}

	if err := c.offlineSequence(client); err != nil {
		return err
	}

	c.logger.Info("device memory offlined", "device", addr.String())
	return client.Close()
}

// offlineSequence drives the kernel-of-record status and the hotplug
// surface through the offline transition. The descriptor is left open
// regardless of outcome.
func (c *Controller) offlineSequence(client DeviceClient) error {
	info, err := client.Info()
	if err != nil {
		return err
	}

	switch info.Status {
	case StatusDisabled, StatusOffline:
		return nil
	case StatusOnline, StatusOnlineInProgress, StatusOnlineFailed, StatusOfflineFailed:
		// Valid source states, proceed.
	default:
		return fmt.Errorf("%w: cannot offline from %s", ErrInvalidState, info.Status)
	}

	if err := client.SetStatus(StatusOfflineInProgress); err != nil {
		return err
	}

	if err := c.changeNodeState(info, false); err != nil {
		if serr := client.SetStatus(StatusOfflineFailed); serr != nil {
			c.logger.Warn("recording offline failure with the driver failed", "error", serr)
		}
		return err
	}

	return client.SetStatus(StatusOffline)
}

// changeNodeState walks every memory block of the region's node and
// moves it to the requested state. Onlining walks block ids in
// descending order so the kernel places the blocks in the movable zone;
// offlining walks ascending.
//
// The walk continues past individual block failures; success is judged
// afterwards by whether enough blocks changed state to cover the region.
func (c *Controller) changeNodeState(info Info, online bool) error {
	minID, maxID, err := c.sysfs.BlockRange(info.NodeID)
	if err != nil {
		return err
	}

	c.logger.Debug("changing node memory block states",
		"node", info.NodeID, "first_block", minID, "last_block", maxID, "online", online)

	var changed uint64
	var blockErr error
	walk := func(id int) {
		if err := c.sysfs.ChangeBlockState(id, online); err != nil {
			c.logger.Warn("memory block state change failed", "block", id, "error", err)
			blockErr = err
			return
		}
		changed++
	}

	if online {
		for id := maxID; id >= minID; id-- {
			walk(id)
		}
	} else {
		for id := minID; id <= maxID; id++ {
			walk(id)
		}
	}

	if changed*info.MemblockSize < info.RegionSize {
		needed := info.RegionSize / info.MemblockSize
		if changed == 0 {
			c.logger.Error("no memory blocks changed state",
				"node", info.NodeID, "needed", needed)
			if blockErr != nil {
				return fmt.Errorf("%w: %v", errNoBlocksChanged, blockErr)
			}
			return errNoBlocksChanged
		}

		c.logger.Error("too few memory blocks changed state",
			"node", info.NodeID, "changed", changed, "needed", needed)
		if blockErr != nil {
			return fmt.Errorf("%w: %d of %d blocks: %v", ErrBlockShortfall, changed, needed, blockErr)
		}
		return fmt.Errorf("%w: %d of %d blocks", ErrBlockShortfall, changed, needed)
	}

	return nil
}
