package driver

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"github.com/nerrad567/gpu-persistd/internal/pci"
)

// NVML is the production driver binding, implemented over the NVIDIA
// management library. Attachment maps to the library's persistence-mode
// feature: enabling it keeps the kernel driver's device state resident
// while the daemon holds the handle.
type NVML struct {
	lib nvml.Interface
}

// nvmlHandle is the ownership token returned by NVML.Attach.
type nvmlHandle struct {
	device nvml.Device
	addr   pci.Address
}

// Address implements Handle.
func (h *nvmlHandle) Address() pci.Address {
	return h.addr
}

// OpenNVML initialises the NVML library and returns the driver binding.
//
// Returns:
//   - *NVML: Initialised binding
//   - error: ErrUnavailable if the library or kernel driver is missing
func OpenNVML() (*NVML, error) {
	lib := nvml.New()
	if ret := lib.Init(); ret != nvml.SUCCESS {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, nvml.ErrorString(ret))
	}
	return &NVML{lib: lib}, nil
}

// Enumerate returns the PCI addresses of all NVML-visible devices.
//
// The driver does not report a meaningful function number for whole
// devices, so function is forced to 0 on every returned address.
func (n *NVML) Enumerate() ([]pci.Address, error) {
	count, ret := n.lib.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("driver: querying device count: %s", nvml.ErrorString(ret))
	}
	if count == 0 {
		return nil, ErrNoDevices
	}

	addrs := make([]pci.Address, 0, count)
	for i := 0; i < count; i++ {
		device, ret := n.lib.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			return nil, fmt.Errorf("driver: device %d: %s", i, nvml.ErrorString(ret))
		}

		info, ret := device.GetPciInfo()
		if ret != nvml.SUCCESS {
			return nil, fmt.Errorf("driver: device %d PCI info: %s", i, nvml.ErrorString(ret))
		}

		addrs = append(addrs, pci.Address{
			Domain:   int(info.Domain),
			Bus:      int(info.Bus),
			Slot:     int(info.Device),
			Function: 0,
		})
	}

	return addrs, nil
}

// Attach enables persistence on the device at the given address and
// returns its ownership handle.
func (n *NVML) Attach(addr pci.Address) (Handle, error) {
	device, ret := n.lib.DeviceGetHandleByPciBusId(addr.String())
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("%w: %s: %s", ErrAttachFailed, addr, nvml.ErrorString(ret))
	}

	if ret := device.SetPersistenceMode(nvml.FEATURE_ENABLED); ret != nvml.SUCCESS {
		return nil, fmt.Errorf("%w: %s: %s", ErrAttachFailed, addr, nvml.ErrorString(ret))
	}

	return &nvmlHandle{device: device, addr: addr}, nil
}

// Detach disables persistence on the device the handle is attached to.
// On failure the handle remains valid.
func (n *NVML) Detach(h Handle) error {
	nh, ok := h.(*nvmlHandle)
	if !ok {
		return fmt.Errorf("%w: foreign handle type %T", ErrDetachFailed, h)
	}

	if ret := nh.device.SetPersistenceMode(nvml.FEATURE_DISABLED); ret != nvml.SUCCESS {
		return fmt.Errorf("%w: %s: %s", ErrDetachFailed, nh.addr, nvml.ErrorString(ret))
	}

	return nil
}

// Shutdown releases the NVML library.
func (n *NVML) Shutdown() error {
	if ret := n.lib.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("driver: shutdown: %s", nvml.ErrorString(ret))
	}
	return nil
}
