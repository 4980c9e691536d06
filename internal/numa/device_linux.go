package numa

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/nerrad567/gpu-persistd/internal/pci"
)

// ioctl command numbers on the per-device control node.
const (
	ioctlMagic         = 'F'
	ioctlNumaInfo      = 215
	ioctlSetNumaStatus = 216

	// maxOfflineAddresses is the fixed capacity of the blacklisted page
	// list in the driver's ioctl argument.
	maxOfflineAddresses = 64
)

// offlineAddressesArgs mirrors the driver's blacklisted page list layout.
type offlineAddressesArgs struct {
	Addresses  [maxOfflineAddresses]uint64
	NumEntries uint32
	_          [4]byte
}

// numaInfoArgs mirrors the driver's NUMA info ioctl argument layout.
// Field order and padding match the kernel module and must not change.
type numaInfoArgs struct {
	NID              int32
	Status           int32
	MemblockSize     uint64
	NumaMemAddr      uint64
	NumaMemSize      uint64
	UseAutoOnline    uint8
	_                [7]byte
	OfflineAddresses offlineAddressesArgs
}

// setNumaStatusArgs mirrors the driver's status ioctl argument layout.
type setNumaStatusArgs struct {
	Status int32
}

// deviceNode is the production DeviceClient, backed by the per-device
// control node under /dev.
type deviceNode struct {
	f    *os.File
	addr pci.Address
}

// NewDeviceOpener returns an Opener that resolves a PCI address to its
// control node through the driver's proc interface and opens it
// read-write.
//
// Parameters:
//   - procRoot: Root of the proc filesystem, normally "/proc"
//   - devRoot: Root of the device filesystem, normally "/dev"
//
// Returns:
//   - Opener: Descriptor opener bound to the given roots
func NewDeviceOpener(procRoot, devRoot string) Opener {
	return func(addr pci.Address) (DeviceClient, error) {
		minor, err := deviceMinor(procRoot, addr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDescriptorUnavailable, err)
		}

		path := filepath.Join(devRoot, fmt.Sprintf("nvidia%d", minor))
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: opening %s: %v", ErrDescriptorUnavailable, path, err)
		}

		return &deviceNode{f: f, addr: addr}, nil
	}
}

// deviceMinor reads the device minor number from the driver's per-GPU
// information file.
func deviceMinor(procRoot string, addr pci.Address) (int, error) {
	path := filepath.Join(procRoot, "driver", "nvidia", "gpus", addr.String(), "information")
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %v", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "Device Minor:") {
			continue
		}
		minor, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Device Minor:")))
		if err != nil {
			return 0, fmt.Errorf("parsing device minor in %s: %v", path, err)
		}
		return minor, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("reading %s: %v", path, err)
	}

	return 0, fmt.Errorf("no device minor entry in %s", path)
}

// Info implements DeviceClient.
func (d *deviceNode) Info() (Info, error) {
	args := numaInfoArgs{}
	args.OfflineAddresses.NumEntries = maxOfflineAddresses

	req := ioctlRequest(ioctlNumaInfo, unsafe.Sizeof(args))
	if err := d.ioctl(req, unsafe.Pointer(&args)); err != nil {
		return Info{}, fmt.Errorf("numa: querying NUMA info for %s: %w", d.addr, err)
	}

	n := args.OfflineAddresses.NumEntries
	if n > maxOfflineAddresses {
		return Info{}, fmt.Errorf("numa: driver reported %d blacklisted pages for %s, capacity is %d",
			n, d.addr, maxOfflineAddresses)
	}

	info := Info{
		NodeID:        args.NID,
		Status:        Status(args.Status),
		MemblockSize:  args.MemblockSize,
		BaseAddr:      args.NumaMemAddr,
		RegionSize:    args.NumaMemSize,
		UseAutoOnline: args.UseAutoOnline != 0,
	}
	if n > 0 {
		info.OfflineAddresses = append([]uint64(nil), args.OfflineAddresses.Addresses[:n]...)
	}

	return info, nil
}

// SetStatus implements DeviceClient.
func (d *deviceNode) SetStatus(status Status) error {
	args := setNumaStatusArgs{Status: int32(status)}

	req := ioctlRequest(ioctlSetNumaStatus, unsafe.Sizeof(args))
	if err := d.ioctl(req, unsafe.Pointer(&args)); err != nil {
		return fmt.Errorf("numa: setting NUMA status %s for %s: %w", status, d.addr, err)
	}

	return nil
}

// Close implements DeviceClient.
func (d *deviceNode) Close() error {
	return d.f.Close()
}

func (d *deviceNode) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// ioctlRequest encodes a read-write ioctl request number.
func ioctlRequest(nr int, size uintptr) uintptr {
	const dirReadWrite = 3
	return uintptr(dirReadWrite)<<30 | size<<16 | uintptr(ioctlMagic)<<8 | uintptr(nr)
}
