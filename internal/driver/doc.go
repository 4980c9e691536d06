// Package driver abstracts the vendor driver capability the daemon
// depends on: enumerating GPU devices and holding per-device attachment
// handles that keep driver state resident between client sessions.
//
// The capability is injected into the device state machine at
// construction, so the daemon core never touches the binding directly.
// The production implementation binds to the NVIDIA management library
// (NVML); tests supply in-memory fakes.
//
// # Usage
//
//	drv, err := driver.OpenNVML()
//	if err != nil {
//	    return err
//	}
//	defer drv.Shutdown()
//
//	addrs, err := drv.Enumerate()
package driver
