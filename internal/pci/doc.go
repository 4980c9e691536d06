// Package pci provides the PCI address value type used to identify
// managed GPU devices.
//
// Addresses follow the extended BDF format used by the kernel:
//
//	dddd:bb:ss.f  (domain:bus:slot.function, hexadecimal)
//
// The driver enumeration does not report a function number, so the
// daemon treats function as 0 throughout; Parse still accepts a
// function digit for forward compatibility with full BDF strings.
package pci
