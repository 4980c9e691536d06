package pci

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrInvalidAddress is returned when a PCI address string does not match
// the dddd:bb:ss.f format.
var ErrInvalidAddress = errors.New("pci: invalid address")

// addressPattern matches an extended BDF address, e.g. "0000:01:00.0".
var addressPattern = regexp.MustCompile(`^([\da-fA-F]{4}):([\da-fA-F]{2}):([\da-fA-F]{2})\.([0-7])$`)

// Address identifies a PCI device by its location on the bus.
type Address struct {
	Domain   int `json:"domain"`
	Bus      int `json:"bus"`
	Slot     int `json:"slot"`
	Function int `json:"function"`
}

// Parse converts an extended BDF string ("0000:01:00.0") into an Address.
//
// Returns ErrInvalidAddress if the string does not match the format.
func Parse(s string) (Address, error) {
	m := addressPattern.FindStringSubmatch(s)
	if m == nil {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}

	// The regexp guarantees each capture parses as hex.
	domain, _ := strconv.ParseInt(m[1], 16, 32)
	bus, _ := strconv.ParseInt(m[2], 16, 32)
	slot, _ := strconv.ParseInt(m[3], 16, 32)
	function, _ := strconv.ParseInt(m[4], 16, 32)

	return Address{
		Domain:   int(domain),
		Bus:      int(bus),
		Slot:     int(slot),
		Function: int(function),
	}, nil
}

// String formats the address in extended BDF form ("0000:01:00.0").
func (a Address) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%x", a.Domain, a.Bus, a.Slot, a.Function)
}

// Matches reports whether the address refers to the same device location,
// ignoring the function number (the daemon manages whole devices, and the
// driver enumeration reports function 0 for all of them).
func (a Address) Matches(domain, bus, slot int) bool {
	return a.Domain == domain && a.Bus == bus && a.Slot == slot
}
