package lifecycle

import (
	"fmt"
	"net"
	"os"
)

// sdNotify sends a state string to the service manager's notification
// socket ($NOTIFY_SOCKET, sd_notify protocol). Running outside a
// service manager is normal and reports success without sending.
func sdNotify(state string) error {
	socket := os.Getenv("NOTIFY_SOCKET")
	if socket == "" {
		return nil
	}

	// A leading '@' denotes an abstract-namespace socket.
	if socket[0] == '@' {
		socket = "\x00" + socket[1:]
	}

	conn, err := net.Dial("unixgram", socket)
	if err != nil {
		return fmt.Errorf("dialling notify socket: %w", err)
	}
	defer conn.Close() //nolint:errcheck // Read-free datagram socket

	if _, err := conn.Write([]byte(state)); err != nil {
		return fmt.Errorf("writing notify state: %w", err)
	}
	return nil
}
