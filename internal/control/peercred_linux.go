package control

import (
	"context"
	"net"

	"golang.org/x/sys/unix"
)

// peerCredConnContext is installed as http.Server.ConnContext. It reads
// the peer's credentials from the unix socket with SO_PEERCRED and
// stashes them on the request context for the root gate.
//
// On any failure the credentials are simply absent from the context and
// privileged routes reject the connection.
func peerCredConnContext(ctx context.Context, c net.Conn) context.Context {
	uc, ok := c.(*net.UnixConn)
	if !ok {
		return ctx
	}

	raw, err := uc.SyscallConn()
	if err != nil {
		return ctx
	}

	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil || credErr != nil || cred == nil {
		return ctx
	}

	return withPeerCred(ctx, PeerCred{
		PID: cred.Pid,
		UID: cred.Uid,
		GID: cred.Gid,
	})
}
