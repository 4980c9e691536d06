package control

import (
	"context"
	"fmt"
	"net/http"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// ctxKeyPeerCred is the context key for the connection's peer credentials.
const ctxKeyPeerCred contextKey = "peer_cred"

// PeerCred holds the credentials of the process on the other end of a
// unix-socket connection, as reported by the kernel. They cannot be
// forged by the client.
type PeerCred struct {
	PID int32
	UID uint32
	GID uint32
}

// withPeerCred stores the peer credentials on the context.
func withPeerCred(ctx context.Context, cred PeerCred) context.Context {
	return context.WithValue(ctx, ctxKeyPeerCred, cred)
}

// peerFromContext returns the connection's peer credentials, if the
// listener recorded them.
func peerFromContext(ctx context.Context) (PeerCred, bool) {
	cred, ok := ctx.Value(ctxKeyPeerCred).(PeerCred)
	return cred, ok
}

// requireRoot gates a route on the connecting process being uid 0.
func (s *Server) requireRoot(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.authorise(r); err != nil {
			writeDomainError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authorise checks the request's peer credentials against the root gate.
func (s *Server) authorise(r *http.Request) error {
	cred, ok := peerFromContext(r.Context())
	if !ok {
		return fmt.Errorf("%w: peer credentials unavailable", ErrPermissions)
	}
	if cred.UID != 0 {
		s.logger.Warn("rejected privileged request",
			"uid", cred.UID, "pid", cred.PID,
			"method", r.Method, "path", r.URL.Path)
		return fmt.Errorf("%w: uid %d", ErrPermissions, cred.UID)
	}
	return nil
}
