// Package signing provides access to the request-signing sidecar. The
// signing routine itself is an opaque reverse-engineered third-party
// algorithm; it runs out of process and this package only transports the
// request and token.
package signing

import (
	"context"
	"errors"
)

// ErrSigning reports a failed token request. Callers retry a bounded number
// of times before treating it as fatal.
var ErrSigning = errors.New("signing request failed")

// Gateway produces handshake tokens for the push feed. Implementations must
// not be assumed idempotent or bounded in latency; every call is made under
// a caller-supplied timeout.
type Gateway interface {
	// RequestToken signs the connection parameters for a room and returns
	// the handshake token.
	RequestToken(ctx context.Context, roomID string, params map[string]string) (string, error)
}
