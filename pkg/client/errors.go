package client

import (
	"errors"
	"fmt"

	"github.com/pantapita/postgres/pkg/transport"
)

// ErrTLSRefused is returned by Connect when the server answers the
// SSLRequest with 'N' and the options enforce TLS. It is not retried:
// the server gave a definitive answer.
var ErrTLSRefused = errors.New("server refused TLS connection and tls.enforce is set")

// TLSAvailabilityError means the server's answer to the SSLRequest was not
// readable or not 'S'/'N'. This is the error callers see when the peer is
// not a PostgreSQL server at all. Retry-eligible.
type TLSAvailabilityError struct {
	// Response is the unexpected byte, when one was read at all.
	Response    byte
	HasResponse bool
	Err         error
}

func (e *TLSAvailabilityError) Error() string {
	const prefix = "Could not check if server accepts SSL connections"
	if e.HasResponse {
		return fmt.Sprintf("%s: unexpected response %q", prefix, e.Response)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	}
	return prefix
}

func (e *TLSAvailabilityError) Unwrap() error { return e.Err }

// ConnectionError is a connection-level failure surfaced to the caller of an
// operation, as opposed to a server-reported error for the operation itself.
type ConnectionError struct {
	Message string
	Err     error
}

func (e *ConnectionError) Error() string { return e.Message }

func (e *ConnectionError) Unwrap() error { return e.Err }

// ErrClientDisconnected is returned by operations invoked on a client whose
// session was lost and not re-established.
var ErrClientDisconnected = &ConnectionError{
	Message: "The client has been disconnected from the database",
}

const sessionTerminatedMessage = "The session was terminated by the database"

func newSessionTerminatedError(cause error) *ConnectionError {
	return &ConnectionError{Message: sessionTerminatedMessage, Err: cause}
}

// retryable reports whether a handshake failure may be retried under the
// connection.attempts budget. Only transport-class failures qualify; a
// server that answered (auth failure, bad database, refused TLS, invalid
// certificate) gave a definitive answer and retrying cannot change it.
func retryable(err error) bool {
	var (
		openErr  *transport.OpenError
		ioErr    *transport.IOError
		availErr *TLSAvailabilityError
	)
	return errors.As(err, &openErr) || errors.As(err, &ioErr) || errors.As(err, &availErr)
}
