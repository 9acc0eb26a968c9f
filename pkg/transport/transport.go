// Package transport provides the byte-level duplex stream under a PostgreSQL
// connection: TCP dialing, an in-place one-shot upgrade to TLS, and error
// classification at the transport boundary.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Transport is a byte stream to a server. It starts as plaintext TCP and can
// be upgraded to TLS exactly once; after the upgrade the plaintext socket no
// longer exists as a separate entity.
//
// Read and Write failures are wrapped in *IOError so callers can classify
// transport breakage without knowing which syscall failed.
type Transport struct {
	conn     net.Conn
	upgraded bool
}

// Open dials a TCP connection to host:port. Failures are returned as
// *OpenError.
func Open(ctx context.Context, host string, port uint16) (*Transport, error) {
	d := net.Dialer{KeepAlive: 5 * time.Minute}
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &OpenError{Addr: addr, Err: err}
	}
	return &Transport{conn: conn}, nil
}

// UpgradeTLS performs a TLS handshake over the existing stream. It may be
// called at most once, and only after the plaintext SSLRequest exchange has
// completed.
//
// A certificate rejected during verification returns *TLSError with
// InvalidCertificate set; any other handshake failure returns *IOError. In
// both cases the underlying socket is in an indeterminate state and must be
// closed. A caller that wants to continue in plaintext has to open a fresh
// transport.
func (t *Transport) UpgradeTLS(ctx context.Context, cfg *tls.Config) error {
	if t.upgraded {
		return errors.New("transport already upgraded to TLS")
	}
	tlsConn := tls.Client(t.conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		if isCertificateError(err) {
			return &TLSError{InvalidCertificate: true, Err: err}
		}
		return &IOError{Op: "tls handshake", Err: err}
	}
	t.conn = tlsConn
	t.upgraded = true
	return nil
}

// TLS reports whether the stream has been upgraded.
func (t *Transport) TLS() bool {
	return t.upgraded
}

func (t *Transport) Read(p []byte) (int, error) {
	n, err := t.conn.Read(p)
	if err != nil {
		return n, &IOError{Op: "read", Err: err}
	}
	return n, nil
}

func (t *Transport) Write(p []byte) (int, error) {
	n, err := t.conn.Write(p)
	if err != nil {
		return n, &IOError{Op: "write", Err: err}
	}
	return n, nil
}

// Close closes the stream. Safe to call more than once; errors from double
// close are discarded.
func (t *Transport) Close() error {
	return t.conn.Close()
}

// deadlineTime is far in the past, so a deadline set on cancellation fails
// all in-flight reads and writes immediately.
var deadlineTime = time.Date(1, 1, 1, 1, 1, 1, 1, time.UTC)

// WatchContext arranges for the transport to fail all I/O when ctx is
// cancelled, by setting an already-expired deadline. The returned stop
// function must be called when the guarded operation completes; it clears
// the deadline if one was set.
func (t *Transport) WatchContext(ctx context.Context) (stop func()) {
	if ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	deadlineSet := make(chan bool, 1)
	go func() {
		select {
		case <-ctx.Done():
			_ = t.conn.SetDeadline(deadlineTime)
			deadlineSet <- true
			<-done
		case <-done:
			deadlineSet <- false
		}
	}()
	return func() {
		close(done)
		if <-deadlineSet {
			_ = t.conn.SetDeadline(time.Time{})
		}
	}
}

// PreferContextError substitutes ctx.Err() for the net timeout error produced
// by WatchContext's deadline, so callers observe cancellation rather than an
// i/o timeout.
func PreferContextError(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ctx.Err()
	}
	return err
}

func (t *Transport) String() string {
	proto := "tcp"
	if t.upgraded {
		proto = "tls"
	}
	return fmt.Sprintf("%s->%s (%s)", t.conn.LocalAddr(), t.conn.RemoteAddr(), proto)
}
