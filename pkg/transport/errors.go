package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
)

// OpenError reports a failure to establish the TCP connection.
type OpenError struct {
	Addr string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Addr, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// IOError reports a read or write failure on an established stream,
// including a TLS handshake that broke at the transport level.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// TLSError reports a failed TLS negotiation. InvalidCertificate is set when
// the handshake completed at the transport level but the server's certificate
// did not verify against the trusted roots.
type TLSError struct {
	InvalidCertificate bool
	Err                error
}

func (e *TLSError) Error() string {
	if e.InvalidCertificate {
		return fmt.Sprintf("The certificate used to secure the TLS connection is invalid: %v", e.Err)
	}
	return fmt.Sprintf("TLS negotiation failed: %v", e.Err)
}

func (e *TLSError) Unwrap() error { return e.Err }

// isCertificateError distinguishes verification failures from transport
// breakage during the handshake.
func isCertificateError(err error) bool {
	var (
		verifyErr    *tls.CertificateVerificationError
		unknownCA    x509.UnknownAuthorityError
		invalidCert  x509.CertificateInvalidError
		hostnameMiss x509.HostnameError
	)
	return errors.As(err, &verifyErr) ||
		errors.As(err, &unknownCA) ||
		errors.As(err, &invalidCert) ||
		errors.As(err, &hostnameMiss)
}
