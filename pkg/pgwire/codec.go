package pgwire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgproto3"
)

// Protocol constants for the startup-phase messages that carry no type byte.
const (
	// ProtocolVersion is frontend/backend protocol version 3.0 (196608).
	ProtocolVersion = uint32(3) << 16

	// sslRequestCode is the magic version number of an SSLRequest (80877103).
	sslRequestCode = 80877103
)

// Codec frames typed protocol messages over a byte stream. It owns the two
// framing regimes of a connection: the startup phase, where SSLRequest and
// StartupMessage are written without a type byte and the SSLRequest answer is
// a single bare byte, and the normal phase where every message is
// tag + length + body.
//
// The codec is framing only. It does not interpret message contents and it is
// oblivious to whether the underlying stream is plaintext or TLS; after a TLS
// upgrade the caller builds a fresh Codec over the upgraded stream.
type Codec struct {
	rw       io.ReadWriter
	frontend *pgproto3.Frontend
}

// NewCodec creates a Codec over rw.
func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{
		rw:       rw,
		frontend: pgproto3.NewFrontend(rw, rw),
	}
}

// SendSSLRequest writes the 8-byte SSLRequest frame. It must be the first
// thing written on a fresh connection; the server answers with a single byte
// read by ReadSSLResponse.
func (c *Codec) SendSSLRequest() error {
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[0:4], 8)
	binary.BigEndian.PutUint32(buf[4:8], sslRequestCode)
	if _, err := c.rw.Write(buf[:]); err != nil {
		return fmt.Errorf("write SSLRequest: %w", err)
	}
	return nil
}

// ReadSSLResponse reads the server's single-byte answer to an SSLRequest.
// The byte is returned verbatim; the caller decides what a byte other than
// SSLAccepted or SSLRefused means.
func (c *Codec) ReadSSLResponse() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(c.rw, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// SendStartup writes a StartupMessage with the given parameters. The params
// map must include "user"; the codec does not default anything.
func (c *Codec) SendStartup(params map[string]string) error {
	msg := &pgproto3.StartupMessage{
		ProtocolVersion: ProtocolVersion,
		Parameters:      params,
	}
	c.frontend.Send(msg)
	if err := c.frontend.Flush(); err != nil {
		return fmt.Errorf("write StartupMessage: %w", err)
	}
	return nil
}

// Send queues msg; Flush writes the queued messages. Batching sends is how
// pgproto3 avoids a syscall per message, but the connection core almost
// always wants SendNow.
func (c *Codec) Send(msg pgproto3.FrontendMessage) {
	c.frontend.Send(msg)
}

// Flush writes all queued messages.
func (c *Codec) Flush() error {
	return c.frontend.Flush()
}

// SendNow queues msg and flushes it.
func (c *Codec) SendNow(msg pgproto3.FrontendMessage) error {
	c.frontend.Send(msg)
	return c.frontend.Flush()
}

// SendTerminate writes a Terminate message, the client's half of a clean
// shutdown. The server replies by closing the stream.
func (c *Codec) SendTerminate() error {
	return c.SendNow(&pgproto3.Terminate{})
}

// Receive reads the next backend message. The returned message is only valid
// until the next call to Receive; callers that keep data must copy it out
// (NewPgError does this for ErrorResponse).
func (c *Codec) Receive() (pgproto3.BackendMessage, error) {
	return c.frontend.Receive()
}
