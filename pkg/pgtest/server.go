// Package pgtest provides in-process mock PostgreSQL servers for testing the
// connection core: real TCP listeners, real TLS handshakes with generated
// certificates, scripted startup and authentication exchanges, and pgmock
// scripts for the post-ready query phase.
package pgtest

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgmock"
	"github.com/jackc/pgproto3/v2"

	"github.com/pantapita/postgres/pkg/auth"
)

// AuthMode selects the authentication exchange the mock server demands.
type AuthMode int

const (
	AuthTrust AuthMode = iota
	AuthCleartext
	AuthMD5
	AuthSCRAM
)

// Config controls a mock server's behavior for every accepted connection.
type Config struct {
	// DropAfterAccept closes each connection immediately after accept,
	// simulating a peer that is not a PostgreSQL server.
	DropAfterAccept bool

	// Stall accepts connections and then never responds, for cancellation
	// tests.
	Stall bool

	// SSLResponse is the byte answered to an SSLRequest. Zero means 'N'.
	// Any byte other than 'S' leaves the connection in plaintext.
	SSLResponse byte

	// TLS serves the TLS handshake after answering 'S'.
	TLS *tls.Config

	// Auth selects the authentication exchange; User and Password are the
	// expected credentials for the non-trust modes.
	Auth     AuthMode
	User     string
	Password string

	// TamperServerSignature corrupts the SCRAM server-final signature, for
	// verifying that clients actually check it.
	TamperServerSignature bool

	// StartupError, when set, is sent after authentication instead of the
	// ready sequence, the way a real server reports an unknown database.
	StartupError *pgproto3.ErrorResponse

	// Steps is a pgmock script run after ReadyForQuery on every connection.
	Steps []pgmock.Step

	// Serve, when set, runs after ReadyForQuery instead of Steps. It gets
	// the live connection, for per-connection behavior like killing the
	// session under a query.
	Serve func(c *ServerConn) error
}

// Server is a mock PostgreSQL server on a real TCP listener.
type Server struct {
	t        *testing.T
	cfg      Config
	listener net.Listener

	// Accepts counts accepted TCP connections, including dropped ones.
	Accepts atomic.Int32

	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewServer starts a mock server on 127.0.0.1. It serves connections until
// Close, which is registered as a test cleanup.
func NewServer(t *testing.T, cfg Config) *Server {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}

	s := &Server{t: t, cfg: cfg, listener: listener}
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

// Host and Port return the listener address pieces.
func (s *Server) Host() string { return "127.0.0.1" }

func (s *Server) Port() uint16 {
	return uint16(s.listener.Addr().(*net.TCPAddr).Port)
}

// Close stops the listener and waits for in-flight connections.
func (s *Server) Close() {
	if s.closed.Swap(true) {
		return
	}
	_ = s.listener.Close()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	n := 0
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		n++
		s.Accepts.Add(1)

		if s.cfg.DropAfterAccept {
			_ = conn.Close()
			continue
		}

		s.wg.Add(1)
		go func(conn net.Conn, n int) {
			defer s.wg.Done()
			defer conn.Close()
			if err := s.serveConn(conn, n); err != nil && !s.closed.Load() {
				s.t.Logf("pgtest server: connection %d: %v", n, err)
			}
		}(conn, n)
	}
}

// ServerConn is one accepted, started-up connection.
type ServerConn struct {
	// N is the 1-based accept index of this connection.
	N int
	// PID is the backend process ID reported in BackendKeyData.
	PID uint32
	// Startup is the received StartupMessage.
	Startup *pgproto3.StartupMessage

	Conn    net.Conn
	Backend *pgproto3.Backend
}

// Send writes a backend message to the client.
func (c *ServerConn) Send(msg pgproto3.BackendMessage) error {
	return c.Backend.Send(msg)
}

// Receive reads the next frontend message.
func (c *ServerConn) Receive() (pgproto3.FrontendMessage, error) {
	return c.Backend.Receive()
}

func (s *Server) serveConn(conn net.Conn, n int) error {
	if s.cfg.Stall {
		_, _ = io.Copy(io.Discard, conn)
		return nil
	}

	backend := pgproto3.NewBackend(pgproto3.NewChunkReader(conn), conn)

	startup, err := backend.ReceiveStartupMessage()
	if err != nil {
		return fmt.Errorf("receive startup: %w", err)
	}

	// An SSLRequest comes before the real startup packet. Answer it, upgrade
	// if accepted, and read the startup packet on the resulting stream.
	if _, ok := startup.(*pgproto3.SSLRequest); ok {
		resp := s.cfg.SSLResponse
		if resp == 0 {
			resp = 'N'
		}
		if _, err := conn.Write([]byte{resp}); err != nil {
			return fmt.Errorf("write ssl response: %w", err)
		}
		if resp == 'S' {
			if s.cfg.TLS == nil {
				return errors.New("config answers 'S' but has no TLS config")
			}
			tlsConn := tls.Server(conn, s.cfg.TLS)
			if err := tlsConn.Handshake(); err != nil {
				return fmt.Errorf("tls handshake: %w", err)
			}
			conn = tlsConn
		}
		backend = pgproto3.NewBackend(pgproto3.NewChunkReader(conn), conn)
		startup, err = backend.ReceiveStartupMessage()
		if err != nil {
			return fmt.Errorf("receive startup after ssl: %w", err)
		}
	}

	startupMsg, ok := startup.(*pgproto3.StartupMessage)
	if !ok {
		return fmt.Errorf("expected StartupMessage, got %T", startup)
	}

	sc := &ServerConn{
		N:       n,
		PID:     uint32(4200 + n),
		Startup: startupMsg,
		Conn:    conn,
		Backend: backend,
	}

	if err := s.authenticate(sc); err != nil {
		return err
	}

	if s.cfg.StartupError != nil {
		return sc.Send(s.cfg.StartupError)
	}

	if err := s.sendReady(sc); err != nil {
		return err
	}

	if s.cfg.Serve != nil {
		return s.cfg.Serve(sc)
	}
	if len(s.cfg.Steps) > 0 {
		script := &pgmock.Script{Steps: s.cfg.Steps}
		return script.Run(backend)
	}

	// Hold the connection open until the client terminates or hangs up.
	for {
		msg, err := backend.Receive()
		if err != nil {
			return nil
		}
		if _, ok := msg.(*pgproto3.Terminate); ok {
			return nil
		}
	}
}

// sendReady completes startup: a couple of ParameterStatus values,
// BackendKeyData, then ReadyForQuery.
func (s *Server) sendReady(sc *ServerConn) error {
	msgs := []pgproto3.BackendMessage{
		&pgproto3.ParameterStatus{Name: "server_version", Value: "16.4 (pgtest)"},
		&pgproto3.ParameterStatus{Name: "server_encoding", Value: "UTF8"},
		&pgproto3.ParameterStatus{Name: "TimeZone", Value: "UTC"},
		&pgproto3.BackendKeyData{ProcessID: sc.PID, SecretKey: 0x5ec4e7},
		&pgproto3.ReadyForQuery{TxStatus: 'I'},
	}
	for _, msg := range msgs {
		if err := sc.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) authenticate(sc *ServerConn) error {
	switch s.cfg.Auth {
	case AuthTrust:
		return sc.Send(&pgproto3.AuthenticationOk{})
	case AuthCleartext:
		return s.authCleartext(sc)
	case AuthMD5:
		return s.authMD5(sc)
	case AuthSCRAM:
		return s.authSCRAM(sc)
	default:
		return fmt.Errorf("unknown auth mode %d", s.cfg.Auth)
	}
}

func (s *Server) authCleartext(sc *ServerConn) error {
	if err := sc.Send(&pgproto3.AuthenticationCleartextPassword{}); err != nil {
		return err
	}
	_ = sc.Backend.SetAuthType(pgproto3.AuthTypeCleartextPassword)
	msg, err := sc.Receive()
	if err != nil {
		return err
	}
	pw, ok := msg.(*pgproto3.PasswordMessage)
	if !ok {
		return fmt.Errorf("expected PasswordMessage, got %T", msg)
	}
	if pw.Password != s.cfg.Password {
		return s.rejectPassword(sc)
	}
	return sc.Send(&pgproto3.AuthenticationOk{})
}

func (s *Server) authMD5(sc *ServerConn) error {
	salt := [4]byte{0x01, 0x23, 0x45, 0x67}
	if err := sc.Send(&pgproto3.AuthenticationMD5Password{Salt: salt}); err != nil {
		return err
	}
	_ = sc.Backend.SetAuthType(pgproto3.AuthTypeMD5Password)
	msg, err := sc.Receive()
	if err != nil {
		return err
	}
	pw, ok := msg.(*pgproto3.PasswordMessage)
	if !ok {
		return fmt.Errorf("expected PasswordMessage, got %T", msg)
	}
	if pw.Password != auth.MD5Password(s.cfg.User, s.cfg.Password, salt) {
		return s.rejectPassword(sc)
	}
	return sc.Send(&pgproto3.AuthenticationOk{})
}

// rejectPassword sends the FATAL 28P01 the real server produces for a wrong
// password.
func (s *Server) rejectPassword(sc *ServerConn) error {
	return sc.Send(&pgproto3.ErrorResponse{
		Severity: "FATAL",
		Code:     "28P01",
		Message:  fmt.Sprintf("password authentication failed for user %q", s.cfg.User),
	})
}

// RejectDatabase builds the FATAL 3D000 a real server sends for an unknown
// database, for use as Config.StartupError.
func RejectDatabase(database string) *pgproto3.ErrorResponse {
	return &pgproto3.ErrorResponse{
		Severity: "FATAL",
		Code:     "3D000",
		Message:  fmt.Sprintf("database %q does not exist", database),
	}
}

// TerminateBackend builds the FATAL 57P01 a backend sends when it is killed
// by pg_terminate_backend.
func TerminateBackend() *pgproto3.ErrorResponse {
	return &pgproto3.ErrorResponse{
		Severity: "FATAL",
		Code:     "57P01",
		Message:  "terminating connection due to administrator command",
	}
}
