package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantapita/postgres/pkg/config"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// closedPort returns a port nothing is listening on.
func closedPort(t *testing.T) uint16 {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(l.Addr().(*net.TCPAddr).Port)
	require.NoError(t, l.Close())
	return port
}

func TestOpenFailureIsOpenError(t *testing.T) {
	_, err := Open(testContext(t), "127.0.0.1", closedPort(t))
	require.Error(t, err)

	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Contains(t, openErr.Error(), "failed to connect")
}

func TestReadFailureIsIOError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err == nil {
			_ = conn.Close()
		}
	}()

	tr, err := Open(testContext(t), "127.0.0.1", uint16(l.Addr().(*net.TCPAddr).Port))
	require.NoError(t, err)
	defer tr.Close()

	buf := make([]byte, 1)
	_, err = tr.Read(buf)
	require.Error(t, err)

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "read", ioErr.Op)
}

func TestUpgradeTLSInvalidCertificate(t *testing.T) {
	cert, err := config.GenerateSelfSignedCert()
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		tlsConn := tls.Server(conn, &tls.Config{Certificates: []tls.Certificate{cert.Certificate}})
		_ = tlsConn.Handshake()
		_ = tlsConn.Close()
	}()

	tr, err := Open(testContext(t), "127.0.0.1", uint16(l.Addr().(*net.TCPAddr).Port))
	require.NoError(t, err)
	defer tr.Close()

	// No extra roots: the self-signed certificate cannot verify.
	err = tr.UpgradeTLS(testContext(t), &tls.Config{ServerName: "localhost", MinVersion: tls.VersionTLS12})
	require.Error(t, err)

	var tlsErr *TLSError
	require.ErrorAs(t, err, &tlsErr)
	assert.True(t, tlsErr.InvalidCertificate)
	assert.False(t, tr.TLS())
}

func TestUpgradeTLSWithTrustedRoot(t *testing.T) {
	cert, err := config.GenerateSelfSignedCert()
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	serverDone := make(chan error, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		tlsConn := tls.Server(conn, &tls.Config{Certificates: []tls.Certificate{cert.Certificate}})
		serverDone <- tlsConn.Handshake()
	}()

	tr, err := Open(testContext(t), "127.0.0.1", uint16(l.Addr().(*net.TCPAddr).Port))
	require.NoError(t, err)
	defer tr.Close()

	tlsCfg, err := config.TLSOptions{CACertificates: [][]byte{cert.CertPEM}}.ClientConfig("localhost")
	require.NoError(t, err)

	require.NoError(t, tr.UpgradeTLS(testContext(t), tlsCfg))
	assert.True(t, tr.TLS())
	require.NoError(t, <-serverDone)

	// One-shot: a second upgrade is a programming error.
	require.Error(t, tr.UpgradeTLS(testContext(t), tlsCfg))
}

func TestWatchContextFailsReadsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		// Accept and hold the connection open without writing.
		conn, err := l.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(2 * time.Second)
		}
	}()

	tr, err := Open(context.Background(), "127.0.0.1", uint16(l.Addr().(*net.TCPAddr).Port))
	require.NoError(t, err)
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stop := tr.WatchContext(ctx)
	defer stop()

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = tr.Read(make([]byte, 1))
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "read must fail promptly on cancellation")

	err = PreferContextError(ctx, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPreferContextErrorPassthrough(t *testing.T) {
	ctx := context.Background()
	cause := errors.New("boom")
	assert.Equal(t, cause, PreferContextError(ctx, cause))
}
