package pgwire

import (
	"io"
	"net"
	"testing"

	pgproto3v2 "github.com/jackc/pgproto3/v2"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeBackend is the server end of an in-memory connection, decoding with
// the independent pgproto3/v2 implementation so framing bugs cannot cancel
// out.
type pipeBackend struct {
	conn    net.Conn
	backend *pgproto3v2.Backend
}

func newPipe(t *testing.T) (*Codec, *pipeBackend) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() {
		_ = clientConn.Close()
		_ = serverConn.Close()
	})
	return NewCodec(clientConn), &pipeBackend{
		conn:    serverConn,
		backend: pgproto3v2.NewBackend(pgproto3v2.NewChunkReader(serverConn), serverConn),
	}
}

func TestSendSSLRequestFrame(t *testing.T) {
	codec, server := newPipe(t)

	errCh := make(chan error, 1)
	go func() { errCh <- codec.SendSSLRequest() }()

	buf := make([]byte, 8)
	_, err := io.ReadFull(server.conn, buf)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	// length=8, then the 80877103 magic.
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x08, 0x04, 0xD2, 0x16, 0x2F}, buf)
}

func TestReadSSLResponse(t *testing.T) {
	codec, server := newPipe(t)

	go func() { _, _ = server.conn.Write([]byte{'S'}) }()
	resp, err := codec.ReadSSLResponse()
	require.NoError(t, err)
	assert.Equal(t, SSLAccepted, resp)
}

func TestSendStartupDecodesWithV2(t *testing.T) {
	codec, server := newPipe(t)

	type result struct {
		msg pgproto3v2.FrontendMessage
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		msg, err := server.backend.ReceiveStartupMessage()
		resCh <- result{msg, err}
	}()

	require.NoError(t, codec.SendStartup(map[string]string{
		"user":     "alice",
		"database": "appdb",
	}))

	res := <-resCh
	require.NoError(t, res.err)
	startup, ok := res.msg.(*pgproto3v2.StartupMessage)
	require.True(t, ok, "expected StartupMessage, got %T", res.msg)
	assert.Equal(t, uint32(196608), startup.ProtocolVersion)
	assert.Equal(t, "alice", startup.Parameters["user"])
	assert.Equal(t, "appdb", startup.Parameters["database"])
}

func TestSendTerminateDecodesWithV2(t *testing.T) {
	codec, server := newPipe(t)

	resCh := make(chan pgproto3v2.FrontendMessage, 1)
	go func() {
		msg, err := server.backend.Receive()
		if err != nil {
			resCh <- nil
			return
		}
		resCh <- msg
	}()

	require.NoError(t, codec.SendTerminate())
	msg := <-resCh
	_, ok := msg.(*pgproto3v2.Terminate)
	assert.True(t, ok, "expected Terminate, got %T", msg)
}

func TestReceiveServerMessages(t *testing.T) {
	codec, server := newPipe(t)

	go func() {
		_ = server.backend.Send(&pgproto3v2.ParameterStatus{Name: "TimeZone", Value: "UTC"})
		_ = server.backend.Send(&pgproto3v2.BackendKeyData{ProcessID: 42, SecretKey: 7})
		_ = server.backend.Send(&pgproto3v2.ReadyForQuery{TxStatus: 'I'})
	}()

	msg, err := codec.Receive()
	require.NoError(t, err)
	param, ok := msg.(*pgproto3.ParameterStatus)
	require.True(t, ok)
	assert.Equal(t, "TimeZone", param.Name)
	assert.Equal(t, "UTC", param.Value)

	msg, err = codec.Receive()
	require.NoError(t, err)
	keyData, ok := msg.(*pgproto3.BackendKeyData)
	require.True(t, ok)
	assert.Equal(t, uint32(42), keyData.ProcessID)
	assert.Equal(t, uint32(7), keyData.SecretKey)

	msg, err = codec.Receive()
	require.NoError(t, err)
	ready, ok := msg.(*pgproto3.ReadyForQuery)
	require.True(t, ok)
	assert.Equal(t, byte(TxIdle), ready.TxStatus)
}

func TestSendNowQuery(t *testing.T) {
	codec, server := newPipe(t)

	resCh := make(chan pgproto3v2.FrontendMessage, 1)
	go func() {
		msg, err := server.backend.Receive()
		if err != nil {
			resCh <- nil
			return
		}
		resCh <- msg
	}()

	require.NoError(t, codec.SendNow(&pgproto3.Query{String: "SELECT 1"}))
	msg := <-resCh
	query, ok := msg.(*pgproto3v2.Query)
	require.True(t, ok, "expected Query, got %T", msg)
	assert.Equal(t, "SELECT 1", query.String)
}
