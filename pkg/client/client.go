// Package client implements the PostgreSQL connection state machine: TLS
// negotiation, startup, authentication, and the connected session lifecycle
// including bounded reconnection.
//
// A Client owns at most one live session at a time. Operations are
// serialized; the protocol has at most one in-flight request per connection
// and callers must not interleave them.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/pantapita/postgres/pkg/config"
	"github.com/pantapita/postgres/pkg/pgwire"
	"github.com/pantapita/postgres/pkg/transport"
)

// Client is the connection controller. Construct with New; no I/O happens
// until Connect.
type Client struct {
	opts   config.Options
	logger *slog.Logger

	// rand feeds SCRAM nonces. Overridable in tests; nil means crypto/rand.
	rand io.Reader

	// mu serializes Connect, Close, and operations. The transport is never
	// touched by two logical operations at once.
	mu        sync.Mutex
	transport *transport.Transport
	codec     *pgwire.Codec

	// session is the published snapshot; nil while disconnected. Readers
	// load it without taking mu.
	session atomic.Pointer[Session]
}

// New creates a Client for the given options. logger may be nil, which uses
// slog.Default.
func New(opts config.Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.Normalized()
	return &Client{
		opts:   opts,
		logger: logger.With("host", opts.Host, "port", opts.Port, "database", opts.Database),
	}
}

// Connected reports whether the client currently holds a live session.
func (c *Client) Connected() bool {
	return c.session.Load() != nil
}

// Session returns the current session snapshot, or nil when disconnected.
// The snapshot is immutable; it never changes after being returned.
func (c *Client) Session() *Session {
	return c.session.Load()
}

// Connect establishes a session. A connected client returns nil without any
// I/O. Transport-class failures (dial, I/O, unreadable SSLRequest answer)
// are retried up to the configured attempt budget, each retry on a fresh
// transport; server-reported errors are returned immediately. When every
// attempt fails the last error is returned.
//
// Cancelling ctx closes the transport and leaves the session cleared.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.session.Load() != nil {
		return nil
	}
	if err := c.opts.Validate(); err != nil {
		return err
	}

	total := c.opts.Connection.TotalAttempts()
	var lastErr error
	for attempt := 1; attempt <= total; attempt++ {
		err := c.handshake(ctx)
		if err == nil {
			c.logger.Debug("connected", "attempt", attempt, "session", c.session.Load())
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			return err
		}
		c.logger.Warn("connection attempt failed", "attempt", attempt, "of", total, "error", err)
	}
	return lastErr
}

// Close terminates the session: best-effort Terminate message, then close
// the transport and clear the session. Idempotent.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transport == nil {
		return nil
	}

	stop := c.transport.WatchContext(ctx)
	if err := c.codec.SendTerminate(); err != nil {
		c.logger.Debug("terminate message not delivered", "error", err)
	}
	stop()

	c.teardownLocked()
	return nil
}

// HandleDisconnect is the hook higher layers invoke when a running operation
// observes that the session is gone: EOF on the transport, or a FATAL
// ErrorResponse such as 57P01 ("terminating connection due to administrator
// command").
//
// The controller clears the session and, when the attempt budget allows,
// re-establishes it once so the next operation sees a fresh session with the
// new backend PID. The returned error is what the interrupted operation must
// surface: the operation itself is never transparently re-run.
func (c *Client) HandleDisconnect(ctx context.Context, cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failOperationLocked(ctx, cause)
}

func (c *Client) failOperationLocked(ctx context.Context, cause error) error {
	c.logger.Warn("session lost", "error", cause)
	c.teardownLocked()

	if c.opts.Connection.Attempts >= 1 {
		if err := c.connectLocked(ctx); err != nil {
			c.logger.Warn("reconnect after session loss failed", "error", err)
		}
	}

	return newSessionTerminatedError(cause)
}

// teardownLocked releases the transport and atomically clears the session.
// Publishing nil flips Connected to false and unsets every session field in
// one step, so external readers never observe a half-cleared session.
func (c *Client) teardownLocked() {
	c.session.Store(nil)
	if c.transport != nil {
		_ = c.transport.Close()
		c.transport = nil
		c.codec = nil
	}
}

// publishLocked installs a new live transport and session snapshot.
func (c *Client) publishLocked(t *transport.Transport, codec *pgwire.Codec, s *Session) {
	c.transport = t
	c.codec = codec
	c.session.Store(s)
}

func (c *Client) updateParamLocked(name, value string) {
	if s := c.session.Load(); s != nil {
		c.session.Store(s.withParam(name, value))
	}
}

func (c *Client) updateTxStatusLocked(status pgwire.TxStatus) {
	if s := c.session.Load(); s != nil {
		c.session.Store(s.withTxStatus(status))
	}
}

// Result is the outcome of a simple-query Exec: the column names, rows as
// text, and the command tag. NULL values decode as empty strings; callers
// that need the distinction belong on a real query layer, not this minimal
// surface.
type Result struct {
	Columns    []string
	Rows       [][]string
	CommandTag string
}

// Exec runs a single statement over the simple query protocol and buffers
// the result. It exists to exercise the connected session; query ergonomics
// (parameters, typed decoding, pipelining) live in higher layers.
//
// If the session dies mid-operation the error is
// "The session was terminated by the database", the session is cleared, and
// a bounded reconnect is attempted per HandleDisconnect. The statement is
// never re-run automatically. On a client with no session, Exec fails with
// ErrClientDisconnected.
func (c *Client) Exec(ctx context.Context, sql string) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Load() == nil {
		return nil, ErrClientDisconnected
	}

	stop := c.transport.WatchContext(ctx)
	defer stop()

	if err := c.codec.SendNow(&pgproto3.Query{String: sql}); err != nil {
		return nil, c.failOperationLocked(ctx, transport.PreferContextError(ctx, err))
	}

	res := &Result{}
	var stmtErr error
	for {
		msg, err := c.codec.Receive()
		if err != nil {
			return nil, c.failOperationLocked(ctx, transport.PreferContextError(ctx, err))
		}

		switch msg := msg.(type) {
		case *pgproto3.RowDescription:
			res.Columns = make([]string, len(msg.Fields))
			for i, f := range msg.Fields {
				res.Columns[i] = string(f.Name)
			}
		case *pgproto3.DataRow:
			row := make([]string, len(msg.Values))
			for i, v := range msg.Values {
				row[i] = string(v)
			}
			res.Rows = append(res.Rows, row)
		case *pgproto3.CommandComplete:
			res.CommandTag = string(msg.CommandTag)
		case *pgproto3.EmptyQueryResponse:
		case *pgproto3.ParameterStatus:
			c.updateParamLocked(msg.Name, msg.Value)
		case *pgproto3.NoticeResponse:
			c.logger.Warn("server notice", "severity", msg.Severity, "message", msg.Message)
		case *pgproto3.ErrorResponse:
			pgErr := pgwire.NewPgError(msg)
			if pgErr.Fatal() {
				// The server is closing the session; no ReadyForQuery follows.
				return nil, c.failOperationLocked(ctx, pgErr)
			}
			stmtErr = pgErr
		case *pgproto3.ReadyForQuery:
			c.updateTxStatusLocked(pgwire.TxStatus(msg.TxStatus))
			if stmtErr != nil {
				return nil, stmtErr
			}
			return res, nil
		default:
			c.logger.Debug("ignoring message during query", "type", fmt.Sprintf("%T", msg))
		}
	}
}
