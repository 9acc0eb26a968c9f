package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/pantapita/postgres/pkg/auth"
	"github.com/pantapita/postgres/pkg/pgwire"
	"github.com/pantapita/postgres/pkg/transport"
)

// handshake runs one full connection attempt: TLS negotiation, startup,
// authentication, and the ready wait. On success the live transport and
// session snapshot are published; on failure the transport is closed and
// nothing is published.
func (c *Client) handshake(ctx context.Context) (err error) {
	t, tlsActive, err := c.negotiateTLS(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = t.Close()
		}
	}()

	stop := t.WatchContext(ctx)
	defer stop()

	codec := pgwire.NewCodec(t)
	if err := codec.SendStartup(c.startupParams()); err != nil {
		return err
	}

	live := &Session{
		TLS:          tlsActive,
		ServerParams: pgwire.ParameterStatuses{},
	}
	authenticator := &auth.Authenticator{
		User:     c.opts.User,
		Password: c.opts.Password,
		Rand:     c.rand,
	}

	for {
		msg, err := codec.Receive()
		if err != nil {
			return transport.PreferContextError(ctx, err)
		}

		switch msg := msg.(type) {
		case *pgproto3.AuthenticationOk:
			// Trust-authenticated, or the authenticator already consumed it.

		case *pgproto3.AuthenticationCleartextPassword,
			*pgproto3.AuthenticationMD5Password,
			*pgproto3.AuthenticationSASL,
			*pgproto3.AuthenticationGSS,
			*pgproto3.AuthenticationGSSContinue:
			if err := authenticator.Authenticate(codec, msg); err != nil {
				return transport.PreferContextError(ctx, err)
			}

		case *pgproto3.ParameterStatus:
			live.ServerParams.Set(msg.Name, msg.Value)

		case *pgproto3.BackendKeyData:
			live.PID = msg.ProcessID
			live.SecretKey = msg.SecretKey

		case *pgproto3.NegotiateProtocolVersion:
			live.DownlevelProtocol = true
			c.logger.Warn("server negotiated a downlevel protocol minor version")

		case *pgproto3.NoticeResponse:
			c.logger.Warn("server notice during startup", "severity", msg.Severity, "message", msg.Message)

		case *pgproto3.ErrorResponse:
			return pgwire.NewPgError(msg)

		case *pgproto3.ReadyForQuery:
			live.TxStatus = pgwire.TxStatus(msg.TxStatus)
			c.publishLocked(t, codec, live)
			return nil

		default:
			return fmt.Errorf("unexpected message %T during startup", msg)
		}
	}
}

// startupParams builds the StartupMessage parameter map: user, database,
// application_name, then the configured runtime parameters.
func (c *Client) startupParams() map[string]string {
	params := map[string]string{
		"user":     c.opts.User,
		"database": c.opts.Database,
	}
	if c.opts.ApplicationName != "" {
		params["application_name"] = c.opts.ApplicationName
	}
	for k, v := range c.opts.RuntimeParams {
		params[k] = v
	}
	return params
}

// negotiateTLS opens a transport and settles the encryption question. It
// returns a transport positioned exactly at the startup boundary: either
// upgraded to TLS, or plaintext with the SSLRequest exchange (if any)
// fully consumed.
//
// A TLS handshake that fails on certificate verification without
// tls.enforce downgrades by opening a brand-new plaintext connection: the
// socket under a failed handshake is in an indeterminate state and cannot
// be reused.
func (c *Client) negotiateTLS(ctx context.Context) (*transport.Transport, bool, error) {
	t, err := transport.Open(ctx, c.opts.Host, c.opts.Port)
	if err != nil {
		return nil, false, err
	}

	if !c.opts.TLS.Enabled {
		return t, false, nil
	}

	stop := t.WatchContext(ctx)
	codec := pgwire.NewCodec(t)

	if err := codec.SendSSLRequest(); err != nil {
		stop()
		_ = t.Close()
		return nil, false, &TLSAvailabilityError{Err: transport.PreferContextError(ctx, err)}
	}
	resp, err := codec.ReadSSLResponse()
	if err != nil {
		stop()
		_ = t.Close()
		return nil, false, &TLSAvailabilityError{Err: transport.PreferContextError(ctx, err)}
	}

	switch resp {
	case pgwire.SSLAccepted:
		tlsCfg, err := c.opts.TLS.ClientConfig(c.opts.Host)
		if err != nil {
			stop()
			_ = t.Close()
			return nil, false, err
		}
		err = t.UpgradeTLS(ctx, tlsCfg)
		stop()
		if err == nil {
			return t, true, nil
		}
		_ = t.Close()

		var tlsErr *transport.TLSError
		if errors.As(err, &tlsErr) && tlsErr.InvalidCertificate && !c.opts.TLS.Enforce {
			c.logger.Warn("server certificate not trusted, continuing without TLS", "error", err)
			fresh, openErr := transport.Open(ctx, c.opts.Host, c.opts.Port)
			if openErr != nil {
				return nil, false, openErr
			}
			return fresh, false, nil
		}
		return nil, false, transport.PreferContextError(ctx, err)

	case pgwire.SSLRefused:
		if c.opts.TLS.Enforce {
			stop()
			_ = t.Close()
			return nil, false, ErrTLSRefused
		}
		stop()
		return t, false, nil

	default:
		stop()
		_ = t.Close()
		return nil, false, &TLSAvailabilityError{Response: resp, HasResponse: true}
	}
}
