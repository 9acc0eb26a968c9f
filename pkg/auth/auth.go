// Package auth drives PostgreSQL authentication sub-protocols to completion:
// cleartext password, MD5, and SCRAM-SHA-256.
package auth

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/pantapita/postgres/pkg/pgwire"
)

// Codec is the message exchange surface the authenticator needs. Satisfied
// by *pgwire.Codec.
type Codec interface {
	SendNow(msg pgproto3.FrontendMessage) error
	Receive() (pgproto3.BackendMessage, error)
}

// Authenticator answers the server's authentication requests during startup.
// One Authenticator serves a single connection attempt.
type Authenticator struct {
	User     string
	Password string

	// Rand is the entropy source for SCRAM nonces. Defaults to crypto/rand.
	Rand io.Reader
}

func (a *Authenticator) rand() io.Reader {
	if a.Rand != nil {
		return a.Rand
	}
	return rand.Reader
}

// Authenticate runs the sub-protocol selected by req until the server sends
// AuthenticationOk. It returns *pgwire.PgError when the server rejects the
// credentials, *AuthError on a protocol violation, and
// *UnsupportedMethodError when the server asks for a method this package
// does not implement.
func (a *Authenticator) Authenticate(c Codec, req pgproto3.BackendMessage) error {
	switch msg := req.(type) {
	case *pgproto3.AuthenticationOk:
		return nil

	case *pgproto3.AuthenticationCleartextPassword:
		if err := c.SendNow(&pgproto3.PasswordMessage{Password: a.Password}); err != nil {
			return err
		}
		return a.expectOk(c)

	case *pgproto3.AuthenticationMD5Password:
		if err := c.SendNow(&pgproto3.PasswordMessage{Password: MD5Password(a.User, a.Password, msg.Salt)}); err != nil {
			return err
		}
		return a.expectOk(c)

	case *pgproto3.AuthenticationSASL:
		return a.scram(c, msg)

	default:
		return &UnsupportedMethodError{Method: fmt.Sprintf("%T", req)}
	}
}

// expectOk consumes messages until AuthenticationOk. A server that rejects
// the credentials answers with an ErrorResponse instead.
func (a *Authenticator) expectOk(c Codec) error {
	for {
		msg, err := c.Receive()
		if err != nil {
			return err
		}
		switch msg := msg.(type) {
		case *pgproto3.AuthenticationOk:
			return nil
		case *pgproto3.ErrorResponse:
			return pgwire.NewPgError(msg)
		case *pgproto3.NoticeResponse:
			// asynchronous, ignore
		default:
			return &AuthError{Reason: fmt.Sprintf("unexpected message %T while waiting for authentication result", msg)}
		}
	}
}

// MD5Password computes the MD5 authentication response:
// "md5" + md5hex(md5hex(password + user) + salt).
func MD5Password(user, password string, salt [4]byte) string {
	inner := md5hex([]byte(password + user))
	return "md5" + md5hex(append([]byte(inner), salt[:]...))
}

func md5hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
