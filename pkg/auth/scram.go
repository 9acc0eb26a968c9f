package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgproto3"
	"golang.org/x/crypto/pbkdf2"

	"github.com/pantapita/postgres/pkg/pgwire"
)

// SCRAM-SHA-256 per RFC 5802 / RFC 7677, with the PostgreSQL convention of an
// empty n= username (the user is taken from the startup packet).
const scramMechanism = "SCRAM-SHA-256"

// gs2HeaderNoBinding is the GS2 header for "client does not support channel
// binding". The header is an input to the exchange so that a
// tls-server-end-point binding can slot in later without restructuring.
const gs2HeaderNoBinding = "n,,"

const clientNonceLen = 18

func (a *Authenticator) scram(c Codec, req *pgproto3.AuthenticationSASL) error {
	supported := false
	for _, m := range req.AuthMechanisms {
		if m == scramMechanism {
			supported = true
			break
		}
	}
	if !supported {
		return &UnsupportedMethodError{Method: "SASL " + strings.Join(req.AuthMechanisms, ", ")}
	}

	sc, err := newScramClient(a.rand(), a.Password, gs2HeaderNoBinding)
	if err != nil {
		return err
	}

	err = c.SendNow(&pgproto3.SASLInitialResponse{
		AuthMechanism: scramMechanism,
		Data:          []byte(sc.clientFirstMessage()),
	})
	if err != nil {
		return err
	}

	msg, err := a.receiveSASL(c)
	if err != nil {
		return err
	}
	cont, ok := msg.(*pgproto3.AuthenticationSASLContinue)
	if !ok {
		return &AuthError{Reason: fmt.Sprintf("expected SASLContinue, server sent %T", msg)}
	}
	if err := sc.handleServerFirst(string(cont.Data)); err != nil {
		return err
	}

	if err := c.SendNow(&pgproto3.SASLResponse{Data: []byte(sc.clientFinalMessage())}); err != nil {
		return err
	}

	msg, err = a.receiveSASL(c)
	if err != nil {
		return err
	}
	final, ok := msg.(*pgproto3.AuthenticationSASLFinal)
	if !ok {
		return &AuthError{Reason: fmt.Sprintf("expected SASLFinal, server sent %T", msg)}
	}
	if err := sc.verifyServerFinal(string(final.Data)); err != nil {
		return err
	}

	return a.expectOk(c)
}

// receiveSASL reads the next message of the SASL exchange, translating server
// rejections into PgError and skipping asynchronous notices.
func (a *Authenticator) receiveSASL(c Codec) (pgproto3.BackendMessage, error) {
	for {
		msg, err := c.Receive()
		if err != nil {
			return nil, err
		}
		switch msg := msg.(type) {
		case *pgproto3.ErrorResponse:
			return nil, pgwire.NewPgError(msg)
		case *pgproto3.NoticeResponse:
			// asynchronous, ignore
		default:
			return msg, nil
		}
	}
}

// scramClient holds the client half of one SCRAM-SHA-256 exchange.
type scramClient struct {
	password  string
	gs2Header string

	clientNonce     string
	clientFirstBare string

	serverFirst string
	serverNonce string
	salt        []byte
	iterations  int

	saltedPassword []byte
	authMessage    string
}

func newScramClient(rng io.Reader, password, gs2Header string) (*scramClient, error) {
	nonce := make([]byte, clientNonceLen)
	if _, err := io.ReadFull(rng, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate client nonce: %w", err)
	}
	return &scramClient{
		password:    password,
		gs2Header:   gs2Header,
		clientNonce: base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// clientFirstMessage builds the client-first-message. The username attribute
// is left empty; PostgreSQL takes the user from the startup packet.
func (s *scramClient) clientFirstMessage() string {
	s.clientFirstBare = "n=,r=" + s.clientNonce
	return s.gs2Header + s.clientFirstBare
}

// handleServerFirst parses the server-first-message
// ("r=<nonce>,s=<salt>,i=<iterations>") and checks that the server's nonce
// extends ours.
func (s *scramClient) handleServerFirst(serverFirst string) error {
	attrs := parseAttributes(serverFirst)

	serverNonce, ok := attrs["r"]
	if !ok {
		return &AuthError{Reason: "server-first-message missing nonce"}
	}
	if !strings.HasPrefix(serverNonce, s.clientNonce) {
		return &AuthError{Reason: "server nonce does not extend client nonce"}
	}

	saltB64, ok := attrs["s"]
	if !ok {
		return &AuthError{Reason: "server-first-message missing salt"}
	}
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return &AuthError{Reason: "invalid salt encoding", Err: err}
	}

	iterations, err := strconv.Atoi(attrs["i"])
	if err != nil || iterations < 1 {
		return &AuthError{Reason: "invalid iteration count", Err: err}
	}

	s.serverFirst = serverFirst
	s.serverNonce = serverNonce
	s.salt = salt
	s.iterations = iterations
	return nil
}

// clientFinalMessage computes the proof and builds the client-final-message
// ("c=<binding>,r=<nonce>,p=<proof>").
func (s *scramClient) clientFinalMessage() string {
	channelBinding := base64.StdEncoding.EncodeToString([]byte(s.gs2Header))
	withoutProof := "c=" + channelBinding + ",r=" + s.serverNonce

	s.authMessage = s.clientFirstBare + "," + s.serverFirst + "," + withoutProof
	s.saltedPassword = pbkdf2.Key([]byte(s.password), s.salt, s.iterations, 32, sha256.New)

	clientKey := hmacSHA256(s.saltedPassword, []byte("Client Key"))
	storedKey := sha256.Sum256(clientKey)
	clientSignature := hmacSHA256(storedKey[:], []byte(s.authMessage))

	proof := make([]byte, len(clientKey))
	for i := range proof {
		proof[i] = clientKey[i] ^ clientSignature[i]
	}

	return withoutProof + ",p=" + base64.StdEncoding.EncodeToString(proof)
}

// verifyServerFinal checks the server signature in the server-final-message.
// This is what authenticates the server to us: only a server that knows the
// stored credentials can produce it.
func (s *scramClient) verifyServerFinal(serverFinal string) error {
	attrs := parseAttributes(serverFinal)

	if e, ok := attrs["e"]; ok {
		return &AuthError{Reason: "server rejected authentication: " + e}
	}

	vB64, ok := attrs["v"]
	if !ok {
		return &AuthError{Reason: "server-final-message missing verifier"}
	}
	v, err := base64.StdEncoding.DecodeString(vB64)
	if err != nil {
		return &AuthError{Reason: "invalid server signature encoding", Err: err}
	}

	serverKey := hmacSHA256(s.saltedPassword, []byte("Server Key"))
	expected := hmacSHA256(serverKey, []byte(s.authMessage))
	if !hmac.Equal(v, expected) {
		return &AuthError{Reason: "server signature invalid"}
	}
	return nil
}

// parseAttributes splits a SCRAM message into its single-letter attributes.
func parseAttributes(msg string) map[string]string {
	attrs := make(map[string]string)
	for _, part := range strings.Split(msg, ",") {
		if len(part) >= 2 && part[1] == '=' {
			attrs[part[:1]] = part[2:]
		}
	}
	return attrs
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
