package pgtest

import (
	"fmt"
	"strings"

	saslauth "github.com/cybergarage/go-sasl/sasl/auth"
	"github.com/cybergarage/go-sasl/sasl/scram"
	"github.com/jackc/pgproto3/v2"
)

// authSCRAM runs the server side of a SCRAM-SHA-256 exchange using go-sasl,
// so the client implementation is verified against an independent one.
func (s *Server) authSCRAM(sc *ServerConn) error {
	if err := sc.Send(&pgproto3.AuthenticationSASL{AuthMechanisms: []string{"SCRAM-SHA-256"}}); err != nil {
		return err
	}

	server, err := scram.NewServer(
		scram.WithServerCredentialStore(&credentialStore{user: s.cfg.User, password: s.cfg.Password}),
		scram.WithServerHashFunc(scram.HashSHA256()),
		scram.WithServerIterationCount(4096),
	)
	if err != nil {
		return fmt.Errorf("create SCRAM server: %w", err)
	}

	_ = sc.Backend.SetAuthType(pgproto3.AuthTypeSASL)
	msg, err := sc.Receive()
	if err != nil {
		return err
	}
	initial, ok := msg.(*pgproto3.SASLInitialResponse)
	if !ok {
		return fmt.Errorf("expected SASLInitialResponse, got %T", msg)
	}
	if initial.AuthMechanism != "SCRAM-SHA-256" {
		return fmt.Errorf("unexpected SASL mechanism %q", initial.AuthMechanism)
	}

	clientFirst, err := scram.NewMessageFromStringWithHeader(string(initial.Data))
	if err != nil {
		return fmt.Errorf("parse client-first-message: %w", err)
	}
	serverFirst, err := server.FirstMessageFrom(clientFirst)
	if err != nil {
		return fmt.Errorf("process client-first-message: %w", err)
	}
	if err := sc.Send(&pgproto3.AuthenticationSASLContinue{Data: []byte(serverFirst.String())}); err != nil {
		return err
	}

	_ = sc.Backend.SetAuthType(pgproto3.AuthTypeSASLContinue)
	msg, err = sc.Receive()
	if err != nil {
		return err
	}
	final, ok := msg.(*pgproto3.SASLResponse)
	if !ok {
		return fmt.Errorf("expected SASLResponse, got %T", msg)
	}

	clientFinal, err := scram.NewMessageFromString(string(final.Data))
	if err != nil {
		return fmt.Errorf("parse client-final-message: %w", err)
	}
	serverFinal, err := server.FinalMessageFrom(clientFinal)
	if err != nil {
		return s.rejectPassword(sc)
	}

	payload := serverFinal.String()
	if s.cfg.TamperServerSignature {
		payload = tamperSignature(payload)
	}
	if err := sc.Send(&pgproto3.AuthenticationSASLFinal{Data: []byte(payload)}); err != nil {
		return err
	}
	return sc.Send(&pgproto3.AuthenticationOk{})
}

// tamperSignature flips one character of the v= attribute so the signature
// no longer verifies but the message still parses.
func tamperSignature(serverFinal string) string {
	i := strings.Index(serverFinal, "v=")
	if i < 0 || i+2 >= len(serverFinal) {
		return serverFinal
	}
	b := []byte(serverFinal)
	pos := i + 2
	if b[pos] == 'A' {
		b[pos] = 'B'
	} else {
		b[pos] = 'A'
	}
	return string(b)
}

// credentialStore hands go-sasl the expected credentials. The username in
// the SCRAM message is empty by PostgreSQL convention, so lookups succeed
// regardless of it.
type credentialStore struct {
	user     string
	password string
}

func (cs *credentialStore) LookupCredential(q saslauth.Query) (saslauth.Credential, bool, error) {
	cred := saslauth.NewCredential(
		saslauth.WithCredentialUsername(cs.user),
		saslauth.WithCredentialPassword(cs.password),
	)
	return cred, true, nil
}
