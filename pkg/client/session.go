package client

import (
	"fmt"

	"github.com/pantapita/postgres/pkg/pgwire"
)

// Session is the observable identity of a connected session. Snapshots are
// immutable: the controller publishes a fresh value at every transition and
// readers never see a partially updated one. A nil *Session means the client
// is disconnected and every field is unset.
type Session struct {
	// PID is the server-side backend process identifier, from BackendKeyData.
	PID uint32

	// SecretKey is the cancellation key paired with PID. A higher layer can
	// use it to issue CancelRequest over a side connection.
	SecretKey uint32

	// TLS reports whether the transport under this session is encrypted.
	TLS bool

	// ServerParams is the accumulated ParameterStatus values reported by the
	// server (server_version, TimeZone, ...).
	ServerParams pgwire.ParameterStatuses

	// TxStatus is the transaction status from the last ReadyForQuery.
	TxStatus pgwire.TxStatus

	// DownlevelProtocol is set when the server sent
	// NegotiateProtocolVersion during startup.
	DownlevelProtocol bool
}

func (s *Session) String() string {
	return fmt.Sprintf("pid=%d tls=%t status=%s", s.PID, s.TLS, s.TxStatus)
}

// withParam returns a copy with one server parameter updated, for
// copy-on-publish updates after connect.
func (s *Session) withParam(name, value string) *Session {
	next := *s
	next.ServerParams = s.ServerParams.Clone()
	next.ServerParams.Set(name, value)
	return &next
}

// withTxStatus returns a copy with the transaction status updated.
func (s *Session) withTxStatus(status pgwire.TxStatus) *Session {
	next := *s
	next.TxStatus = status
	return &next
}
