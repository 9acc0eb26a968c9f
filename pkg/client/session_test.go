package client

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pantapita/postgres/pkg/pgwire"
)

func TestSessionWithParamDoesNotMutateOriginal(t *testing.T) {
	s := &Session{
		PID:          42,
		ServerParams: pgwire.ParameterStatuses{"TimeZone": "UTC"},
	}

	next := s.withParam("TimeZone", "America/New_York")

	assert.Equal(t, "UTC", s.ServerParams["TimeZone"])
	assert.Equal(t, "America/New_York", next.ServerParams["TimeZone"])
	assert.Equal(t, uint32(42), next.PID)
}

func TestSessionWithTxStatus(t *testing.T) {
	s := &Session{TxStatus: pgwire.TxIdle}
	next := s.withTxStatus(pgwire.TxInTransaction)

	assert.Equal(t, pgwire.TxIdle, s.TxStatus)
	assert.Equal(t, pgwire.TxInTransaction, next.TxStatus)
}

func TestSessionString(t *testing.T) {
	s := &Session{PID: 7, TLS: true, TxStatus: pgwire.TxIdle}
	assert.Equal(t, "pid=7 tls=true status=idle", s.String())
}
