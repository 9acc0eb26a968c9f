package pgwire

import (
	"testing"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/stretchr/testify/assert"
)

func TestNewPgErrorCopiesFields(t *testing.T) {
	err := NewPgError(&pgproto3.ErrorResponse{
		Severity:            "FATAL",
		SeverityUnlocalized: "FATAL",
		Code:                "28P01",
		Message:             `password authentication failed for user "alice"`,
		Detail:              "Connection matched pg_hba.conf line 95",
		Hint:                "check the password",
		Position:            12,
	})

	assert.Equal(t, SeverityFatal, err.Severity)
	assert.Equal(t, "28P01", err.Code)
	assert.Contains(t, err.Message, "password authentication failed")
	assert.Equal(t, "Connection matched pg_hba.conf line 95", err.Detail)
	assert.Equal(t, "check the password", err.Hint)
	assert.Equal(t, int32(12), err.Position)
}

func TestPgErrorPrefersUnlocalizedSeverity(t *testing.T) {
	err := NewPgError(&pgproto3.ErrorResponse{
		Severity:            "FATALE", // localized
		SeverityUnlocalized: "FATAL",
		Code:                "57P01",
	})
	assert.Equal(t, SeverityFatal, err.Severity)
	assert.True(t, err.Fatal())
}

func TestPgErrorFallsBackToLocalizedSeverity(t *testing.T) {
	err := NewPgError(&pgproto3.ErrorResponse{
		Severity: "ERROR",
		Code:     "42P01",
	})
	assert.Equal(t, SeverityError, err.Severity)
	assert.False(t, err.Fatal())
}

func TestPgErrorString(t *testing.T) {
	err := NewPgError(&pgproto3.ErrorResponse{
		Severity: "ERROR",
		Code:     "42601",
		Message:  `syntax error at or near "SELEC"`,
	})
	assert.Equal(t, `ERROR: syntax error at or near "SELEC" (SQLSTATE 42601)`, err.Error())
}

func TestPgErrorAdminShutdown(t *testing.T) {
	killed := NewPgError(&pgproto3.ErrorResponse{
		Severity: "FATAL",
		Code:     "57P01",
		Message:  "terminating connection due to administrator command",
	})
	assert.True(t, killed.AdminShutdown())
	assert.True(t, killed.Fatal())

	badPassword := NewPgError(&pgproto3.ErrorResponse{Severity: "FATAL", Code: "28P01"})
	assert.False(t, badPassword.AdminShutdown())
}

func TestParameterStatuses(t *testing.T) {
	params := ParameterStatuses{}
	params.Set(ParamServerVersion, "16.4")
	params.Set(ParamTimeZone, "UTC")
	assert.Equal(t, "16.4", params[ParamServerVersion])

	clone := params.Clone()
	clone.Set(ParamTimeZone, "")
	assert.Equal(t, "UTC", params[ParamTimeZone], "clone must not alias the original")
	_, ok := clone[ParamTimeZone]
	assert.False(t, ok, "empty value deletes the key")
}

func TestSeverityFatal(t *testing.T) {
	assert.True(t, SeverityFatal.Fatal())
	assert.True(t, SeverityPanic.Fatal())
	assert.False(t, SeverityError.Fatal())
	assert.False(t, SeverityNotice.Fatal())
}

func TestTxStatusString(t *testing.T) {
	assert.Equal(t, "idle", TxIdle.String())
	assert.Equal(t, "in_transaction", TxInTransaction.String())
	assert.Equal(t, "in_failed_transaction", TxFailed.String())
}
