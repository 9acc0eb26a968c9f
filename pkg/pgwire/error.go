package pgwire

import (
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgproto3"
)

// PgError is an error reported by the server in an ErrorResponse message.
// See https://www.postgresql.org/docs/current/protocol-error-fields.html
// for the field semantics.
type PgError struct {
	Severity         Severity
	Code             string // SQLSTATE
	Message          string
	Detail           string
	Hint             string
	Position         int32
	InternalPosition int32
	InternalQuery    string
	Where            string
	SchemaName       string
	TableName        string
	ColumnName       string
	DataTypeName     string
	ConstraintName   string
	File             string
	Line             int32
	Routine          string
}

var _ error = &PgError{}

func (e *PgError) Error() string {
	return string(e.Severity) + ": " + e.Message + " (SQLSTATE " + e.Code + ")"
}

// Fatal reports whether the server is terminating the session with this error.
func (e *PgError) Fatal() bool {
	return e.Severity.Fatal()
}

// AdminShutdown reports whether the backend was terminated by an
// administrator command (pg_terminate_backend, server shutdown).
func (e *PgError) AdminShutdown() bool {
	return e.Code == pgerrcode.AdminShutdown
}

// NewPgError builds a PgError from a received ErrorResponse. The field
// strings are copied, so the result stays valid after the codec's read
// buffer is reused.
func NewPgError(msg *pgproto3.ErrorResponse) *PgError {
	severity := msg.SeverityUnlocalized
	if severity == "" {
		severity = msg.Severity
	}
	return &PgError{
		Severity:         Severity(severity),
		Code:             msg.Code,
		Message:          msg.Message,
		Detail:           msg.Detail,
		Hint:             msg.Hint,
		Position:         msg.Position,
		InternalPosition: msg.InternalPosition,
		InternalQuery:    msg.InternalQuery,
		Where:            msg.Where,
		SchemaName:       msg.SchemaName,
		TableName:        msg.TableName,
		ColumnName:       msg.ColumnName,
		DataTypeName:     msg.DataTypeName,
		ConstraintName:   msg.ConstraintName,
		File:             msg.File,
		Line:             msg.Line,
		Routine:          msg.Routine,
	}
}
