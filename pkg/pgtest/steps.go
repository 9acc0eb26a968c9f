package pgtest

import (
	"github.com/jackc/pgmock"
	"github.com/jackc/pgproto3/v2"
)

// pgmock step helpers for the post-ready query phase of a mock server.

// ExpectQuery returns a step that expects a simple query message.
func ExpectQuery(query string) pgmock.Step {
	return pgmock.ExpectMessage(&pgproto3.Query{String: query})
}

// SendRowDescription returns a step that sends column metadata for a single
// text column.
func SendRowDescription(names ...string) pgmock.Step {
	fields := make([]pgproto3.FieldDescription, len(names))
	for i, name := range names {
		fields[i] = pgproto3.FieldDescription{
			Name:         []byte(name),
			DataTypeOID:  25,
			DataTypeSize: -1,
			TypeModifier: -1,
		}
	}
	return pgmock.SendMessage(&pgproto3.RowDescription{Fields: fields})
}

// SendDataRow returns a step that sends one row of text values.
func SendDataRow(values ...string) pgmock.Step {
	row := make([][]byte, len(values))
	for i, v := range values {
		row[i] = []byte(v)
	}
	return pgmock.SendMessage(&pgproto3.DataRow{Values: row})
}

// SendCommandComplete returns a step that sends command completion.
func SendCommandComplete(tag string) pgmock.Step {
	return pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte(tag)})
}

// SendReadyForQuery returns a step that sends ready-for-query with the given
// transaction status ('I', 'T', or 'E').
func SendReadyForQuery(status byte) pgmock.Step {
	return pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: status})
}

// SelectSteps returns the full exchange for a single-row, single-column
// SELECT.
func SelectSteps(query, column, value string) []pgmock.Step {
	return []pgmock.Step{
		ExpectQuery(query),
		SendRowDescription(column),
		SendDataRow(value),
		SendCommandComplete("SELECT 1"),
		SendReadyForQuery('I'),
	}
}
