package pgwire

// MsgType is a PostgreSQL wire protocol message type byte.
type MsgType byte

// Client (frontend) message types the connection core produces.
const (
	MsgClientPassword  MsgType = 'p' // also carries SASL responses
	MsgClientQuery     MsgType = 'Q'
	MsgClientTerminate MsgType = 'X'
)

// Server (backend) message types the connection core consumes.
const (
	MsgServerAuth                     MsgType = 'R'
	MsgServerBackendKeyData           MsgType = 'K'
	MsgServerCommandComplete          MsgType = 'C'
	MsgServerDataRow                  MsgType = 'D'
	MsgServerEmptyQueryResponse       MsgType = 'I'
	MsgServerErrorResponse            MsgType = 'E'
	MsgServerNegotiateProtocolVersion MsgType = 'v'
	MsgServerNoticeResponse           MsgType = 'N'
	MsgServerParameterStatus          MsgType = 'S'
	MsgServerReadyForQuery            MsgType = 'Z'
	MsgServerRowDescription           MsgType = 'T'
)

// Single-byte responses to SSLRequest. Anything else means the peer is not
// speaking the PostgreSQL protocol.
const (
	SSLAccepted byte = 'S'
	SSLRefused  byte = 'N'
)

// Authentication request subtypes, the first int32 of an 'R' message body.
const (
	AuthTypeOk                = 0
	AuthTypeKerberosV5        = 2
	AuthTypeCleartextPassword = 3
	AuthTypeMD5Password       = 5
	AuthTypeSCMCredential     = 6
	AuthTypeGSS               = 7
	AuthTypeSSPI              = 9
	AuthTypeSASL              = 10
	AuthTypeSASLContinue      = 11
	AuthTypeSASLFinal         = 12
)
