// Package pgwire implements the client side of the PostgreSQL wire protocol
// version 3: message framing, the startup-phase messages that carry no type
// byte, and structured server errors.
//
// Typed protocol messages are the pgproto3 structs; this package owns the
// state-dependent parts the message types cannot express on their own: the
// SSLRequest exchange that happens before any framed message, the startup
// packet, and the transition into normal framed traffic.
package pgwire
