// Package tacplus implements a TACACS+ client as defined in RFC8907.
//
// The package is layered. The codec (Header, the body types and FieldText
// and Argument) encodes and decodes packets into caller supplied buffers.
// The obfuscation layer masks bodies with the MD5 pad keyed by the shared
// secret. A Session runs one TACACS+ session over a connection, enforcing
// sequence numbers and session ids, and drives the authentication,
// authorization and accounting exchanges. Client is the entry point: it
// dials the server, negotiates single-connect mode and retries
// authorization and accounting once after a lost connection.
package tacplus
