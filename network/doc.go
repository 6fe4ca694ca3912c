// Package network ships ledger snapshots to a remote node over TCP.
//
// # Core Components
//
// Message: the JSON object exchanged on the wire. It carries a file name
// and the base64 encoded file content under the "blockchain_file" type.
//
// Sender: dials the remote address, writes one Message and closes the
// connection. Closing is the only end-of-message signal.
//
// Receiver: accepts connections one at a time, reads each to EOF and writes
// the carried file into its output directory. Malformed or unknown messages
// are logged and the connection dropped without reply.
//
// # TLS
//
// Both ends speak plain TCP by default. GenerateSelfSignedCert,
// ServerTLSConfig and ClientTLSConfig build the configurations accepted by
// WithReceiverTLS and WithTLS, including mutual authentication.
package network
