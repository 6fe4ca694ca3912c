// Package account keeps the registry of named balance holders.
//
// Accounts are keyed by a public key that is the SHA-256 digest of the
// decimal private key. There is no signature scheme: a request is authorized
// when the private key it carries is exactly the one stored for the account.
package account
