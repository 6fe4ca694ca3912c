// Package consensus implements the proof-of-work rule blocks must satisfy
// before they are appended to the ledger.
//
// # Core Components
//
// Miner: Searches a nonce that gives a block hash the required number of
// leading zero hex digits.
//
// # Proof of work
//
// The difficulty is the number of zero hex digits a block hash must start
// with. Each additional digit multiplies the expected work by sixteen.
// Difficulty 0 accepts the first nonce tried.
//
// Nonces are picked uniformly at random instead of sequentially. This does
// not change which blocks are valid, only how long it takes to find one.
//
// # Blocking
//
// Mining is the only operation of the system without a bound on its
// duration. Callers that need one pass a context with a deadline.
package consensus
