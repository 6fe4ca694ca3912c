// Package ledger implements the hash-linked chain of blocks that records
// every balance transfer.
//
// # Core Components
//
// Block: A single ledger entry holding a transfer (or the genesis marker),
// its creation time, the proof-of-work nonce and the hash of all of them.
//
// Blockchain: An append-only sequence of blocks rooted at a fixed genesis
// block, with hash chaining for tamper detection.
//
// Record: The persisted form of a block.
//
// # Integrity
//
// A block is valid when its stored hash equals the digest of its own fields,
// its previous hash equals the hash of the block before it and, except for
// the genesis block, its hash starts with as many zero hex digits as the
// difficulty the block was accepted at. Append checks new blocks against the
// chain difficulty and records it in the block. Append and FromRecords enforce these rules unless the chain is
// built WithTrustingAppend, which reproduces the behaviour of ledgers that
// accepted any block handed to them.
package ledger
