// Package application runs transfers between accounts end to end.
//
// # Core Components
//
// Processor: validates a transfer against the account registry, mines the
// block recording it, appends the block to the ledger, moves the funds,
// saves both to the store and pushes the ledger to a remote node.
//
// Open: builds a Processor from a config.Config, restoring whatever the
// store holds. It refuses to start over a stored ledger it cannot verify.
//
// # Transfer lifecycle
//
// A transfer goes Received, Validated, Mined, Committed. A failure at any
// step ends it as Rejected with a *TransactionError naming the last state
// reached; the balances and the ledger are then unchanged. Transfers are
// serialised, so two of them never mine against the same chain tip.
package application
