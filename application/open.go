package application

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/luca-patrignani/pow-ledger/config"
	"github.com/luca-patrignani/pow-ledger/consensus"
	"github.com/luca-patrignani/pow-ledger/domain/account"
	"github.com/luca-patrignani/pow-ledger/ledger"
	"github.com/luca-patrignani/pow-ledger/storage"
)

// ErrStoredLedger reports a saved ledger that Open will not start from.
// Starting from genesis instead would overwrite the saved history on the
// next commit.
var ErrStoredLedger = errors.New("stored ledger cannot be restored")

// Open builds a Processor from cfg, restoring the ledger and the accounts
// saved in store. A store with nothing saved yields a genesis-only chain and
// an empty registry.
//
// A saved ledger that cannot be read or does not verify makes Open fail with
// ErrStoredLedger. Unreadable or invalid accounts are logged and replaced by
// an empty registry.
func Open(cfg config.Config, store storage.Store, sender Sender, logger *slog.Logger) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	chainOpts := []ledger.Option{ledger.WithDifficulty(cfg.Difficulty)}
	if !cfg.Verify {
		chainOpts = append(chainOpts, ledger.WithTrustingAppend())
	}
	chain := ledger.NewBlockchain(chainOpts...)
	registry := account.NewRegistry()
	if store != nil {
		var err error
		if chain, err = loadChain(store, chainOpts); err != nil {
			logger.Error("persistence failure", "target", "ledger", "err", err)
			return nil, err
		}
		registry = loadAccounts(store, logger)
	}
	logger.Debug("state loaded", "blocks", chain.Len(), "accounts", registry.Len())

	miner := consensus.NewMiner(consensus.WithLogger(logger))
	return New(chain, registry, miner, store, sender,
		WithDifficulty(cfg.Difficulty),
		WithLogger(logger),
		WithLedgerFilename(cfg.LedgerFile),
		WithMiningTimeout(cfg.MiningTimeout),
	), nil
}

func loadChain(store storage.Store, opts []ledger.Option) (*ledger.Blockchain, error) {
	records, err := store.LoadChain()
	if errors.Is(err, storage.ErrNotFound) {
		return ledger.NewBlockchain(opts...), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoredLedger, err)
	}
	chain, err := ledger.FromRecords(records, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoredLedger, err)
	}
	return chain, nil
}

func loadAccounts(store storage.Store, logger *slog.Logger) *account.Registry {
	records, err := store.LoadAccounts()
	if err == nil {
		var registry *account.Registry
		if registry, err = account.FromRecords(records); err == nil {
			return registry
		}
	}
	if !errors.Is(err, storage.ErrNotFound) {
		logger.Error("persistence failure, starting with no accounts", "target", "accounts", "err", err)
	}
	return account.NewRegistry()
}
