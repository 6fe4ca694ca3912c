package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/luca-patrignani/pow-ledger/domain/account"
	"github.com/luca-patrignani/pow-ledger/ledger"
	"github.com/luca-patrignani/pow-ledger/storage"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
)

// Miner finds a proof-of-work nonce for a block.
type Miner interface {
	Mine(ctx context.Context, block *ledger.Block, difficulty int) (*ledger.Block, error)
}

// Sender ships a file to a remote node.
type Sender interface {
	Send(ctx context.Context, filename string, data []byte) error
}

// State is the progress of a transfer through the processor.
type State int

const (
	Received State = iota
	Validated
	Mined
	Committed
	Rejected
)

func (s State) String() string {
	switch s {
	case Received:
		return "received"
	case Validated:
		return "validated"
	case Mined:
		return "mined"
	case Committed:
		return "committed"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// TransactionError reports a rejected transfer. State is the last state the
// transfer reached before failing.
type TransactionError struct {
	State State
	Err   error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction rejected after %s: %v", e.State, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// Receipt describes the outcome of Submit.
type Receipt struct {
	State State
	// Block is the committed block, zero unless State is Committed.
	Block ledger.Block
	// Elapsed is the time spent mining.
	Elapsed time.Duration
	// Delivered reports whether the ledger reached the remote node.
	Delivered bool
}

// Processor applies transfers to a registry and records each of them in a
// mined block.
type Processor struct {
	mu       sync.Mutex
	chain    *ledger.Blockchain
	registry *account.Registry
	miner    Miner
	store    storage.Store
	sender   Sender
	settings settings
}

type settings struct {
	difficulty     int
	logger         *slog.Logger
	ledgerFilename string
	miningTimeout  time.Duration
}

// Option configures a Processor.
type Option func(settings) settings

// WithDifficulty sets the difficulty blocks are mined at. It defaults to
// the difficulty of the chain.
func WithDifficulty(difficulty int) Option {
	return func(s settings) settings {
		s.difficulty = difficulty
		return s
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s settings) settings {
		s.logger = logger
		return s
	}
}

// WithLedgerFilename sets the file name the ledger is shipped under.
func WithLedgerFilename(name string) Option {
	return func(s settings) settings {
		s.ledgerFilename = name
		return s
	}
}

// WithMiningTimeout bounds each mining run. Zero, the default, means no
// bound.
func WithMiningTimeout(timeout time.Duration) Option {
	return func(s settings) settings {
		s.miningTimeout = timeout
		return s
	}
}

// New returns a Processor over chain and registry. store and sender may be
// nil, which disables persistence and transport respectively.
func New(chain *ledger.Blockchain, registry *account.Registry, miner Miner, store storage.Store, sender Sender, opts ...Option) *Processor {
	s := settings{
		difficulty:     chain.Difficulty(),
		logger:         slog.Default(),
		ledgerFilename: storage.DefaultLedgerFile,
	}
	for _, opt := range opts {
		s = opt(s)
	}
	return &Processor{
		chain:    chain,
		registry: registry,
		miner:    miner,
		store:    store,
		sender:   sender,
		settings: s,
	}
}

// Submit moves amount from the sender to the recipient of t, on behalf of
// the holder of key, and records the transfer in a newly mined block.
//
// Validation failures are checked in this order and the first one wins:
// ErrInvalidAmount, account.ErrUnknownAccount, ErrInsufficientFunds,
// account.ErrUnauthorized. Every failure is returned as a *TransactionError
// and leaves the balances and the chain untouched.
//
// Submit blocks while mining. Balances change only once a block is mined
// and appended. Failures to persist or to ship the ledger are logged and do
// not undo the transfer.
func (p *Processor) Submit(ctx context.Context, t ledger.Transfer, key account.PrivateKey) (Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	log := p.settings.logger.With("sender", t.Sender, "recipient", t.Recipient, "amount", t.Amount)
	if err := p.validate(t, key); err != nil {
		log.Warn("transaction rejected", "err", err)
		return Receipt{State: Rejected}, &TransactionError{State: Received, Err: err}
	}

	latest, err := p.chain.Latest()
	if err != nil {
		return Receipt{State: Rejected}, &TransactionError{State: Validated, Err: err}
	}
	block := ledger.NewBlock(latest.Index+1, latest.Hash, ledger.TransferPayload(t), 0)

	mineCtx := ctx
	if p.settings.miningTimeout > 0 {
		var cancel context.CancelFunc
		mineCtx, cancel = context.WithTimeout(ctx, p.settings.miningTimeout)
		defer cancel()
	}
	start := time.Now()
	mined, err := p.miner.Mine(mineCtx, block, p.settings.difficulty)
	if err != nil {
		log.Warn("mining failed", "err", err)
		return Receipt{State: Rejected}, &TransactionError{State: Validated, Err: err}
	}
	elapsed := time.Since(start)

	if err := p.chain.Append(*mined); err != nil {
		log.Error("mined block refused by the ledger", "err", err)
		return Receipt{State: Rejected}, &TransactionError{State: Mined, Err: err}
	}
	if err := p.registry.Transfer(t.Sender, t.Recipient, t.Amount); err != nil {
		// Accounts are never removed, so this only happens if the registry
		// was replaced under the processor.
		log.Error("balances not updated for appended block", "index", mined.Index, "err", err)
		return Receipt{State: Rejected}, &TransactionError{State: Mined, Err: err}
	}
	log.Info("transaction committed", "index", mined.Index, "hash", mined.Hash, "nonce", mined.Nonce, "elapsed", elapsed)

	p.saveChain(log)
	p.saveAccounts(log)
	return Receipt{
		State:     Committed,
		Block:     *mined,
		Elapsed:   elapsed,
		Delivered: p.ship(ctx, log),
	}, nil
}

func (p *Processor) validate(t ledger.Transfer, key account.PrivateKey) error {
	if t.Amount < 0 || math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, t.Amount)
	}
	from, ok := p.registry.Get(t.Sender)
	if !ok {
		return fmt.Errorf("%w: sender %s", account.ErrUnknownAccount, t.Sender)
	}
	if _, ok := p.registry.Get(t.Recipient); !ok {
		return fmt.Errorf("%w: recipient %s", account.ErrUnknownAccount, t.Recipient)
	}
	if from.Balance < t.Amount {
		return fmt.Errorf("%w: balance %v, amount %v", ErrInsufficientFunds, from.Balance, t.Amount)
	}
	if from.PrivateKey != key {
		return account.ErrUnauthorized
	}
	return nil
}

// CreateAccount registers a new account under a freshly generated private
// key and saves the registry. The returned account holds the key, which is
// not shown anywhere else.
func (p *Processor) CreateAccount(name string, balance float64) (account.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, err := p.registry.Create(name, balance, account.GeneratePrivateKey())
	if err != nil {
		return account.Account{}, err
	}
	log := p.settings.logger.With("name", name)
	log.Info("account created", "public_key", a.PublicKey)
	p.saveAccounts(log)
	return a, nil
}

// Balance returns the balance of the account under publicKey if key is its
// private key.
func (p *Processor) Balance(publicKey string, key account.PrivateKey) (float64, error) {
	return p.registry.Balance(publicKey, key)
}

func (p *Processor) Accounts() []account.Account {
	return p.registry.Accounts()
}

func (p *Processor) Chain() *ledger.Blockchain {
	return p.chain
}

// Difficulty returns the difficulty new blocks are mined at.
func (p *Processor) Difficulty() int {
	return p.settings.difficulty
}

func (p *Processor) saveChain(log *slog.Logger) {
	if p.store == nil {
		return
	}
	if err := p.store.SaveChain(p.chain.Records()); err != nil {
		log.Error("persistence failure", "target", "ledger", "err", err)
	}
}

func (p *Processor) saveAccounts(log *slog.Logger) {
	if p.store == nil {
		return
	}
	if err := p.store.SaveAccounts(p.registry.Records()); err != nil {
		log.Error("persistence failure", "target", "accounts", "err", err)
	}
}

// ship pushes the encoded ledger to the remote node and reports whether it
// got there.
func (p *Processor) ship(ctx context.Context, log *slog.Logger) bool {
	if p.sender == nil {
		return false
	}
	data, err := storage.EncodeChain(p.chain.Records())
	if err != nil {
		log.Error("transport failure", "err", err)
		return false
	}
	if err := p.sender.Send(ctx, p.settings.ledgerFilename, data); err != nil {
		log.Warn("transport failure", "err", err)
		return false
	}
	log.Debug("ledger shipped", "file", p.settings.ledgerFilename, "bytes", len(data))
	return true
}
