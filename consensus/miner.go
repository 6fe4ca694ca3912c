package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luca-patrignani/pow-ledger/ledger"
)

// MaxNonce is the inclusive upper bound of the nonces tried by the miner.
const MaxNonce = 1 << 32

// MaxDifficulty is the length of a hex SHA-256 digest.
const MaxDifficulty = 64

// ctxCheckInterval is how many attempts are made between two looks at the context.
const ctxCheckInterval = 1024

var (
	ErrMiningAborted     = errors.New("mining aborted")
	ErrInvalidDifficulty = fmt.Errorf("difficulty must be between 0 and %d", MaxDifficulty)
)

// Miner searches proof-of-work nonces. Calls to Mine on the same Miner are
// serialised, so at most one search runs against a given chain tip.
type Miner struct {
	mu       sync.Mutex
	rng      *rand.Rand
	logger   *slog.Logger
	attempts atomic.Uint64
}

// MinerOption configures a Miner.
type MinerOption func(*Miner)

// WithRandSource makes the nonce sequence reproducible.
func WithRandSource(src rand.Source) MinerOption {
	return func(m *Miner) {
		m.rng = rand.New(src)
	}
}

// WithLogger sets the logger receiving one debug line per mined block.
func WithLogger(logger *slog.Logger) MinerOption {
	return func(m *Miner) {
		m.logger = logger
	}
}

// NewMiner returns a Miner drawing nonces from a randomly seeded generator.
func NewMiner(opts ...MinerOption) *Miner {
	m := &Miner{
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mine looks for a nonce that makes the hash of block start with difficulty
// zero hex digits and returns block once it does.
//
// Nonces are drawn uniformly at random from [0, MaxNonce] rather than counted
// up, so the expected number of attempts is 16^difficulty whatever the block.
// The nonce and hash of block are rewritten in place at every attempt, and
// its Difficulty is set once a nonce is found.
//
// Mine blocks until a nonce is found; there is no attempt limit. The only
// way out is ctx: once it is done the search stops and the returned error
// wraps both ErrMiningAborted and ctx.Err(). With context.Background() the
// search cannot fail.
func (m *Miner) Mine(ctx context.Context, block *ledger.Block, difficulty int) (*ledger.Block, error) {
	if difficulty < 0 || difficulty > MaxDifficulty {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDifficulty, difficulty)
	}
	if block.CalculateHash() == "" {
		return nil, fmt.Errorf("%w: block %d cannot be encoded", ledger.ErrInvalidBlock, block.Index)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	for attempts := uint64(1); ; attempts++ {
		if attempts%ctxCheckInterval == 1 {
			if err := ctx.Err(); err != nil {
				m.attempts.Store(attempts - 1)
				return nil, fmt.Errorf("%w after %d attempts: %w", ErrMiningAborted, attempts-1, err)
			}
		}
		block.Nonce = m.rng.Uint64N(MaxNonce + 1)
		block.Rehash()
		if ledger.MeetsDifficulty(block.Hash, difficulty) {
			block.Difficulty = difficulty
			m.attempts.Store(attempts)
			m.logger.Debug("block mined",
				"index", block.Index,
				"hash", block.Hash,
				"nonce", block.Nonce,
				"attempts", attempts,
				"elapsed", time.Since(start))
			return block, nil
		}
	}
}

// LastAttempts returns the number of nonces tried by the last call to Mine.
func (m *Miner) LastAttempts() uint64 {
	return m.attempts.Load()
}
