package ledger

import (
	"errors"
	"fmt"
	"sync"
)

// GenesisTimestamp is the fixed creation time of the genesis block, so that
// every ledger starts from the same genesis hash.
const GenesisTimestamp = 1700000000.0

var (
	ErrEmptyChain   = errors.New("blockchain is empty")
	ErrInvalidBlock = errors.New("invalid block")
	ErrInvalidChain = errors.New("invalid blockchain")
)

// Blockchain maintains the append-only sequence of mined blocks, rooted at
// the genesis block.
type Blockchain struct {
	mu       sync.RWMutex // Protects concurrent access to blocks
	blocks   []Block      // The chain, genesis first
	settings settings
}

type settings struct {
	difficulty int
	trusting   bool
}

// Option configures a Blockchain.
type Option func(settings) settings

// WithDifficulty sets the number of leading zero hex digits every
// non-genesis block hash must have to be accepted.
func WithDifficulty(difficulty int) Option {
	return func(s settings) settings {
		s.difficulty = difficulty
		return s
	}
}

// WithTrustingAppend disables the checks performed by Append and FromRecords.
// Blocks are then accepted as they are given.
func WithTrustingAppend() Option {
	return func(s settings) settings {
		s.trusting = true
		return s
	}
}

// Genesis returns the fixed first block of every ledger.
//
// The genesis block:
//   - Has index 0 and previous hash "0"
//   - Carries the GenesisMarker payload and nonce 0
//   - Is stamped with GenesisTimestamp
//   - Is exempt from proof-of-work
func Genesis() Block {
	b := Block{
		Index:        0,
		PreviousHash: "0",
		Data:         GenesisPayload(),
		Timestamp:    GenesisTimestamp,
		Nonce:        0,
	}
	b.Rehash()
	return b
}

// NewBlockchain creates a blockchain holding only the genesis block.
func NewBlockchain(opts ...Option) *Blockchain {
	bc := &Blockchain{
		blocks: []Block{Genesis()},
	}
	for _, opt := range opts {
		bc.settings = opt(bc.settings)
	}
	return bc
}

// Difficulty returns the proof-of-work target used to check appended blocks.
func (bc *Blockchain) Difficulty() int {
	return bc.settings.difficulty
}

// Latest returns the most recently appended block.
// Returns ErrEmptyChain if the blockchain holds no block at all, which
// cannot happen through the exported constructors.
func (bc *Blockchain) Latest() (Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	if len(bc.blocks) == 0 {
		return Block{}, ErrEmptyChain
	}
	return bc.blocks[len(bc.blocks)-1], nil
}

// Append adds a mined block to the end of the chain and stamps it with the
// chain difficulty.
//
// Unless the chain was built WithTrustingAppend, the block must:
//   - Have index latest+1
//   - Reference the latest block hash
//   - Carry a hash matching its own fields
//   - Meet the chain difficulty
//
// Returns an error wrapping ErrInvalidBlock otherwise.
//
// Thread-safety: This method is safe for concurrent access.
func (bc *Blockchain) Append(block Block) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if len(bc.blocks) == 0 {
		return ErrEmptyChain
	}
	if !bc.settings.trusting {
		latest := bc.blocks[len(bc.blocks)-1]
		if err := validateBlock(block, latest, bc.settings.difficulty); err != nil {
			return err
		}
	}
	block.Difficulty = bc.settings.difficulty
	bc.blocks = append(bc.blocks, block)
	return nil
}

// Block returns the block at the given index.
func (bc *Blockchain) Block(index int) (Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	if index < 0 || index >= len(bc.blocks) {
		return Block{}, fmt.Errorf("index %d out of range", index)
	}
	return bc.blocks[index], nil
}

// Blocks returns a copy of the chain.
func (bc *Blockchain) Blocks() []Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	out := make([]Block, len(bc.blocks))
	copy(out, bc.blocks)
	return out
}

// Len returns the number of blocks, genesis included.
func (bc *Blockchain) Len() int {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return len(bc.blocks)
}

// Verify validates the integrity of the entire blockchain.
//
// Verification checks:
//   - Blockchain is not empty
//   - Genesis block has index 0, previous hash "0" and the genesis payload
//   - Each block's index is sequential
//   - Each block's previous hash matches the previous block's hash
//   - Each block's hash is correctly calculated
//   - Each non-genesis hash meets the difficulty the block was accepted at
//
// Returns nil if the blockchain is valid, or an error describing the first
// integrity violation found.
func (bc *Blockchain) Verify() error {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return verifyBlocks(bc.blocks)
}

// verifyBlocks checks every block against its own Difficulty, so raising
// the chain difficulty never invalidates blocks mined before.
func verifyBlocks(blocks []Block) error {
	if len(blocks) == 0 {
		return ErrEmptyChain
	}

	genesis := blocks[0]
	if genesis.Index != 0 || genesis.PreviousHash != "0" || !genesis.Data.IsGenesis() {
		return fmt.Errorf("%w: bad genesis block", ErrInvalidBlock)
	}
	if expected := genesis.CalculateHash(); genesis.Hash != expected {
		return fmt.Errorf("%w: genesis hash: expected %s, got %s", ErrInvalidBlock, expected, genesis.Hash)
	}

	for i := 1; i < len(blocks); i++ {
		if err := validateBlock(blocks[i], blocks[i-1], blocks[i].Difficulty); err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
	}
	return nil
}

// validateBlock verifies that a block is valid relative to the previous block.
func validateBlock(current, previous Block, difficulty int) error {
	if current.Index != previous.Index+1 {
		return fmt.Errorf("%w: invalid index: expected %d, got %d", ErrInvalidBlock, previous.Index+1, current.Index)
	}
	if current.PreviousHash != previous.Hash {
		return fmt.Errorf("%w: invalid previous hash: expected %s, got %s", ErrInvalidBlock, previous.Hash, current.PreviousHash)
	}
	if t := current.Data.Transfer; t != nil && !validAmount(t.Amount) {
		return fmt.Errorf("%w: %w: amount %v", ErrInvalidBlock, ErrInvalidPayload, t.Amount)
	}
	if expected := current.CalculateHash(); current.Hash == "" || current.Hash != expected {
		return fmt.Errorf("%w: invalid hash: expected %s, got %s", ErrInvalidBlock, expected, current.Hash)
	}
	if !MeetsDifficulty(current.Hash, difficulty) {
		return fmt.Errorf("%w: hash %s does not meet difficulty %d", ErrInvalidBlock, current.Hash, difficulty)
	}
	return nil
}
