package ledger

import "fmt"

// Record is the persisted form of a block.
//
// Files written by older versions only carry index, previous hash, data and
// nonce. Timestamp, Hash and Difficulty are optional so that those files
// still load.
type Record struct {
	Index        uint64   `json:"index"`
	PreviousHash string   `json:"previous_hash"`
	Data         Payload  `json:"data"`
	Nonce        uint64   `json:"nonce"`
	Timestamp    *float64 `json:"timestamp,omitempty"`
	Hash         string   `json:"hash,omitempty"`
	Difficulty   *int     `json:"difficulty,omitempty"`
}

// Records returns the persisted form of every block, genesis first.
func (bc *Blockchain) Records() []Record {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	records := make([]Record, len(bc.blocks))
	for i, b := range bc.blocks {
		ts, difficulty := b.Timestamp, b.Difficulty
		records[i] = Record{
			Index:        b.Index,
			PreviousHash: b.PreviousHash,
			Data:         b.Data,
			Nonce:        b.Nonce,
			Timestamp:    &ts,
			Hash:         b.Hash,
			Difficulty:   &difficulty,
		}
	}
	return records
}

// FromRecords rebuilds a blockchain from its persisted form.
//
// A stored hash is taken as is. A record without timestamp gets the current
// time, and a record without hash gets a freshly computed one: such legacy
// blocks no longer match the hash their successor points to. A record
// without difficulty is checked against the chain difficulty.
//
// Unless WithTrustingAppend is given the rebuilt chain is verified and an
// error wrapping ErrInvalidChain is returned when it does not hold. An empty
// record list yields a genesis-only chain.
func FromRecords(records []Record, opts ...Option) (*Blockchain, error) {
	bc := NewBlockchain(opts...)
	if len(records) == 0 {
		return bc, nil
	}

	blocks := make([]Block, len(records))
	for i, r := range records {
		b := Block{
			Index:        r.Index,
			PreviousHash: r.PreviousHash,
			Data:         r.Data,
			Nonce:        r.Nonce,
			Hash:         r.Hash,
			Difficulty:   bc.settings.difficulty,
		}
		if r.Difficulty != nil {
			if *r.Difficulty < 0 {
				return nil, fmt.Errorf("%w: block %d has negative difficulty %d", ErrInvalidChain, r.Index, *r.Difficulty)
			}
			b.Difficulty = *r.Difficulty
		}
		if i == 0 {
			b.Difficulty = 0
		}
		if r.Timestamp != nil {
			b.Timestamp = *r.Timestamp
		} else {
			b.Timestamp = now()
		}
		if b.Hash == "" {
			b.Rehash()
		}
		blocks[i] = b
	}

	if !bc.settings.trusting {
		if err := verifyBlocks(blocks); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidChain, err)
		}
	}
	bc.blocks = blocks
	return bc, nil
}
