package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// GenesisMarker is the literal payload of the genesis block.
const GenesisMarker = "Genesis Block"

var ErrInvalidPayload = errors.New("invalid payload")

// Block is a single entry of the ledger. Hash is derived from the first five
// fields and must be refreshed with Rehash whenever one of them changes.
type Block struct {
	Index        uint64  `json:"index"`
	PreviousHash string  `json:"previous_hash"`
	Data         Payload `json:"data"`
	Timestamp    float64 `json:"timestamp"`
	Nonce        uint64  `json:"nonce"`
	Hash         string  `json:"hash"`
	// Difficulty is the target the block was accepted at. It is not hashed.
	Difficulty int `json:"difficulty"`
}

// Transfer is the record of a balance movement between two accounts,
// identified by their public keys.
// Fields are declared in key order so that the JSON encoding is canonical.
type Transfer struct {
	Amount    float64 `json:"amount"`
	Recipient string  `json:"recipient"`
	Sender    string  `json:"sender"`
}

// Payload is the data carried by a block: either the genesis marker string
// or a Transfer. It encodes to a bare JSON string or object respectively.
type Payload struct {
	Marker   string
	Transfer *Transfer
}

// GenesisPayload returns the payload of the genesis block.
func GenesisPayload() Payload {
	return Payload{Marker: GenesisMarker}
}

// TransferPayload wraps t into a block payload.
func TransferPayload(t Transfer) Payload {
	return Payload{Transfer: &t}
}

// IsGenesis reports whether p is the genesis marker.
func (p Payload) IsGenesis() bool {
	return p.Transfer == nil && p.Marker == GenesisMarker
}

// Equal reports whether two payloads carry the same data.
func (p Payload) Equal(o Payload) bool {
	if p.Transfer == nil || o.Transfer == nil {
		return p.Transfer == nil && o.Transfer == nil && p.Marker == o.Marker
	}
	return *p.Transfer == *o.Transfer
}

func (p Payload) MarshalJSON() ([]byte, error) {
	if p.Transfer != nil {
		return json.Marshal(*p.Transfer)
	}
	return json.Marshal(p.Marker)
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty payload")
	}
	switch data[0] {
	case '"':
		var marker string
		if err := json.Unmarshal(data, &marker); err != nil {
			return err
		}
		*p = Payload{Marker: marker}
		return nil
	case '{':
		var t Transfer
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		if !validAmount(t.Amount) {
			return fmt.Errorf("%w: amount %v", ErrInvalidPayload, t.Amount)
		}
		*p = Payload{Transfer: &t}
		return nil
	default:
		return fmt.Errorf("unsupported payload: %s", data)
	}
}

// NewBlock builds a block stamped with the current time and hashes it.
func NewBlock(index uint64, previousHash string, data Payload, nonce uint64) *Block {
	b := &Block{
		Index:        index,
		PreviousHash: previousHash,
		Data:         data,
		Timestamp:    now(),
		Nonce:        nonce,
	}
	b.Rehash()
	return b
}

// CalculateHash returns the hex encoded SHA-256 of the canonical encoding of
// index, previous hash, data, timestamp and nonce. The encoding is a JSON
// object with sorted keys, so equal fields always give the same digest.
//
// A block that cannot be encoded, which only a non-finite amount causes, has
// no hash: the empty string is returned and the block never validates.
func (b *Block) CalculateHash() string {
	fields := map[string]any{
		"index":         b.Index,
		"previous_hash": b.PreviousHash,
		"data":          b.Data,
		"timestamp":     b.Timestamp,
		"nonce":         b.Nonce,
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}

// Rehash stores the result of CalculateHash into b.Hash.
func (b *Block) Rehash() {
	b.Hash = b.CalculateHash()
}

// MeetsDifficulty reports whether hash starts with difficulty zero hex digits.
// A difficulty of zero or less accepts every hash.
func MeetsDifficulty(hash string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	return strings.HasPrefix(hash, strings.Repeat("0", difficulty))
}

func validAmount(amount float64) bool {
	return amount >= 0 && !math.IsNaN(amount) && !math.IsInf(amount, 0)
}

func now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
