package consensus

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/luca-patrignani/pow-ledger/ledger"
)

func newCandidate(prev ledger.Block) *ledger.Block {
	return ledger.NewBlock(prev.Index+1, prev.Hash, ledger.TransferPayload(ledger.Transfer{
		Sender:    "sender",
		Recipient: "recipient",
		Amount:    4,
	}), 0)
}

func TestMineMeetsDifficulty(t *testing.T) {
	m := NewMiner(WithRandSource(rand.NewPCG(1, 2)))
	for _, difficulty := range []int{1, 2, 3} {
		b, err := m.Mine(context.Background(), newCandidate(ledger.Genesis()), difficulty)
		if err != nil {
			t.Fatalf("difficulty %d: %v", difficulty, err)
		}
		if !ledger.MeetsDifficulty(b.Hash, difficulty) {
			t.Fatalf("difficulty %d: hash %s has too few leading zeros", difficulty, b.Hash)
		}
		if b.Hash != b.CalculateHash() {
			t.Fatalf("difficulty %d: stored hash does not match the block fields", difficulty)
		}
		if b.Difficulty != difficulty {
			t.Fatalf("mined block should record difficulty %d, got %d", difficulty, b.Difficulty)
		}
		if b.Nonce > MaxNonce {
			t.Fatalf("nonce %d out of range", b.Nonce)
		}
		if m.LastAttempts() == 0 {
			t.Fatal("attempts should be counted")
		}
	}
}

func TestMineDifficultyZeroAcceptsFirstAttempt(t *testing.T) {
	m := NewMiner()
	if _, err := m.Mine(context.Background(), newCandidate(ledger.Genesis()), 0); err != nil {
		t.Fatalf("mine: %v", err)
	}
	if m.LastAttempts() != 1 {
		t.Fatalf("expected 1 attempt, got %d", m.LastAttempts())
	}
}

func TestMineProducesAppendableBlocks(t *testing.T) {
	const difficulty = 2
	bc := ledger.NewBlockchain(ledger.WithDifficulty(difficulty))
	m := NewMiner()
	for i := 0; i < 3; i++ {
		latest, err := bc.Latest()
		if err != nil {
			t.Fatal(err)
		}
		b, err := m.Mine(context.Background(), newCandidate(latest), difficulty)
		if err != nil {
			t.Fatalf("mine: %v", err)
		}
		if err := bc.Append(*b); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := bc.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestMineStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMiner().Mine(ctx, newCandidate(ledger.Genesis()), 1)
	if !errors.Is(err, ErrMiningAborted) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected ErrMiningAborted wrapping context.Canceled, got %v", err)
	}
}

func TestMineStopsOnDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	// 64 zero digits is never found in practice.
	_, err := NewMiner().Mine(ctx, newCandidate(ledger.Genesis()), MaxDifficulty)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestMineRejectsImpossibleDifficulty(t *testing.T) {
	for _, d := range []int{-1, MaxDifficulty + 1} {
		if _, err := NewMiner().Mine(context.Background(), newCandidate(ledger.Genesis()), d); !errors.Is(err, ErrInvalidDifficulty) {
			t.Fatalf("difficulty %d: expected ErrInvalidDifficulty, got %v", d, err)
		}
	}
}

func TestMineRejectsUnencodableBlock(t *testing.T) {
	b := ledger.NewBlock(1, ledger.Genesis().Hash, ledger.TransferPayload(ledger.Transfer{Sender: "a", Recipient: "b", Amount: math.Inf(1)}), 0)
	if _, err := NewMiner().Mine(context.Background(), b, 1); !errors.Is(err, ledger.ErrInvalidBlock) {
		t.Fatalf("expected ErrInvalidBlock, got %v", err)
	}
}
