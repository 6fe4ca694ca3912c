package application

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/luca-patrignani/pow-ledger/config"
	"github.com/luca-patrignani/pow-ledger/consensus"
	"github.com/luca-patrignani/pow-ledger/domain/account"
	"github.com/luca-patrignani/pow-ledger/ledger"
	"github.com/luca-patrignani/pow-ledger/storage"
)

const testDifficulty = 1

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type sentFile struct {
	name string
	data []byte
}

type recordingSender struct {
	mu    sync.Mutex
	err   error
	files []sentFile
}

func (s *recordingSender) Send(_ context.Context, filename string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = append(s.files, sentFile{name: filename, data: data})
	return s.err
}

type failingStore struct {
	storage.Store
}

func (failingStore) SaveChain([]ledger.Record) error {
	return errors.New("disk full")
}

func (failingStore) SaveAccounts([]account.Record) error {
	return errors.New("disk full")
}

// fixture is a processor over alice (10, key 11) and bob (5, key 22).
type fixture struct {
	p      *Processor
	alice  string
	bob    string
	sender *recordingSender
}

func newFixture(t *testing.T, store storage.Store) fixture {
	t.Helper()
	registry := account.NewRegistry()
	alice, err := registry.Create("alice", 10, "11")
	if err != nil {
		t.Fatal(err)
	}
	bob, err := registry.Create("bob", 5, "22")
	if err != nil {
		t.Fatal(err)
	}
	sender := &recordingSender{}
	chain := ledger.NewBlockchain(ledger.WithDifficulty(testDifficulty))
	miner := consensus.NewMiner(consensus.WithRandSource(rand.NewPCG(1, 2)), consensus.WithLogger(quiet))
	p := New(chain, registry, miner, store, sender, WithLogger(quiet))
	return fixture{p: p, alice: alice.PublicKey, bob: bob.PublicKey, sender: sender}
}

func (f fixture) balances(t *testing.T) (float64, float64) {
	t.Helper()
	a, err := f.p.Balance(f.alice, "11")
	if err != nil {
		t.Fatal(err)
	}
	b, err := f.p.Balance(f.bob, "22")
	if err != nil {
		t.Fatal(err)
	}
	return a, b
}

func expectRejected(t *testing.T, receipt Receipt, err error, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
	var txErr *TransactionError
	if !errors.As(err, &txErr) {
		t.Fatalf("expected a *TransactionError, got %T", err)
	}
	if receipt.State != Rejected {
		t.Fatalf("expected state rejected, got %s", receipt.State)
	}
}

func TestSubmitUnknownAccount(t *testing.T) {
	chain := ledger.NewBlockchain()
	p := New(chain, account.NewRegistry(), consensus.NewMiner(), nil, nil, WithLogger(quiet))

	receipt, err := p.Submit(context.Background(), ledger.Transfer{Sender: "a", Recipient: "b", Amount: 1}, "0")
	expectRejected(t, receipt, err, account.ErrUnknownAccount)
	var txErr *TransactionError
	errors.As(err, &txErr)
	if txErr.State != Received {
		t.Fatalf("validation failures stop at received, got %s", txErr.State)
	}
	if chain.Len() != 1 {
		t.Fatalf("rejected transfer must not touch the chain, len %d", chain.Len())
	}
}

func TestSubmitUnknownRecipient(t *testing.T) {
	f := newFixture(t, nil)
	receipt, err := f.p.Submit(context.Background(), ledger.Transfer{Sender: f.alice, Recipient: "nobody", Amount: 1}, "11")
	expectRejected(t, receipt, err, account.ErrUnknownAccount)
}

func TestSubmitInsufficientFunds(t *testing.T) {
	registry := account.NewRegistry()
	sender, _ := registry.Create("sender", 10, "7")
	recipient, _ := registry.Create("recipient", 0, "8")
	chain := ledger.NewBlockchain(ledger.WithDifficulty(testDifficulty))
	p := New(chain, registry, consensus.NewMiner(), nil, nil, WithLogger(quiet))

	receipt, err := p.Submit(context.Background(), ledger.Transfer{Sender: sender.PublicKey, Recipient: recipient.PublicKey, Amount: 15}, "7")
	expectRejected(t, receipt, err, ErrInsufficientFunds)
	if b, _ := p.Balance(sender.PublicKey, "7"); b != 10 {
		t.Fatalf("sender balance changed to %v", b)
	}
	if b, _ := p.Balance(recipient.PublicKey, "8"); b != 0 {
		t.Fatalf("recipient balance changed to %v", b)
	}
	if chain.Len() != 1 {
		t.Fatalf("chain grew to %d", chain.Len())
	}
}

func TestSubmitUnauthorized(t *testing.T) {
	f := newFixture(t, nil)
	receipt, err := f.p.Submit(context.Background(), ledger.Transfer{Sender: f.alice, Recipient: f.bob, Amount: 1}, "12")
	expectRejected(t, receipt, err, account.ErrUnauthorized)
	if a, b := f.balances(t); a != 10 || b != 5 {
		t.Fatalf("balances changed to %v %v", a, b)
	}
}

func TestSubmitChecksFundsBeforeKey(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.p.Submit(context.Background(), ledger.Transfer{Sender: f.alice, Recipient: f.bob, Amount: 100}, "12")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds to be reported first, got %v", err)
	}
	if errors.Is(err, account.ErrUnauthorized) {
		t.Fatal("only one failure should be reported")
	}
}

func TestSubmitInvalidAmount(t *testing.T) {
	f := newFixture(t, nil)
	for _, amount := range []float64{-1, math.NaN(), math.Inf(1)} {
		receipt, err := f.p.Submit(context.Background(), ledger.Transfer{Sender: f.alice, Recipient: f.bob, Amount: amount}, "11")
		expectRejected(t, receipt, err, ErrInvalidAmount)
	}
	if a, b := f.balances(t); a != 10 || b != 5 {
		t.Fatalf("balances changed to %v %v", a, b)
	}
}

func TestSubmitCommits(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewFileStore(dir, storage.DefaultLedgerFile, storage.DefaultAccountsFile)
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, store)
	before := f.p.Chain().Len()

	transfer := ledger.Transfer{Sender: f.alice, Recipient: f.bob, Amount: 4}
	receipt, err := f.p.Submit(context.Background(), transfer, "11")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if receipt.State != Committed || !receipt.Delivered {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if a, b := f.balances(t); a != 6 || b != 9 {
		t.Fatalf("expected balances 6 and 9, got %v %v", a, b)
	}

	chain := f.p.Chain()
	if chain.Len() != before+1 {
		t.Fatalf("expected the chain to grow by one, got %d", chain.Len())
	}
	latest, _ := chain.Latest()
	if !latest.Data.Equal(ledger.TransferPayload(transfer)) {
		t.Fatalf("unexpected payload %+v", latest.Data)
	}
	genesis, _ := chain.Block(0)
	if latest.Index != 1 || latest.PreviousHash != genesis.Hash {
		t.Fatalf("block not linked to genesis: %+v", latest)
	}
	if !ledger.MeetsDifficulty(latest.Hash, testDifficulty) || latest.Hash != latest.CalculateHash() {
		t.Fatalf("block hash %s invalid", latest.Hash)
	}
	if receipt.Block.Hash != latest.Hash {
		t.Fatal("receipt should carry the appended block")
	}

	// The ledger file and the shipped bytes are the same document.
	onDisk, err := os.ReadFile(filepath.Join(dir, storage.DefaultLedgerFile))
	if err != nil {
		t.Fatal(err)
	}
	if len(f.sender.files) != 1 {
		t.Fatalf("expected one shipped file, got %d", len(f.sender.files))
	}
	shipped := f.sender.files[0]
	if shipped.name != storage.DefaultLedgerFile || !bytes.Equal(shipped.data, onDisk) {
		t.Fatalf("shipped %s does not match the ledger file", shipped.name)
	}

	records, err := store.LoadAccounts()
	if err != nil {
		t.Fatal(err)
	}
	reloaded, err := account.FromRecords(records)
	if err != nil {
		t.Fatal(err)
	}
	if b, _ := reloaded.Balance(f.bob, "22"); b != 9 {
		t.Fatalf("saved registry has bob at %v", b)
	}
}

func TestSubmitSurvivesTransportFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.sender.err = errors.New("connection refused")

	receipt, err := f.p.Submit(context.Background(), ledger.Transfer{Sender: f.alice, Recipient: f.bob, Amount: 4}, "11")
	if err != nil {
		t.Fatalf("transport failures must not fail the transfer: %v", err)
	}
	if receipt.State != Committed || receipt.Delivered {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if a, b := f.balances(t); a != 6 || b != 9 {
		t.Fatalf("expected balances 6 and 9, got %v %v", a, b)
	}
}

func TestSubmitSurvivesPersistenceFailure(t *testing.T) {
	f := newFixture(t, failingStore{})
	receipt, err := f.p.Submit(context.Background(), ledger.Transfer{Sender: f.alice, Recipient: f.bob, Amount: 1}, "11")
	if err != nil || receipt.State != Committed {
		t.Fatalf("persistence failures must not fail the transfer: %+v %v", receipt, err)
	}
	if f.p.Chain().Len() != 2 {
		t.Fatal("block should stay appended")
	}
}

func TestSubmitMiningAborted(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	receipt, err := f.p.Submit(ctx, ledger.Transfer{Sender: f.alice, Recipient: f.bob, Amount: 4}, "11")
	expectRejected(t, receipt, err, consensus.ErrMiningAborted)
	var txErr *TransactionError
	errors.As(err, &txErr)
	if txErr.State != Validated {
		t.Fatalf("expected the failure after validation, got %s", txErr.State)
	}
	if a, b := f.balances(t); a != 10 || b != 5 {
		t.Fatalf("aborted mining must leave balances alone, got %v %v", a, b)
	}
	if f.p.Chain().Len() != 1 {
		t.Fatal("aborted mining must leave the chain alone")
	}
	if len(f.sender.files) != 0 {
		t.Fatal("nothing should be shipped")
	}
}

func TestConcurrentSubmits(t *testing.T) {
	f := newFixture(t, nil)
	const n = 5
	errChan := make(chan error, 2*n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.p.Submit(context.Background(), ledger.Transfer{Sender: f.alice, Recipient: f.bob, Amount: 1}, "11")
			errChan <- err
		}()
		go func() {
			defer wg.Done()
			_, err := f.p.Submit(context.Background(), ledger.Transfer{Sender: f.bob, Recipient: f.alice, Amount: 0.5}, "22")
			errChan <- err
		}()
	}
	wg.Wait()
	close(errChan)
	for err := range errChan {
		if err != nil {
			t.Fatal(err)
		}
	}
	if a, b := f.balances(t); a != 7.5 || b != 7.5 {
		t.Fatalf("expected 7.5 and 7.5, got %v %v", a, b)
	}
	chain := f.p.Chain()
	if chain.Len() != 2*n+1 {
		t.Fatalf("expected %d blocks, got %d", 2*n+1, chain.Len())
	}
	if err := chain.Verify(); err != nil {
		t.Fatalf("concurrent transfers forked the chain: %v", err)
	}
}

func TestCreateAccount(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewFileStore(dir, storage.DefaultLedgerFile, storage.DefaultAccountsFile)
	if err != nil {
		t.Fatal(err)
	}
	p := New(ledger.NewBlockchain(), account.NewRegistry(), consensus.NewMiner(), store, nil, WithLogger(quiet))

	a, err := p.CreateAccount("carol", 3)
	if err != nil {
		t.Fatal(err)
	}
	if a.PublicKey != a.PrivateKey.PublicKey() {
		t.Fatal("public key should derive from the private key")
	}
	if b, err := p.Balance(a.PublicKey, a.PrivateKey); err != nil || b != 3 {
		t.Fatalf("unexpected balance %v %v", b, err)
	}
	records, err := store.LoadAccounts()
	if err != nil || len(records) != 1 || records[0].Name != "carol" {
		t.Fatalf("account not saved: %+v %v", records, err)
	}
	if _, err := p.CreateAccount("dave", -1); !errors.Is(err, account.ErrNegativeBalance) {
		t.Fatalf("expected ErrNegativeBalance, got %v", err)
	}
}

func testConfig(dir string) config.Config {
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.Difficulty = testDifficulty
	cfg.RemoteAddr = ""
	return cfg
}

func TestOpenFreshStart(t *testing.T) {
	cfg := testConfig(t.TempDir())
	store, err := cfg.OpenStore()
	if err != nil {
		t.Fatal(err)
	}
	p, err := Open(cfg, store, nil, quiet)
	if err != nil {
		t.Fatal(err)
	}
	if p.Chain().Len() != 1 || len(p.Accounts()) != 0 {
		t.Fatalf("expected a fresh state, got %d blocks and %d accounts", p.Chain().Len(), len(p.Accounts()))
	}
	if p.Difficulty() != testDifficulty {
		t.Fatalf("unexpected difficulty %d", p.Difficulty())
	}
}

func TestOpenRestoresState(t *testing.T) {
	for _, backend := range []string{config.BackendFile, config.BackendBolt} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(t.TempDir())
			cfg.Backend = backend
			store, err := cfg.OpenStore()
			if err != nil {
				t.Fatal(err)
			}
			p, err := Open(cfg, store, nil, quiet)
			if err != nil {
				t.Fatal(err)
			}
			alice, _ := p.CreateAccount("alice", 10)
			bob, _ := p.CreateAccount("bob", 5)
			if _, err := p.Submit(context.Background(), ledger.Transfer{Sender: alice.PublicKey, Recipient: bob.PublicKey, Amount: 4}, alice.PrivateKey); err != nil {
				t.Fatal(err)
			}
			want := p.Chain().Blocks()
			if err := store.Close(); err != nil {
				t.Fatal(err)
			}

			store, err = cfg.OpenStore()
			if err != nil {
				t.Fatal(err)
			}
			defer store.Close()
			reopened, err := Open(cfg, store, nil, quiet)
			if err != nil {
				t.Fatal(err)
			}
			got := reopened.Chain().Blocks()
			if len(got) != len(want) {
				t.Fatalf("expected %d blocks, got %d", len(want), len(got))
			}
			for i := range want {
				if got[i].Hash != want[i].Hash || got[i].Timestamp != want[i].Timestamp {
					t.Fatalf("block %d did not round trip", i)
				}
			}
			if b, _ := reopened.Balance(bob.PublicKey, bob.PrivateKey); b != 9 {
				t.Fatalf("expected bob at 9, got %v", b)
			}
		})
	}
}

func TestOpenRefusesUnusableLedger(t *testing.T) {
	cfg := testConfig(t.TempDir())
	path := filepath.Join(cfg.DataDir, cfg.LedgerFile)
	if err := os.WriteFile(path, []byte("{oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := cfg.OpenStore()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Open(cfg, store, nil, quiet); !errors.Is(err, ErrStoredLedger) {
		t.Fatalf("expected ErrStoredLedger, got %v", err)
	}

	// A legacy chain does not verify: its hashes are recomputed on load.
	legacy := []byte(`[
    {"index": 0, "previous_hash": "0", "data": "Genesis Block", "nonce": 0},
    {"index": 1, "previous_hash": "0abc", "data": {"sender": "s", "recipient": "r", "amount": 4.0}, "nonce": 17}
]`)
	if err := os.WriteFile(path, legacy, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = Open(cfg, store, nil, quiet)
	if !errors.Is(err, ErrStoredLedger) || !errors.Is(err, ledger.ErrInvalidChain) {
		t.Fatalf("expected a rejected chain, got %v", err)
	}
	if got, _ := os.ReadFile(path); !bytes.Equal(got, legacy) {
		t.Fatal("a refused ledger must be left untouched")
	}

	cfg.Verify = false
	p, err := Open(cfg, store, nil, quiet)
	if err != nil {
		t.Fatalf("trusting mode should load the legacy chain: %v", err)
	}
	if p.Chain().Len() != 2 {
		t.Fatalf("expected 2 blocks, got %d", p.Chain().Len())
	}
}

func TestOpenDegradesOnBrokenAccounts(t *testing.T) {
	for name, raw := range map[string]string{
		"corrupt":     "[1, 2",
		"missing key": `[{"name":"x","balance":1,"public_key":"abc"}]`,
	} {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t.TempDir())
			if err := os.WriteFile(filepath.Join(cfg.DataDir, cfg.AccountsFile), []byte(raw), 0o644); err != nil {
				t.Fatal(err)
			}
			store, err := cfg.OpenStore()
			if err != nil {
				t.Fatal(err)
			}
			p, err := Open(cfg, store, nil, quiet)
			if err != nil {
				t.Fatalf("broken accounts should not fail Open: %v", err)
			}
			if len(p.Accounts()) != 0 {
				t.Fatal("expected an empty registry")
			}
			if _, err := p.CreateAccount("y", 1); err != nil {
				t.Fatal(err)
			}
			records, err := store.LoadAccounts()
			if err != nil {
				t.Fatalf("accounts should be saved again: %v", err)
			}
			if len(records) != 1 {
				t.Fatalf("expected 1 saved account, got %d", len(records))
			}
		})
	}
}

func TestOpenAtHigherDifficultyKeepsHistory(t *testing.T) {
	cfg := testConfig(t.TempDir())
	store, err := cfg.OpenStore()
	if err != nil {
		t.Fatal(err)
	}
	p, err := Open(cfg, store, nil, quiet)
	if err != nil {
		t.Fatal(err)
	}
	alice, _ := p.CreateAccount("alice", 100)
	bob, _ := p.CreateAccount("bob", 0)
	transfer := ledger.Transfer{Sender: alice.PublicKey, Recipient: bob.PublicKey, Amount: 1}
	for i := 0; i < 3; i++ {
		if _, err := p.Submit(context.Background(), transfer, alice.PrivateKey); err != nil {
			t.Fatal(err)
		}
	}

	cfg.Difficulty = testDifficulty + 1
	reopened, err := Open(cfg, store, nil, quiet)
	if err != nil {
		t.Fatalf("reopen at difficulty %d: %v", cfg.Difficulty, err)
	}
	if reopened.Chain().Len() != 4 {
		t.Fatalf("expected 4 blocks after reopening, got %d", reopened.Chain().Len())
	}
	receipt, err := reopened.Submit(context.Background(), transfer, alice.PrivateKey)
	if err != nil {
		t.Fatal(err)
	}
	if !ledger.MeetsDifficulty(receipt.Block.Hash, cfg.Difficulty) {
		t.Fatalf("new block %s should meet difficulty %d", receipt.Block.Hash, cfg.Difficulty)
	}

	records, err := store.LoadChain()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 5 {
		t.Fatalf("stored ledger lost history: %d blocks, expected 5", len(records))
	}
	restored, err := ledger.FromRecords(records, ledger.WithDifficulty(cfg.Difficulty))
	if err != nil {
		t.Fatalf("stored ledger should verify: %v", err)
	}
	if err := restored.Verify(); err != nil {
		t.Fatal(err)
	}
	if b, _ := reopened.Balance(alice.PublicKey, alice.PrivateKey); b != 96 {
		t.Fatalf("expected alice at 96, got %v", b)
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Difficulty = 99
	if _, err := Open(cfg, nil, nil, quiet); !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
