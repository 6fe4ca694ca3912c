package account

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var (
	ErrUnknownAccount   = errors.New("unknown account")
	ErrUnauthorized     = errors.New("private key does not match the account")
	ErrDuplicateAccount = errors.New("account already exists")
	ErrNegativeBalance  = errors.New("balance must be a non-negative finite number")
	ErrInvalidRecord    = errors.New("invalid account record")
)

// Account is a named balance holder. PublicKey is derived from PrivateKey
// when the account is created and stored alongside it from then on.
type Account struct {
	Name       string
	Balance    float64
	PrivateKey PrivateKey
	PublicKey  string
}

// Record is the persisted form of an account.
type Record struct {
	Name       string     `json:"name"`
	Balance    float64    `json:"balance"`
	PrivateKey PrivateKey `json:"private_key"`
	PublicKey  string     `json:"public_key"`
}

// Registry maps public keys to accounts.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{accounts: make(map[string]*Account)}
}

// Create registers a new account under the public key derived from key.
// It fails with ErrDuplicateAccount when that public key is already taken
// and with ErrNegativeBalance when balance is negative or not finite.
func (r *Registry) Create(name string, balance float64, key PrivateKey) (Account, error) {
	if balance < 0 || math.IsNaN(balance) || math.IsInf(balance, 0) {
		return Account{}, fmt.Errorf("%w: %v", ErrNegativeBalance, balance)
	}
	if _, err := ParsePrivateKey(string(key)); err != nil {
		return Account{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pub := key.PublicKey()
	if _, ok := r.accounts[pub]; ok {
		return Account{}, fmt.Errorf("%w: %s", ErrDuplicateAccount, pub)
	}
	a := &Account{
		Name:       name,
		Balance:    balance,
		PrivateKey: key,
		PublicKey:  pub,
	}
	r.accounts[pub] = a
	return *a, nil
}

// Get returns a copy of the account registered under publicKey.
func (r *Registry) Get(publicKey string) (Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[publicKey]
	if !ok {
		return Account{}, false
	}
	return *a, true
}

// Authorize returns the account under publicKey if key is its private key.
func (r *Registry) Authorize(publicKey string, key PrivateKey) (Account, error) {
	a, ok := r.Get(publicKey)
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrUnknownAccount, publicKey)
	}
	if a.PrivateKey != key {
		return Account{}, ErrUnauthorized
	}
	return a, nil
}

// Balance returns the balance of the account under publicKey, provided key
// is its private key.
func (r *Registry) Balance(publicKey string, key PrivateKey) (float64, error) {
	a, err := r.Authorize(publicKey, key)
	if err != nil {
		return 0, err
	}
	return a.Balance, nil
}

// Transfer debits sender and credits recipient by amount. It performs no
// funds or amount checks: callers validate the transfer first.
func (r *Registry) Transfer(sender, recipient string, amount float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	from, ok := r.accounts[sender]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, sender)
	}
	to, ok := r.accounts[recipient]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, recipient)
	}
	from.Balance -= amount
	to.Balance += amount
	return nil
}

// Accounts returns a copy of every account, ordered by name then public key.
func (r *Registry) Accounts() []Account {
	r.mu.RLock()
	out := make([]Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, *a)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].PublicKey < out[j].PublicKey
	})
	return out
}

// Len returns the number of registered accounts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}

// Records returns the persisted form of every account, in Accounts order.
func (r *Registry) Records() []Record {
	accounts := r.Accounts()
	records := make([]Record, len(accounts))
	for i, a := range accounts {
		records[i] = Record{
			Name:       a.Name,
			Balance:    a.Balance,
			PrivateKey: a.PrivateKey,
			PublicKey:  a.PublicKey,
		}
	}
	return records
}

// FromRecords rebuilds a registry. Stored public keys are used as they are,
// without deriving them again; when two records share a public key the last
// one wins. A record without public key, with a malformed private key or
// with a negative balance fails the whole load with ErrInvalidRecord.
func FromRecords(records []Record) (*Registry, error) {
	r := NewRegistry()
	for i, rec := range records {
		if rec.PublicKey == "" {
			return nil, fmt.Errorf("%w %d: missing public key", ErrInvalidRecord, i)
		}
		key, err := ParsePrivateKey(string(rec.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("%w %d: %w", ErrInvalidRecord, i, err)
		}
		if rec.Balance < 0 || math.IsNaN(rec.Balance) || math.IsInf(rec.Balance, 0) {
			return nil, fmt.Errorf("%w %d: %w", ErrInvalidRecord, i, ErrNegativeBalance)
		}
		r.accounts[rec.PublicKey] = &Account{
			Name:       rec.Name,
			Balance:    rec.Balance,
			PrivateKey: key,
			PublicKey:  rec.PublicKey,
		}
	}
	return r, nil
}
