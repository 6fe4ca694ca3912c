// Package storage persists the ledger and the account registry.
//
// Two backends implement Store: FileStore keeps the two JSON files the
// ledger has always used, BoltStore keeps the same records in a single
// bolt database. Both only deal with records; rebuilding the in-memory
// structures is left to the ledger and account packages.
package storage

import (
	"encoding/json"
	"errors"

	"github.com/luca-patrignani/pow-ledger/domain/account"
	"github.com/luca-patrignani/pow-ledger/ledger"
)

// ErrNotFound is returned by loads when nothing was saved yet.
var ErrNotFound = errors.New("nothing stored yet")

// Store loads and saves the ledger and the registry.
type Store interface {
	LoadChain() ([]ledger.Record, error)
	SaveChain(records []ledger.Record) error
	LoadAccounts() ([]account.Record, error)
	SaveAccounts(records []account.Record) error
	Close() error
}

// EncodeChain returns the exact bytes FileStore writes for records.
func EncodeChain(records []ledger.Record) ([]byte, error) {
	return encode(records)
}

// DecodeChain parses bytes produced by EncodeChain, or by older versions
// that did not store timestamps and hashes.
func DecodeChain(data []byte) ([]ledger.Record, error) {
	var records []ledger.Record
	if err := decode(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// EncodeAccounts returns the exact bytes FileStore writes for records.
func EncodeAccounts(records []account.Record) ([]byte, error) {
	return encode(records)
}

// DecodeAccounts parses bytes produced by EncodeAccounts.
func DecodeAccounts(data []byte) ([]account.Record, error) {
	var records []account.Record
	if err := decode(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func encode[T any](records []T) ([]byte, error) {
	if records == nil {
		records = []T{}
	}
	return json.MarshalIndent(records, "", "    ")
}

func decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
