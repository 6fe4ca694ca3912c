package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"

	"github.com/luca-patrignani/pow-ledger/domain/account"
	"github.com/luca-patrignani/pow-ledger/ledger"
)

const DefaultBoltFile = "ledger.db"

var (
	blocksBucket   = []byte("blocks")
	accountsBucket = []byte("accounts")
)

// BoltStore keeps one record per key in a bolt database: blocks keyed by
// their big-endian index, accounts keyed by public key.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{blocksBucket, accountsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) LoadChain() ([]ledger.Record, error) {
	var records []ledger.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(blocksBucket).ForEach(func(k, v []byte) error {
			var r ledger.Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decode block %x: %w", k, err)
			}
			records = append(records, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no blocks", ErrNotFound)
	}
	return records, nil
}

// SaveChain replaces every stored block with records.
func (s *BoltStore) SaveChain(records []ledger.Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := resetBucket(tx, blocksBucket)
		if err != nil {
			return err
		}
		for _, r := range records {
			v, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if err := b.Put(indexKey(r.Index), v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) LoadAccounts() ([]account.Record, error) {
	var records []account.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(accountsBucket).ForEach(func(k, v []byte) error {
			var r account.Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decode account %s: %w", k, err)
			}
			records = append(records, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no accounts", ErrNotFound)
	}
	return records, nil
}

// SaveAccounts replaces every stored account with records.
func (s *BoltStore) SaveAccounts(records []account.Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := resetBucket(tx, accountsBucket)
		if err != nil {
			return err
		}
		for _, r := range records {
			v, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(r.PublicKey), v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func resetBucket(tx *bolt.Tx, name []byte) (*bolt.Bucket, error) {
	if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
		return nil, err
	}
	return tx.CreateBucket(name)
}

func indexKey(index uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, index)
	return k
}
