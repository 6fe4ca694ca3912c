package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/luca-patrignani/pow-ledger/domain/account"
	"github.com/luca-patrignani/pow-ledger/ledger"
)

const (
	DefaultLedgerFile   = "blockchain.json"
	DefaultAccountsFile = "accounts.json"
)

// FileStore keeps the ledger and the registry in two JSON files.
type FileStore struct {
	ledgerPath   string
	accountsPath string
}

// NewFileStore creates dir if needed and returns a store writing
// ledgerFile and accountsFile inside it.
func NewFileStore(dir, ledgerFile, accountsFile string) (*FileStore, error) {
	if ledgerFile == "" || accountsFile == "" {
		return nil, errors.New("file names are required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{
		ledgerPath:   filepath.Join(dir, ledgerFile),
		accountsPath: filepath.Join(dir, accountsFile),
	}, nil
}

// LedgerPath returns the path of the ledger file.
func (s *FileStore) LedgerPath() string {
	return s.ledgerPath
}

// AccountsPath returns the path of the registry file.
func (s *FileStore) AccountsPath() string {
	return s.accountsPath
}

// LoadChain reads the ledger file. It returns ErrNotFound if the file does
// not exist.
func (s *FileStore) LoadChain() ([]ledger.Record, error) {
	data, err := readFile(s.ledgerPath)
	if err != nil {
		return nil, err
	}
	records, err := DecodeChain(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.ledgerPath, err)
	}
	return records, nil
}

// SaveChain overwrites the ledger file.
func (s *FileStore) SaveChain(records []ledger.Record) error {
	data, err := EncodeChain(records)
	if err != nil {
		return err
	}
	return writeFile(s.ledgerPath, data)
}

// LoadAccounts reads the registry file. It returns ErrNotFound if the file
// does not exist.
func (s *FileStore) LoadAccounts() ([]account.Record, error) {
	data, err := readFile(s.accountsPath)
	if err != nil {
		return nil, err
	}
	records, err := DecodeAccounts(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.accountsPath, err)
	}
	return records, nil
}

// SaveAccounts overwrites the registry file.
func (s *FileStore) SaveAccounts(records []account.Record) error {
	data, err := EncodeAccounts(records)
	if err != nil {
		return err
	}
	return writeFile(s.accountsPath, data)
}

func (s *FileStore) Close() error {
	return nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return data, err
}

// writeFile replaces path through a rename so that readers never see a
// half written file.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return errors.Join(err, tmp.Close(), os.Remove(tmp.Name()))
	}
	if err := tmp.Close(); err != nil {
		return errors.Join(err, os.Remove(tmp.Name()))
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return errors.Join(err, os.Remove(tmp.Name()))
	}
	return os.Rename(tmp.Name(), path)
}
