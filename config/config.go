// Package config holds the settings shared by the ledger binaries and the
// flags that set them.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"time"

	"github.com/luca-patrignani/pow-ledger/consensus"
	"github.com/luca-patrignani/pow-ledger/network"
	"github.com/luca-patrignani/pow-ledger/storage"
)

// Storage backends.
const (
	BackendFile = "file"
	BackendBolt = "bolt"
)

const (
	DefaultDifficulty       = 4
	DefaultRemoteAddr       = "192.168.124.212:2021"
	DefaultTransportTimeout = 10 * time.Second
	DefaultListenAddr       = ":2021"
	DefaultReadTimeout      = 30 * time.Second
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config configures a ledger node.
type Config struct {
	Difficulty   int
	DataDir      string
	LedgerFile   string
	AccountsFile string
	Backend      string
	BoltFile     string
	// RemoteAddr receives a copy of the ledger after every commit. Empty
	// disables the push.
	RemoteAddr string
	// Discover looks the receiver up over multicast DNS instead of using
	// RemoteAddr.
	Discover         bool
	TransportTimeout time.Duration
	TransportRetries uint64
	TLS              TLSFiles
	// MiningTimeout bounds a single mining run. Zero means no bound.
	MiningTimeout time.Duration
	// Verify makes the node check every block it appends or loads.
	Verify bool
}

func Default() Config {
	return Config{
		Difficulty:       DefaultDifficulty,
		DataDir:          ".",
		LedgerFile:       storage.DefaultLedgerFile,
		AccountsFile:     storage.DefaultAccountsFile,
		Backend:          BackendFile,
		BoltFile:         storage.DefaultBoltFile,
		RemoteAddr:       DefaultRemoteAddr,
		TransportTimeout: DefaultTransportTimeout,
		Verify:           true,
	}
}

// RegisterFlags binds c to flags on fs, using the current values of c as
// defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.Difficulty, "difficulty", c.Difficulty, "leading zero hex digits required in a block hash")
	fs.StringVar(&c.DataDir, "data", c.DataDir, "directory holding the ledger and the accounts")
	fs.StringVar(&c.LedgerFile, "ledger-file", c.LedgerFile, "ledger file name")
	fs.StringVar(&c.AccountsFile, "accounts-file", c.AccountsFile, "accounts file name")
	fs.StringVar(&c.Backend, "backend", c.Backend, "storage backend: file | bolt")
	fs.StringVar(&c.BoltFile, "bolt-file", c.BoltFile, "database file name for the bolt backend")
	fs.StringVar(&c.RemoteAddr, "remote", c.RemoteAddr, "host:port receiving the ledger after each commit, empty to disable")
	fs.BoolVar(&c.Discover, "discover", c.Discover, "find the receiver on the local network instead of using -remote")
	fs.DurationVar(&c.TransportTimeout, "transport-timeout", c.TransportTimeout, "timeout for pushing the ledger")
	fs.Uint64Var(&c.TransportRetries, "transport-retries", c.TransportRetries, "extra attempts when pushing the ledger fails")
	fs.DurationVar(&c.MiningTimeout, "mining-timeout", c.MiningTimeout, "give up mining after this long, 0 for no limit")
	fs.BoolVar(&c.Verify, "verify", c.Verify, "verify blocks on append and load")
	c.TLS.RegisterFlags(fs)
}

func (c Config) Validate() error {
	var errs []error
	if c.Difficulty < 0 || c.Difficulty > consensus.MaxDifficulty {
		errs = append(errs, fmt.Errorf("difficulty %d out of range [0, %d]", c.Difficulty, consensus.MaxDifficulty))
	}
	switch c.Backend {
	case BackendFile:
		if c.LedgerFile == "" || c.AccountsFile == "" {
			errs = append(errs, errors.New("ledger and accounts file names are required"))
		}
	case BackendBolt:
		if c.BoltFile == "" {
			errs = append(errs, errors.New("bolt file name is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.TransportTimeout < 0 || c.MiningTimeout < 0 {
		errs = append(errs, errors.New("timeouts cannot be negative"))
	}
	errs = append(errs, c.TLS.validate())
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// OpenStore opens the configured backend.
func (c Config) OpenStore() (storage.Store, error) {
	switch c.Backend {
	case BackendFile:
		s, err := storage.NewFileStore(c.DataDir, c.LedgerFile, c.AccountsFile)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendBolt:
		s, err := storage.OpenBoltStore(filepath.Join(c.DataDir, c.BoltFile))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
}

// ReceiverConfig configures the receiving daemon.
type ReceiverConfig struct {
	ListenAddr string
	OutputDir  string
	// Announce advertises the receiver over multicast DNS.
	Announce bool
	// ReadTimeout bounds the time a single connection may hold the
	// receiver. Connections are served one at a time.
	ReadTimeout    time.Duration
	MaxMessageSize int64
	TLS            TLSFiles
}

func DefaultReceiver() ReceiverConfig {
	return ReceiverConfig{
		ListenAddr:     DefaultListenAddr,
		OutputDir:      ".",
		ReadTimeout:    DefaultReadTimeout,
		MaxMessageSize: network.DefaultMaxMessageSize,
	}
}

func (c *ReceiverConfig) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ListenAddr, "listen", c.ListenAddr, "address to accept ledger files on")
	fs.StringVar(&c.OutputDir, "out", c.OutputDir, "directory where received files are written")
	fs.BoolVar(&c.Announce, "announce", c.Announce, "advertise the receiver on the local network")
	fs.DurationVar(&c.ReadTimeout, "read-timeout", c.ReadTimeout, "drop a connection that has not delivered its file after this long")
	fs.Int64Var(&c.MaxMessageSize, "max-size", c.MaxMessageSize, "largest message accepted, in bytes")
	c.TLS.RegisterFlags(fs)
}

func (c ReceiverConfig) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if c.ReadTimeout <= 0 {
		errs = append(errs, errors.New("read timeout must be positive"))
	}
	if c.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("max message size must be positive"))
	}
	if c.TLS.Enabled() && c.TLS.CertFile == "" {
		errs = append(errs, errors.New("a TLS receiver needs -tls-cert and -tls-key"))
	}
	errs = append(errs, c.TLS.validate())
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// TLSFiles names the PEM files securing the link between a node and the
// receiver. Leaving all of them empty keeps plain TCP.
type TLSFiles struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

func (t *TLSFiles) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&t.CertFile, "tls-cert", t.CertFile, "PEM certificate presented to the other end")
	fs.StringVar(&t.KeyFile, "tls-key", t.KeyFile, "PEM private key of -tls-cert")
	fs.StringVar(&t.CAFile, "tls-ca", t.CAFile, "PEM certificates trusted to sign the other end")
}

// Enabled reports whether any TLS file is set.
func (t TLSFiles) Enabled() bool {
	return t.CertFile != "" || t.KeyFile != "" || t.CAFile != ""
}

func (t TLSFiles) validate() error {
	if (t.CertFile == "") != (t.KeyFile == "") {
		return errors.New("-tls-cert and -tls-key must be given together")
	}
	return nil
}

// ClientConfig returns the configuration a node dials the receiver with, or
// nil when TLS is disabled. Without a CA file the system roots are trusted.
func (t TLSFiles) ClientConfig() (*tls.Config, error) {
	if !t.Enabled() {
		return nil, nil
	}
	roots, err := t.pool()
	if err != nil {
		return nil, err
	}
	var certs []tls.Certificate
	if t.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load tls key pair: %w", err)
		}
		certs = append(certs, cert)
	}
	return network.ClientTLSConfig(roots, certs...), nil
}

// ServerConfig returns the configuration the receiver listens with, or nil
// when TLS is disabled. A CA file makes client certificates mandatory.
func (t TLSFiles) ServerConfig() (*tls.Config, error) {
	if !t.Enabled() {
		return nil, nil
	}
	if t.CertFile == "" {
		return nil, fmt.Errorf("%w: a TLS receiver needs -tls-cert and -tls-key", ErrInvalidConfig)
	}
	cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load tls key pair: %w", err)
	}
	clients, err := t.pool()
	if err != nil {
		return nil, err
	}
	return network.ServerTLSConfig(cert, clients), nil
}

func (t TLSFiles) pool() (*x509.CertPool, error) {
	if t.CAFile == "" {
		return nil, nil
	}
	return network.LoadCertPool(t.CAFile)
}
