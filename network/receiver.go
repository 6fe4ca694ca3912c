package network

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultMaxMessageSize caps the bytes read from a single connection.
const DefaultMaxMessageSize = 64 << 20

var ErrMessageTooLarge = errors.New("message too large")

// Receiver accepts ledger files pushed by a Sender and writes them into its
// output directory. Connections are handled one at a time and never
// answered.
type Receiver struct {
	outputDir   string
	logger      *slog.Logger
	tlsConfig   *tls.Config
	readTimeout time.Duration
	maxSize     int64
	onReceive   func(path string)

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// ReceiverOption configures a Receiver.
type ReceiverOption func(*Receiver)

func NewReceiver(outputDir string, opts ...ReceiverOption) *Receiver {
	r := &Receiver{
		outputDir: outputDir,
		logger:    slog.Default(),
		maxSize:   DefaultMaxMessageSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func WithReceiverLogger(logger *slog.Logger) ReceiverOption {
	return func(r *Receiver) {
		r.logger = logger
	}
}

// WithReceiverTLS makes the receiver accept TLS connections only.
func WithReceiverTLS(config *tls.Config) ReceiverOption {
	return func(r *Receiver) {
		r.tlsConfig = config
	}
}

// WithReadTimeout drops connections that stay open longer than timeout.
func WithReadTimeout(timeout time.Duration) ReceiverOption {
	return func(r *Receiver) {
		r.readTimeout = timeout
	}
}

func WithMaxMessageSize(n int64) ReceiverOption {
	return func(r *Receiver) {
		r.maxSize = n
	}
}

// OnReceive registers a function called with the path of every file
// written.
func OnReceive(f func(path string)) ReceiverOption {
	return func(r *Receiver) {
		r.onReceive = f
	}
}

// Serve accepts connections on l until Close is called. It returns nil
// after Close and the accept error otherwise.
func (r *Receiver) Serve(l net.Listener) error {
	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return err
	}
	if r.tlsConfig != nil {
		l = tls.NewListener(l, r.tlsConfig)
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return l.Close()
	}
	r.listener = l
	r.mu.Unlock()

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		remote := conn.RemoteAddr().String()
		path, err := r.handle(conn)
		if err != nil {
			r.logger.Warn("dropping connection", "remote", remote, "err", err)
			continue
		}
		r.logger.Info("file received", "remote", remote, "path", path)
		if r.onReceive != nil {
			r.onReceive(path)
		}
	}
}

// Close stops Serve. A Receiver cannot be reused once closed.
func (r *Receiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.listener == nil {
		return nil
	}
	return r.listener.Close()
}

func (r *Receiver) handle(conn net.Conn) (string, error) {
	defer conn.Close()
	if r.readTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(r.readTimeout)); err != nil {
			return "", err
		}
	}
	raw, err := io.ReadAll(io.LimitReader(conn, r.maxSize+1))
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	if int64(len(raw)) > r.maxSize {
		return "", fmt.Errorf("%w: more than %d bytes", ErrMessageTooLarge, r.maxSize)
	}
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", fmt.Errorf("decode message: %w", err)
	}
	name, data, err := m.File()
	if err != nil {
		return "", err
	}
	path := filepath.Join(r.outputDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
