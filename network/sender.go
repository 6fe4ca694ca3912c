package network

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff"
)

const (
	// DefaultTimeout bounds dialing and writing when no timeout is configured.
	DefaultTimeout = 10 * time.Second
	// DefaultRetryInterval is the first wait between two attempts.
	DefaultRetryInterval = 200 * time.Millisecond
)

// Sender pushes files to a fixed remote address, one connection per file.
type Sender struct {
	Address       string
	timeout       time.Duration
	tlsConfig     *tls.Config
	retries       uint64
	retryInterval time.Duration
}

// SenderOption configures a Sender.
type SenderOption func(Sender) Sender

// NewSender returns a Sender for address (host:port).
func NewSender(address string, opts ...SenderOption) *Sender {
	s := Sender{
		Address:       address,
		timeout:       DefaultTimeout,
		retryInterval: DefaultRetryInterval,
	}
	for _, opt := range opts {
		s = opt(s)
	}
	return &s
}

// WithTimeout bounds the whole exchange, dial included. Zero disables the bound.
func WithTimeout(timeout time.Duration) SenderOption {
	return func(s Sender) Sender {
		s.timeout = timeout
		return s
	}
}

// WithTLS wraps the connection in TLS. The receiver must be configured
// accordingly.
func WithTLS(config *tls.Config) SenderOption {
	return func(s Sender) Sender {
		s.tlsConfig = config
		return s
	}
}

// WithRetries makes Send try again up to n times, backing off
// exponentially from interval. Retries stop early when the timeout expires.
func WithRetries(n uint64, interval time.Duration) SenderOption {
	return func(s Sender) Sender {
		s.retries = n
		s.retryInterval = interval
		return s
	}
}

// Send delivers data as filename to the remote receiver. The receiver never
// answers: a nil error only means the message was written and the
// connection closed cleanly.
func (s *Sender) Send(ctx context.Context, filename string, data []byte) error {
	payload, err := json.Marshal(NewFileMessage(filename, data))
	if err != nil {
		return err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if s.retries == 0 {
		return s.send(ctx, payload)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, s.retries), ctx)
	return backoff.Retry(func() error {
		return s.send(ctx, payload)
	}, policy)
}

// send writes payload over a single connection.
func (s *Sender) send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.Address, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return errors.Join(err, conn.Close())
		}
	}
	if _, err := conn.Write(payload); err != nil {
		return errors.Join(fmt.Errorf("write to %s: %w", s.Address, err), conn.Close())
	}
	return conn.Close()
}

func (s *Sender) dial(ctx context.Context) (net.Conn, error) {
	if s.tlsConfig != nil {
		d := tls.Dialer{Config: s.tlsConfig}
		return d.DialContext(ctx, "tcp", s.Address)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", s.Address)
}
