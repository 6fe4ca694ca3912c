// Package discovery finds the ledger receiver on the local network through
// multicast DNS, so that nodes do not need its address beforehand.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/luca-patrignani/pow-ledger/network"
)

const (
	Service = "_powledger._tcp"
	Domain  = "local."
	// DefaultLookupTimeout bounds a single browse.
	DefaultLookupTimeout = 3 * time.Second
)

var ErrNoReceiver = errors.New("no receiver found")

// Announcement advertises a receiver until closed.
type Announcement struct {
	server *zeroconf.Server
}

// Announce advertises a receiver listening on port under the given
// instance name.
func Announce(instance string, port int) (*Announcement, error) {
	server, err := zeroconf.Register(instance, Service, Domain, port, []string{"type=" + network.FileMessageType}, nil)
	if err != nil {
		return nil, fmt.Errorf("announce %s: %w", instance, err)
	}
	return &Announcement{server: server}, nil
}

func (a *Announcement) Close() {
	a.server.Shutdown()
}

// Lookup browses for a receiver and returns the address of the first one
// answering.
func Lookup(ctx context.Context) (string, error) {
	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return "", err
	}
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", ErrNoReceiver
			}
			if addr, ok := entryAddress(entry); ok {
				return addr, nil
			}
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %w", ErrNoReceiver, ctx.Err())
		}
	}
}

// entryAddress prefers IPv4, as the receiver usually listens on all
// interfaces.
func entryAddress(entry *zeroconf.ServiceEntry) (string, bool) {
	if entry == nil || entry.Port == 0 {
		return "", false
	}
	port := strconv.Itoa(entry.Port)
	if len(entry.AddrIPv4) > 0 {
		return net.JoinHostPort(entry.AddrIPv4[0].String(), port), true
	}
	if len(entry.AddrIPv6) > 0 {
		return net.JoinHostPort(entry.AddrIPv6[0].String(), port), true
	}
	return "", false
}

type fileSender interface {
	Send(ctx context.Context, filename string, data []byte) error
}

// Sender resolves the receiver address on first use and sends through a
// network.Sender. A failed send drops the address so the next one browses
// again.
type Sender struct {
	lookupTimeout time.Duration
	opts          []network.SenderOption
	lookup        func(ctx context.Context) (string, error)
	dial          func(addr string) fileSender

	mu      sync.Mutex
	current fileSender
}

func NewSender(lookupTimeout time.Duration, opts ...network.SenderOption) *Sender {
	s := &Sender{
		lookupTimeout: lookupTimeout,
		opts:          opts,
		lookup:        Lookup,
	}
	s.dial = func(addr string) fileSender {
		return network.NewSender(addr, s.opts...)
	}
	return s
}

func (s *Sender) Send(ctx context.Context, filename string, data []byte) error {
	target, err := s.target(ctx)
	if err != nil {
		return err
	}
	if err := target.Send(ctx, filename, data); err != nil {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Sender) target(ctx context.Context) (fileSender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return s.current, nil
	}
	if s.lookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.lookupTimeout)
		defer cancel()
	}
	addr, err := s.lookup(ctx)
	if err != nil {
		return nil, err
	}
	s.current = s.dial(addr)
	return s.current, nil
}
