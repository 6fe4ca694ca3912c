package network

import (
	"errors"
	"net"
)

// CreateListeners opens n listeners on free localhost ports.
func CreateListeners(n int) ([]net.Listener, []string, error) {
	listeners := make([]net.Listener, 0, n)
	addresses := make([]string, 0, n)
	for i := 0; i < n; i++ {
		l, err := net.Listen("tcp", "localhost:0")
		if err != nil {
			for _, opened := range listeners {
				err = errors.Join(err, opened.Close())
			}
			return nil, nil, err
		}
		listeners = append(listeners, l)
		addresses = append(addresses, l.Addr().String())
	}
	return listeners, addresses, nil
}
