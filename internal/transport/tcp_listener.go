package transport

import (
	"context"
	"fmt"
	"net"
)

// Listener accepts Command channels from clients.
type Listener struct {
	ln net.Listener
}

// Listen binds a TCP listener on addr (host:port; port 0 picks a free one).
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w: %w", addr, ErrConnection, err)
	}
	return &Listener{ln: ln}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Accept waits for the next client connection.
func (l *Listener) Accept(ctx context.Context) (*Channel, error) {
	// Use a channel so we can respect context cancellation
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("accept: %w: %w", ErrConnection, res.err)
		}
		return newChannel(res.conn), nil
	case <-ctx.Done():
		// The goroutine may still be blocked in Accept until the caller
		// closes the listener. If it got a connection first, close it so
		// it doesn't leak.
		go func() {
			res := <-ch
			if res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Close stops accepting. Channels already accepted stay open.
func (l *Listener) Close() error {
	return l.ln.Close()
}
