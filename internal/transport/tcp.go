// Package transport turns a TCP connection into a typed, framed Command
// channel. A Channel has one reader and one writer at a time; the server
// gives each client an Outbox whose goroutine is that writer.
package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/chronologos/netkvm/internal/protocol"
)

var (
	// ErrConnection is returned when a dial or listen fails.
	ErrConnection = errors.New("connection failed")
	// ErrTransport wraps read, write and close failures on an established channel.
	ErrTransport = errors.New("transport I/O")
	// ErrNoCommand means the peer closed the connection cleanly while a
	// command was awaited.
	ErrNoCommand = errors.New("no command: peer closed the connection")
)

// Channel is a duplex stream of protocol Commands over one TCP connection.
type Channel struct {
	conn      net.Conn
	r         *bufio.Reader
	closeOnce sync.Once
	closeErr  error
}

// newChannel wraps an established connection.
func newChannel(conn net.Conn) *Channel {
	return &Channel{
		conn: conn,
		r:    bufio.NewReaderSize(conn, 64*1024),
	}
}

// Send writes one framed command. Commands that cannot be encoded (too
// large, invalid fields) fail before anything is written.
func (c *Channel) Send(cmd protocol.Command) error {
	if err := protocol.WriteMessage(c.conn, cmd); err != nil {
		if errors.Is(err, protocol.ErrPayloadTooLarge) || errors.Is(err, protocol.ErrInvalidSide) {
			return fmt.Errorf("send %s: %w", cmd.Type(), err)
		}
		return fmt.Errorf("send %s: %w: %w", cmd.Type(), ErrTransport, err)
	}
	return nil
}

// Recv reads the next command.
//
// Errors: ErrNoCommand on a clean close at a frame boundary, an error
// matching protocol.ErrDecode for a malformed frame, and ErrTransport for
// everything else (including a close in the middle of a frame).
func (c *Channel) Recv() (protocol.Command, error) {
	cmd, err := protocol.ReadMessage(c.r)
	switch {
	case err == nil:
		return cmd, nil
	case errors.Is(err, protocol.ErrDecode):
		return nil, fmt.Errorf("recv: %w", err)
	case err == io.EOF:
		return nil, ErrNoCommand
	default:
		return nil, fmt.Errorf("recv: %w: %w", ErrTransport, err)
	}
}

// RemoteAddr returns the peer's network address.
func (c *Channel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the underlying connection, unblocking any pending Recv or
// Send. Safe to call more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		if err := c.conn.Close(); err != nil {
			c.closeErr = fmt.Errorf("close: %w: %w", ErrTransport, err)
		}
	})
	return c.closeErr
}
