package transport

import (
	"context"
	"fmt"
	"net"
)

// Dial connects to a server's listener and returns a Channel ready for use.
func Dial(ctx context.Context, addr string) (*Channel, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w: %w", addr, ErrConnection, err)
	}
	return newChannel(conn), nil
}
