// Package client runs on a machine whose screen sits beside the server's.
// It announces its resolution and side, waits for Start, and then moves the
// local pointer where the server says.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/chronologos/netkvm/internal/desktop"
	"github.com/chronologos/netkvm/internal/filecopy"
	"github.com/chronologos/netkvm/internal/input"
	"github.com/chronologos/netkvm/internal/protocol"
	"github.com/chronologos/netkvm/internal/screen"
	"github.com/chronologos/netkvm/internal/transport"
)

// ErrProtocolViolation is a well-formed command arriving when the client
// does not expect it.
var ErrProtocolViolation = errors.New("protocol violation")

// Config holds client configuration.
type Config struct {
	Addr string // server host:port
	Side protocol.Side

	// Device drives the local pointer and reports local physical motion.
	Device input.Device
	// Resolution overrides the local display size when both sides are positive.
	Resolution screen.Resolution
	// DownloadDir receives copied files.
	DownloadDir string

	Logger *slog.Logger
}

// streamResult carries a command or error from the network reader.
type streamResult struct {
	cmd protocol.Command
	err error
}

// Client is the remote-screen half of the switch. The desktop model is
// touched only by the goroutine running Run.
type Client struct {
	cfg    Config
	log    *slog.Logger
	bridge *input.Bridge
	desk   *desktop.Desktop
}

// New creates a client with the given config. Call Run to connect.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		cfg:    cfg,
		log:    logger.With("component", "client"),
		bridge: input.NewBridge(cfg.Device),
	}
}

// Run connects to the server and follows its commands until the
// connection fails, a fatal error occurs, or ctx is cancelled. There is no
// reconnection.
func (c *Client) Run(ctx context.Context) error {
	res := c.cfg.Resolution
	if res.Width <= 0 || res.Height <= 0 {
		r, err := c.bridge.Resolution()
		if err != nil {
			return err
		}
		res = r
	}

	// --- Connecting ---

	ch, err := transport.Dial(ctx, c.cfg.Addr)
	if err != nil {
		return err
	}
	defer ch.Close()
	stop := context.AfterFunc(ctx, func() { ch.Close() })
	defer stop()

	if err := ch.Send(protocol.ClientInfo{Width: res.Width, Height: res.Height, Side: c.cfg.Side}); err != nil {
		return fmt.Errorf("send client info: %w", err)
	}
	c.log.Info("connected", "server", ch.RemoteAddr().String(), "resolution", res.String(), "side", c.cfg.Side.String())

	// --- AwaitingStart ---

	cmd, err := ch.Recv()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("await start: %w", err)
	}
	if _, ok := cmd.(protocol.Start); !ok {
		return fmt.Errorf("await start: got %s: %w", cmd.Type(), ErrProtocolViolation)
	}

	// --- Running ---

	desk, err := desktop.New(c.bridge, res)
	if err != nil {
		return err
	}
	c.desk = desk
	center, err := c.desk.Center()
	if err != nil {
		return fmt.Errorf("center cursor: %w", err)
	}
	c.log.Info("started", "cursor", center.String())

	err = c.loop(ctx, ch)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Client) loop(ctx context.Context, ch *transport.Channel) error {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	defer func() {
		cancel()
		ch.Close()
		g.Wait()
	}()

	netCh := make(chan streamResult, 8)
	g.Go(func() error {
		readStreamLoop(gctx, ch, netCh)
		return nil
	})

	inputCh := make(chan input.Input, 64)
	g.Go(func() error {
		return c.readDevice(gctx, inputCh)
	})

	for {
		select {
		case res := <-netCh:
			if res.err != nil {
				return fmt.Errorf("receive: %w", res.err)
			}
			if err := c.handleCommand(gctx, res.cmd, netCh); err != nil {
				return err
			}

		case in := <-inputCh:
			// Local motion already moved the real cursor; only the model
			// needs to follow. Keys and scroll act locally on their own.
			if m, ok := in.(input.RelativeMotion); ok {
				c.desk.Track(m)
			}

		case <-gctx.Done():
			return context.Cause(gctx)
		}
	}
}

func (c *Client) handleCommand(ctx context.Context, cmd protocol.Command, netCh <-chan streamResult) error {
	switch cmd := cmd.(type) {
	case protocol.Coordinates:
		if err := c.desk.Apply(cmd); err != nil {
			if errors.Is(err, screen.ErrOutOfBounds) {
				return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
			}
			return err
		}
		return nil
	case protocol.Key, protocol.Scroll:
		return c.desk.Apply(cmd)
	case protocol.File:
		return c.receiveFile(ctx, cmd, netCh)
	default:
		return fmt.Errorf("unexpected %s while running: %w", cmd.Type(), ErrProtocolViolation)
	}
}

// receiveFile takes the Data that must follow a File and stores it. Only a
// network read error is fatal; anything else is logged and the transfer is
// dropped.
func (c *Client) receiveFile(ctx context.Context, f protocol.File, netCh <-chan streamResult) error {
	log := c.log.With("name", f.Name)

	var res streamResult
	select {
	case res = <-netCh:
	case <-ctx.Done():
		return context.Cause(ctx)
	}
	if res.err != nil {
		return fmt.Errorf("receive data for %q: %w", f.Name, res.err)
	}
	data, ok := res.cmd.(protocol.Data)
	if !ok {
		log.Warn("file copy: expected data", "got", res.cmd.Type().String(), "error", ErrProtocolViolation)
		return nil
	}

	path, err := filecopy.WriteWhole(c.cfg.DownloadDir, f.Name, data.Bytes)
	if err != nil {
		log.Warn("file copy: write failed", "error", err)
		return nil
	}
	log.Info("file received", "path", path, "size", len(data.Bytes), "blake3", filecopy.Digest(data.Bytes))
	return nil
}

// readDevice forwards local physical input until the device fails or ctx ends.
func (c *Client) readDevice(ctx context.Context, ch chan<- input.Input) error {
	for {
		in, err := c.bridge.Read(ctx)
		if err != nil {
			return err
		}
		select {
		case ch <- in:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// readStreamLoop reads commands from the channel and sends them to ch.
func readStreamLoop(ctx context.Context, tc *transport.Channel, ch chan<- streamResult) {
	for {
		cmd, err := tc.Recv()
		select {
		case ch <- streamResult{cmd: cmd, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}
