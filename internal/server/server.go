// Package server runs the machine that owns the physical mouse and keyboard.
// It accepts clients until told to begin, arranges their screens beside its
// own, and then routes pointer motion to whichever screen holds the cursor.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/chronologos/netkvm/internal/desktop"
	"github.com/chronologos/netkvm/internal/filecopy"
	"github.com/chronologos/netkvm/internal/input"
	"github.com/chronologos/netkvm/internal/protocol"
	"github.com/chronologos/netkvm/internal/screen"
	"github.com/chronologos/netkvm/internal/transport"
)

var (
	// ErrProtocolViolation is a well-formed command arriving when the server
	// does not expect it.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrUnknownScreen means a command was routed to an id with no client.
	ErrUnknownScreen = errors.New("unknown screen")
)

// Config holds server configuration.
type Config struct {
	Addr string // host:port to listen on

	// Device supplies physical input and drives the host's own pointer.
	Device input.Device
	// Resolution overrides the host display size when both sides are positive.
	Resolution screen.Resolution

	// Begin ends the accept phase when it is closed or receives a value.
	Begin <-chan struct{}
	// OnAccept, if set, is called during the accept phase with each new
	// client's id.
	OnAccept func(id screen.ID)
	// Requests, if non-nil, feeds file copies into the running loop.
	Requests <-chan filecopy.Request
	// OnStart, if set, is called from the event loop with the final
	// arrangement, left to right, after every client got Start.
	OnStart func(arrangement []screen.Screen)

	// OutboxSize is the per-client queue length; 0 picks the default.
	OutboxSize int
	Logger     *slog.Logger
}

type clientConn struct {
	id  screen.ID
	ch  *transport.Channel
	out *transport.Outbox
}

// netEvent is something a client sent after the handshake.
type netEvent struct {
	id  screen.ID
	cmd protocol.Command
	err error
}

// Server is the host side of the switch. Topology, the host desktop and
// the client table are touched only by the goroutine running Run.
type Server struct {
	cfg    Config
	log    *slog.Logger
	bridge *input.Bridge
	ln     *transport.Listener

	topo    *screen.Topology
	host    *desktop.Desktop
	clients map[screen.ID]*clientConn
	pending []*clientConn // accepted, not yet handshaken; ordered by id

	// Ready is closed after the listener is bound. Addr is valid then.
	Ready chan struct{}
	addr  net.Addr
}

// New creates a server but does not start it. Call Run to begin.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		cfg:     cfg,
		log:     logger.With("component", "server"),
		bridge:  input.NewBridge(cfg.Device),
		clients: make(map[screen.ID]*clientConn),
		Ready:   make(chan struct{}),
	}
}

// Addr returns the bound listen address. Only valid after Ready is closed.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Run accepts clients until Begin fires, performs the handshake, then
// forwards input until ctx is cancelled or a fatal error occurs.
func (s *Server) Run(ctx context.Context) error {
	ln, err := transport.Listen(s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.addr = ln.Addr()
	close(s.Ready)
	s.log.Info("listening", "addr", s.addr.String())

	defer func() {
		s.ln.Close()
		for _, c := range s.pending {
			c.ch.Close()
		}
		for _, c := range s.clients {
			c.out.Close()
		}
	}()

	if err := s.acceptClients(ctx); err != nil {
		return err
	}
	arrangement, err := s.handshake(ctx)
	if err != nil {
		return err
	}
	if err := s.start(arrangement); err != nil {
		return err
	}
	return s.loop(ctx)
}

// --- AcceptingClients ---

type acceptResult struct {
	ch  *transport.Channel
	err error
}

// acceptLoop calls Accept once and sends the result. The accept phase
// re-arms it after each result.
func (s *Server) acceptLoop(ctx context.Context, ch chan<- acceptResult) {
	c, err := s.ln.Accept(ctx)
	ch <- acceptResult{ch: c, err: err}
}

func (s *Server) acceptClients(ctx context.Context) error {
	acceptCtx, stopAccept := context.WithCancel(ctx)
	defer stopAccept()

	acceptCh := make(chan acceptResult, 1)
	go s.acceptLoop(acceptCtx, acceptCh)

	next := screen.HostID + 1
	for {
		select {
		case res := <-acceptCh:
			if res.err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.log.Warn("accept failed", "error", res.err)
			} else {
				s.pending = append(s.pending, &clientConn{id: next, ch: res.ch})
				s.log.Info("client connected", "id", next, "remote", res.ch.RemoteAddr().String())
				if s.cfg.OnAccept != nil {
					s.cfg.OnAccept(next)
				}
				next++
			}
			go s.acceptLoop(acceptCtx, acceptCh)

		case <-s.cfg.Begin:
			s.log.Info("accept phase over", "clients", len(s.pending))
			// Late connections are refused from here on. Closing the
			// listener ends the Accept in flight; a connection it won
			// anyway is dropped.
			s.ln.Close()
			if res := <-acceptCh; res.ch != nil {
				s.log.Info("refusing late client", "remote", res.ch.RemoteAddr().String())
				res.ch.Close()
			}
			return nil

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// --- Handshaking ---

// handshake reads ClientInfo from every client in id order and returns the
// arrangement, left to right. Each Left client is inserted at the front, so
// several Left clients end up in reverse connection order.
func (s *Server) handshake(ctx context.Context) ([]screen.Screen, error) {
	hostRes := s.cfg.Resolution
	if hostRes.Width <= 0 || hostRes.Height <= 0 {
		res, err := s.bridge.Resolution()
		if err != nil {
			return nil, err
		}
		hostRes = res
	}
	arrangement := []screen.Screen{{ID: screen.HostID, Resolution: hostRes}}

	// Recv does not take a context; closing the channels unblocks it.
	stop := context.AfterFunc(ctx, func() {
		for _, c := range s.pending {
			c.ch.Close()
		}
	})
	defer stop()

	for _, c := range s.pending {
		cmd, err := c.ch.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("handshake with client %d: %w", c.id, err)
		}
		info, ok := cmd.(protocol.ClientInfo)
		if !ok {
			return nil, fmt.Errorf("handshake with client %d: got %s, want %s: %w",
				c.id, cmd.Type(), protocol.TypeClientInfo, ErrProtocolViolation)
		}
		if info.Width <= 0 || info.Height <= 0 {
			return nil, fmt.Errorf("handshake with client %d: resolution %dx%d: %w",
				c.id, info.Width, info.Height, ErrProtocolViolation)
		}

		scr := screen.Screen{ID: c.id, Resolution: screen.Resolution{Width: info.Width, Height: info.Height}}
		switch info.Side {
		case protocol.SideLeft:
			arrangement = append([]screen.Screen{scr}, arrangement...)
		case protocol.SideRight:
			arrangement = append(arrangement, scr)
		default:
			return nil, fmt.Errorf("handshake with client %d: side %d: %w", c.id, info.Side, ErrProtocolViolation)
		}
		s.log.Info("client info", "id", c.id, "resolution", scr.Resolution.String(), "side", info.Side.String())
	}
	return arrangement, nil
}

// --- Running ---

// start builds the topology, centers both the model and the host pointer,
// and sends Start to every client in id order.
func (s *Server) start(arrangement []screen.Screen) error {
	topo, err := screen.New(screen.Coord{}, screen.HostID, arrangement)
	if err != nil {
		return fmt.Errorf("build topology: %w", err)
	}
	s.topo = topo
	s.topo.CenterCursor()

	var hostRes screen.Resolution
	for _, scr := range arrangement {
		if scr.ID == screen.HostID {
			hostRes = scr.Resolution
		}
	}
	host, err := desktop.New(s.bridge, hostRes)
	if err != nil {
		return err
	}
	s.host = host
	if _, err := s.host.Center(); err != nil {
		return fmt.Errorf("center host cursor: %w", err)
	}

	for _, c := range s.pending {
		if err := c.ch.Send(protocol.Start{}); err != nil {
			return fmt.Errorf("start client %d: %w", c.id, err)
		}
		c.out = transport.NewOutbox(c.ch, s.cfg.OutboxSize)
		s.clients[c.id] = c
	}
	s.pending = nil

	ids := make([]screen.ID, len(arrangement))
	for i, scr := range arrangement {
		ids[i] = scr.ID
	}
	s.log.Info("running", "arrangement", ids, "cursor", s.topo.Cursor().String())
	if s.cfg.OnStart != nil {
		s.cfg.OnStart(arrangement)
	}
	return nil
}

func (s *Server) loop(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	defer func() {
		cancel()
		// Unblocks the per-client readers.
		for _, c := range s.clients {
			c.out.Close()
		}
		g.Wait()
	}()

	inputCh := make(chan input.Input, 64)
	g.Go(func() error {
		return s.readDevice(gctx, inputCh)
	})

	netCh := make(chan netEvent, 8)
	for _, c := range s.clients {
		g.Go(func() error {
			readClient(gctx, c, netCh)
			return nil
		})
	}

	requests := s.cfg.Requests
	for {
		select {
		case in := <-inputCh:
			if err := s.handleInput(in); err != nil {
				return err
			}

		case ev := <-netCh:
			if err := s.handleNetEvent(ev); err != nil {
				return err
			}

		case req, ok := <-requests:
			if !ok {
				s.log.Warn("file copy requests closed")
				requests = nil
				continue
			}
			s.copyFile(req)

		case <-gctx.Done():
			// The cause is the first feeder error, or the caller's cancellation.
			return context.Cause(gctx)
		}
	}
}

// readDevice forwards physical input until the device fails or ctx ends.
func (s *Server) readDevice(ctx context.Context, ch chan<- input.Input) error {
	for {
		in, err := s.bridge.Read(ctx)
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

// readClient reports what a client sends after the handshake. It exits on
// the first error, including the close that happens at shutdown.
func readClient(ctx context.Context, c *clientConn, ch chan<- netEvent) {
	for {
		cmd, err := c.ch.Recv()
		select {
		case ch <- netEvent{id: c.id, cmd: cmd, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) handleInput(in input.Input) error {
	switch in := in.(type) {
	case input.RelativeMotion:
		before := s.topo.ActiveScreenID()
		id, c := s.topo.MoveCursorRelative(in.DX, in.DY)
		if id != before {
			s.log.Info("active screen", "from", before, "to", id, "cursor", c.String())
		}
		return s.dispatch(id, protocol.Coordinates{X: c.X, Y: c.Y})
	case input.Key:
		return s.host.Apply(protocol.Key{Code: in.Code})
	case input.Scroll:
		return s.host.Apply(protocol.Scroll{Axis: in.Axis, Value: in.Value})
	default:
		return fmt.Errorf("input %T: %w", in, input.ErrContractViolation)
	}
}

// dispatch delivers cmd to screen id. The host applies it locally; a
// client gets it through its outbox.
func (s *Server) dispatch(id screen.ID, cmd protocol.Command) error {
	if id == screen.HostID {
		return s.host.Apply(cmd)
	}
	c, ok := s.clients[id]
	if !ok {
		return fmt.Errorf("dispatch %s to screen %d: %w", cmd.Type(), id, ErrUnknownScreen)
	}
	if err := c.out.Enqueue(cmd); err != nil {
		return fmt.Errorf("dispatch %s to screen %d: %w", cmd.Type(), id, err)
	}
	return nil
}

func (s *Server) handleNetEvent(ev netEvent) error {
	c, ok := s.clients[ev.id]
	if !ok {
		return nil
	}
	if ev.err != nil {
		s.log.Warn("client disconnected", "id", ev.id, "error", ev.err)
		c.out.Close()
		delete(s.clients, ev.id)
		return nil
	}
	return fmt.Errorf("client %d sent %s while running: %w", ev.id, ev.cmd.Type(), ErrProtocolViolation)
}

// copyFile sends one requested file. Every failure is logged and dropped.
func (s *Server) copyFile(req filecopy.Request) {
	log := s.log.With("path", req.Path, "screen", req.Screen)

	if req.Screen == screen.HostID {
		log.Warn("file copy: the host cannot be a destination")
		return
	}
	c, ok := s.clients[req.Screen]
	if !ok {
		log.Warn("file copy: no such client", "error", ErrUnknownScreen)
		return
	}
	data, err := filecopy.ReadWhole(req.Path)
	if err != nil {
		log.Warn("file copy: read failed", "error", err)
		return
	}
	name := filepath.Base(req.Path)
	if err := c.out.Enqueue(protocol.File{Name: name}); err != nil {
		log.Warn("file copy: send name failed", "error", err)
		return
	}
	if err := c.out.Enqueue(protocol.Data{Bytes: data}); err != nil {
		log.Warn("file copy: send data failed", "error", err)
		return
	}
	log.Info("file copy queued", "name", name, "size", len(data), "blake3", filecopy.Digest(data))
}
