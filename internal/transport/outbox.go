package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chronologos/netkvm/internal/protocol"
)

// DefaultOutboxSize is the number of commands an Outbox buffers before the
// peer is considered stalled.
const DefaultOutboxSize = 4096

var (
	// ErrOutboxFull means the peer stopped draining its queue.
	ErrOutboxFull = errors.New("outbox full: peer is not reading")
	// ErrOutboxClosed is returned by Enqueue after Close.
	ErrOutboxClosed = errors.New("outbox closed")
)

// Outbox queues commands for one Channel and writes them from its own
// goroutine, so a peer that stops reading only blocks its own queue.
//
// Enqueue is called from a single goroutine (the event loop). Commands are
// written in the order they were enqueued. The first write error is latched
// and returned by every later Enqueue.
type Outbox struct {
	ch        *Channel
	queue     chan protocol.Command
	failed    chan struct{} // closed after err is set
	err       error
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewOutbox starts the writer goroutine for ch. size <= 0 selects
// DefaultOutboxSize.
func NewOutbox(ch *Channel, size int) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	o := &Outbox{
		ch:      ch,
		queue:   make(chan protocol.Command, size),
		failed:  make(chan struct{}),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go o.writeLoop()
	return o
}

// Enqueue hands cmd to the writer without blocking.
func (o *Outbox) Enqueue(cmd protocol.Command) error {
	select {
	case <-o.failed:
		return o.err
	case <-o.done:
		return ErrOutboxClosed
	default:
	}
	select {
	case o.queue <- cmd:
		return nil
	default:
		return fmt.Errorf("enqueue %s: %w", cmd.Type(), ErrOutboxFull)
	}
}

// Failed is closed once a write has failed; Err then returns the cause.
func (o *Outbox) Failed() <-chan struct{} {
	return o.failed
}

// Err returns the latched write error, or nil.
func (o *Outbox) Err() error {
	select {
	case <-o.failed:
		return o.err
	default:
		return nil
	}
}

// Close stops the writer and closes the channel. Queued commands that were
// not yet written are dropped.
func (o *Outbox) Close() error {
	var err error
	o.closeOnce.Do(func() {
		close(o.done)
		err = o.ch.Close()
		<-o.stopped
	})
	return err
}

func (o *Outbox) writeLoop() {
	defer close(o.stopped)
	for {
		select {
		case cmd := <-o.queue:
			if err := o.ch.Send(cmd); err != nil {
				o.err = err
				close(o.failed)
				return
			}
		case <-o.done:
			return
		}
	}
}
