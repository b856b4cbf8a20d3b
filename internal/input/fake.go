package input

import (
	"context"
	"sync"

	"github.com/chronologos/netkvm/internal/screen"
)

// FakeDevice is an in-memory Device. Tests push physical events with Push
// and observe virtual writes on Emitted.
type FakeDevice struct {
	res     screen.Resolution
	events  chan RawEvent
	emitted chan []RawEvent
	done    chan struct{}

	readFailed chan struct{} // closed by FailRead
	failOnce   sync.Once

	mu      sync.Mutex
	readErr error
	emitErr error
	resErr  error
	closed  bool
	history [][]RawEvent
}

// NewFakeDevice returns a FakeDevice reporting res.
func NewFakeDevice(res screen.Resolution) *FakeDevice {
	return &FakeDevice{
		res:     res,
		events:  make(chan RawEvent, 1024),
		emitted: make(chan []RawEvent, 1024),
		done:    make(chan struct{}),

		readFailed: make(chan struct{}),
	}
}

// Push queues physical events for ReadEvent.
func (f *FakeDevice) Push(events ...RawEvent) {
	for _, ev := range events {
		f.events <- ev
	}
}

// Emitted delivers each Emit call's events.
func (f *FakeDevice) Emitted() <-chan []RawEvent {
	return f.emitted
}

// History returns every batch passed to Emit so far.
func (f *FakeDevice) History() [][]RawEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]RawEvent(nil), f.history...)
}

// FailRead makes ReadEvent return err once queued events are drained,
// including a call that is already blocked.
func (f *FakeDevice) FailRead(err error) {
	f.mu.Lock()
	f.readErr = err
	f.mu.Unlock()
	f.failOnce.Do(func() { close(f.readFailed) })
}

// FailEmit makes Emit return err.
func (f *FakeDevice) FailEmit(err error) {
	f.mu.Lock()
	f.emitErr = err
	f.mu.Unlock()
}

// FailResolution makes Resolution return err.
func (f *FakeDevice) FailResolution(err error) {
	f.mu.Lock()
	f.resErr = err
	f.mu.Unlock()
}

func (f *FakeDevice) ReadEvent(ctx context.Context) (RawEvent, error) {
	select {
	case ev := <-f.events:
		return ev, nil
	default:
	}
	select {
	case ev := <-f.events:
		return ev, nil
	case <-f.readFailed:
		f.mu.Lock()
		defer f.mu.Unlock()
		return RawEvent{}, f.readErr
	case <-f.done:
		return RawEvent{}, ErrClosed
	case <-ctx.Done():
		return RawEvent{}, ctx.Err()
	}
}

func (f *FakeDevice) Emit(events []RawEvent) error {
	f.mu.Lock()
	if f.emitErr != nil {
		err := f.emitErr
		f.mu.Unlock()
		return err
	}
	batch := append([]RawEvent(nil), events...)
	f.history = append(f.history, batch)
	f.mu.Unlock()

	select {
	case f.emitted <- batch:
	default:
	}
	return nil
}

func (f *FakeDevice) Resolution() (screen.Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resErr != nil {
		return screen.Resolution{}, f.resErr
	}
	return f.res, nil
}

func (f *FakeDevice) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}
