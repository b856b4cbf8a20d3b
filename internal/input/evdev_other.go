//go:build !linux

package input

import (
	"context"

	"github.com/chronologos/netkvm/internal/screen"
)

// Options configures Open.
type Options struct {
	Mouse      string
	Keyboard   string
	Grab       bool
	Resolution screen.Resolution
}

// Evdev is unavailable on this platform.
type Evdev struct{}

// Open always fails with ErrUnsupported.
func Open(Options) (*Evdev, error) {
	return nil, ErrUnsupported
}

func (*Evdev) ReadEvent(context.Context) (RawEvent, error) { return RawEvent{}, ErrUnsupported }
func (*Evdev) Emit([]RawEvent) error                       { return ErrUnsupported }
func (*Evdev) Resolution() (screen.Resolution, error)      { return ProbeResolution() }
func (*Evdev) Close() error                                { return nil }
