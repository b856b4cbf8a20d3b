// Package input translates between raw evdev-style device events and the
// three abstract inputs the switch forwards: relative motion, key taps and
// scroll steps.
package input

import (
	"context"
	"errors"

	"github.com/chronologos/netkvm/internal/screen"
)

var (
	// ErrDevice wraps any failure reported by the Device.
	ErrDevice = errors.New("input device")
	// ErrContractViolation means the device produced an event shape the
	// bridge has no mapping for. It is never transient.
	ErrContractViolation = errors.New("device contract violation")
	// ErrClosed is returned by ReadEvent after Close.
	ErrClosed = errors.New("device closed")
	// ErrUnsupported is returned by Open on platforms without evdev/uinput.
	ErrUnsupported = errors.New("evdev devices are only supported on linux")
)

// Event types and codes, as in linux/input-event-codes.h.
const (
	EvSyn uint16 = 0x00
	EvKey uint16 = 0x01
	EvRel uint16 = 0x02
	EvMsc uint16 = 0x04

	SynReport uint16 = 0x00

	RelX           uint16 = 0x00
	RelY           uint16 = 0x01
	RelHWheel      uint16 = 0x06
	RelWheel       uint16 = 0x08
	RelWheelHiRes  uint16 = 0x0b
	RelHWheelHiRes uint16 = 0x0c

	KeyEsc     uint16 = 1
	KeyA       uint16 = 30
	KeyPower   uint16 = 116
	KeyMicMute uint16 = 248
	Btn0       uint16 = 0x100
	BtnLeft    uint16 = 0x110
	KeyMax     uint16 = 0x2e7
)

// RawEvent is one evdev event without its timestamp.
type RawEvent struct {
	Type  uint16
	Code  uint16
	Value int32
}

// Syn is the report marker that ends a batch of events.
var Syn = RawEvent{Type: EvSyn, Code: SynReport}

// Device is a source of physical events and a sink for virtual ones.
type Device interface {
	// ReadEvent blocks until the next physical event or ctx is done.
	ReadEvent(ctx context.Context) (RawEvent, error)
	// Emit writes events to the virtual device in order.
	Emit(events []RawEvent) error
	// Resolution reports the local display size.
	Resolution() (screen.Resolution, error)
	Close() error
}

// Input is RelativeMotion, Key or Scroll.
type Input interface {
	isInput()
}

// RelativeMotion moves the pointer. A physical read fills exactly one axis.
type RelativeMotion struct {
	DX int32
	DY int32
}

// Key is a key tap (press followed by release).
type Key struct {
	Code uint16
}

// Scroll is one step on a wheel axis.
type Scroll struct {
	Axis  uint16
	Value int32
}

func (RelativeMotion) isInput() {}
func (Key) isInput()            {}
func (Scroll) isInput()         {}

// IsScrollAxis reports whether code is one of the wheel axes.
func IsScrollAxis(code uint16) bool {
	switch code {
	case RelWheel, RelHWheel, RelWheelHiRes, RelHWheelHiRes:
		return true
	}
	return false
}
