package input

import (
	"context"
	"fmt"

	"github.com/chronologos/netkvm/internal/screen"
)

// Bridge maps Device events to Inputs and back.
type Bridge struct {
	dev Device
}

// NewBridge wraps dev.
func NewBridge(dev Device) *Bridge {
	return &Bridge{dev: dev}
}

// Read returns the next physical input. Each raw axis event yields its own
// RelativeMotion; motion is never merged across axes.
func (b *Bridge) Read(ctx context.Context) (Input, error) {
	ev, err := b.dev.ReadEvent(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read: %w: %w", ErrDevice, err)
	}
	return translate(ev)
}

func translate(ev RawEvent) (Input, error) {
	switch ev.Type {
	case EvRel:
		switch {
		case ev.Code == RelX:
			return RelativeMotion{DX: ev.Value}, nil
		case ev.Code == RelY:
			return RelativeMotion{DY: ev.Value}, nil
		case IsScrollAxis(ev.Code):
			return Scroll{Axis: ev.Code, Value: ev.Value}, nil
		}
	case EvKey:
		return Key{Code: ev.Code}, nil
	}
	return nil, fmt.Errorf("event type=%#x code=%#x value=%d: %w", ev.Type, ev.Code, ev.Value, ErrContractViolation)
}

// Write emits in on the virtual device.
func (b *Bridge) Write(in Input) error {
	var events []RawEvent
	switch in := in.(type) {
	case RelativeMotion:
		events = []RawEvent{
			{Type: EvRel, Code: RelX, Value: in.DX},
			{Type: EvRel, Code: RelY, Value: in.DY},
			Syn,
		}
	case Key:
		events = []RawEvent{
			{Type: EvKey, Code: in.Code, Value: 1},
			Syn,
			{Type: EvKey, Code: in.Code, Value: 0},
			Syn,
		}
	case Scroll:
		events = []RawEvent{
			{Type: EvRel, Code: in.Axis, Value: in.Value},
			Syn,
		}
	default:
		return fmt.Errorf("write %T: %w", in, ErrContractViolation)
	}
	if err := b.dev.Emit(events); err != nil {
		return fmt.Errorf("emit: %w: %w", ErrDevice, err)
	}
	return nil
}

// Resolution queries the local display size.
func (b *Bridge) Resolution() (screen.Resolution, error) {
	res, err := b.dev.Resolution()
	if err != nil {
		return screen.Resolution{}, fmt.Errorf("resolution: %w: %w", ErrDevice, err)
	}
	return res, nil
}

// Close releases the device.
func (b *Bridge) Close() error {
	return b.dev.Close()
}
