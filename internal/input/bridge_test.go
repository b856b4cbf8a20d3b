package input

import (
	"context"
	"errors"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/chronologos/netkvm/internal/screen"
)

func TestReadMapsEachAxisSeparately(t *testing.T) {
	tests := []struct {
		name string
		ev   RawEvent
		want Input
	}{
		{"rel x", RawEvent{Type: EvRel, Code: RelX, Value: 7}, RelativeMotion{DX: 7}},
		{"rel y", RawEvent{Type: EvRel, Code: RelY, Value: -3}, RelativeMotion{DY: -3}},
		{"wheel", RawEvent{Type: EvRel, Code: RelWheel, Value: 1}, Scroll{Axis: RelWheel, Value: 1}},
		{"hwheel", RawEvent{Type: EvRel, Code: RelHWheel, Value: -1}, Scroll{Axis: RelHWheel, Value: -1}},
		{"wheel hi-res", RawEvent{Type: EvRel, Code: RelWheelHiRes, Value: 120}, Scroll{Axis: RelWheelHiRes, Value: 120}},
		{"hwheel hi-res", RawEvent{Type: EvRel, Code: RelHWheelHiRes, Value: -120}, Scroll{Axis: RelHWheelHiRes, Value: -120}},
		{"key", RawEvent{Type: EvKey, Code: KeyA, Value: 1}, Key{Code: KeyA}},
		{"button", RawEvent{Type: EvKey, Code: BtnLeft, Value: 1}, Key{Code: BtnLeft}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := NewFakeDevice(screen.Resolution{Width: 10, Height: 10})
			b := NewBridge(dev)
			dev.Push(tt.ev)

			got, err := b.Read(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestReadContractViolation(t *testing.T) {
	for _, ev := range []RawEvent{
		{Type: EvRel, Code: 0x09}, // REL_MISC
		{Type: 0x03, Code: 0x00},  // EV_ABS
		{Type: EvSyn, Code: SynReport},
	} {
		dev := NewFakeDevice(screen.Resolution{Width: 10, Height: 10})
		dev.Push(ev)
		_, err := NewBridge(dev).Read(context.Background())
		if !errors.Is(err, ErrContractViolation) {
			t.Fatalf("%+v: expected ErrContractViolation, got %v", ev, err)
		}
		if errors.Is(err, ErrDevice) {
			t.Fatalf("%+v: contract violation reported as device error", ev)
		}
	}
}

func TestReadDeviceError(t *testing.T) {
	dev := NewFakeDevice(screen.Resolution{Width: 10, Height: 10})
	dev.FailRead(io.ErrUnexpectedEOF)

	_, err := NewBridge(dev).Read(context.Background())
	if !errors.Is(err, ErrDevice) || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected wrapped device error, got %v", err)
	}
}

func TestReadCancelled(t *testing.T) {
	dev := NewFakeDevice(screen.Resolution{Width: 10, Height: 10})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewBridge(dev).Read(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if errors.Is(err, ErrDevice) {
		t.Fatal("cancellation reported as device error")
	}
}

func TestWriteShapes(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want []RawEvent
	}{
		{
			"motion emits x then y",
			RelativeMotion{DX: 5, DY: -2},
			[]RawEvent{{EvRel, RelX, 5}, {EvRel, RelY, -2}, Syn},
		},
		{
			"key is press then release",
			Key{Code: KeyEsc},
			[]RawEvent{{EvKey, KeyEsc, 1}, Syn, {EvKey, KeyEsc, 0}, Syn},
		},
		{
			"scroll is one axis event",
			Scroll{Axis: RelWheel, Value: -1},
			[]RawEvent{{EvRel, RelWheel, -1}, Syn},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := NewFakeDevice(screen.Resolution{Width: 10, Height: 10})
			if err := NewBridge(dev).Write(tt.in); err != nil {
				t.Fatal(err)
			}
			h := dev.History()
			if len(h) != 1 {
				t.Fatalf("expected one Emit call, got %d", len(h))
			}
			if !reflect.DeepEqual(h[0], tt.want) {
				t.Fatalf("got %v, want %v", h[0], tt.want)
			}
		})
	}
}

func TestWriteDeviceError(t *testing.T) {
	dev := NewFakeDevice(screen.Resolution{Width: 10, Height: 10})
	dev.FailEmit(io.ErrClosedPipe)

	err := NewBridge(dev).Write(Key{Code: KeyA})
	if !errors.Is(err, ErrDevice) || !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("expected wrapped device error, got %v", err)
	}
}

func TestResolution(t *testing.T) {
	dev := NewFakeDevice(screen.Resolution{Width: 1920, Height: 1080})
	b := NewBridge(dev)

	res, err := b.Resolution()
	if err != nil {
		t.Fatal(err)
	}
	if res != (screen.Resolution{Width: 1920, Height: 1080}) {
		t.Fatalf("got %+v", res)
	}

	dev.FailResolution(ErrNoDisplay)
	if _, err := b.Resolution(); !errors.Is(err, ErrDevice) || !errors.Is(err, ErrNoDisplay) {
		t.Fatalf("expected wrapped ErrNoDisplay, got %v", err)
	}
}

func TestFakeDeviceClose(t *testing.T) {
	dev := NewFakeDevice(screen.Resolution{Width: 10, Height: 10})
	dev.Close()
	dev.Close()

	if _, err := dev.ReadEvent(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
