package desktop

import (
	"errors"
	"reflect"
	"testing"

	"github.com/chronologos/netkvm/internal/input"
	"github.com/chronologos/netkvm/internal/protocol"
	"github.com/chronologos/netkvm/internal/screen"
)

func newDesktop(t *testing.T, w, h int32) (*Desktop, *input.FakeDevice) {
	t.Helper()
	res := screen.Resolution{Width: w, Height: h}
	dev := input.NewFakeDevice(res)
	d, err := New(input.NewBridge(dev), res)
	if err != nil {
		t.Fatal(err)
	}
	return d, dev
}

func motion(dx, dy int32) []input.RawEvent {
	return []input.RawEvent{
		{Type: input.EvRel, Code: input.RelX, Value: dx},
		{Type: input.EvRel, Code: input.RelY, Value: dy},
		input.Syn,
	}
}

func TestCenterPinsThenMoves(t *testing.T) {
	d, dev := newDesktop(t, 1920, 1080)

	c, err := d.Center()
	if err != nil {
		t.Fatal(err)
	}
	if c != (screen.Coord{X: 960, Y: 540}) {
		t.Fatalf("center = %v", c)
	}
	want := [][]input.RawEvent{motion(-pinDistance, -pinDistance), motion(960, 540)}
	if got := dev.History(); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestApplyCoordinatesEmitsDelta(t *testing.T) {
	d, dev := newDesktop(t, 100, 100)
	d.Center()

	if err := d.Apply(protocol.Coordinates{X: 10, Y: 90}); err != nil {
		t.Fatal(err)
	}
	h := dev.History()
	if got := h[len(h)-1]; !reflect.DeepEqual(got, motion(-40, 40)) {
		t.Fatalf("got %v", got)
	}
	if d.Cursor() != (screen.Coord{X: 10, Y: 90}) {
		t.Fatalf("cursor = %v", d.Cursor())
	}

	// Same position again emits nothing.
	if err := d.Apply(protocol.Coordinates{X: 10, Y: 90}); err != nil {
		t.Fatal(err)
	}
	if len(dev.History()) != len(h) {
		t.Fatal("zero delta emitted motion")
	}
}

func TestApplyCoordinatesOutOfBounds(t *testing.T) {
	d, _ := newDesktop(t, 100, 100)
	err := d.Apply(protocol.Coordinates{X: 100, Y: 0})
	if !errors.Is(err, screen.ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
}

func TestApplyKeyAndScroll(t *testing.T) {
	d, dev := newDesktop(t, 100, 100)

	if err := d.Apply(protocol.Key{Code: input.KeyA}); err != nil {
		t.Fatal(err)
	}
	if err := d.Apply(protocol.Scroll{Axis: input.RelWheel, Value: 1}); err != nil {
		t.Fatal(err)
	}
	want := [][]input.RawEvent{
		{{Type: input.EvKey, Code: input.KeyA, Value: 1}, input.Syn, {Type: input.EvKey, Code: input.KeyA, Value: 0}, input.Syn},
		{{Type: input.EvRel, Code: input.RelWheel, Value: 1}, input.Syn},
	}
	if got := dev.History(); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestApplyRejectsOtherCommands(t *testing.T) {
	d, _ := newDesktop(t, 100, 100)
	for _, cmd := range []protocol.Command{protocol.Start{}, protocol.File{Name: "x"}, protocol.Data{}} {
		if err := d.Apply(cmd); !errors.Is(err, ErrUnsupportedCommand) {
			t.Fatalf("%s: expected ErrUnsupportedCommand, got %v", cmd.Type(), err)
		}
	}
}

func TestTrackDoesNotEmit(t *testing.T) {
	d, dev := newDesktop(t, 100, 100)
	if c := d.Track(input.RelativeMotion{DX: 30}); c != (screen.Coord{X: 30}) {
		t.Fatalf("cursor = %v", c)
	}
	if c := d.Track(input.RelativeMotion{DX: 500, DY: -5}); c != (screen.Coord{X: 99}) {
		t.Fatalf("cursor = %v", c)
	}
	if len(dev.History()) != 0 {
		t.Fatal("Track emitted events")
	}
}
