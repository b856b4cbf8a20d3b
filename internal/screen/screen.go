// Package screen models the shared desktop: screens side by side in one
// horizontal line, a single cursor, and the screen that currently owns it.
//
// A Topology is owned by exactly one goroutine (the orchestrator's event
// loop) and is not safe for concurrent use.
package screen

import (
	"errors"
	"fmt"
)

// ID identifies a screen. The host is HostID; clients get 1, 2, 3, … in the
// order the server accepted them.
type ID int

// HostID is the reserved id of the machine the physical devices are attached to.
const HostID ID = 0

var (
	ErrNoScreens     = errors.New("topology needs at least one screen")
	ErrUnknownScreen = errors.New("screen not in topology")
	ErrOutOfBounds   = errors.New("position outside the active screen")
)

// Coord is a position in pixels, local to one screen.
type Coord struct {
	X int32
	Y int32
}

func (c Coord) String() string { return fmt.Sprintf("(%d,%d)", c.X, c.Y) }

// Resolution is a screen size in pixels.
type Resolution struct {
	Width  int32
	Height int32
}

func (r Resolution) String() string { return fmt.Sprintf("%dx%d", r.Width, r.Height) }

// Contains reports whether c lies in [0,Width)×[0,Height).
func (r Resolution) Contains(c Coord) bool {
	return c.X >= 0 && c.X < r.Width && c.Y >= 0 && c.Y < r.Height
}

// Screen is one display in the arrangement. Its position is its index.
type Screen struct {
	ID         ID
	Resolution Resolution
}

// Topology is a left-to-right arrangement of screens plus cursor state.
//
// Invariant: active is a valid index into screens and cursor lies inside
// screens[active].
type Topology struct {
	screens []Screen
	mainID  ID
	active  int
	cursor  Coord
}

// New builds a topology with the cursor on the screen mainID. The initial
// cursor is clamped into that screen.
func New(cursor Coord, mainID ID, screens []Screen) (*Topology, error) {
	if len(screens) == 0 {
		return nil, ErrNoScreens
	}
	active := -1
	for i, s := range screens {
		if s.Resolution.Width <= 0 || s.Resolution.Height <= 0 {
			return nil, fmt.Errorf("screen %d: invalid resolution %s", s.ID, s.Resolution)
		}
		if s.ID == mainID && active < 0 {
			active = i
		}
	}
	if active < 0 {
		return nil, fmt.Errorf("main screen %d: %w", mainID, ErrUnknownScreen)
	}

	t := &Topology{
		screens: append([]Screen(nil), screens...),
		mainID:  mainID,
		active:  active,
	}
	t.cursor = clamp(int64(cursor.X), int64(cursor.Y), t.screens[active].Resolution)
	return t, nil
}

// MainScreenID is the screen fixed at construction: the host on the server,
// the local screen on a client. Keys and scroll are routed to it.
func (t *Topology) MainScreenID() ID { return t.mainID }

// ActiveScreenID is the screen that currently owns the cursor.
func (t *Topology) ActiveScreenID() ID { return t.screens[t.active].ID }

// Cursor returns the cursor position on the active screen.
func (t *Topology) Cursor() Coord { return t.cursor }

// Screens returns a copy of the arrangement, left to right.
func (t *Topology) Screens() []Screen { return append([]Screen(nil), t.screens...) }

// CenterCursor moves the cursor to the middle of the active screen and
// returns the new position.
func (t *Topology) CenterCursor() Coord {
	res := t.screens[t.active].Resolution
	t.cursor = Coord{X: res.Width / 2, Y: res.Height / 2}
	return t.cursor
}

// MoveCursorRelative applies a motion delta and returns the screen that owns
// the cursor afterwards together with the new position.
//
// Vertical motion never leaves the active screen. Horizontal motion past an
// edge moves control to the neighbouring screen, at most one screen per
// call however large dx is; past the outermost edges the cursor is clamped.
func (t *Topology) MoveCursorRelative(dx, dy int32) (ID, Coord) {
	x := int64(t.cursor.X) + int64(dx)
	y := int64(t.cursor.Y) + int64(dy)

	prev := t.active
	switch {
	case x < 0:
		t.active = max(t.active-1, 0)
		if t.active != prev {
			w := int64(t.screens[t.active].Resolution.Width)
			// Enter from the right edge, but never past the new screen's left edge.
			x = max(x, -w) + w
		}
	case x >= int64(t.screens[t.active].Resolution.Width):
		t.active = min(t.active+1, len(t.screens)-1)
		if t.active != prev {
			x -= int64(t.screens[prev].Resolution.Width)
		}
	}

	t.cursor = clamp(x, y, t.screens[t.active].Resolution)
	return t.screens[t.active].ID, t.cursor
}

// MoveCursorAbsolute moves the cursor to target, which must lie inside the
// active screen, and returns the delta that was applied. It is not a
// cross-screen positioning primitive: a target outside the active screen
// returns ErrOutOfBounds and leaves the cursor unchanged.
func (t *Topology) MoveCursorAbsolute(target Coord) (Coord, error) {
	res := t.screens[t.active].Resolution
	if !res.Contains(target) {
		return Coord{}, fmt.Errorf("%w: %s not in %s", ErrOutOfBounds, target, res)
	}

	delta := Coord{X: target.X - t.cursor.X, Y: target.Y - t.cursor.Y}
	before := t.ActiveScreenID()

	id, got := t.MoveCursorRelative(delta.X, delta.Y)
	if id != before || got != target {
		panic(fmt.Sprintf("screen: absolute move to %s on %d landed at %s on %d", target, before, got, id))
	}
	return delta, nil
}

func clamp(x, y int64, res Resolution) Coord {
	return Coord{
		X: int32(min(max(x, 0), int64(res.Width)-1)),
		Y: int32(min(max(y, 0), int64(res.Height)-1)),
	}
}
