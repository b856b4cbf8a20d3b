// Package desktop drives the local pointer and keyboard from network
// commands. It keeps a one-screen Topology in step with the real cursor so
// absolute Coordinates can be turned into the relative motion a virtual
// mouse understands.
package desktop

import (
	"errors"
	"fmt"

	"github.com/chronologos/netkvm/internal/input"
	"github.com/chronologos/netkvm/internal/protocol"
	"github.com/chronologos/netkvm/internal/screen"
)

// pinDistance is large enough to push the cursor into the top-left corner
// of any display.
const pinDistance = 100000

// ErrUnsupportedCommand is returned by Apply for commands that do not act on
// the local desktop.
var ErrUnsupportedCommand = errors.New("command does not act on the desktop")

// Desktop is owned by one goroutine.
type Desktop struct {
	bridge *input.Bridge
	topo   *screen.Topology
}

// New models the local display as a single screen of size res.
func New(bridge *input.Bridge, res screen.Resolution) (*Desktop, error) {
	topo, err := screen.New(screen.Coord{}, screen.HostID, []screen.Screen{{ID: screen.HostID, Resolution: res}})
	if err != nil {
		return nil, fmt.Errorf("desktop topology: %w", err)
	}
	return &Desktop{bridge: bridge, topo: topo}, nil
}

// Center moves the real cursor to the middle of the display. The virtual
// mouse only knows relative motion, so the cursor is first pinned to the
// origin and then moved by exactly the center offset.
func (d *Desktop) Center() (screen.Coord, error) {
	c := d.topo.CenterCursor()
	if err := d.bridge.Write(input.RelativeMotion{DX: -pinDistance, DY: -pinDistance}); err != nil {
		return c, err
	}
	if err := d.bridge.Write(input.RelativeMotion{DX: c.X, DY: c.Y}); err != nil {
		return c, err
	}
	return c, nil
}

// Apply performs a Coordinates, Key or Scroll command.
func (d *Desktop) Apply(cmd protocol.Command) error {
	switch c := cmd.(type) {
	case protocol.Coordinates:
		delta, err := d.topo.MoveCursorAbsolute(screen.Coord{X: c.X, Y: c.Y})
		if err != nil {
			return fmt.Errorf("move to (%d,%d): %w", c.X, c.Y, err)
		}
		if delta == (screen.Coord{}) {
			return nil
		}
		return d.bridge.Write(input.RelativeMotion{DX: delta.X, DY: delta.Y})
	case protocol.Key:
		return d.bridge.Write(input.Key{Code: c.Code})
	case protocol.Scroll:
		return d.bridge.Write(input.Scroll{Axis: c.Axis, Value: c.Value})
	default:
		return fmt.Errorf("apply %s: %w", cmd.Type(), ErrUnsupportedCommand)
	}
}

// Track records motion the physical mouse already applied to the real
// cursor, without emitting anything.
func (d *Desktop) Track(m input.RelativeMotion) screen.Coord {
	_, c := d.topo.MoveCursorRelative(m.DX, m.DY)
	return c
}

// Cursor is the modeled cursor position.
func (d *Desktop) Cursor() screen.Coord {
	return d.topo.Cursor()
}
