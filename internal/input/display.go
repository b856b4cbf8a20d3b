package input

import (
	"errors"
	"fmt"

	"github.com/kbinani/screenshot"

	"github.com/chronologos/netkvm/internal/screen"
)

// ErrNoDisplay means no active display was found to size the screen from.
var ErrNoDisplay = errors.New("no active display")

// ProbeResolution returns the size of the primary display.
func ProbeResolution() (res screen.Resolution, err error) {
	// Backends may panic without a reachable display server.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe display: %v", r)
		}
	}()

	if screenshot.NumActiveDisplays() < 1 {
		return screen.Resolution{}, ErrNoDisplay
	}
	b := screenshot.GetDisplayBounds(0)
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return screen.Resolution{}, fmt.Errorf("display 0 bounds %v: %w", b, ErrNoDisplay)
	}
	return screen.Resolution{Width: int32(b.Dx()), Height: int32(b.Dy())}, nil
}
