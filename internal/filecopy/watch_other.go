//go:build !linux

package filecopy

import (
	"context"
	"log/slog"
)

// Watch is unavailable on this platform.
func Watch(context.Context, string, *slog.Logger) (<-chan Request, error) {
	return nil, ErrUnsupported
}
