// Package filecopy produces file-transfer requests from an outbox directory
// and reads and writes the transferred files.
//
// The outbox holds one subdirectory per destination screen, named by its id:
// a file finished in <outbox>/2/ is sent to client 2.
package filecopy

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/chronologos/netkvm/internal/protocol"
	"github.com/chronologos/netkvm/internal/screen"
)

var (
	// ErrBadName is returned for names that do not reduce to a plain file name.
	ErrBadName = errors.New("invalid file name")
	// ErrTooLarge is returned for files that do not fit in one Data command.
	ErrTooLarge = errors.New("file too large to transfer")
	// ErrUnsupported is returned by Watch on platforms without inotify.
	ErrUnsupported = errors.New("outbox watching is only supported on linux")
)

// Request asks the server to send the file at Path to Screen.
type Request struct {
	Path   string
	Screen screen.ID
}

// ScreenDir is the outbox subdirectory for id.
func ScreenDir(outbox string, id screen.ID) string {
	return filepath.Join(outbox, strconv.Itoa(int(id)))
}

// parseScreenDir maps an outbox subdirectory name back to a client id.
func parseScreenDir(name string) (screen.ID, bool) {
	n, err := strconv.Atoi(name)
	if err != nil || n <= 0 || strconv.Itoa(n) != name {
		return 0, false
	}
	return screen.ID(n), true
}

// EnsureScreenDirs creates the outbox and one subdirectory per client id.
// The host has no directory; files are never sent to it.
func EnsureScreenDirs(outbox string, ids []screen.ID) error {
	if err := os.MkdirAll(outbox, 0o755); err != nil {
		return fmt.Errorf("create outbox: %w", err)
	}
	for _, id := range ids {
		if id == screen.HostID {
			continue
		}
		if err := os.MkdirAll(ScreenDir(outbox, id), 0o755); err != nil {
			return fmt.Errorf("create outbox for screen %d: %w", id, err)
		}
	}
	return nil
}

// ReadWhole reads a file to be sent as a single Data command.
func ReadWhole(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: not a regular file", path)
	}
	if info.Size() > protocol.MaxDataSize {
		return nil, fmt.Errorf("%s (%d bytes): %w", path, info.Size(), ErrTooLarge)
	}
	return os.ReadFile(path)
}

// WriteWhole stores data as dir/base(name) and returns the path written.
// Directory components in name are discarded.
func WriteWhole(dir, name string, data []byte) (string, error) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "" || base == "." || base == ".." || base == "/" {
		return "", fmt.Errorf("%q: %w", name, ErrBadName)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, base)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Digest is the hex BLAKE3-256 of data, logged on both ends of a transfer.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
