//go:build linux

package filecopy

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/chronologos/netkvm/internal/screen"
)

const (
	rootMask   = unix.IN_CREATE | unix.IN_MOVED_TO | unix.IN_ONLYDIR
	screenMask = unix.IN_CLOSE_WRITE | unix.IN_MOVED_TO

	pollTimeoutMs = 100
)

type inotifyEvent struct {
	wd   int32
	mask uint32
	name string
}

type watcher struct {
	fd      int
	outbox  string
	rootWD  int32
	screens map[int32]screen.ID
	logger  *slog.Logger
}

// Watch emits a Request for every file completed (closed after writing, or
// moved in) under <outbox>/<id>/. Screen directories created after Watch
// starts are picked up. The channel is closed when ctx is done or the
// watcher fails.
func Watch(ctx context.Context, outbox string, logger *slog.Logger) (<-chan Request, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(outbox, 0o755); err != nil {
		return nil, fmt.Errorf("create outbox: %w", err)
	}

	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("inotify_init1: %w", err)
	}
	w := &watcher{
		fd:      fd,
		outbox:  outbox,
		screens: make(map[int32]screen.ID),
		logger:  logger.With("component", "filecopy"),
	}

	// Watch the root before listing it so a directory created in between
	// is seen either way.
	wd, err := unix.InotifyAddWatch(fd, outbox, rootMask)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("inotify_add_watch on %s: %w", outbox, err)
	}
	w.rootWD = int32(wd)

	entries, err := os.ReadDir(outbox)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			w.addScreen(e.Name())
		}
	}

	out := make(chan Request, 16)
	go w.loop(ctx, out)
	return out, nil
}

func (w *watcher) addScreen(name string) {
	id, ok := parseScreenDir(name)
	if !ok {
		return
	}
	dir := ScreenDir(w.outbox, id)
	wd, err := unix.InotifyAddWatch(w.fd, dir, screenMask)
	if err != nil {
		w.logger.Warn("cannot watch screen outbox", "dir", dir, "error", err)
		return
	}
	w.screens[int32(wd)] = id
	w.logger.Debug("watching screen outbox", "dir", dir, "screen", id)
}

func (w *watcher) loop(ctx context.Context, out chan<- Request) {
	defer close(out)
	defer unix.Close(w.fd)

	buf := make([]byte, 64*1024)
	for {
		if ctx.Err() != nil {
			return
		}

		fds := []unix.PollFd{{Fd: int32(w.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, pollTimeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			w.logger.Error("outbox watcher stopped", "error", err)
			return
		}
		if n == 0 {
			continue
		}

		nr, err := unix.Read(w.fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			w.logger.Error("outbox watcher stopped", "error", err)
			return
		}

		for _, ev := range parseEvents(buf[:nr]) {
			if ev.mask&unix.IN_Q_OVERFLOW != 0 {
				w.logger.Warn("outbox events dropped by the kernel")
				continue
			}
			if ev.wd == w.rootWD {
				if ev.mask&unix.IN_ISDIR != 0 {
					w.addScreen(ev.name)
				}
				continue
			}
			id, ok := w.screens[ev.wd]
			if !ok || ev.mask&unix.IN_ISDIR != 0 || ev.name == "" || strings.HasPrefix(ev.name, ".") {
				continue
			}
			req := Request{Path: filepath.Join(ScreenDir(w.outbox, id), ev.name), Screen: id}
			select {
			case out <- req:
			case <-ctx.Done():
				return
			}
		}
	}
}

// parseEvents splits a read from an inotify fd into events.
//
//	struct inotify_event {
//	    int32_t  wd;
//	    uint32_t mask;
//	    uint32_t cookie;
//	    uint32_t len;
//	    char     name[]; // len bytes, NUL padded
//	};
func parseEvents(buf []byte) []inotifyEvent {
	var events []inotifyEvent
	off := 0
	for off+unix.SizeofInotifyEvent <= len(buf) {
		nameLen := int(binary.NativeEndian.Uint32(buf[off+12 : off+16]))
		size := unix.SizeofInotifyEvent + nameLen
		if off+size > len(buf) {
			break
		}
		events = append(events, inotifyEvent{
			wd:   int32(binary.NativeEndian.Uint32(buf[off : off+4])),
			mask: binary.NativeEndian.Uint32(buf[off+4 : off+8]),
			name: cstring(buf[off+unix.SizeofInotifyEvent : off+size]),
		})
		off += size
	}
	return events
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
