//go:build linux

package filecopy

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/chronologos/netkvm/internal/screen"
	"github.com/chronologos/netkvm/internal/testutil"
)

// rawEvent builds one struct inotify_event with its name padded to 16 bytes.
func rawEvent(wd int32, mask uint32, name string) []byte {
	nameLen := 0
	if name != "" {
		nameLen = (len(name)/16 + 1) * 16
	}
	b := make([]byte, unix.SizeofInotifyEvent+nameLen)
	binary.NativeEndian.PutUint32(b[0:4], uint32(wd))
	binary.NativeEndian.PutUint32(b[4:8], mask)
	binary.NativeEndian.PutUint32(b[12:16], uint32(nameLen))
	copy(b[unix.SizeofInotifyEvent:], name)
	return b
}

func TestParseEvents(t *testing.T) {
	var buf []byte
	buf = append(buf, rawEvent(1, unix.IN_CREATE|unix.IN_ISDIR, "2")...)
	buf = append(buf, rawEvent(2, unix.IN_CLOSE_WRITE, "report-final.pdf")...)
	buf = append(buf, rawEvent(2, unix.IN_Q_OVERFLOW, "")...)

	events := parseEvents(buf)
	if len(events) != 3 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].wd != 1 || events[0].name != "2" || events[0].mask&unix.IN_ISDIR == 0 {
		t.Fatalf("event 0: %+v", events[0])
	}
	if events[1].wd != 2 || events[1].name != "report-final.pdf" || events[1].mask != unix.IN_CLOSE_WRITE {
		t.Fatalf("event 1: %+v", events[1])
	}
	if events[2].name != "" {
		t.Fatalf("event 2: %+v", events[2])
	}

	// A truncated trailing event is ignored.
	if got := parseEvents(buf[:len(buf)-4]); len(got) != 2 {
		t.Fatalf("truncated buffer yielded %d events", len(got))
	}
}

func TestWatchEmitsRequests(t *testing.T) {
	outbox := filepath.Join(t.TempDir(), "outbox")
	if err := EnsureScreenDirs(outbox, []screen.ID{1}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reqs, err := Watch(ctx, outbox, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Existing screen directory.
	p1 := filepath.Join(ScreenDir(outbox, 1), "one.txt")
	if err := os.WriteFile(p1, []byte("1"), 0o644); err != nil {
		t.Fatal(err)
	}
	req := testutil.RequireReceive(t, reqs, 5*time.Second, "request for screen 1")
	if req != (Request{Path: p1, Screen: 1}) {
		t.Fatalf("got %+v", req)
	}

	// Directory created after Watch started; file moved in.
	if err := EnsureScreenDirs(outbox, []screen.ID{3}); err != nil {
		t.Fatal(err)
	}
	// Give the watcher a moment to add the new directory.
	time.Sleep(300 * time.Millisecond)
	tmp := filepath.Join(outbox, ".staging")
	if err := os.WriteFile(tmp, []byte("3"), 0o644); err != nil {
		t.Fatal(err)
	}
	p3 := filepath.Join(ScreenDir(outbox, 3), "three.txt")
	if err := os.Rename(tmp, p3); err != nil {
		t.Fatal(err)
	}
	req = testutil.RequireReceive(t, reqs, 5*time.Second, "request for screen 3")
	if req != (Request{Path: p3, Screen: 3}) {
		t.Fatalf("got %+v", req)
	}

	cancel()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-reqs:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("request channel not closed after cancel")
		}
	}
}

func TestWatchIgnoresHiddenAndForeignDirs(t *testing.T) {
	outbox := t.TempDir()
	for _, d := range []string{"1", "misc"} {
		if err := os.Mkdir(filepath.Join(outbox, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reqs, err := Watch(ctx, outbox, nil)
	if err != nil {
		t.Fatal(err)
	}

	os.WriteFile(filepath.Join(outbox, "misc", "x"), nil, 0o644)
	os.WriteFile(filepath.Join(outbox, "1", ".partial"), nil, 0o644)
	os.WriteFile(filepath.Join(outbox, "top-level"), nil, 0o644)
	testutil.RequireNoReceive(t, reqs, 300*time.Millisecond, "no requests expected")
}
