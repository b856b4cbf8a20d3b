package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chronologos/netkvm/internal/filecopy"
	"github.com/chronologos/netkvm/internal/input"
	"github.com/chronologos/netkvm/internal/protocol"
	"github.com/chronologos/netkvm/internal/screen"
	"github.com/chronologos/netkvm/internal/server"
	"github.com/chronologos/netkvm/internal/testutil"
)

// Test flags for controlling load shape. Override via:
//
//	go test -v -run TestLoad -load.motion=200000 ./internal/client/
var (
	flagMotion = flag.Int("load.motion", 20000, "number of motion events for the end-to-end motion test")
	flagFileMB = flag.Int("load.filemb", 32, "file size in MiB for the end-to-end file copy test")
)

type pair struct {
	hostDev   *input.FakeDevice
	clientDev *input.FakeDevice
	requests  chan filecopy.Request
	dir       string
}

// startPair runs a real server and one real client on the right, both on
// fake devices, and returns once both are running.
func startPair(t *testing.T, hostRes, clientRes screen.Resolution) *pair {
	t.Helper()
	p := &pair{
		hostDev:   input.NewFakeDevice(hostRes),
		clientDev: input.NewFakeDevice(clientRes),
		requests:  make(chan filecopy.Request, 1),
		dir:       t.TempDir(),
	}

	begin := make(chan struct{})
	accepted := make(chan screen.ID, 1)
	started := make(chan []screen.Screen, 1)
	srv := server.New(server.Config{
		Addr:     "127.0.0.1:0",
		Device:   p.hostDev,
		Begin:    begin,
		Requests: p.requests,
		OnAccept: func(id screen.ID) { accepted <- id },
		OnStart:  func(a []screen.Screen) { started <- a },
	})

	ctx, cancel := context.WithCancel(context.Background())
	srvDone := make(chan error, 1)
	go func() { srvDone <- srv.Run(ctx) }()
	testutil.RequireClosed(t, srv.Ready, waitTimeout, "server ready")

	c := New(Config{
		Addr:        srv.Addr().String(),
		Side:        protocol.SideRight,
		Device:      p.clientDev,
		DownloadDir: p.dir,
	})
	cliDone := make(chan error, 1)
	go func() { cliDone <- c.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, srvDone, waitTimeout, "server exit")
		testutil.RequireReceive(t, cliDone, waitTimeout, "client exit")
	})

	testutil.RequireReceive(t, accepted, waitTimeout, "client accepted")
	close(begin)
	arrangement := testutil.RequireReceive(t, started, waitTimeout, "arrangement")
	if len(arrangement) != 2 {
		t.Fatalf("client did not join: %v", arrangement)
	}
	testutil.RequireReceive(t, p.clientDev.Emitted(), waitTimeout, "client pin")
	testutil.RequireReceive(t, p.clientDev.Emitted(), waitTimeout, "client center")
	return p
}

// TestLoadMotionEndToEnd streams motion through the server onto the client
// screen and checks the client's pointer ends exactly where the server's
// model put it.
func TestLoadMotionEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}
	n := *flagMotion

	// Tall enough that the zig-zag below never clamps.
	clientRes := screen.Resolution{Width: 1000, Height: int32(n) + 1000}
	p := startPair(t, screen.Resolution{Width: 100, Height: 100}, clientRes)

	// Cross to the client: host (50,50) + 60 → client (10,50).
	p.hostDev.Push(input.RawEvent{Type: input.EvRel, Code: input.RelX, Value: 60})

	// Zig-zag on the client: +3 then -2 on y, so each pair nets +1.
	go func() {
		for i := range n {
			v := int32(3)
			if i%2 == 1 {
				v = -2
			}
			p.hostDev.Push(input.RawEvent{Type: input.EvRel, Code: input.RelY, Value: v})
		}
	}()

	want := screen.Coord{X: 10, Y: int32(50 + n/2)}
	if n%2 == 1 {
		want.Y += 3
	}

	// The client pointer is its center plus every motion emitted after
	// the two centering batches.
	start := time.Now()
	deadline := time.Now().Add(60 * time.Second)
	var pos screen.Coord
	for {
		hist := p.clientDev.History()
		pos = screen.Coord{X: clientRes.Width / 2, Y: clientRes.Height / 2}
		for _, batch := range hist[2:] {
			pos.X += batch[0].Value
			pos.Y += batch[1].Value
		}
		if pos == want {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("client pointer stuck at %v, want %v", pos, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Logf("%d motion events in %v", n, time.Since(start))
}

// TestLoadFileCopyEndToEnd copies a large random file from the server's
// outbox request path into the client's download directory.
func TestLoadFileCopyEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}

	p := startPair(t, screen.Resolution{Width: 100, Height: 100}, screen.Resolution{Width: 100, Height: 100})

	content := make([]byte, *flagFileMB<<20)
	rand.Read(content)
	src := filepath.Join(t.TempDir(), "payload.bin")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	p.requests <- filecopy.Request{Path: src, Screen: 1}

	dst := filepath.Join(p.dir, "payload.bin")
	deadline := time.Now().Add(60 * time.Second)
	for {
		got, err := os.ReadFile(dst)
		if err == nil && len(got) == len(content) {
			if !bytes.Equal(got, content) {
				t.Fatal("copied file differs")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("file never arrived complete: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Logf("copied %d MiB in %v (blake3 %s)", *flagFileMB, time.Since(start), filecopy.Digest(content))
}
