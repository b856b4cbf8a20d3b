package testutil

import (
	"fmt"
	"testing"
	"time"
)

type recorder struct {
	failed bool
	msg    string
}

func (r *recorder) Helper() {}

func (r *recorder) Fatalf(format string, args ...any) {
	r.failed = true
	r.msg = fmt.Sprintf(format, args...)
	panic(r)
}

func run(r *recorder, fn func()) {
	defer func() {
		if p := recover(); p != nil && p != r {
			panic(p)
		}
	}()
	fn()
}

func TestRequireReceive(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 7
	if got := RequireReceive(t, ch, time.Second); got != 7 {
		t.Fatalf("got %d", got)
	}

	r := &recorder{}
	run(r, func() { RequireReceive(r, ch, 10*time.Millisecond, "waiting for %s", "seven") })
	if !r.failed || r.msg != "timed out after 10ms: waiting for seven" {
		t.Fatalf("unexpected failure state: %+v", r)
	}

	r = &recorder{}
	close(ch)
	run(r, func() { RequireReceive(r, ch, time.Second) })
	if !r.failed {
		t.Fatal("closed channel not reported")
	}
}

func TestRequireNoReceive(t *testing.T) {
	ch := make(chan int, 1)
	RequireNoReceive(t, ch, 10*time.Millisecond)

	ch <- 1
	r := &recorder{}
	run(r, func() { RequireNoReceive(r, ch, time.Second) })
	if !r.failed {
		t.Fatal("value not reported")
	}
}
