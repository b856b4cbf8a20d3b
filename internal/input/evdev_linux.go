//go:build linux

package input

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/chronologos/netkvm/internal/screen"
)

// ioctl requests from linux/uinput.h and linux/input.h.
const (
	uiSetEvBit   = 0x40045564
	uiSetKeyBit  = 0x40045565
	uiSetRelBit  = 0x40045566
	uiDevSetup   = 0x405c5503
	uiDevCreate  = 0x5501
	uiDevDestroy = 0x5502
	eviocGrab    = 0x40044590

	busUSB = 0x03

	// sizeof(struct input_event) on 64-bit: timeval(16) + type + code + value.
	inputEventSize = 24

	pollTimeoutMs = 100
)

// DeviceName is what the virtual device reports to the system.
const DeviceName = "netkvm virtual keyboard & mouse"

type inputID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

// struct uinput_setup
type uinputSetup struct {
	ID           inputID
	Name         [80]byte
	FFEffectsMax uint32
}

// Options configures Open.
type Options struct {
	Mouse    string // required
	Keyboard string // optional
	// Grab takes exclusive access to the physical devices so their events
	// reach only this process.
	Grab bool
	// Resolution overrides the display probe when both sides are positive.
	Resolution screen.Resolution
}

// Evdev reads physical devices under /dev/input and writes to a uinput
// virtual device that can both move the pointer and type.
type Evdev struct {
	physical   []int
	virtual    int
	resolution screen.Resolution

	events    chan readResult
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type readResult struct {
	ev  RawEvent
	err error
}

// Open opens the physical devices and creates the virtual one.
func Open(opts Options) (*Evdev, error) {
	if opts.Mouse == "" {
		return nil, errors.New("open: no mouse device configured")
	}
	paths := []string{opts.Mouse}
	if opts.Keyboard != "" {
		paths = append(paths, opts.Keyboard)
	}

	d := &Evdev{
		virtual:    -1,
		resolution: opts.Resolution,
		events:     make(chan readResult, 256),
		done:       make(chan struct{}),
	}
	for _, p := range paths {
		fd, err := unix.Open(p, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err != nil {
			d.closeFDs()
			return nil, fmt.Errorf("open %s: %w", p, err)
		}
		d.physical = append(d.physical, fd)
		if opts.Grab {
			if err := unix.IoctlSetInt(fd, eviocGrab, 1); err != nil {
				d.closeFDs()
				return nil, fmt.Errorf("grab %s: %w", p, err)
			}
		}
	}

	vfd, err := createVirtual()
	if err != nil {
		d.closeFDs()
		return nil, err
	}
	d.virtual = vfd

	for _, fd := range d.physical {
		d.wg.Add(1)
		go d.readLoop(fd)
	}
	return d, nil
}

func createVirtual() (int, error) {
	fd, err := unix.Open("/dev/uinput", unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("open /dev/uinput: %w", err)
	}
	fail := func(what string, err error) (int, error) {
		unix.Close(fd)
		return -1, fmt.Errorf("uinput %s: %w", what, err)
	}

	for _, ev := range []uint16{EvKey, EvRel} {
		if err := unix.IoctlSetInt(fd, uiSetEvBit, int(ev)); err != nil {
			return fail("set evbit", err)
		}
	}
	for _, code := range virtualKeys() {
		if err := unix.IoctlSetInt(fd, uiSetKeyBit, int(code)); err != nil {
			return fail(fmt.Sprintf("set keybit %d", code), err)
		}
	}
	for _, code := range []uint16{RelX, RelY, RelWheel, RelHWheel, RelWheelHiRes, RelHWheelHiRes} {
		if err := unix.IoctlSetInt(fd, uiSetRelBit, int(code)); err != nil {
			return fail(fmt.Sprintf("set relbit %d", code), err)
		}
	}

	setup := uinputSetup{ID: inputID{Bustype: busUSB, Vendor: 0x1d6b, Product: 0x0104, Version: 1}}
	copy(setup.Name[:], DeviceName)
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uiDevSetup, uintptr(unsafe.Pointer(&setup))); errno != 0 {
		return fail("dev setup", errno)
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uiDevCreate, 0); errno != 0 {
		return fail("dev create", errno)
	}
	return fd, nil
}

// virtualKeys lists every key code the virtual device advertises: all of
// 1..KeyMax except the power key and the unassigned block before BTN_0.
func virtualKeys() []uint16 {
	keys := make([]uint16, 0, KeyMax)
	for code := uint16(1); code < KeyMax; code++ {
		if code == KeyPower || (KeyMicMute < code && code < Btn0) {
			continue
		}
		keys = append(keys, code)
	}
	return keys
}

// readLoop polls one physical device and forwards the events the bridge
// understands. SYN and MSC framing is dropped, as are key releases and
// autorepeat, so a key reaches the bridge once per press.
func (d *Evdev) readLoop(fd int) {
	defer d.wg.Done()

	buf := make([]byte, inputEventSize*64)
	for {
		select {
		case <-d.done:
			return
		default:
		}

		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, pollTimeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			d.publish(readResult{err: fmt.Errorf("poll: %w", err)})
			return
		}
		if n == 0 {
			continue
		}

		nr, err := unix.Read(fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			d.publish(readResult{err: fmt.Errorf("read: %w", err)})
			return
		}
		for _, ev := range decodeEvents(buf[:nr]) {
			if !forwarded(ev) {
				continue
			}
			if !d.publish(readResult{ev: ev}) {
				return
			}
		}
	}
}

func (d *Evdev) publish(r readResult) bool {
	select {
	case d.events <- r:
		return true
	case <-d.done:
		return false
	}
}

func forwarded(ev RawEvent) bool {
	switch ev.Type {
	case EvSyn, EvMsc:
		return false
	case EvKey:
		return ev.Value == 1
	}
	return true
}

// decodeEvents parses a buffer of struct input_event. A trailing partial
// event is ignored; the kernel only returns whole events.
func decodeEvents(buf []byte) []RawEvent {
	events := make([]RawEvent, 0, len(buf)/inputEventSize)
	for off := 0; off+inputEventSize <= len(buf); off += inputEventSize {
		b := buf[off+16 : off+inputEventSize]
		events = append(events, RawEvent{
			Type:  binary.NativeEndian.Uint16(b[0:2]),
			Code:  binary.NativeEndian.Uint16(b[2:4]),
			Value: int32(binary.NativeEndian.Uint32(b[4:8])),
		})
	}
	return events
}

// encodeEvents is the inverse of decodeEvents with a zero timestamp; the
// kernel stamps virtual events itself.
func encodeEvents(events []RawEvent) []byte {
	buf := make([]byte, len(events)*inputEventSize)
	for i, ev := range events {
		b := buf[i*inputEventSize+16 : (i+1)*inputEventSize]
		binary.NativeEndian.PutUint16(b[0:2], ev.Type)
		binary.NativeEndian.PutUint16(b[2:4], ev.Code)
		binary.NativeEndian.PutUint32(b[4:8], uint32(ev.Value))
	}
	return buf
}

// ReadEvent returns the next event from any physical device.
func (d *Evdev) ReadEvent(ctx context.Context) (RawEvent, error) {
	select {
	case r := <-d.events:
		return r.ev, r.err
	case <-d.done:
		return RawEvent{}, ErrClosed
	case <-ctx.Done():
		return RawEvent{}, ctx.Err()
	}
}

// Emit writes events to the virtual device in one write.
func (d *Evdev) Emit(events []RawEvent) error {
	if len(events) == 0 {
		return nil
	}
	buf := encodeEvents(events)
	for len(buf) > 0 {
		n, err := unix.Write(d.virtual, buf)
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			return fmt.Errorf("write uinput: %w", err)
		}
		buf = buf[n:]
	}
	return nil
}

// Resolution returns the configured override or probes the display.
func (d *Evdev) Resolution() (screen.Resolution, error) {
	if d.resolution.Width > 0 && d.resolution.Height > 0 {
		return d.resolution, nil
	}
	return ProbeResolution()
}

// Close destroys the virtual device and releases the physical ones.
func (d *Evdev) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.done)
		d.wg.Wait()
		err = d.closeFDs()
	})
	return err
}

func (d *Evdev) closeFDs() error {
	var errs []error
	for _, fd := range d.physical {
		// Closing the fd drops any grab.
		if err := unix.Close(fd); err != nil {
			errs = append(errs, err)
		}
	}
	d.physical = nil
	if d.virtual >= 0 {
		unix.Syscall(unix.SYS_IOCTL, uintptr(d.virtual), uiDevDestroy, 0)
		if err := unix.Close(d.virtual); err != nil {
			errs = append(errs, err)
		}
		d.virtual = -1
	}
	return errors.Join(errs...)
}
