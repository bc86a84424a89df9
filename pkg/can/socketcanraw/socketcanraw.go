// Package socketcanraw talks directly to a Linux SocketCAN interface through
// a raw AF_CAN socket, the way the teacher's pkg/can/socketcanv2 backend
// does, extended here to the CAN_RAW_FD_FRAMES socket option so FD channels
// (needed for FD first-frame/single-frame long forms in pkg/isotp) work
// without depending on a library that only speaks classical CAN.
package socketcanraw

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"
	"time"
	"unsafe"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/alliswell-zy/alliswell-can-uds/pkg/can"
)

func init() {
	can.RegisterInterface("socketcanraw", New)
}

const (
	classicalFrameSize = 16 // struct can_frame
	fdFrameSize        = 72 // struct canfd_frame
)

var defaultRecvTimeout = unix.Timeval{Sec: 0, Usec: 200_000}

// classicFrame mirrors struct can_frame from linux/can.h.
type classicFrame struct {
	id   uint32
	dlc  uint8
	pad  uint8
	res0 uint8
	res1 uint8
	data [8]byte
}

// fdFrame mirrors struct canfd_frame from linux/can.h.
type fdFrame struct {
	id    uint32
	len   uint8
	flags uint8
	res0  uint8
	res1  uint8
	data  [64]byte
}

// Bus is a raw-socket SocketCAN backend, classical or FD.
type Bus struct {
	mu       sync.Mutex
	f        *os.File
	fd       int
	fdMode   bool
	channel  int
	listener can.FrameListener
	errList  can.ErrorListener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stats    can.Stats
}

// New constructs an unopened raw SocketCAN bus.
func New() can.Bus {
	return &Bus{}
}

func (b *Bus) Open(cfg can.Config) error {
	iface, err := net.InterfaceByName(cfg.Channel)
	if err != nil {
		return fmt.Errorf("socketcanraw: %w", err)
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return fmt.Errorf("socketcanraw: create socket: %w", err)
	}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &defaultRecvTimeout); err != nil {
		return fmt.Errorf("socketcanraw: set recv timeout: %w", err)
	}
	if cfg.FD {
		if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1); err != nil {
			return fmt.Errorf("socketcanraw: enable fd frames: %w", err)
		}
	}
	addr := &unix.SockaddrCAN{Ifindex: iface.Index}
	if err := unix.Bind(fd, addr); err != nil {
		return fmt.Errorf("socketcanraw: bind: %w", err)
	}

	b.mu.Lock()
	b.fd = fd
	b.fdMode = cfg.FD
	b.channel = cfg.Index
	b.f = os.NewFile(uintptr(fd), fmt.Sprintf("can-fd-%d", fd))
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.mu.Unlock()

	b.wg.Add(1)
	go b.readLoop(ctx)
	return nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	cancel := b.cancel
	f := b.f
	b.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	b.wg.Wait()
	if f != nil {
		return f.Close()
	}
	return nil
}

func (b *Bus) Send(frame can.Frame) (can.SendResult, error) {
	b.mu.Lock()
	f := b.f
	fdMode := b.fdMode
	b.mu.Unlock()
	if f == nil {
		return can.SendLinkDown, can.ErrNotConnected
	}

	var raw []byte
	if fdMode {
		cf := fdFrame{id: frame.ID, len: uint8(len(frame.Data)), flags: frame.Flags}
		copy(cf.data[:], frame.Data)
		raw = (*(*[fdFrameSize]byte)(unsafe.Pointer(&cf)))[:]
	} else {
		cf := classicFrame{id: frame.ID, dlc: frame.DLC, pad: frame.Flags}
		copy(cf.data[:], frame.Data)
		raw = (*(*[classicalFrameSize]byte)(unsafe.Pointer(&cf)))[:]
	}
	n, err := f.Write(raw)
	if err != nil || n != len(raw) {
		b.mu.Lock()
		b.stats.SendErrors++
		b.mu.Unlock()
		return can.SendBackpressure, err
	}
	b.mu.Lock()
	b.stats.Sent++
	b.mu.Unlock()
	return can.SendOK, nil
}

func (b *Bus) Subscribe(listener can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = listener
	return nil
}

func (b *Bus) Unsubscribe() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = nil
	return nil
}

func (b *Bus) SubscribeErrors(listener can.ErrorListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errList = listener
	return nil
}

func (b *Bus) Stats() can.Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Bus) readLoop(ctx context.Context) {
	defer b.wg.Done()
	b.mu.Lock()
	f := b.f
	fdMode := b.fdMode
	channel := b.channel
	b.mu.Unlock()

	size := classicalFrameSize
	if fdMode {
		size = fdFrameSize
	}
	raw := make([]byte, size)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := f.Read(raw)
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, os.ErrDeadlineExceeded) {
			continue
		}
		if err != nil || n != size {
			log.WithError(err).Warn("socketcanraw: read loop exiting")
			b.mu.Lock()
			b.stats.LinkErrors++
			el := b.errList
			b.mu.Unlock()
			if el != nil {
				el.HandleError(err)
			}
			return
		}

		var out can.Frame
		if fdMode {
			cf := (*fdFrame)(unsafe.Pointer(&raw[0]))
			out = can.Frame{
				ID:        cf.id,
				Flags:     cf.flags | can.FlagFD,
				Data:      append([]byte(nil), cf.data[:cf.len]...),
				Timestamp: time.Now(),
				Channel:   channel,
			}
			dlc, _ := can.DLCFor(int(cf.len), true)
			out.DLC = dlc
		} else {
			cf := (*classicFrame)(unsafe.Pointer(&raw[0]))
			out = can.Frame{
				ID:        cf.id,
				Flags:     cf.pad,
				DLC:       cf.dlc,
				Data:      append([]byte(nil), cf.data[:cf.dlc]...),
				Timestamp: time.Now(),
				Channel:   channel,
			}
		}

		b.mu.Lock()
		b.stats.Received++
		listener := b.listener
		b.mu.Unlock()
		if listener != nil {
			listener.Handle(out)
		}
	}
}
