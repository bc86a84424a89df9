// Package virtual implements a TCP-backed loopback CAN bus used for tests
// and for development without real hardware. It mirrors a small broker
// protocol: frames are length-prefixed and relayed to every connected peer.
package virtual

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/alliswell-zy/alliswell-can-uds/pkg/can"
)

func init() {
	can.RegisterInterface("virtual", New)
	can.RegisterInterface("virtualcan", New)
}

// Bus is a loopback CAN channel dialing a virtualcan-style broker over TCP.
// With no broker reachable, ReceiveOwn lets a single process still exercise
// its own sends without hardware.
type Bus struct {
	mu         sync.Mutex
	conn       net.Conn
	channel    string
	receiveOwn bool
	listener   can.FrameListener
	errListen  can.ErrorListener
	stopCh     chan struct{}
	wg         sync.WaitGroup
	running    bool
	stats      can.Stats
}

// New constructs an unopened virtual bus.
func New() can.Bus {
	return &Bus{}
}

// SetReceiveOwn enables local loopback of frames sent by this process,
// independent of whether a broker connection exists.
func (b *Bus) SetReceiveOwn(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiveOwn = v
}

func (b *Bus) Open(cfg can.Config) error {
	b.mu.Lock()
	b.channel = cfg.Channel
	b.mu.Unlock()
	if cfg.Channel == "" {
		return nil
	}
	conn, err := net.Dial("tcp", cfg.Channel)
	if err != nil {
		log.WithField("channel", cfg.Channel).Warn("virtual can: no broker reachable, running loopback-only")
		return nil
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	running := b.running
	conn := b.conn
	b.mu.Unlock()
	if running {
		close(b.stopCh)
		b.wg.Wait()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func serializeFrame(frame can.Frame) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, frame.ID)
	_ = binary.Write(&buf, binary.BigEndian, frame.Flags)
	_ = binary.Write(&buf, binary.BigEndian, frame.DLC)
	payload := buf.Bytes()
	payload = append(payload, frame.Data...)
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	return append(header, payload...)
}

func deserializeFrame(b []byte) (can.Frame, error) {
	if len(b) < 6 {
		return can.Frame{}, fmt.Errorf("virtual can: short frame (%d bytes)", len(b))
	}
	id := binary.BigEndian.Uint32(b[0:4])
	flags := b[4]
	dlc := b[5]
	data := append([]byte(nil), b[6:]...)
	return can.Frame{ID: id, Flags: flags, DLC: dlc, Data: data, Timestamp: time.Now()}, nil
}

func (b *Bus) Send(frame can.Frame) (can.SendResult, error) {
	b.mu.Lock()
	conn := b.conn
	receiveOwn := b.receiveOwn
	listener := b.listener
	b.mu.Unlock()

	if receiveOwn && listener != nil {
		echo := frame
		echo.Timestamp = time.Now()
		listener.Handle(echo)
	}
	if conn == nil {
		if receiveOwn {
			b.mu.Lock()
			b.stats.Sent++
			b.mu.Unlock()
			return can.SendOK, nil
		}
		return can.SendLinkDown, can.ErrNotConnected
	}
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Millisecond))
	if _, err := conn.Write(serializeFrame(frame)); err != nil {
		b.mu.Lock()
		b.stats.SendErrors++
		b.mu.Unlock()
		return can.SendLinkDown, err
	}
	b.mu.Lock()
	b.stats.Sent++
	b.mu.Unlock()
	return can.SendOK, nil
}

func (b *Bus) Subscribe(listener can.FrameListener) error {
	b.mu.Lock()
	b.listener = listener
	conn := b.conn
	alreadyRunning := b.running
	b.mu.Unlock()
	if conn == nil || alreadyRunning {
		return nil
	}
	b.mu.Lock()
	b.running = true
	b.stopCh = make(chan struct{})
	b.mu.Unlock()
	b.wg.Add(1)
	go b.readLoop(conn)
	return nil
}

func (b *Bus) Unsubscribe() error {
	b.mu.Lock()
	b.listener = nil
	b.mu.Unlock()
	return nil
}

func (b *Bus) SubscribeErrors(listener can.ErrorListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errListen = listener
	return nil
}

func (b *Bus) Stats() can.Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Bus) readLoop(conn net.Conn) {
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		b.wg.Done()
	}()
	for {
		select {
		case <-b.stopCh:
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		header := make([]byte, 4)
		if _, err := readFull(conn, header); err != nil {
			if isTimeout(err) {
				continue
			}
			b.mu.Lock()
			el := b.errListen
			b.stats.LinkErrors++
			b.mu.Unlock()
			if el != nil {
				el.HandleError(err)
			}
			return
		}
		length := binary.BigEndian.Uint32(header)
		body := make([]byte, length)
		if _, err := readFull(conn, body); err != nil {
			continue
		}
		frame, err := deserializeFrame(append(header, body...))
		if err != nil {
			log.WithError(err).Debug("virtual can: dropping malformed frame")
			continue
		}
		b.mu.Lock()
		b.stats.Received++
		listener := b.listener
		b.mu.Unlock()
		if listener != nil {
			listener.Handle(frame)
		}
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
