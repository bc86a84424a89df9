// Package socketcan wraps github.com/brutella/can for classical CAN traffic
// on a Linux SocketCAN interface. It is the production backend for
// non-FD channels, the same way the teacher wraps the same library for its
// own "socketcan" interface.
package socketcan

import (
	"sync"
	"time"

	sockcan "github.com/brutella/can"
	log "github.com/sirupsen/logrus"

	"github.com/alliswell-zy/alliswell-can-uds/pkg/can"
)

func init() {
	can.RegisterInterface("socketcan", New)
}

// Bus adapts a brutella/can.Bus to the can.Bus interface.
type Bus struct {
	mu       sync.Mutex
	bus      *sockcan.Bus
	listener can.FrameListener
	errList  can.ErrorListener
	channel  int
	stats    can.Stats
}

// New constructs an unopened SocketCAN bus.
func New() can.Bus {
	return &Bus{}
}

func (b *Bus) Open(cfg can.Config) error {
	bus, err := sockcan.NewBusForInterfaceWithName(cfg.Channel)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.bus = bus
	b.channel = cfg.Index
	b.mu.Unlock()
	bus.SubscribeFunc(b.onFrame)
	go func() {
		if err := bus.ConnectAndPublish(); err != nil {
			log.WithError(err).WithField("channel", cfg.Channel).Warn("socketcan: link down")
			b.mu.Lock()
			b.stats.LinkErrors++
			el := b.errList
			b.mu.Unlock()
			if el != nil {
				el.HandleError(err)
			}
		}
	}()
	return nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	bus := b.bus
	b.mu.Unlock()
	if bus == nil {
		return nil
	}
	return bus.Disconnect()
}

func (b *Bus) Send(frame can.Frame) (can.SendResult, error) {
	b.mu.Lock()
	bus := b.bus
	b.mu.Unlock()
	if bus == nil {
		return can.SendLinkDown, can.ErrNotConnected
	}
	var data [8]byte
	copy(data[:], frame.Data)
	err := bus.Publish(sockcan.Frame{
		ID:     frame.ID,
		Length: frame.DLC,
		Flags:  frame.Flags,
		Data:   data,
	})
	if err != nil {
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

func (b *Bus) onFrame(frame sockcan.Frame) {
	b.mu.Lock()
	b.stats.Received++
	listener := b.listener
	channel := b.channel
	b.mu.Unlock()
	if listener == nil {
		return
	}
	listener.Handle(can.Frame{
		Timestamp: time.Now(),
		ID:        frame.ID,
		Flags:     frame.Flags,
		DLC:       frame.Length,
		Data:      append([]byte(nil), frame.Data[:frame.Length]...),
		Channel:   channel,
	})
}
