// Package isotp implements the ISO 15765-2 segmentation/reassembly layer:
// framed segmentation with flow control, sequence numbering, timer-bounded
// transitions, padding and CAN-FD extended lengths (spec.md §4.2).
//
// Concurrency follows the teacher's timer idiom (pkg/time.TIME): a single
// mutex guards all channel state, and time.AfterFunc timers re-enter through
// that same mutex, so timer expiry can never race frame arrival.
package isotp

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/alliswell-zy/alliswell-can-uds/pkg/can"
)

// TxState is the transmit-direction state machine (spec.md §4.2).
type TxState uint8

const (
	TxIdle TxState = iota
	TxWaitFC
	TxTransmitting
	TxDone
	TxError
)

// RxState is the receive-direction state machine (spec.md §4.2).
type RxState uint8

const (
	RxIdle RxState = iota
	RxReceiving
	RxDone
	RxError
)

// DoneFunc is invoked exactly once per accepted SendMessage.
type DoneFunc func(DoneStatus)

// Channel is one ISO-TP channel: link configuration, a tx and an rx state
// machine, their timers, and a bounded inbound queue of reassembled
// messages. Frames are sent on the bus directly, without an outbound queue
// (spec.md §4.2, §5).
type Channel struct {
	cfg LinkConfig
	bus can.Bus

	mu        sync.Mutex
	generation uint64 // bumped by reset()/abort to fence stale goroutines

	txState  TxState
	txMsg    []byte
	txSent   int
	txSeq    uint8
	txOnDone DoneFunc
	txTimer  *time.Timer

	rxState   RxState
	rxBuf     []byte
	rxWant    int
	rxSeq     uint8
	rxSinceFC uint8
	rxTimer   *time.Timer

	inbound chan []byte

	logger *log.Entry
}

// NewChannel constructs and validates a channel bound to bus. The channel
// does not subscribe itself to the bus; the owner must route frames whose
// arbitration id matches cfg.RxID to OnCANFrame.
func NewChannel(bus can.Bus, cfg LinkConfig) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.InboundQueueSize <= 0 {
		cfg.InboundQueueSize = 16
	}
	c := &Channel{
		cfg:     cfg,
		bus:     bus,
		inbound: make(chan []byte, cfg.InboundQueueSize),
		logger: log.WithFields(log.Fields{
			"component": "isotp",
			"rx_id":     cfg.RxID,
			"tx_id":     cfg.TxID,
		}),
	}
	return c, nil
}

// SendMessage accepts a message for transmission. on_done fires exactly
// once with the final status; for SF transfers it fires before SendMessage
// returns, for multi-frame transfers it fires from a background goroutine.
func (c *Channel) SendMessage(msg []byte, onDone DoneFunc) SendStatus {
	c.mu.Lock()

	if uint32(len(msg)) > c.cfg.maxMessageLength() {
		c.mu.Unlock()
		return SendTooLarge
	}
	if c.txState != TxIdle {
		c.mu.Unlock()
		return SendBusy
	}

	sfCap := SFCapacity(c.cfg.FD)
	if len(msg) <= sfCap {
		frame, err := EncodeSF(msg, c.cfg.FD, c.cfg.PaddingEnabled, c.cfg.PaddingByte)
		if err != nil {
			c.mu.Unlock()
			return SendTooLarge
		}
		c.sendFrameLocked(frame)
		c.mu.Unlock()
		if onDone != nil {
			onDone(DoneSuccess)
		}
		return SendAccepted
	}

	ffFrame, consumed := EncodeFF(uint32(len(msg)), msg, c.cfg.FD)
	c.txState = TxWaitFC
	c.txMsg = msg
	c.txSent = consumed
	c.txSeq = 1
	c.txOnDone = onDone
	c.sendFrameLocked(ffFrame)
	c.armTxTimerLocked(c.cfg.NBs, c.onNBsExpiry)
	c.mu.Unlock()
	return SendAccepted
}

// RecvMessage blocks until a reassembled message arrives or timeout elapses.
func (c *Channel) RecvMessage(timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	select {
	case msg := <-c.inbound:
		return msg, nil
	case <-ctx.Done():
		return nil, ErrTimeout
	}
}

// Reset aborts both directions, clears buffers and timers, and cancels any
// pending on_done with abort.
func (c *Channel) Reset() {
	c.mu.Lock()
	c.generation++
	c.stopTxTimerLocked()
	c.stopRxTimerLocked()
	onDone := c.txOnDone
	wasIdle := c.txState == TxIdle
	c.txState = TxIdle
	c.txMsg = nil
	c.txOnDone = nil
	c.rxState = RxIdle
	c.rxBuf = nil
	c.rxWant = 0
	c.mu.Unlock()
	if !wasIdle && onDone != nil {
		onDone(DoneAbort)
	}
}

// OnCANFrame must be called by the CAN channel's receive callback for every
// frame whose arbitration id matches this ISO-TP channel's rx id.
func (c *Channel) OnCANFrame(frame can.Frame) {
	pdu, err := Decode(frame.Data, c.cfg.FD)
	if err != nil {
		c.logger.WithError(err).Debug("dropping malformed frame")
		return
	}
	switch pdu.Type {
	case TypeFC:
		c.handleFC(pdu)
	default:
		c.handleRx(pdu)
	}
}

// --- tx state machine ---

func (c *Channel) handleFC(pdu PDU) {
	c.mu.Lock()
	if c.txState != TxWaitFC {
		c.mu.Unlock()
		return
	}
	c.stopTxTimerLocked()

	switch pdu.FlowStatus {
	case FlowContinue:
		c.txState = TxTransmitting
		gen := c.generation
		msg := c.txMsg
		sent := c.txSent
		seq := c.txSeq
		blockSize := pdu.BlockSize
		stmin := pdu.STmin
		c.mu.Unlock()
		go c.runTxBlock(gen, msg, sent, seq, blockSize, stmin)

	case FlowWait:
		c.armTxTimerLocked(c.cfg.P2Star, c.onNBsExpiry)
		c.mu.Unlock()

	case FlowOverflow:
		onDone := c.txOnDone
		c.txState = TxError
		c.txMsg = nil
		c.txOnDone = nil
		c.txState = TxIdle
		c.mu.Unlock()
		if onDone != nil {
			onDone(DoneOverflow)
		}

	default:
		c.mu.Unlock()
	}
}

// runTxBlock emits up to blockSize CFs (or all remaining if blockSize==0),
// honoring stmin between frames, then either finishes or returns to WaitFC.
func (c *Channel) runTxBlock(gen uint64, msg []byte, sent int, seq uint8, blockSize uint8, stmin uint8) {
	delay := time.Duration(STminDelay(stmin))
	sentInBlock := uint8(0)
	first := true
	for sent < len(msg) {
		if !first {
			time.Sleep(delay)
		}
		first = false

		c.mu.Lock()
		if c.generation != gen || c.txState != TxTransmitting {
			c.mu.Unlock()
			return
		}
		frame, consumed := EncodeCF(seq, msg[sent:], c.cfg.FD, c.cfg.PaddingEnabled, c.cfg.PaddingByte)
		ok := c.sendWithRetryLocked(frame)
		if !ok {
			onDone := c.txOnDone
			c.txState = TxIdle
			c.txMsg = nil
			c.txOnDone = nil
			c.mu.Unlock()
			if onDone != nil {
				onDone(DoneTimeout)
			}
			return
		}
		sent += consumed
		seq = (seq + 1) % 16
		sentInBlock++

		if sent >= len(msg) {
			onDone := c.txOnDone
			c.txState = TxIdle
			c.txMsg = nil
			c.txOnDone = nil
			c.mu.Unlock()
			if onDone != nil {
				onDone(DoneSuccess)
			}
			return
		}
		if blockSize != 0 && sentInBlock >= blockSize {
			c.txState = TxWaitFC
			c.txSent = sent
			c.txSeq = seq
			c.armTxTimerLocked(c.cfg.NBs, c.onNBsExpiry)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}
}

// sendWithRetryLocked retries transient backpressure up to N_As, per the
// spec.md §7 CAN send path policy. Caller holds c.mu.
func (c *Channel) sendWithRetryLocked(frame []byte) bool {
	deadline := time.Now().Add(c.cfg.NAs)
	for {
		id := c.cfg.TxID
		dlc, err := can.DLCFor(len(frame), c.cfg.FD)
		if err != nil {
			return false
		}
		result, err := c.bus.Send(can.Frame{ID: id, DLC: dlc, Data: frame})
		if err == nil && result == can.SendOK {
			return true
		}
		if result == can.SendLinkDown {
			return false
		}
		if time.Now().After(deadline) {
			return false
		}
		c.mu.Unlock()
		time.Sleep(time.Millisecond)
		c.mu.Lock()
	}
}

func (c *Channel) sendFrameLocked(frame []byte) {
	c.sendWithRetryLocked(frame)
}

func (c *Channel) onNBsExpiry() {
	c.mu.Lock()
	if c.txState != TxWaitFC {
		c.mu.Unlock()
		return
	}
	onDone := c.txOnDone
	c.txState = TxIdle
	c.txMsg = nil
	c.txOnDone = nil
	c.mu.Unlock()
	if onDone != nil {
		onDone(DoneTimeout)
	}
}

// --- rx state machine ---

func (c *Channel) handleRx(pdu PDU) {
	c.mu.Lock()
	switch pdu.Type {
	case TypeSF:
		if c.rxState != RxIdle {
			c.mu.Unlock()
			return
		}
		msg := append([]byte(nil), pdu.Payload...)
		c.mu.Unlock()
		c.deliver(msg)

	case TypeFF:
		c.rxState = RxReceiving
		c.rxBuf = append([]byte(nil), pdu.Payload...)
		c.rxWant = int(pdu.TotalLength)
		c.rxSeq = 1
		c.rxSinceFC = 0
		fc := EncodeFC(FlowContinue, c.cfg.BlockSize, c.cfg.STmin, c.cfg.FD, c.cfg.PaddingEnabled, c.cfg.PaddingByte)
		c.sendWithRetryLocked(fc)
		c.armRxTimerLocked()
		if c.rxWant <= len(c.rxBuf) {
			msg := c.rxBuf
			c.rxState = RxIdle
			c.rxBuf = nil
			c.stopRxTimerLocked()
			c.mu.Unlock()
			c.deliver(msg)
			return
		}
		c.mu.Unlock()

	case TypeCF:
		if c.rxState != RxReceiving {
			c.logger.Debug("ignoring CF outside of reception")
			c.mu.Unlock()
			return
		}
		expected := c.rxSeq
		if pdu.Seq != expected {
			c.logger.WithFields(log.Fields{"expected": expected, "got": pdu.Seq}).Warn("sequence mismatch, aborting reassembly")
			c.rxState = RxIdle
			c.rxBuf = nil
			c.stopRxTimerLocked()
			c.mu.Unlock()
			return
		}
		c.rxBuf = append(c.rxBuf, pdu.Payload...)
		if len(c.rxBuf) > c.rxWant {
			c.rxBuf = c.rxBuf[:c.rxWant]
		}
		c.rxSeq = (c.rxSeq + 1) % 16
		c.rxSinceFC++

		if c.cfg.BlockSize > 0 && c.rxSinceFC >= c.cfg.BlockSize && len(c.rxBuf) < c.rxWant {
			fc := EncodeFC(FlowContinue, c.cfg.BlockSize, c.cfg.STmin, c.cfg.FD, c.cfg.PaddingEnabled, c.cfg.PaddingByte)
			c.sendWithRetryLocked(fc)
			c.rxSinceFC = 0
		}
		c.armRxTimerLocked()

		if len(c.rxBuf) >= c.rxWant {
			msg := c.rxBuf
			c.rxState = RxIdle
			c.rxBuf = nil
			c.stopRxTimerLocked()
			c.mu.Unlock()
			c.deliver(msg)
			return
		}
		c.mu.Unlock()

	default:
		c.mu.Unlock()
	}
}

func (c *Channel) deliver(msg []byte) {
	select {
	case c.inbound <- msg:
	default:
		// bounded queue full: drop oldest and retry once.
		select {
		case <-c.inbound:
		default:
		}
		select {
		case c.inbound <- msg:
		default:
			c.logger.Warn("inbound queue full, dropping reassembled message")
		}
	}
}

func (c *Channel) onNCrExpiry() {
	c.mu.Lock()
	if c.rxState != RxReceiving {
		c.mu.Unlock()
		return
	}
	c.logger.Warn("N_Cr expired, aborting reassembly")
	c.rxState = RxIdle
	c.rxBuf = nil
	c.mu.Unlock()
}

// --- timers ---

func (c *Channel) armTxTimerLocked(d time.Duration, fn func()) {
	c.stopTxTimerLocked()
	c.txTimer = time.AfterFunc(d, fn)
}

func (c *Channel) stopTxTimerLocked() {
	if c.txTimer != nil {
		c.txTimer.Stop()
		c.txTimer = nil
	}
}

func (c *Channel) armRxTimerLocked() {
	c.stopRxTimerLocked()
	c.rxTimer = time.AfterFunc(c.cfg.NCr, c.onNCrExpiry)
}

func (c *Channel) stopRxTimerLocked() {
	if c.rxTimer != nil {
		c.rxTimer.Stop()
		c.rxTimer = nil
	}
}

// TxStateValue reports the current transmit state, mainly for tests/diagnostics.
func (c *Channel) TxStateValue() TxState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txState
}

// RxStateValue reports the current receive state.
func (c *Channel) RxStateValue() RxState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rxState
}
