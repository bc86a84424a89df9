package uds

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/alliswell-zy/alliswell-can-uds/pkg/isotp"
	"github.com/alliswell-zy/alliswell-can-uds/pkg/registry"
)

// pending is the correlation record for one outstanding send_request call.
type pending struct {
	ch chan Response
}

// Session is the UDS engine atop one ISO-TP channel. One Session owns
// exactly one ISO-TP channel (spec.md §3 lifecycle).
type Session struct {
	channel *isotp.Channel

	mu       sync.Mutex
	outstanding map[registry.ServiceID]*pending
	state    State

	keepAliveCancel context.CancelFunc
	keepAliveWG     sync.WaitGroup

	stopCh  chan struct{}
	readWG  sync.WaitGroup
	started bool

	logger *log.Entry
}

// NewSession constructs a Session bound to channel. It does not start the
// response reader; call Start.
func NewSession(channel *isotp.Channel) *Session {
	return &Session{
		channel:     channel,
		outstanding: make(map[registry.ServiceID]*pending),
		state:       State{P2: isotp.DefaultP2, P2Star: isotp.DefaultP2Star},
		logger:      log.WithField("component", "uds"),
	}
}

// Start launches the background response reader task.
func (s *Session) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.readWG.Add(1)
	go s.readLoop()
}

// Stop halts the response reader and any keep-alive task.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()
	s.readWG.Wait()
	s.StopKeepAlive()
}

func (s *Session) readLoop() {
	defer s.readWG.Done()
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		msg, err := s.channel.RecvMessage(200 * time.Millisecond)
		if err != nil {
			continue
		}
		s.dispatch(msg)
	}
}

// classify implements spec.md §4.3 "Response classification".
func classify(msg []byte) (sid registry.ServiceID, sub *uint8, payload []byte, polarity Polarity, nrc registry.NRC, ok bool) {
	if len(msg) == 0 {
		return 0, nil, nil, 0, 0, false
	}
	if msg[0] == 0x7F {
		if len(msg) < 3 {
			return 0, nil, nil, 0, 0, false
		}
		return registry.ServiceID(msg[1]), nil, nil, Negative, registry.NRC(msg[2]), true
	}
	if msg[0]&0x40 == 0x40 {
		effectiveSID := registry.ServiceID(msg[0] - 0x40)
		rest := msg[1:]
		var subPtr *uint8
		info, known := registry.Service(effectiveSID)
		if known && info.HasSubFunction && len(rest) > 0 {
			sf := rest[0]
			subPtr = &sf
			rest = rest[1:]
		}
		return effectiveSID, subPtr, append([]byte(nil), rest...), Positive, 0, true
	}
	return 0, nil, nil, 0, 0, false
}

func (s *Session) dispatch(msg []byte) {
	sid, sub, payload, polarity, nrc, ok := classify(msg)
	if !ok {
		s.logger.WithField("bytes", msg).Debug("discarding malformed response")
		return
	}
	resp := Response{
		ServiceID:   sid,
		SubFunction: sub,
		Payload:     payload,
		Polarity:    polarity,
		NRC:         nrc,
		Arrived:     time.Now(),
	}

	s.mu.Lock()
	p, found := s.outstanding[sid]
	s.mu.Unlock()
	if !found {
		s.logger.WithField("sid", sid).Debug("discarding unsolicited response")
		return
	}
	select {
	case p.ch <- resp:
	default:
	}
}

// SendRequest encodes request, hands it to ISO-TP, and awaits a correlated
// response within timeout. A 0x78 response-pending negative response does
// not fail the call: the wait restarts with P2Star and repeats indefinitely
// so long as pending responses keep arriving (spec.md §4.3).
func (s *Session) SendRequest(req Request) (Response, error) {
	s.mu.Lock()
	if _, busy := s.outstanding[req.ServiceID]; busy {
		s.mu.Unlock()
		return Response{}, ErrBusy
	}
	p := &pending{ch: make(chan Response, 4)}
	s.outstanding[req.ServiceID] = p
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.outstanding, req.ServiceID)
		s.mu.Unlock()
	}()

	doneCh := make(chan isotp.DoneStatus, 1)
	status := s.channel.SendMessage(req.encode(), func(st isotp.DoneStatus) { doneCh <- st })
	switch status {
	case isotp.SendBusy:
		return Response{}, ErrBusy
	case isotp.SendTooLarge:
		return Response{}, ErrTransportFailed
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = isotp.DefaultP2
	}

	for {
		timer := time.NewTimer(timeout)
		select {
		case resp := <-p.ch:
			timer.Stop()
			if resp.Polarity == Negative && resp.NRC == registry.NRCRequestCorrectlyReceivedResponsePending {
				timeout = s.p2Star()
				continue
			}
			resp.Request = req
			s.applyStateSideEffects(req, resp)
			return resp, nil
		case doneStatus := <-doneCh:
			timer.Stop()
			if doneStatus != isotp.DoneSuccess {
				return Response{}, ErrTransportFailed
			}
			doneCh = nil // already consumed; keep waiting on p.ch only
		case <-timer.C:
			return Response{}, ErrTimeout
		}
	}
}

func (s *Session) p2Star() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.P2Star
}

// SendAndForget sets the suppress-positive-response bit when the service
// has a sub-function, hands the request to ISO-TP, and returns without
// waiting for any response.
func (s *Session) SendAndForget(req Request) error {
	req.SuppressPositiveResponse = req.SubFunction != nil
	status := s.channel.SendMessage(req.encode(), nil)
	switch status {
	case isotp.SendBusy:
		return ErrBusy
	case isotp.SendTooLarge:
		return ErrTransportFailed
	}
	return nil
}

// SessionInfo returns a snapshot of the current session state.
func (s *Session) SessionInfo() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// applyStateSideEffects implements spec.md §4.3 "State side effects".
func (s *Session) applyStateSideEffects(req Request, resp Response) {
	if resp.Polarity != Positive {
		return
	}
	switch req.ServiceID {
	case registry.DiagnosticSessionControl:
		if len(resp.Payload) >= 4 {
			s.mu.Lock()
			s.state.P2 = time.Duration(binary.BigEndian.Uint16(resp.Payload[0:2])) * time.Millisecond
			s.state.P2Star = time.Duration(binary.BigEndian.Uint16(resp.Payload[2:4])) * time.Millisecond
			if resp.SubFunction != nil {
				s.state.SessionType = *resp.SubFunction
			}
			s.state.EnteredAt = time.Now()
			s.mu.Unlock()
		}
	case registry.SecurityAccess:
		if resp.SubFunction == nil {
			return
		}
		sf := *resp.SubFunction
		s.mu.Lock()
		if sf%2 == 0 {
			s.state.SecurityLevel = sf / 2
		} else {
			s.state.Seed = append([]byte(nil), resp.Payload...)
		}
		s.mu.Unlock()
	}
}

// StartKeepAlive starts a background task issuing a suppressed
// tester_present every period, until StopKeepAlive is called.
func (s *Session) StartKeepAlive(period time.Duration) {
	s.StopKeepAlive()
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.keepAliveCancel = cancel
	s.mu.Unlock()

	s.keepAliveWG.Add(1)
	go func() {
		defer s.keepAliveWG.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sf := uint8(0x00)
				if err := s.SendAndForget(Request{ServiceID: registry.TesterPresent, SubFunction: &sf}); err != nil {
					s.logger.WithError(err).Debug("keep-alive tester-present failed")
				}
			}
		}
	}()
}

// StopKeepAlive stops the keep-alive task if running.
func (s *Session) StopKeepAlive() {
	s.mu.Lock()
	cancel := s.keepAliveCancel
	s.keepAliveCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		s.keepAliveWG.Wait()
	}
}
