package uds_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alliswell-zy/alliswell-can-uds/pkg/can"
	"github.com/alliswell-zy/alliswell-can-uds/pkg/isotp"
	"github.com/alliswell-zy/alliswell-can-uds/pkg/registry"
	"github.com/alliswell-zy/alliswell-can-uds/pkg/uds"
)

type loopbackBus struct {
	mu   sync.Mutex
	peer can.FrameListener
}

func (b *loopbackBus) Open(can.Config) error { return nil }
func (b *loopbackBus) Close() error          { return nil }
func (b *loopbackBus) Send(frame can.Frame) (can.SendResult, error) {
	b.mu.Lock()
	peer := b.peer
	b.mu.Unlock()
	if peer != nil {
		go peer.Handle(frame)
	}
	return can.SendOK, nil
}
func (b *loopbackBus) Subscribe(l can.FrameListener) error {
	b.mu.Lock()
	b.peer = l
	b.mu.Unlock()
	return nil
}
func (b *loopbackBus) Unsubscribe() error                      { return nil }
func (b *loopbackBus) SubscribeErrors(can.ErrorListener) error { return nil }
func (b *loopbackBus) Stats() can.Stats                        { return can.Stats{} }

func newPair(t *testing.T) (tester *isotp.Channel, ecu *isotp.Channel) {
	t.Helper()
	toTester := &loopbackBus{}
	toECU := &loopbackBus{}

	testerCfg := isotp.DefaultLinkConfig()
	testerCfg.RxID, testerCfg.TxID = 0x7E8, 0x7E0
	tester, err := isotp.NewChannel(toECU, testerCfg)
	require.NoError(t, err)

	ecuCfg := isotp.DefaultLinkConfig()
	ecuCfg.RxID, ecuCfg.TxID = 0x7E0, 0x7E8
	ecu, err = isotp.NewChannel(toTester, ecuCfg)
	require.NoError(t, err)

	require.NoError(t, toTester.Subscribe(can.FrameListenerFunc(tester.OnCANFrame)))
	require.NoError(t, toECU.Subscribe(can.FrameListenerFunc(ecu.OnCANFrame)))
	return tester, ecu
}

func TestReadDataByIdentifierPositive(t *testing.T) {
	testerCh, ecuCh := newPair(t)
	session := uds.NewSession(testerCh)
	session.Start()
	defer session.Stop()

	go func() {
		req, err := ecuCh.RecvMessage(time.Second)
		if err != nil {
			return
		}
		assert.Equal(t, []byte{0x22, 0xF1, 0x81}, req)
		vin := []byte("WBA3A5C50DF1")
		resp := append([]byte{0x62, 0xF1, 0x81}, vin...)
		ecuCh.SendMessage(resp, nil)
	}()

	vin, resp, err := session.ReadDataByIdentifier(0xF181, time.Second)
	require.NoError(t, err)
	assert.True(t, resp.IsPositive())
	assert.Equal(t, "WBA3A5C50DF1", string(vin))
}

func TestResponsePendingRetriesThenSucceeds(t *testing.T) {
	testerCh, ecuCh := newPair(t)
	session := uds.NewSession(testerCh)
	session.Start()
	defer session.Stop()

	go func() {
		req, err := ecuCh.RecvMessage(time.Second)
		if err != nil {
			return
		}
		assert.Equal(t, registry.ServiceID(0x31), registry.ServiceID(req[0]))
		for i := 0; i < 3; i++ {
			ecuCh.SendMessage([]byte{0x7F, 0x31, 0x78}, nil)
			time.Sleep(30 * time.Millisecond)
		}
		ecuCh.SendMessage([]byte{0x71, 0x01, 0xFF, 0x00}, nil)
	}()

	resp, err := session.RoutineControl(0x01, 0xFF00, nil, 200*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, resp.IsPositive())
}

func TestNegativeResponseIsNotAnError(t *testing.T) {
	testerCh, ecuCh := newPair(t)
	session := uds.NewSession(testerCh)
	session.Start()
	defer session.Stop()

	go func() {
		_, err := ecuCh.RecvMessage(time.Second)
		if err != nil {
			return
		}
		ecuCh.SendMessage([]byte{0x7F, 0x22, 0x31}, nil)
	}()

	_, resp, err := session.ReadDataByIdentifier(0xF190, time.Second)
	require.NoError(t, err)
	assert.False(t, resp.IsPositive())
	assert.Equal(t, registry.NRCRequestOutOfRange, resp.NRC)
}

func TestBusyOnConcurrentSameSID(t *testing.T) {
	testerCh, _ := newPair(t)
	session := uds.NewSession(testerCh)
	session.Start()
	defer session.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = session.ReadDataByIdentifier(0xF190, 300*time.Millisecond)
	}()
	time.Sleep(20 * time.Millisecond)
	_, _, err := session.ReadDataByIdentifier(0xF186, 50*time.Millisecond)
	assert.ErrorIs(t, err, uds.ErrBusy)
	<-done
}

func TestSecurityAccessAdvancesLevel(t *testing.T) {
	testerCh, ecuCh := newPair(t)
	session := uds.NewSession(testerCh)
	session.Start()
	defer session.Stop()

	go func() {
		_, err := ecuCh.RecvMessage(time.Second)
		if err != nil {
			return
		}
		ecuCh.SendMessage([]byte{0x67, 0x02}, nil)
	}()

	resp, err := session.SecurityAccess(0x02, []byte{0x11, 0x22, 0x33, 0x44}, time.Second)
	require.NoError(t, err)
	assert.True(t, resp.IsPositive())
	assert.Equal(t, uint8(1), session.SessionInfo().SecurityLevel)
}

func TestSecurityAccessStoresSeedOnOddSubFunction(t *testing.T) {
	testerCh, ecuCh := newPair(t)
	session := uds.NewSession(testerCh)
	session.Start()
	defer session.Stop()

	go func() {
		_, err := ecuCh.RecvMessage(time.Second)
		if err != nil {
			return
		}
		ecuCh.SendMessage([]byte{0x67, 0x01, 0xDE, 0xAD, 0xBE, 0xEF}, nil)
	}()

	resp, err := session.SecurityAccess(0x01, nil, time.Second)
	require.NoError(t, err)
	assert.True(t, resp.IsPositive())
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, session.SessionInfo().Seed)
}

func TestDiagnosticSessionControlUpdatesP2(t *testing.T) {
	testerCh, ecuCh := newPair(t)
	session := uds.NewSession(testerCh)
	session.Start()
	defer session.Stop()

	go func() {
		_, err := ecuCh.RecvMessage(time.Second)
		if err != nil {
			return
		}
		ecuCh.SendMessage([]byte{0x50, 0x03, 0x00, 0x32, 0x01, 0xF4}, nil)
	}()

	resp, err := session.DiagnosticSessionControl(0x03, time.Second)
	require.NoError(t, err)
	assert.True(t, resp.IsPositive())
	info := session.SessionInfo()
	assert.Equal(t, 50*time.Millisecond, info.P2)
	assert.Equal(t, 500*time.Millisecond, info.P2Star)
	assert.Equal(t, uint8(0x03), info.SessionType)
}
