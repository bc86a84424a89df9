package gateway_test

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alliswell-zy/alliswell-can-uds/pkg/can"
	"github.com/alliswell-zy/alliswell-can-uds/pkg/executor"
	"github.com/alliswell-zy/alliswell-can-uds/pkg/gateway"
	"github.com/alliswell-zy/alliswell-can-uds/pkg/monitor"
)

type discardBus struct{}

func (discardBus) Open(can.Config) error                       { return nil }
func (discardBus) Close() error                                { return nil }
func (discardBus) Send(can.Frame) (can.SendResult, error)       { return can.SendOK, nil }
func (discardBus) Subscribe(can.FrameListener) error            { return nil }
func (discardBus) Unsubscribe() error                           { return nil }
func (discardBus) SubscribeErrors(can.ErrorListener) error      { return nil }
func (discardBus) Stats() can.Stats                             { return can.Stats{} }

func newReader(b []byte) io.Reader { return bytes.NewReader(b) }

func TestMonitorStatsEndpoint(t *testing.T) {
	m := monitor.New(monitor.Config{RingCapacity: 10, QueueCapacity: 10})
	m.Start()
	defer m.Stop()
	ex := executor.New(discardBus{}, nil, executor.Hooks{})

	srv := httptest.NewServer(gateway.NewServer(m, ex).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/monitor/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExecutorStartStopEndpoints(t *testing.T) {
	m := monitor.New(monitor.Config{RingCapacity: 10, QueueCapacity: 10})
	m.Start()
	defer m.Stop()
	ex := executor.New(discardBus{}, nil, executor.Hooks{})

	srv := httptest.NewServer(gateway.NewServer(m, ex).Handler())
	defer srv.Close()

	project := &executor.Project{
		ID: "p1",
		Groups: []*executor.Group{
			{
				ID:          "g1",
				Enabled:     true,
				RepeatCount: 0,
				Commands: []*executor.Command{
					{
						ID:       "tick",
						Type:     executor.TypeCAN,
						SendMode: executor.SendPeriodic,
						Period:   10 * time.Millisecond,
						Enabled:  true,
						CAN:      &executor.CANFramePayload{ID: 0x1, Data: []byte{0x01}},
					},
				},
			},
		},
	}
	body, err := executor.Save(project)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/executor/start", "application/json", newReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/executor/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, ex.IsRunning())

	resp, err = http.Post(srv.URL+"/executor/start", "application/json", newReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/executor/stop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, ex.IsRunning())
}
