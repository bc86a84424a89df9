package monitor_test

import (
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alliswell-zy/alliswell-can-uds/pkg/can"
	"github.com/alliswell-zy/alliswell-can-uds/pkg/monitor"
	"github.com/alliswell-zy/alliswell-can-uds/pkg/monitor/sqlitesink"
)

func frame(id uint32, data ...byte) can.Frame {
	f, _ := can.NewFrame(id, data, false)
	return f
}

func TestIngestAppendsToRingAndUpdatesStats(t *testing.T) {
	m := monitor.New(monitor.Config{RingCapacity: 10, QueueCapacity: 10})
	m.Start()
	defer m.Stop()

	m.Ingest(frame(0x100, 0x01, 0x02), monitor.RX, "can0")
	m.Ingest(frame(0x200, 0x03), monitor.TX, "can0")

	require.Eventually(t, func() bool { return m.Stats().Frames == 2 }, time.Second, 5*time.Millisecond)
	stats := m.Stats()
	assert.EqualValues(t, 1, stats.RX)
	assert.EqualValues(t, 1, stats.TX)

	frames := m.GetFrames(0, 0)
	require.Len(t, frames, 2)
	assert.Equal(t, uint32(0x100), frames[0].CAN.ID)
	assert.Equal(t, uint32(0x200), frames[1].CAN.ID)
}

func TestFiltersAndCombine(t *testing.T) {
	m := monitor.New(monitor.Config{RingCapacity: 100, QueueCapacity: 100})
	m.Start()
	defer m.Stop()

	m.SetFilters([]monitor.NamedFilter{
		{Name: "range", Enabled: true, Filter: monitor.IdRange{Lo: 0x100, Hi: 0x1FF}},
		{Name: "pattern", Enabled: true, Filter: monitor.DataPattern{Mask: "01**"}},
	})

	m.Ingest(frame(0x150, 0x01, 0xAB), monitor.RX, "can0") // passes both
	m.Ingest(frame(0x250, 0x01, 0xAB), monitor.RX, "can0") // fails range
	m.Ingest(frame(0x150, 0x02, 0xAB), monitor.RX, "can0") // fails pattern

	require.Eventually(t, func() bool { return m.Stats().Filtered == 2 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, m.Stats().Frames)
	require.Len(t, m.GetFrames(0, 0), 1)
}

func TestRingDropPolicyScenario(t *testing.T) {
	// spec.md §8 scenario 6: ring capacity 100, observer intentionally
	// blocked, 1000 ingested frames leave the ring holding the most recent
	// 100 with a dropped count of 900.
	m := monitor.New(monitor.Config{RingCapacity: 100, QueueCapacity: 2000})
	var blockedOnce sync.Once
	unblock := make(chan struct{})
	m.RegisterObserver(func(monitor.Frame) {
		blockedOnce.Do(func() { <-unblock })
	})
	m.Start()
	defer m.Stop()
	defer close(unblock)

	for i := 0; i < 1000; i++ {
		m.Ingest(frame(uint32(i%0x700), byte(i)), monitor.RX, "can0")
	}

	require.Eventually(t, func() bool { return m.Stats().Frames == 1000 }, 2*time.Second, 5*time.Millisecond)

	frames := m.GetFrames(0, 0)
	assert.Len(t, frames, 100)
	assert.EqualValues(t, 900, m.Stats().RingEvicted)
	assert.Equal(t, byte(999), frames[len(frames)-1].CAN.Data[0])
}

func TestGetFramesNegativeStartIndexFromTail(t *testing.T) {
	m := monitor.New(monitor.Config{RingCapacity: 50, QueueCapacity: 50})
	m.Start()
	defer m.Stop()
	for i := 0; i < 10; i++ {
		m.Ingest(frame(0x1, byte(i)), monitor.RX, "can0")
	}
	require.Eventually(t, func() bool { return m.Stats().Frames == 10 }, time.Second, 5*time.Millisecond)

	tail := m.GetFrames(3, -3)
	require.Len(t, tail, 3)
	assert.Equal(t, byte(7), tail[0].CAN.Data[0])
	assert.Equal(t, byte(9), tail[2].CAN.Data[0])
}

func TestExportWritesRingToFile(t *testing.T) {
	m := monitor.New(monitor.Config{RingCapacity: 50, QueueCapacity: 50})
	m.Start()
	m.Ingest(frame(0x42, 0xAA, 0xBB), monitor.RX, "can0")
	require.Eventually(t, func() bool { return m.Stats().Frames == 1 }, time.Second, 5*time.Millisecond)
	m.Stop()

	path := t.TempDir() + "/export.log"
	require.NoError(t, m.Export(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "x042")
}

func TestStartStopTailingWritesLiveFrames(t *testing.T) {
	m := monitor.New(monitor.Config{RingCapacity: 50, QueueCapacity: 50})
	m.Start()
	defer m.Stop()

	path := t.TempDir() + "/tail.log"
	require.NoError(t, m.StartTailing(path))
	m.Ingest(frame(0x7, 0x01), monitor.RX, "can0")
	require.Eventually(t, func() bool { return m.Stats().Frames == 1 }, time.Second, 5*time.Millisecond)
	m.StopTailing()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "x007")
}

func TestStartTailingWithSqliteSinkPersistsLiveFrames(t *testing.T) {
	m := monitor.New(monitor.Config{RingCapacity: 50, QueueCapacity: 50})
	m.Start()
	defer m.Stop()

	sink, err := sqlitesink.Open(t.TempDir() + "/tail.db")
	require.NoError(t, err)
	require.NoError(t, m.StartTailingWith(sink))

	m.Ingest(frame(0x123, 0x01), monitor.RX, "can0")
	require.Eventually(t, func() bool { return m.Stats().Frames == 1 }, time.Second, 5*time.Millisecond)

	count, err := sink.CountByCANID(0x123)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	m.StopTailing()
}

func TestIngestDropsOldestWhenQueueFull(t *testing.T) {
	m := monitor.New(monitor.Config{RingCapacity: 10, QueueCapacity: 10})
	// Do not Start: processor never drains, so ingress fills to capacity
	// and subsequent Ingest calls must still return immediately, each one
	// dropping the oldest queued frame.
	var done int32
	go func() {
		for i := 0; i < 50; i++ {
			m.Ingest(frame(0x1, byte(i)), monitor.RX, "can0")
		}
		atomic.StoreInt32(&done, 1)
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&done) == 1 }, time.Second, 5*time.Millisecond)

	// Draining the queue now must yield only the 10 most recent frames.
	m.Start()
	defer m.Stop()
	require.Eventually(t, func() bool { return m.Stats().Frames == 10 }, time.Second, 5*time.Millisecond)
	frames := m.GetFrames(0, 0)
	require.Len(t, frames, 10)
	assert.Equal(t, byte(40), frames[0].CAN.Data[0])
	assert.Equal(t, byte(49), frames[9].CAN.Data[0])
}
