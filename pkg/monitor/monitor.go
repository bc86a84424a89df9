package monitor

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/alliswell-zy/alliswell-can-uds/pkg/can"
)

// Config sizes the monitor's ring and ingress queue (spec.md §3 "Monitor
// ring").
type Config struct {
	RingCapacity  int
	QueueCapacity int
}

// DefaultConfig returns the spec's default capacities of 10000.
func DefaultConfig() Config {
	return Config{RingCapacity: 10000, QueueCapacity: 10000}
}

// Monitor is the frame-monitor/filter pipeline: a bounded ingress queue feeds
// a processor task that filters and appends to a ring buffer; a separate
// consumer task delivers passing frames to a registered observer (spec.md
// §4.5).
type Monitor struct {
	cfg Config

	ring  *ring
	stats *statsCounters

	filterMu sync.RWMutex
	filters  []NamedFilter

	displayMu sync.Mutex
	display   DisplayConfig

	observerMu sync.Mutex
	observer   func(Frame)

	tailMu sync.Mutex
	tail   Sink

	ingress       chan Frame
	observerQueue chan Frame
	stopCh        chan struct{}
	wg            sync.WaitGroup
	runMu         sync.Mutex
	running       bool

	logger *log.Entry
}

// New constructs a Monitor with the given capacities.
func New(cfg Config) *Monitor {
	if cfg.RingCapacity <= 0 {
		cfg.RingCapacity = 10000
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 10000
	}
	return &Monitor{
		cfg:           cfg,
		ring:          newRing(cfg.RingCapacity),
		stats:         newStatsCounters(),
		display:       DefaultDisplayConfig(),
		ingress:       make(chan Frame, cfg.QueueCapacity),
		observerQueue: make(chan Frame, cfg.QueueCapacity),
		logger:        log.WithField("component", "monitor"),
	}
}

// Start launches the processor and observer consumer tasks.
func (m *Monitor) Start() {
	m.runMu.Lock()
	if m.running {
		m.runMu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.runMu.Unlock()

	m.wg.Add(2)
	go m.processLoop()
	go m.observeLoop()
}

// Stop halts both tasks and closes any active tailing sink.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.runMu.Unlock()
	m.wg.Wait()
	m.StopTailing()
}

// Ingest enqueues frame; never blocks. If the ingress queue is full, the
// oldest queued entry is dropped to make room (spec.md §4.5 `ingest`).
func (m *Monitor) Ingest(frame can.Frame, direction Direction, source string) {
	mf := Frame{CAN: frame, Direction: direction, Source: source, Ingested: time.Now()}
	select {
	case m.ingress <- mf:
		return
	default:
	}
	select {
	case <-m.ingress:
	default:
	}
	select {
	case m.ingress <- mf:
	default:
		m.logger.Warn("ingress queue contended, dropping frame")
	}
}

func (m *Monitor) processLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case frame := <-m.ingress:
			m.process(frame)
		}
	}
}

func (m *Monitor) process(frame Frame) {
	m.filterMu.RLock()
	filters := m.filters
	m.filterMu.RUnlock()

	if !matchAll(filters, frame) {
		m.stats.recordFiltered()
		return
	}

	isError := frame.CAN.Flags&can.FlagError != 0
	m.stats.recordPassed(frame, isError)
	m.ring.append(frame)

	m.tailMu.Lock()
	sink := m.tail
	m.tailMu.Unlock()
	if sink != nil {
		if err := sink.Write(frame); err != nil {
			m.logger.WithError(err).Warn("tail sink write failed")
		}
	}

	select {
	case m.observerQueue <- frame:
	default:
		m.logger.Debug("observer queue full, dropping frame for observer")
	}
}

func (m *Monitor) observeLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case frame := <-m.observerQueue:
			m.observerMu.Lock()
			obs := m.observer
			m.observerMu.Unlock()
			if obs != nil {
				obs(frame)
			}
		}
	}
}

// SetFilters replaces the active filter set (spec.md §4.5 `set_filters`).
func (m *Monitor) SetFilters(filters []NamedFilter) {
	m.filterMu.Lock()
	defer m.filterMu.Unlock()
	m.filters = append([]NamedFilter(nil), filters...)
}

// Filters returns a copy of the active filter set.
func (m *Monitor) Filters() []NamedFilter {
	m.filterMu.RLock()
	defer m.filterMu.RUnlock()
	return append([]NamedFilter(nil), m.filters...)
}

// SetDisplayConfig replaces the display configuration (spec.md §4.5
// `set_display_config`).
func (m *Monitor) SetDisplayConfig(cfg DisplayConfig) {
	m.displayMu.Lock()
	defer m.displayMu.Unlock()
	m.display = cfg
}

// DisplayConfig returns the current display configuration.
func (m *Monitor) DisplayConfig() DisplayConfig {
	m.displayMu.Lock()
	defer m.displayMu.Unlock()
	return m.display
}

// RegisterObserver sets the callback invoked for each frame that passes the
// filter set. A nil callback disables delivery.
func (m *Monitor) RegisterObserver(observer func(Frame)) {
	m.observerMu.Lock()
	defer m.observerMu.Unlock()
	m.observer = observer
}

// GetFrames returns a snapshot of the ring (spec.md §4.5 `get_frames`).
func (m *Monitor) GetFrames(count int, startIndex int) []Frame {
	return m.ring.snapshot(count, startIndex)
}

// Stats returns a point-in-time statistics snapshot.
func (m *Monitor) Stats() Stats {
	return m.stats.snapshot(m.ring)
}

// Export writes every retained frame to path via a FileSink (spec.md §4.5
// `export`).
func (m *Monitor) Export(path string) error {
	sink, err := OpenFileSink(path)
	if err != nil {
		return err
	}
	defer sink.Close()
	for _, frame := range m.ring.snapshot(0, 0) {
		if err := sink.Write(frame); err != nil {
			return err
		}
	}
	return nil
}

// StartTailing opens path as a plain FileSink and writes every frame that
// passes the filter set to it as it arrives (spec.md §4.5 `start_tailing`).
func (m *Monitor) StartTailing(path string) error {
	sink, err := OpenFileSink(path)
	if err != nil {
		return err
	}
	return m.StartTailingWith(sink)
}

// StartTailingWith installs an already-opened Sink as the active tailing
// destination, closing any previous one. It is how a caller substitutes an
// alternative backend, such as sqlitesink.Sink, for the plain FileSink
// (spec.md §4.5 `start_tailing`, SPEC_FULL sqlite sink supplement).
func (m *Monitor) StartTailingWith(sink Sink) error {
	m.tailMu.Lock()
	old := m.tail
	m.tail = sink
	m.tailMu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// StopTailing closes the active tailing sink, if any.
func (m *Monitor) StopTailing() {
	m.tailMu.Lock()
	sink := m.tail
	m.tail = nil
	m.tailMu.Unlock()
	if sink != nil {
		sink.Close()
	}
}
