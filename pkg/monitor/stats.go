package monitor

import (
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of monitor counters (spec.md §4.5
// "Statistics"). Rates are instantaneous (total / uptime), not windowed.
type Stats struct {
	Frames   uint64
	RX       uint64
	TX       uint64
	Error    uint64
	Filtered uint64

	RingOccupancy int
	RingCapacity  int
	RingEvicted   uint64

	FramesPerSecond float64
	Uptime          time.Duration
}

type statsCounters struct {
	mu        sync.Mutex
	frames    uint64
	rx        uint64
	tx        uint64
	errors    uint64
	filtered  uint64
	startedAt time.Time
}

func newStatsCounters() *statsCounters {
	return &statsCounters{startedAt: time.Now()}
}

func (s *statsCounters) recordPassed(f Frame, isError bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	if isError {
		s.errors++
	}
	switch f.Direction {
	case RX:
		s.rx++
	case TX:
		s.tx++
	}
}

func (s *statsCounters) recordFiltered() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filtered++
}

func (s *statsCounters) snapshot(r *ring) Stats {
	s.mu.Lock()
	frames, rx, tx, errs, filtered, startedAt := s.frames, s.rx, s.tx, s.errors, s.filtered, s.startedAt
	s.mu.Unlock()

	uptime := time.Since(startedAt)
	rate := 0.0
	if uptime > 0 {
		rate = float64(frames) / uptime.Seconds()
	}
	return Stats{
		Frames:          frames,
		RX:              rx,
		TX:              tx,
		Error:           errs,
		Filtered:        filtered,
		RingOccupancy:   r.len(),
		RingCapacity:    len(r.buf),
		RingEvicted:     r.evictedCount(),
		FramesPerSecond: rate,
		Uptime:          uptime,
	}
}
