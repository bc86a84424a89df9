package monitor

import (
	"fmt"
	"os"
	"sync"
)

// Sink is anything the monitor pipeline can durably write passing frames
// to: the plain append-only FileSink, or an alternative backend such as
// sqlitesink.Sink. Tailing (spec.md §4.5 start_tailing) works against this
// interface through Monitor.StartTailingWith, so a pluggable backend can
// stand in for the file sink without the monitor package depending on it.
// Export always writes through a FileSink.
type Sink interface {
	Write(Frame) error
	Close() error
}

// FileSink is the plain append-only file sink spec.md §4.5 export/tailing
// writes through. One line per frame, grounded on the teacher's own
// plain-text CAN trace logging idiom (Frame.String()).
type FileSink struct {
	mu sync.Mutex
	f  *os.File
}

// OpenFileSink opens path for append, creating it if necessary.
func OpenFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileSink{f: f}, nil
}

// Write appends one rendered line for frame.
func (s *FileSink) Write(frame Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.f, "%s %s %s %s\n",
		frame.Ingested.Format("2006-01-02T15:04:05.000000"),
		frame.Direction, frame.Source, frame.CAN.String())
	return err
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
