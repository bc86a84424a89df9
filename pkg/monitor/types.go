// Package monitor implements the frame-monitor/filter pipeline that
// observes a CAN channel independently of whichever upper layer produced
// or consumed a frame (spec.md §4.5 "Monitor pipeline").
package monitor

import (
	"time"

	"github.com/alliswell-zy/alliswell-can-uds/pkg/can"
)

// Direction tags whether a monitor frame was received or transmitted.
type Direction uint8

const (
	RX Direction = iota
	TX
)

func (d Direction) String() string {
	if d == TX {
		return "tx"
	}
	return "rx"
}

// Frame is a captured CAN frame plus the direction it travelled and an
// opaque tag naming which layer produced it (spec.md §3 "Monitor frame").
type Frame struct {
	CAN       can.Frame
	Direction Direction
	Source    string
	Ingested  time.Time
}

// DisplayConfig is a rendering preference that the monitor stores and hands
// back through Monitor.DisplayConfig for consumers to read. Export and
// tailing through FileSink do not consult it, and it has no effect on
// filtering or statistics.
type DisplayConfig struct {
	ShowTimestamps bool
	ShowSource     bool
	PayloadHexSpaced bool
}

// DefaultDisplayConfig mirrors the teacher's own CAN-frame log rendering:
// timestamps and source shown, hex bytes space separated.
func DefaultDisplayConfig() DisplayConfig {
	return DisplayConfig{ShowTimestamps: true, ShowSource: true, PayloadHexSpaced: true}
}
