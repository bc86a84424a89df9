// Package uds implements the UDS (ISO 14229-1) request/response engine
// layered on pkg/isotp: request correlation, response-pending handling,
// negative-response decoding, session/security state, and periodic
// tester-present keep-alive (spec.md §4.3).
package uds

import (
	"time"

	"github.com/alliswell-zy/alliswell-can-uds/pkg/registry"
)

// Polarity distinguishes a positive from a negative UDS response.
type Polarity uint8

const (
	Positive Polarity = iota
	Negative
)

// Request is a single UDS request (spec.md §3 "UDS request").
type Request struct {
	ServiceID             registry.ServiceID
	SubFunction           *uint8 // nil when the service has no sub-function
	SuppressPositiveResponse bool
	Payload               []byte
	Timeout               time.Duration
	ExpectResponse        bool
}

// Response is a single UDS response (spec.md §3 "UDS response").
type Response struct {
	ServiceID   registry.ServiceID // unmasked
	SubFunction *uint8
	Payload     []byte
	Polarity    Polarity
	NRC         registry.NRC // valid only when Polarity == Negative
	Arrived     time.Time
	Request     Request
}

// IsPositive reports whether the response is the positive form.
func (r Response) IsPositive() bool { return r.Polarity == Positive }

// State is the UDS session state (spec.md §3 "UDS session state").
type State struct {
	SessionType   uint8
	SecurityLevel uint8
	Seed          []byte // seed returned by the last odd-sub-function security_access
	P2            time.Duration
	P2Star        time.Duration
	EnteredAt     time.Time
}

// encode renders byte 0 = SID, then sub-function (with suppress bit) if
// present, then payload, per spec.md §6.
func (r Request) encode() []byte {
	out := make([]byte, 0, 2+len(r.Payload))
	out = append(out, byte(r.ServiceID))
	if r.SubFunction != nil {
		sf := *r.SubFunction & 0x7F
		if r.SuppressPositiveResponse {
			sf |= 0x80
		}
		out = append(out, sf)
	}
	out = append(out, r.Payload...)
	return out
}
