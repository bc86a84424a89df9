package uds

import "errors"

// Sentinel errors returned by the session engine's request paths
// (spec.md §4.3 "Failure semantics", §7).
var (
	ErrBusy             = errors.New("uds: request already outstanding for this service id")
	ErrTimeout          = errors.New("uds: response timeout")
	ErrTransportFailed  = errors.New("uds: transport failure")
	ErrMalformed        = errors.New("uds: malformed response discarded")
	ErrSessionNotRunning = errors.New("uds: session not started")
)
