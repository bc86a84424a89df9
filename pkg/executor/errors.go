package executor

import (
	"errors"
	"fmt"

	"github.com/alliswell-zy/alliswell-can-uds/pkg/uds"
)

// Sentinel errors returned by the executor's public contract (spec.md §4.4,
// §7 "Usage" error kind).
var (
	ErrBusy           = errors.New("executor: a project is already running")
	ErrNotRunning     = errors.New("executor: no project is running")
	ErrInvalidCommand = errors.New("executor: invalid command payload")
)

// negativeResponseError marks a UDS command as failed because the ECU
// returned a negative response, per spec.md §4.4 "Success = positive
// response".
type negativeResponseError struct {
	resp uds.Response
}

func (e *negativeResponseError) Error() string {
	return fmt.Sprintf("executor: negative response nrc=0x%02X", uint8(e.resp.NRC))
}
