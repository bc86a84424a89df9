// Package executor implements the command-sequencing engine: groups of
// typed commands driven with single-shot or periodic dispatch over a CAN
// channel and a UDS session (spec.md §4.4). Commands with SendOnChange are
// accepted and executed exactly like SendSingle ones; no change detection
// is performed.
package executor

import (
	"fmt"
	"time"

	"github.com/alliswell-zy/alliswell-can-uds/pkg/registry"
)

// CommandType tags which payload variant a Command carries.
type CommandType string

const (
	TypeCAN     CommandType = "can_frame"
	TypeUDS     CommandType = "uds_command"
	TypeWait    CommandType = "wait"
	TypeComment CommandType = "comment"
	TypeScript  CommandType = "script"
)

// SendMode selects how a command is dispatched within its group.
type SendMode string

const (
	SendSingle   SendMode = "single"
	SendPeriodic SendMode = "periodic"
	SendOnChange SendMode = "on_change"
)

// Status is a command's transient execution status.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusStopped Status = "stopped"
)

// CANFramePayload is the payload variant for CommandType TypeCAN.
type CANFramePayload struct {
	ID       uint32
	Extended bool
	FD       bool
	Data     []byte
}

// UDSPayload is the payload variant for CommandType TypeUDS.
type UDSPayload struct {
	ServiceID      registry.ServiceID
	SubFunction    *uint8
	Payload        []byte
	Timeout        time.Duration
	ExpectResponse bool
}

// WaitPayload is the payload variant for CommandType TypeWait.
type WaitPayload struct {
	Duration time.Duration
}

// CommentPayload is the payload variant for CommandType TypeComment.
type CommentPayload struct {
	Text string
}

// ScriptPayload is the payload variant for CommandType TypeScript. Scripts
// are recognized but never evaluated (spec.md §9 open question).
type ScriptPayload struct {
	Source string
}

// Command is a single scheduled or single-shot action within a group. The
// payload variant matching Type is the only non-nil one of CAN/UDS/Wait/
// Comment/Script; Validate enforces this.
type Command struct {
	ID       string
	Name     string
	Type     CommandType
	SendMode SendMode
	Period   time.Duration
	Enabled  bool

	Status     Status
	Executions uint64
	Successes  uint64
	Failures   uint64
	LastRun    time.Time

	CAN     *CANFramePayload
	UDS     *UDSPayload
	Wait    *WaitPayload
	Comment *CommentPayload
	Script  *ScriptPayload
}

// Validate checks that exactly one payload variant is set and it matches Type.
func (c *Command) Validate() error {
	set := 0
	if c.CAN != nil {
		set++
	}
	if c.UDS != nil {
		set++
	}
	if c.Wait != nil {
		set++
	}
	if c.Comment != nil {
		set++
	}
	if c.Script != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("executor: command %q must carry exactly one payload variant, found %d", c.ID, set)
	}
	switch c.Type {
	case TypeCAN:
		if c.CAN == nil {
			return fmt.Errorf("executor: command %q tagged %s but has no CAN payload", c.ID, c.Type)
		}
	case TypeUDS:
		if c.UDS == nil {
			return fmt.Errorf("executor: command %q tagged %s but has no UDS payload", c.ID, c.Type)
		}
	case TypeWait:
		if c.Wait == nil {
			return fmt.Errorf("executor: command %q tagged %s but has no Wait payload", c.ID, c.Type)
		}
	case TypeComment:
		if c.Comment == nil {
			return fmt.Errorf("executor: command %q tagged %s but has no Comment payload", c.ID, c.Type)
		}
	case TypeScript:
		if c.Script == nil {
			return fmt.Errorf("executor: command %q tagged %s but has no Script payload", c.ID, c.Type)
		}
	default:
		return fmt.Errorf("executor: command %q has unknown type %q", c.ID, c.Type)
	}
	return nil
}

// Group is an ordered list of commands replayed repeat_count times.
type Group struct {
	ID             string
	Name           string
	Description    string
	Enabled        bool
	RepeatCount    int // 0 = unbounded
	RepeatInterval time.Duration
	RunInSequence  bool
	Commands       []*Command
}

// Project is an ordered list of groups plus metadata (spec.md §3 "Command
// project").
type Project struct {
	ID          string
	Name        string
	Description string
	Version     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Groups      []*Group
}
