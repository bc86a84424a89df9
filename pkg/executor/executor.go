package executor

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/alliswell-zy/alliswell-can-uds/pkg/can"
	"github.com/alliswell-zy/alliswell-can-uds/pkg/uds"
)

// Hooks are the seven observation callbacks the executor invokes
// (spec.md §4.4, §6 "Command-executor hooks"). A nil hook is skipped.
// Callbacks must not block longer than the shortest command period; the
// executor invokes them synchronously on the task that triggered the event.
type Hooks struct {
	OnCommandStarted   func(*Command)
	OnCommandCompleted func(*Command)
	OnCommandFailed    func(*Command, error)
	OnGroupStarted     func(*Group)
	OnGroupCompleted   func(*Group)
	OnProjectStarted   func(*Project)
	OnProjectCompleted func(*Project)
}

// Executor drives a Project's groups and commands over one CAN channel and
// one UDS session (spec.md §4.4 "Command executor").
type Executor struct {
	bus     can.Bus
	session *uds.Session
	hooks   Hooks

	mu        sync.Mutex
	running   bool
	project   *Project
	cancel    context.CancelFunc
	controlWG sync.WaitGroup

	periodicMu sync.Mutex
	periodicWG sync.WaitGroup

	logger *log.Entry
}

// New constructs an Executor bound to a CAN channel and a UDS session.
func New(bus can.Bus, session *uds.Session, hooks Hooks) *Executor {
	return &Executor{
		bus:     bus,
		session: session,
		hooks:   hooks,
		logger:  log.WithField("component", "executor"),
	}
}

// Start begins execution of project on the control task. Returns ErrBusy if
// a project is already running.
func (e *Executor) Start(project *Project) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrBusy
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.running = true
	e.project = project
	e.cancel = cancel
	e.mu.Unlock()

	e.controlWG.Add(1)
	go e.runControl(ctx, project)
	return nil
}

// Stop requests cooperative cancellation, waits for the control task to
// return, then waits up to one second for the periodic tasks to quiesce; if
// they have not joined by then it logs a warning and returns anyway
// (spec.md §4.4 "Cancellation").
func (e *Executor) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrNotRunning
	}
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.controlWG.Wait()

	joined := make(chan struct{})
	go func() {
		e.periodicWG.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(1 * time.Second):
		e.logger.Warn("periodic tasks did not join within join timeout")
	}

	e.mu.Lock()
	e.running = false
	e.project = nil
	e.mu.Unlock()
	return nil
}

// IsRunning reports whether a project is currently executing.
func (e *Executor) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Executor) runControl(ctx context.Context, project *Project) {
	defer e.controlWG.Done()
	e.fireProjectStarted(project)
	for _, group := range project.Groups {
		if ctx.Err() != nil {
			break
		}
		if !group.Enabled {
			continue
		}
		e.runGroup(ctx, group)
	}
	e.fireProjectCompleted(project)
}

func (e *Executor) runGroup(ctx context.Context, group *Group) {
	e.fireGroupStarted(group)
	iterations := 0
	for {
		if ctx.Err() != nil {
			break
		}
		for _, cmd := range group.Commands {
			if ctx.Err() != nil {
				break
			}
			if !cmd.Enabled {
				continue
			}
			e.runCommand(ctx, cmd)
		}
		iterations++
		if group.RepeatCount != 0 && iterations >= group.RepeatCount {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if group.RepeatInterval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(group.RepeatInterval):
			}
		}
	}
	e.fireGroupCompleted(group)
}

func (e *Executor) runCommand(ctx context.Context, cmd *Command) {
	switch cmd.SendMode {
	case SendPeriodic:
		e.spawnPeriodic(ctx, cmd)
	default:
		e.ExecuteOne(ctx, cmd)
	}
}

// spawnPeriodic launches a dedicated periodic task keyed by the command's
// id, looping send-then-sleep until ctx is cancelled (spec.md §4.4).
func (e *Executor) spawnPeriodic(ctx context.Context, cmd *Command) {
	e.periodicWG.Add(1)
	go func() {
		defer e.periodicWG.Done()
		period := cmd.Period
		if period <= 0 {
			period = 100 * time.Millisecond
		}
		for {
			if ctx.Err() != nil {
				return
			}
			e.ExecuteOne(ctx, cmd)
			select {
			case <-ctx.Done():
				return
			case <-time.After(period):
			}
		}
	}()
}

// ExecuteOne fires cmd synchronously and records the outcome. It is exposed
// both for the control task's single-shot path and for ad hoc execution
// outside a running project (spec.md §4.4 `execute_one`).
func (e *Executor) ExecuteOne(ctx context.Context, cmd *Command) {
	if e.hooks.OnCommandStarted != nil {
		e.hooks.OnCommandStarted(cmd)
	}
	cmd.Status = StatusRunning
	err := e.dispatch(ctx, cmd)
	cmd.Executions++
	cmd.LastRun = time.Now()
	if err != nil {
		cmd.Failures++
		cmd.Status = StatusFailed
		if e.hooks.OnCommandFailed != nil {
			e.hooks.OnCommandFailed(cmd, err)
		}
		e.logger.WithError(err).WithField("command", cmd.ID).Debug("command failed")
		return
	}
	cmd.Successes++
	cmd.Status = StatusSuccess
	if e.hooks.OnCommandCompleted != nil {
		e.hooks.OnCommandCompleted(cmd)
	}
}

func (e *Executor) dispatch(ctx context.Context, cmd *Command) error {
	switch cmd.Type {
	case TypeCAN:
		return e.dispatchCAN(cmd)
	case TypeUDS:
		return e.dispatchUDS(cmd)
	case TypeWait:
		return e.dispatchWait(ctx, cmd)
	case TypeComment:
		return nil
	case TypeScript:
		return nil
	default:
		return ErrInvalidCommand
	}
}

func (e *Executor) dispatchCAN(cmd *Command) error {
	p := cmd.CAN
	frame, err := can.NewFrame(p.ID, p.Data, p.FD)
	if err != nil {
		return err
	}
	_, err = e.bus.Send(frame)
	return err
}

func (e *Executor) dispatchUDS(cmd *Command) error {
	p := cmd.UDS
	req := uds.Request{
		ServiceID:                p.ServiceID,
		SubFunction:              p.SubFunction,
		SuppressPositiveResponse: !p.ExpectResponse && p.SubFunction != nil,
		Payload:                  p.Payload,
		Timeout:                  p.Timeout,
	}
	if !p.ExpectResponse {
		return e.session.SendAndForget(req)
	}
	resp, err := e.session.SendRequest(req)
	if err != nil {
		return err
	}
	if !resp.IsPositive() {
		return &negativeResponseError{resp: resp}
	}
	return nil
}

func (e *Executor) dispatchWait(ctx context.Context, cmd *Command) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(cmd.Wait.Duration):
		return nil
	}
}

func (e *Executor) fireProjectStarted(p *Project) {
	if e.hooks.OnProjectStarted != nil {
		e.hooks.OnProjectStarted(p)
	}
}

func (e *Executor) fireProjectCompleted(p *Project) {
	if e.hooks.OnProjectCompleted != nil {
		e.hooks.OnProjectCompleted(p)
	}
}

func (e *Executor) fireGroupStarted(g *Group) {
	if e.hooks.OnGroupStarted != nil {
		e.hooks.OnGroupStarted(g)
	}
}

func (e *Executor) fireGroupCompleted(g *Group) {
	if e.hooks.OnGroupCompleted != nil {
		e.hooks.OnGroupCompleted(g)
	}
}
