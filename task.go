package tacplus

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Accounting argument names from RFC8907 Section 8.3.
const (
	ArgTaskID      = "task_id"
	ArgStartTime   = "start_time"
	ArgStopTime    = "stop_time"
	ArgElapsedTime = "elapsed_time"
)

type taskState uint8

const (
	taskNew taskState = iota
	taskStarted
	taskStopped
)

// AccountingTask follows one accounting record from START through WATCHDOG
// updates to STOP. Every record carries the task id; arguments given to any
// call are remembered and sent again with later records, a newer value
// replacing an older one of the same name.
type AccountingTask struct {
	mu      sync.Mutex
	client  *Client
	req     Request
	id      string
	state   taskState
	started time.Time
	args    []Argument
	now     func() time.Time
}

// NewAccountingTask returns an unstarted task for req.
func (c *Client) NewAccountingTask(req Request) *AccountingTask {
	return &AccountingTask{
		client: c,
		req:    req,
		id:     uuid.NewString(),
		args:   append([]Argument(nil), req.Args...),
		now:    time.Now,
	}
}

// AccountBegin creates a task for req and sends its START record.
func (c *Client) AccountBegin(ctx context.Context, req Request, args ...Argument) (*AccountingTask, *AcctReply, error) {
	task := c.NewAccountingTask(req)

	reply, err := task.Start(ctx, args...)
	if err != nil {
		return nil, nil, err
	}

	return task, reply, nil
}

// ID returns the task id sent as the task_id argument.
func (t *AccountingTask) ID() string {
	return t.id
}

// Started reports whether the server accepted the START record.
func (t *AccountingTask) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == taskStarted
}

// Stopped reports whether the server accepted the STOP record.
func (t *AccountingTask) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == taskStopped
}

// Args returns the accumulated arguments.
func (t *AccountingTask) Args() []Argument {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Argument(nil), t.args...)
}

// Start sends the START record with task_id and start_time. The task counts
// as started once the server answers SUCCESS.
func (t *AccountingTask) Start(ctx context.Context, args ...Argument) (*AcctReply, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case taskStarted:
		return nil, ErrTaskAlreadyStarted
	case taskStopped:
		return nil, ErrTaskStopped
	}

	now := t.now()
	reply, err := t.send(ctx, AcctFlagStart, args, Mandatory(ArgStartTime, unixSeconds(now)))
	if err != nil {
		return nil, err
	}

	if reply.IsSuccess() {
		t.state = taskStarted
		t.started = now
	}

	return reply, nil
}

// Update sends a WATCHDOG record with task_id and elapsed_time.
func (t *AccountingTask) Update(ctx context.Context, args ...Argument) (*AcctReply, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkStartedLocked(); err != nil {
		return nil, err
	}

	elapsed := int64(t.now().Sub(t.started) / time.Second)
	return t.send(ctx, AcctFlagWatchdog, args, Mandatory(ArgElapsedTime, strconv.FormatInt(elapsed, 10)))
}

// End sends the STOP record with task_id and stop_time. The task counts as
// stopped once the server answers SUCCESS.
func (t *AccountingTask) End(ctx context.Context, args ...Argument) (*AcctReply, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkStartedLocked(); err != nil {
		return nil, err
	}

	reply, err := t.send(ctx, AcctFlagStop, args, Mandatory(ArgStopTime, unixSeconds(t.now())))
	if err != nil {
		return nil, err
	}

	if reply.IsSuccess() {
		t.state = taskStopped
	}

	return reply, nil
}

func (t *AccountingTask) checkStartedLocked() error {
	switch t.state {
	case taskNew:
		return ErrTaskNotStarted
	case taskStopped:
		return ErrTaskStopped
	}
	return nil
}

// send remembers args and sends a record whose arguments are task_id, the
// record's time argument and the accumulated arguments.
func (t *AccountingTask) send(ctx context.Context, flags uint8, args []Argument, timeArg Argument) (*AcctReply, error) {
	if err := validateArgs(args); err != nil {
		return nil, err
	}

	accumulated := ReplaceArguments(t.args, args)

	extra := make([]Argument, 0, len(accumulated)+2)
	extra = append(extra, Mandatory(ArgTaskID, t.id), timeArg)
	extra = append(extra, accumulated...)

	req := t.req
	req.Args = nil

	reply, err := t.client.account(ctx, flags, req, extra)
	if err != nil {
		return nil, err
	}

	t.args = accumulated

	return reply, nil
}

func unixSeconds(ts time.Time) string {
	return strconv.FormatInt(ts.Unix(), 10)
}
