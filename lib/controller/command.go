package controller

// Action identifies what a Command asks the controller to do.
type Action int

const (
	ActionQueue Action = iota
	ActionStop
	ActionExtract
	ActionDeleteLocal
	ActionDeleteRemote
)

func (a Action) String() string {
	switch a {
	case ActionQueue:
		return "Queue"
	case ActionStop:
		return "Stop"
	case ActionExtract:
		return "Extract"
	case ActionDeleteLocal:
		return "DeleteLocal"
	case ActionDeleteRemote:
		return "DeleteRemote"
	default:
		return "Unknown"
	}
}

// Callback is notified exactly once when its Command resolves, in the tick
// that dispatched it (spec.md P5). Implementations must not block — the
// callback runs in the reconciliation loop's goroutine.
type Callback interface {
	OnSuccess()
	OnFailure(msg string)
}

// Command is a client's request to act on one named file. It is enqueued by
// any goroutine and drained, resolved, and discarded by the reconciliation
// loop in a single tick — it is never requeued.
type Command struct {
	Action   Action
	Filename string

	callbacks []Callback
}

// NewCommand returns a Command with no callbacks attached yet.
func NewCommand(action Action, filename string) *Command {
	return &Command{Action: action, Filename: filename}
}

// AddCallback attaches cb; it will receive exactly one OnSuccess/OnFailure
// call when the command resolves.
func (c *Command) AddCallback(cb Callback) {
	c.callbacks = append(c.callbacks, cb)
}

func (c *Command) notifySuccess() {
	for _, cb := range c.callbacks {
		cb.OnSuccess()
	}
}

func (c *Command) notifyFailure(msg string) {
	for _, cb := range c.callbacks {
		cb.OnFailure(msg)
	}
}

// CallbackFunc adapts a pair of plain functions into a Callback, for
// clients (tests, simple CLI commands) that don't need a named type.
type CallbackFunc struct {
	Success func()
	Failure func(msg string)
}

func (f CallbackFunc) OnSuccess() {
	if f.Success != nil {
		f.Success()
	}
}

func (f CallbackFunc) OnFailure(msg string) {
	if f.Failure != nil {
		f.Failure(msg)
	}
}
