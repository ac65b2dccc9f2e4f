package orchestrator

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/relaycommander/rc-agent/internal/protocol"
)

// State is the lifecycle position of one registry entry.
type State int

const (
	Dispatched State = iota
	Running
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case Dispatched:
		return "dispatched"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == Completed || s == Aborted }

// Event drives a State change.
type Event int

const (
	// Launched: the unit of work is executing.
	Launched Event = iota
	// Exited: the unit finished on its own.
	Exited
	// Reaped: the unit finished after it was asked to stop.
	Reaped
	// Cancelled: the unit never started.
	Cancelled
)

func (e Event) String() string {
	switch e {
	case Launched:
		return "launched"
	case Exited:
		return "exited"
	case Reaped:
		return "reaped"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// ErrInvalidTransition is returned by Transition for an event the state does not accept.
var ErrInvalidTransition = errors.New("orchestrator: invalid state transition")

// Transition returns the state reached from s on e.
//
//	Dispatched --Launched--> Running
//	Dispatched --Cancelled--> Aborted
//	Running    --Exited--> Completed
//	Running    --Reaped--> Aborted
//
// Completed and Aborted are terminal.
func Transition(s State, e Event) (State, error) {
	switch {
	case s == Dispatched && e == Launched:
		return Running, nil
	case s == Dispatched && e == Cancelled:
		return Aborted, nil
	case s == Running && e == Exited:
		return Completed, nil
	case s == Running && e == Reaped:
		return Aborted, nil
	}
	return s, errors.Wrapf(ErrInvalidTransition, "%s on %s", e, s)
}

// Harvest turns a finished unit into its result: exit code 0 reports the
// success stream, the aborted status reports nothing and any other code
// reports the error stream.
func Harvest(id string, code int, stdout, stderr string) protocol.TaskResult {
	res := protocol.TaskResult{ID: id, Status: code}
	switch code {
	case 0:
		res.Result = stdout
	case protocol.AbortedStatus:
	default:
		res.Result = stderr
	}
	return res
}
