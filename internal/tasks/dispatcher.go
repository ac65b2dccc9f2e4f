package tasks

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/relaycommander/rc-agent/internal/orchestrator"
	"github.com/relaycommander/rc-agent/internal/protocol"
)

// Start delay bounds used when a task's own bounds are inverted.
const (
	DefaultMinDelay = 0
	DefaultMaxDelay = 500
)

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Shell ShellOptions
	Probe ProbeOptions
	// DefaultMinDelay and DefaultMaxDelay are in milliseconds.
	DefaultMinDelay uint32
	DefaultMaxDelay uint32
	Logger          *zap.Logger
}

// Dispatcher hands parsed tasks to the orchestrator.
type Dispatcher struct {
	orch   *orchestrator.Orchestrator
	opts   DispatcherOptions
	log    *zap.Logger
	launch func(ShellOptions, string) (orchestrator.Process, error)
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewDispatcher returns a Dispatcher feeding orch.
func NewDispatcher(orch *orchestrator.Orchestrator, opts DispatcherOptions) *Dispatcher {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.DefaultMinDelay == 0 && opts.DefaultMaxDelay == 0 {
		opts.DefaultMinDelay, opts.DefaultMaxDelay = DefaultMinDelay, DefaultMaxDelay
	}
	return &Dispatcher{
		orch: orch,
		opts: opts,
		log:  log.Named("dispatcher"),
		launch: func(o ShellOptions, command string) (orchestrator.Process, error) {
			p, err := StartShell(o, command)
			if err != nil {
				return nil, err
			}
			return p, nil
		},
		sleep: sleepContext,
	}
}

// StartDelay picks the jitter applied before a task starts. Equal bounds mean
// no delay; inverted bounds fall back to the defaults.
func StartDelay(minMs, maxMs, defMin, defMax uint32) time.Duration {
	switch {
	case minMs == maxMs:
		return 0
	case minMs > maxMs:
		minMs, maxMs = defMin, defMax
		if minMs >= maxMs {
			return time.Duration(minMs) * time.Millisecond
		}
	}
	ms := minMs + rand.N(maxMs-minMs)
	return time.Duration(ms) * time.Millisecond
}

// Dispatch waits the task's start delay and then starts it. Unknown kinds
// and spawn failures are returned; the task is not registered in either case.
func (d *Dispatcher) Dispatch(ctx context.Context, task protocol.Task) error {
	kind, err := Parse(task)
	if err != nil {
		return err
	}

	delay := StartDelay(task.MinDelay, task.MaxDelay, d.opts.DefaultMinDelay, d.opts.DefaultMaxDelay)
	if err := d.sleep(ctx, delay); err != nil {
		return err
	}

	log := d.log.With(zap.String("task", task.ID), zap.String("kind", kind.kindName()))
	switch k := kind.(type) {
	case Shell:
		log.Debug("starting shell command")
		return d.orch.Spawn(task.ID, func() (orchestrator.Process, error) {
			return d.launch(d.opts.Shell, k.Command)
		})
	case Abort:
		if len(k.IDs) == 0 {
			log.Info("aborting all tasks")
			d.orch.AbortAll()
			return nil
		}
		for _, id := range k.IDs {
			d.orch.Abort(id)
		}
		return nil
	case PortProbe:
		log.Debug("starting port probe", zap.Strings("hosts", k.Hosts), zap.Int("ports", len(k.Ports)))
		return d.orch.Detach(task.ID, func(ctx context.Context) protocol.TaskResult {
			return RunProbe(ctx, k, d.opts.Probe)
		})
	default:
		return errors.Errorf("no handler for task kind %T", kind)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
