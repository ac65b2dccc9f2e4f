// Package orchestrator tracks in-flight tasks. Process-backed tasks are polled
// for completion; detached tasks push their result when they finish. Both
// share one id space guarded by a single mutex that is never held across
// process or network I/O.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	metrics "github.com/rcrowley/go-metrics"
	"go.uber.org/zap"

	"github.com/relaycommander/rc-agent/internal/protocol"
)

var (
	// ErrProcessSpawnFailed means the launcher could not start the task.
	// The task is not registered.
	ErrProcessSpawnFailed = errors.New("orchestrator: process spawn failed")
	// ErrDuplicateTask means the id is already running or has a queued result.
	ErrDuplicateTask = errors.New("orchestrator: duplicate task id")
)

// Process is an externally executing unit of work.
type Process interface {
	// TryWait reports the exit code without blocking.
	TryWait() (code int, exited bool)
	// Output returns the captured success and error streams.
	Output() (stdout, stderr string)
	// Kill stops the process forcefully.
	Kill() error
}

// Launcher starts a Process.
type Launcher func() (Process, error)

// DetachedFunc is a background handler. It should return promptly once ctx is done.
type DetachedFunc func(ctx context.Context) protocol.TaskResult

type entry struct {
	state   State
	proc    Process
	cancel  context.CancelFunc
	killed  bool
	started time.Time
}

// Orchestrator owns the task registry.
type Orchestrator struct {
	log   *zap.Logger
	stats *stats

	mu      sync.Mutex
	running map[string]*entry
	queue   []protocol.TaskResult
	queued  map[string]struct{}
}

// New creates an empty registry. A nil registry gets a private one.
func New(log *zap.Logger, reg metrics.Registry) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	o := &Orchestrator{
		log:     log.Named("orchestrator"),
		stats:   newStats(reg),
		running: make(map[string]*entry),
		queued:  make(map[string]struct{}),
	}
	return o
}

// reserve registers id as Dispatched. Callers hold the lock.
func (o *Orchestrator) reserve(id string) (*entry, error) {
	if _, ok := o.running[id]; ok {
		return nil, errors.Wrap(ErrDuplicateTask, id)
	}
	if _, ok := o.queued[id]; ok {
		return nil, errors.Wrap(ErrDuplicateTask, id)
	}
	e := &entry{state: Dispatched, started: time.Now()}
	o.running[id] = e
	o.stats.running.Update(int64(len(o.running)))
	return e, nil
}

// Spawn launches a process-backed task and tracks it under id. The launcher
// runs outside the registry lock. An abort that arrives while the launcher
// runs kills the process as soon as it exists.
func (o *Orchestrator) Spawn(id string, launch Launcher) error {
	o.mu.Lock()
	e, err := o.reserve(id)
	o.mu.Unlock()
	if err != nil {
		return err
	}

	proc, err := launch()
	if err == nil && proc == nil {
		err = errors.New("launcher returned no process")
	}

	o.mu.Lock()
	if err != nil {
		delete(o.running, id)
		o.stats.running.Update(int64(len(o.running)))
		o.mu.Unlock()
		o.stats.spawnFailures.Inc(1)
		o.log.Warn("spawn failed", zap.String("task", id), zap.Error(err))
		return errors.Wrapf(ErrProcessSpawnFailed, "task %s: %v", id, err)
	}
	e.proc = proc
	e.state, _ = Transition(e.state, Launched)
	killed := e.killed
	o.mu.Unlock()

	o.stats.spawned.Inc(1)
	o.log.Debug("task spawned", zap.String("task", id))
	if killed {
		o.kill(id, proc)
	}
	return nil
}

// Detach runs fn on its own goroutine under id. Its result is queued exactly
// once when fn returns. If the task was aborted meanwhile the result carries
// the aborted status and no payload.
func (o *Orchestrator) Detach(id string, fn DetachedFunc) error {
	ctx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	e, err := o.reserve(id)
	if err != nil {
		o.mu.Unlock()
		cancel()
		return err
	}
	e.cancel = cancel
	e.state, _ = Transition(e.state, Launched)
	o.mu.Unlock()

	o.stats.detached.Inc(1)
	go func() {
		defer cancel()
		res := fn(ctx)
		res.ID = id
		o.finishDetached(id, res)
	}()
	return nil
}

func (o *Orchestrator) finishDetached(id string, res protocol.TaskResult) {
	o.mu.Lock()
	defer o.mu.Unlock()

	e, ok := o.running[id]
	if !ok {
		return
	}
	ev := Exited
	if e.killed {
		ev = Reaped
		res = Harvest(id, protocol.AbortedStatus, "", "")
	}
	e.state, _ = Transition(e.state, ev)
	o.finish(id, e)
	o.enqueue(res)
}

// finish removes a terminal entry. Callers hold the lock.
func (o *Orchestrator) finish(id string, e *entry) {
	delete(o.running, id)
	o.stats.running.Update(int64(len(o.running)))
	o.stats.runtime.UpdateSince(e.started)
	if e.state == Aborted {
		o.stats.aborted.Inc(1)
	} else {
		o.stats.completed.Inc(1)
	}
}

// enqueue appends to the push queue. Callers hold the lock.
func (o *Orchestrator) enqueue(res protocol.TaskResult) {
	o.queue = append(o.queue, res)
	o.queued[res.ID] = struct{}{}
}

// SubmitResult queues a result produced outside the registry.
func (o *Orchestrator) SubmitResult(res protocol.TaskResult) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.running[res.ID]; ok {
		return errors.Wrap(ErrDuplicateTask, res.ID)
	}
	if _, ok := o.queued[res.ID]; ok {
		return errors.Wrap(ErrDuplicateTask, res.ID)
	}
	o.enqueue(res)
	o.stats.submitted.Inc(1)
	return nil
}

// PollCompleted harvests every exited process and drains the push queue.
// It never blocks on a process.
func (o *Orchestrator) PollCompleted() []protocol.TaskResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []protocol.TaskResult
	for id, e := range o.running {
		if e.state != Running || e.proc == nil {
			continue
		}
		code, exited := e.proc.TryWait()
		if !exited {
			continue
		}
		ev := Exited
		if e.killed {
			ev = Reaped
			code = protocol.AbortedStatus
		}
		e.state, _ = Transition(e.state, ev)
		stdout, stderr := e.proc.Output()
		out = append(out, Harvest(id, code, stdout, stderr))
		o.finish(id, e)
	}

	out = append(out, o.queue...)
	o.queue = nil
	o.queued = make(map[string]struct{})
	return out
}

// Abort stops the task with the given id. Unknown ids are ignored. The
// result is reported by a later PollCompleted.
func (o *Orchestrator) Abort(id string) {
	o.mu.Lock()
	e, ok := o.running[id]
	if !ok || e.killed {
		o.mu.Unlock()
		return
	}
	e.killed = true
	proc, cancel := e.proc, e.cancel
	o.mu.Unlock()

	o.log.Info("aborting task", zap.String("task", id))
	if cancel != nil {
		cancel()
	}
	if proc != nil {
		o.kill(id, proc)
	}
}

// AbortAll aborts every tracked task.
func (o *Orchestrator) AbortAll() {
	o.mu.Lock()
	ids := make([]string, 0, len(o.running))
	for id := range o.running {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		o.Abort(id)
	}
}

func (o *Orchestrator) kill(id string, proc Process) {
	if err := proc.Kill(); err != nil {
		o.log.Warn("kill failed", zap.String("task", id), zap.Error(err))
	}
}

// Running returns the number of tracked tasks that have not been harvested.
func (o *Orchestrator) Running() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.running)
}

// State returns the state of a tracked task.
func (o *Orchestrator) State(id string) (State, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.running[id]
	if !ok {
		return 0, false
	}
	return e.state, true
}
