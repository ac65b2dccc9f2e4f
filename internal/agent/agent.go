// Package agent runs the poll loop: register, then repeatedly fetch tasks,
// dispatch them, harvest finished work and report results.
package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/relaycommander/rc-agent/internal/control"
	"github.com/relaycommander/rc-agent/internal/protocol"
)

const (
	defaultInterval   = 10 * time.Second
	defaultBackoff    = 5 * time.Second
	defaultBackoffMax = 60 * time.Second
	defaultSettle     = 200 * time.Millisecond
)

// Dispatcher starts one fetched task.
type Dispatcher interface {
	Dispatch(ctx context.Context, task protocol.Task) error
}

// Registry is the part of the orchestrator the loop drives.
type Registry interface {
	PollCompleted() []protocol.TaskResult
	AbortAll()
	Stats() string
}

// Options wires an Agent.
type Options struct {
	Client     control.Client
	Registry   Registry
	Dispatcher Dispatcher
	// Identity is collected before every registration attempt.
	Identity func() protocol.SystemInformation

	Interval   time.Duration
	Backoff    time.Duration
	BackoffMax time.Duration
	// Settle is the pause between dispatch and harvest that lets fast
	// tasks finish within the same cycle.
	Settle time.Duration

	Spool  *Spool
	Logger *zap.Logger
}

// Agent is the poll loop.
type Agent struct {
	opts    Options
	log     *zap.Logger
	pending []protocol.TaskResult
	sleep   func(ctx context.Context, d time.Duration) bool
}

// New returns an Agent. Zero durations take their defaults.
func New(opts Options) *Agent {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.BackoffMax < opts.Backoff {
		opts.BackoffMax = max(defaultBackoffMax, opts.Backoff)
	}
	if opts.Settle <= 0 {
		opts.Settle = defaultSettle
	}
	if opts.Identity == nil {
		opts.Identity = func() protocol.SystemInformation { return protocol.SystemInformation{} }
	}
	return &Agent{opts: opts, log: opts.Logger.Named("agent"), sleep: sleep}
}

// Initialise registers with the control server, retrying with a doubling
// back-off until a token is issued. It returns "" only when ctx ends.
func (a *Agent) Initialise(ctx context.Context) string {
	delay := a.opts.Backoff
	for {
		token := a.opts.Client.RegisterIdentity(ctx, a.opts.Identity())
		if token != "" {
			a.log.Info("registered with control server")
			return token
		}
		a.log.Info("registration failed, retrying", zap.Duration("in", delay))
		if !a.sleep(ctx, delay) {
			return ""
		}
		delay *= 2
		if delay > a.opts.BackoffMax {
			delay = a.opts.BackoffMax
		}
	}
}

// Cycle runs one pass of the loop and returns the number of results the
// server accepted. Results that could not be submitted are kept and sent
// first on the next pass.
func (a *Agent) Cycle(ctx context.Context, token string) int {
	fetched := a.opts.Client.FetchTasks(ctx, token)
	if len(fetched) > 0 {
		a.log.Info("tasks received", zap.Int("count", len(fetched)))
	}
	for _, task := range fetched {
		if err := a.opts.Dispatcher.Dispatch(ctx, task); err != nil {
			a.log.Warn("dispatch failed", zap.String("task", task.ID), zap.String("kind", task.Name), zap.Error(err))
		}
	}
	if len(fetched) > 0 {
		a.sleep(ctx, a.opts.Settle)
	}

	results := append(a.pending, a.opts.Registry.PollCompleted()...)
	a.pending = nil
	sent := 0
	for _, res := range results {
		if err := a.opts.Client.SubmitResult(ctx, res, token); err != nil {
			a.log.Warn("result not delivered, will retry", zap.String("task", res.ID), zap.Error(err))
			a.pending = append(a.pending, res)
			continue
		}
		sent++
	}
	a.persist()

	a.log.Debug("cycle complete",
		zap.Int("fetched", len(fetched)),
		zap.Int("submitted", sent),
		zap.Int("pending", len(a.pending)),
		zap.String("registry", a.opts.Registry.Stats()))
	return sent
}

// Pending returns the results awaiting another submission attempt.
func (a *Agent) Pending() []protocol.TaskResult {
	return append([]protocol.TaskResult(nil), a.pending...)
}

// Run registers and then cycles every interval until ctx ends. On exit all
// running tasks are aborted.
func (a *Agent) Run(ctx context.Context) error {
	a.restore()
	defer a.opts.Registry.AbortAll()

	token := a.Initialise(ctx)
	if token == "" {
		return ctx.Err()
	}
	for {
		a.Cycle(ctx, token)
		if !a.sleep(ctx, a.opts.Interval) {
			a.log.Info("poll loop stopped")
			return nil
		}
	}
}

func (a *Agent) restore() {
	if a.opts.Spool == nil {
		return
	}
	results, err := a.opts.Spool.Load()
	if err != nil {
		a.log.Warn("ignoring unreadable spool", zap.Error(err))
		return
	}
	if len(results) > 0 {
		a.log.Info("restored pending results", zap.Int("count", len(results)))
	}
	a.pending = append(results, a.pending...)
}

func (a *Agent) persist() {
	if a.opts.Spool == nil {
		return
	}
	if err := a.opts.Spool.Save(a.pending); err != nil {
		a.log.Warn("saving spool", zap.Error(err))
	}
}

// sleep waits d or until ctx ends, reporting whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
