package orchestrator

import (
	"fmt"
	"time"

	humanize "github.com/dustin/go-humanize"
	metrics "github.com/rcrowley/go-metrics"
)

type stats struct {
	spawned       metrics.Counter
	detached      metrics.Counter
	submitted     metrics.Counter
	completed     metrics.Counter
	aborted       metrics.Counter
	spawnFailures metrics.Counter
	running       metrics.Gauge
	runtime       metrics.Timer
}

func newStats(reg metrics.Registry) *stats {
	return &stats{
		spawned:       metrics.GetOrRegisterCounter("orchestrator.spawned", reg),
		detached:      metrics.GetOrRegisterCounter("orchestrator.detached", reg),
		submitted:     metrics.GetOrRegisterCounter("orchestrator.submitted", reg),
		completed:     metrics.GetOrRegisterCounter("orchestrator.completed", reg),
		aborted:       metrics.GetOrRegisterCounter("orchestrator.aborted", reg),
		spawnFailures: metrics.GetOrRegisterCounter("orchestrator.spawn_failures", reg),
		running:       metrics.GetOrRegisterGauge("orchestrator.running", reg),
		runtime:       metrics.GetOrRegisterTimer("orchestrator.runtime", reg),
	}
}

// Stats renders a one-line summary of the registry counters.
func (o *Orchestrator) Stats() string {
	s := o.stats
	rt := s.runtime.Snapshot()
	mean := time.Duration(rt.Mean()).Round(time.Millisecond)
	return fmt.Sprintf("%s running, %s spawned, %s detached, %s submitted, %s completed, %s aborted, %s spawn failures, mean runtime %s",
		humanize.Comma(s.running.Value()),
		humanize.Comma(s.spawned.Count()),
		humanize.Comma(s.detached.Count()),
		humanize.Comma(s.submitted.Count()),
		humanize.Comma(s.completed.Count()),
		humanize.Comma(s.aborted.Count()),
		humanize.Comma(s.spawnFailures.Count()),
		mean)
}
