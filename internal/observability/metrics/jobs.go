// Package metrics emits standardised job engine metrics through a
// StatsD-compatible sink.
package metrics

import (
	"time"

	"github.com/woedy/god-bless-super-sub006/internal/domain/model"
	obserrors "github.com/woedy/god-bless-super-sub006/internal/observability/errors"
	"github.com/woedy/god-bless-super-sub006/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	Kind       string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"kind":       in.Kind,
		"transition": in.Transition,
		"result":     in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// EmitQueueStats publishes queue depth gauges from a stats snapshot.
func EmitQueueStats(sink statsd.Sink, stats *model.JobStats) {
	if sink == nil || stats == nil {
		return
	}
	sink.Gauge("jobs.pending", float64(stats.Pending), nil)
	sink.Gauge("jobs.running", float64(stats.Running), nil)
	sink.Gauge("jobs.completed", float64(stats.Completed), nil)
	sink.Gauge("jobs.failed", float64(stats.Failed), nil)
	sink.Gauge("jobs.cancelled", float64(stats.Cancelled), nil)
}

// EmitReaperCycle emits per-cycle reaper counters.
func EmitReaperCycle(sink statsd.Sink, requeued, deleted int64, elapsed time.Duration) {
	if sink == nil {
		return
	}
	sink.Count("reaper.requeued", requeued, nil)
	sink.Count("reaper.deleted", deleted, nil)
	if elapsed > 0 {
		sink.Timing("reaper.cycle", elapsed, nil)
	}
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
