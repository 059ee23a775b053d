package engine

import (
	"fmt"
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// Metric names exported by WriteMetrics.
const (
	metricMutationsTotal   = "replipush_mutations_total"
	metricPushesTotal      = "replipush_pushes_total"
	metricMutationDuration = "replipush_mutation_duration_seconds"
)

// pushMetrics counts outcomes of one Pusher. Each Pusher owns its own set
// so several pushers (and parallel tests) never share counters.
type pushMetrics struct {
	set      *metrics.Set
	pushes   *metrics.Counter
	outcomes map[string]*metrics.Counter
	duration *metrics.Histogram
}

// outcomeFailed labels mutations whose error-mode attempt failed as well.
const outcomeFailed = "failed"

func newPushMetrics() *pushMetrics {
	set := metrics.NewSet()
	m := &pushMetrics{
		set:      set,
		pushes:   set.NewCounter(metricPushesTotal),
		outcomes: make(map[string]*metrics.Counter),
		duration: set.NewHistogram(metricMutationDuration),
	}
	for _, o := range []string{OutcomeApplied.String(), OutcomeSkipped.String(), OutcomeReplayed.String(), outcomeFailed} {
		m.outcomes[o] = set.NewCounter(fmt.Sprintf(`%s{outcome=%q}`, metricMutationsTotal, o))
	}
	return m
}

func (m *pushMetrics) observe(outcome string, start time.Time) {
	m.outcomes[outcome].Inc()
	m.duration.UpdateDuration(start)
}

// count returns the current value of one outcome counter.
func (m *pushMetrics) count(outcome string) uint64 {
	return m.outcomes[outcome].Get()
}

func (m *pushMetrics) write(w io.Writer) {
	m.set.WritePrometheus(w)
}
