package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Metrics captures conversation and sink counters.
type Metrics struct {
	messages  int64
	started   int64
	completed int64
	cancelled int64
	reprompts int64
	replaced  int64

	mu           sync.Mutex
	sinkFailures map[string]int64
}

// Snapshot provides a consistent view of the current metrics.
type Snapshot struct {
	Messages     int64            `json:"messages"`
	Started      int64            `json:"started"`
	Completed    int64            `json:"completed"`
	Cancelled    int64            `json:"cancelled"`
	Reprompts    int64            `json:"reprompts"`
	Replaced     int64            `json:"replaced"`
	SinkFailures map[string]int64 `json:"sink_failures"`
}

// New creates a zeroed Metrics instance.
func New() *Metrics {
	return &Metrics{sinkFailures: map[string]int64{}}
}

func (m *Metrics) IncMessages()  { atomic.AddInt64(&m.messages, 1) }
func (m *Metrics) IncStarted()   { atomic.AddInt64(&m.started, 1) }
func (m *Metrics) IncCompleted() { atomic.AddInt64(&m.completed, 1) }
func (m *Metrics) IncCancelled() { atomic.AddInt64(&m.cancelled, 1) }
func (m *Metrics) IncReprompts() { atomic.AddInt64(&m.reprompts, 1) }
func (m *Metrics) IncReplaced()  { atomic.AddInt64(&m.replaced, 1) }

// RecordSink counts a failed sink call; successes are not counted.
func (m *Metrics) RecordSink(sink string, err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	m.sinkFailures[sink]++
	m.mu.Unlock()
}

// Snapshot returns a read-only view of metrics.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	failures := make(map[string]int64, len(m.sinkFailures))
	for k, v := range m.sinkFailures {
		failures[k] = v
	}
	m.mu.Unlock()
	return Snapshot{
		Messages:     atomic.LoadInt64(&m.messages),
		Started:      atomic.LoadInt64(&m.started),
		Completed:    atomic.LoadInt64(&m.completed),
		Cancelled:    atomic.LoadInt64(&m.cancelled),
		Reprompts:    atomic.LoadInt64(&m.reprompts),
		Replaced:     atomic.LoadInt64(&m.replaced),
		SinkFailures: failures,
	}
}

// FailingSinks lists sinks with at least one failure, sorted.
func (s Snapshot) FailingSinks() []string {
	out := make([]string, 0, len(s.SinkFailures))
	for k := range s.SinkFailures {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
