package client

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// LatencySummary holds request latency statistics for one HTTP method.
type LatencySummary struct {
	Method string
	Count  int64
	Avg    time.Duration
	Min    time.Duration
	Max    time.Duration
	P50    time.Duration
	P90    time.Duration
	P99    time.Duration
}

// latencyAggregate maintains running statistics for a single method.
// Percentiles come from a DDSketch with 1% relative accuracy.
type latencyAggregate struct {
	mu     sync.Mutex
	count  int64
	sum    float64
	min    float64
	max    float64
	sketch *ddsketch.DDSketch
}

func newLatencyAggregate() *latencyAggregate {
	agg := &latencyAggregate{
		min: math.MaxFloat64,
		max: -math.MaxFloat64,
	}
	if sketch, err := ddsketch.NewDefaultDDSketch(0.01); err == nil {
		agg.sketch = sketch
	}
	return agg
}

func (a *latencyAggregate) add(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.count++
	a.sum += ms
	if ms < a.min {
		a.min = ms
	}
	if ms > a.max {
		a.max = ms
	}
	if a.sketch != nil {
		// Negative values are rejected; durations never are.
		_ = a.sketch.Add(ms)
	}
}

func (a *latencyAggregate) summary(method string) LatencySummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := LatencySummary{Method: method, Count: a.count}
	if a.count == 0 {
		return s
	}
	s.Avg = millis(a.sum / float64(a.count))
	s.Min = millis(a.min)
	s.Max = millis(a.max)

	if a.sketch != nil {
		p50, _ := a.sketch.GetValueAtQuantile(0.50)
		p90, _ := a.sketch.GetValueAtQuantile(0.90)
		p99, _ := a.sketch.GetValueAtQuantile(0.99)
		s.P50, s.P90, s.P99 = millis(p50), millis(p90), millis(p99)
	}
	return s
}

func millis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

// latencyRecorder keys aggregates by HTTP method.
type latencyRecorder struct {
	mu      sync.Mutex
	methods map[string]*latencyAggregate
}

func newLatencyRecorder() *latencyRecorder {
	return &latencyRecorder{methods: make(map[string]*latencyAggregate)}
}

func (r *latencyRecorder) observe(method string, d time.Duration) {
	r.mu.Lock()
	agg, ok := r.methods[method]
	if !ok {
		agg = newLatencyAggregate()
		r.methods[method] = agg
	}
	r.mu.Unlock()

	agg.add(d)
}

// summaries returns one summary per observed method, sorted by method.
func (r *latencyRecorder) summaries() []LatencySummary {
	r.mu.Lock()
	methods := make([]string, 0, len(r.methods))
	for m := range r.methods {
		methods = append(methods, m)
	}
	r.mu.Unlock()

	sort.Strings(methods)
	out := make([]LatencySummary, 0, len(methods))
	for _, m := range methods {
		r.mu.Lock()
		agg := r.methods[m]
		r.mu.Unlock()
		out = append(out, agg.summary(m))
	}
	return out
}

// reset discards all observations.
func (r *latencyRecorder) reset() {
	r.mu.Lock()
	r.methods = make(map[string]*latencyAggregate)
	r.mu.Unlock()
}
