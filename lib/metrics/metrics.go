// Package metrics provides simple metrics collection for the packet tunnel.
// Supports Prometheus exposition format for monitoring integration.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a monotonically increasing counter.
type Counter struct {
	value uint64
	name  string
	help  string
}

// NewCounter creates a new counter metric.
func NewCounter(name, help string) *Counter {
	c := &Counter{
		name: name,
		help: help,
	}
	defaultRegistry.register(c)
	return c
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	atomic.AddUint64(&c.value, 1)
}

// Add adds the given value to the counter.
func (c *Counter) Add(v uint64) {
	atomic.AddUint64(&c.value, v)
}

// Value returns the current counter value.
func (c *Counter) Value() uint64 {
	return atomic.LoadUint64(&c.value)
}

func (c *Counter) metricName() string { return c.name }

func (c *Counter) prometheus() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# HELP %s %s\n", c.name, c.help)
	fmt.Fprintf(&sb, "# TYPE %s counter\n", c.name)
	fmt.Fprintf(&sb, "%s %d\n", c.name, c.Value())
	return sb.String()
}

// CounterVec is a family of counters partitioned by a single label.
type CounterVec struct {
	mu     sync.RWMutex
	name   string
	help   string
	label  string
	values map[string]*uint64
}

// NewCounterVec creates a new labelled counter metric.
func NewCounterVec(name, help, label string) *CounterVec {
	v := &CounterVec{
		name:   name,
		help:   help,
		label:  label,
		values: make(map[string]*uint64),
	}
	defaultRegistry.register(v)
	return v
}

// Inc increments the counter for the given label value.
func (v *CounterVec) Inc(labelValue string) {
	v.mu.RLock()
	p, ok := v.values[labelValue]
	v.mu.RUnlock()
	if !ok {
		v.mu.Lock()
		if p, ok = v.values[labelValue]; !ok {
			p = new(uint64)
			v.values[labelValue] = p
		}
		v.mu.Unlock()
	}
	atomic.AddUint64(p, 1)
}

// Value returns the counter for the given label value.
func (v *CounterVec) Value(labelValue string) uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if p, ok := v.values[labelValue]; ok {
		return atomic.LoadUint64(p)
	}
	return 0
}

func (v *CounterVec) metricName() string { return v.name }

func (v *CounterVec) prometheus() string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	labels := make([]string, 0, len(v.values))
	for l := range v.values {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	var sb strings.Builder
	fmt.Fprintf(&sb, "# HELP %s %s\n", v.name, v.help)
	fmt.Fprintf(&sb, "# TYPE %s counter\n", v.name)
	for _, l := range labels {
		fmt.Fprintf(&sb, "%s{%s=%q} %d\n", v.name, v.label, l, atomic.LoadUint64(v.values[l]))
	}
	return sb.String()
}

// Gauge is a metric that can go up and down.
type Gauge struct {
	value int64
	name  string
	help  string
}

// NewGauge creates a new gauge metric.
func NewGauge(name, help string) *Gauge {
	g := &Gauge{
		name: name,
		help: help,
	}
	defaultRegistry.register(g)
	return g
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) {
	atomic.StoreInt64(&g.value, v)
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	atomic.AddInt64(&g.value, 1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	atomic.AddInt64(&g.value, -1)
}

// Value returns the current gauge value.
func (g *Gauge) Value() int64 {
	return atomic.LoadInt64(&g.value)
}

func (g *Gauge) metricName() string { return g.name }

func (g *Gauge) prometheus() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# HELP %s %s\n", g.name, g.help)
	fmt.Fprintf(&sb, "# TYPE %s gauge\n", g.name)
	fmt.Fprintf(&sb, "%s %d\n", g.name, g.Value())
	return sb.String()
}

// Histogram tracks the distribution of values.
type Histogram struct {
	mu      sync.Mutex
	name    string
	help    string
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

// NewHistogram creates a new histogram metric.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	h := &Histogram{
		name:    name,
		help:    help,
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
	defaultRegistry.register(h)
	return h
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++

	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
		}
	}
}

func (h *Histogram) metricName() string { return h.name }

func (h *Histogram) prometheus() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "# HELP %s %s\n", h.name, h.help)
	fmt.Fprintf(&sb, "# TYPE %s histogram\n", h.name)

	for i, b := range h.buckets {
		fmt.Fprintf(&sb, "%s_bucket{le=\"%g\"} %d\n", h.name, b, h.counts[i])
	}
	fmt.Fprintf(&sb, "%s_bucket{le=\"+Inf\"} %d\n", h.name, h.count)
	fmt.Fprintf(&sb, "%s_sum %g\n", h.name, h.sum)
	fmt.Fprintf(&sb, "%s_count %d\n", h.name, h.count)

	return sb.String()
}

// metric is the interface for all metric types.
type metric interface {
	metricName() string
	prometheus() string
}

// Registry holds all registered metrics.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]metric
}

// defaultRegistry is the global metric registry.
var defaultRegistry = &Registry{
	metrics: make(map[string]metric),
}

func (r *Registry) register(m metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[m.metricName()] = m
}

// Expose returns all metrics in Prometheus exposition format.
func (r *Registry) Expose() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Sort names for consistent output
	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		sb.WriteString(r.metrics[name].prometheus())
		sb.WriteString("\n")
	}
	return sb.String()
}

// Expose returns the default registry in Prometheus exposition format.
func Expose() string {
	return defaultRegistry.Expose()
}

// Default metrics for the tunnel actor
var (
	// Transitions, labelled by the state entered
	StateTransitions = NewCounterVec("packettunnel_state_transitions_total", "Total state transitions by target state", "state")
	CurrentState     = NewGauge("packettunnel_current_state", "Kind of the current tunnel state (0=initial ... 7=error)")

	// Reconnects
	ReconnectsRequested = NewCounter("packettunnel_reconnects_requested_total", "Total reconnect requests")
	ReconnectsRejected  = NewCounter("packettunnel_reconnects_rejected_total", "Total reconnect requests with no valid target")

	// Blocked states, labelled by reason
	BlockedStates     = NewCounterVec("packettunnel_blocked_states_total", "Total entries into the error state by reason", "reason")
	AutomaticRestarts = NewCounter("packettunnel_automatic_restarts_total", "Total automatic restarts fired from the error state")
	RestartsThrottled = NewCounter("packettunnel_restarts_throttled_total", "Total automatic restarts delayed by the restart limiter")

	// Key rotation
	KeyRotationsStarted   = NewCounter("packettunnel_key_rotations_started_total", "Total key rotations started")
	KeyRotationsConfirmed = NewCounter("packettunnel_key_rotations_confirmed_total", "Total key rotations confirmed")
	KeyRotationsTimedOut  = NewCounter("packettunnel_key_rotations_timed_out_total", "Total key rotations that timed out")

	// Backoff
	RetryDelaySeconds = NewHistogram("packettunnel_retry_delay_seconds", "Computed reconnect backoff delays",
		[]float64{1, 5, 15, 30, 60, 120, 300})

	// Events
	EventsDropped = NewCounter("packettunnel_events_dropped_total", "Total events dropped because the buffer was full")

	// Uptime
	StartTime = NewGauge("packettunnel_start_time_seconds", "Unix timestamp when the tunnel actor started")
)

// RecordStartTime records the current time as the start time.
func RecordStartTime() {
	StartTime.Set(time.Now().Unix())
}
