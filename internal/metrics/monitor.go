// Package metrics implements the Performance Monitor (spec §4.1): metric
// ingestion into bounded-retention ring buffers, hierarchical spans,
// edge-triggered alert thresholds, and windowed reports. It generalizes the
// teacher's ring-buffer and rolling-stats idioms (kernel/threads/foundation's
// SupervisorStats/CoordinatorStats, kernel/threads/intelligence/scheduling's
// TimeSeriesPredictor history windows) into one always-on observability
// subsystem, additionally exporting a twin prometheus.Registry the way
// IAmSoThirsty-Project-AI/octoreflex/internal/observability/metrics.go does.
package metrics

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lattice-games/c4aicore/internal/obslog"
	"github.com/prometheus/client_golang/prometheus"
)

const defaultRetention = 30 * time.Minute
const maxSamplesPerMetric = 20000

// Sample is a single recorded observation.
type Sample struct {
	Value     float64
	Unit      string
	Tags      map[string]string
	Timestamp time.Time
}

type series struct {
	samples []Sample
}

// Direction is the crossing direction an alert threshold watches for.
type Direction int

const (
	Above Direction = iota
	Below
)

type alertRule struct {
	threshold float64
	direction Direction
	handler   func(metric string, value float64)
	armed     bool // not read or written; evaluateAlerts edge-triggers by comparing with the previous sample
}

// Monitor is the Performance Monitor. Zero value is not usable; use New.
type Monitor struct {
	mu        sync.RWMutex
	retention time.Duration
	series    map[string]*series
	alerts    map[string][]*alertRule
	lastValue map[string]float64

	ops   map[string]opState
	spans map[string]spanState
	opSeq uint64

	logger *obslog.Logger

	registry  *prometheus.Registry
	durations *prometheus.HistogramVec
	totals    *prometheus.CounterVec
	startedAt time.Time
}

type opState struct {
	name  string
	tags  map[string]string
	start time.Time
}

type spanState struct {
	category string
	label    string
	parent   string
	start    time.Time
}

// Options configures a Monitor.
type Options struct {
	RetentionMs int64
	Logger      *obslog.Logger
}

// New builds a Monitor with its own dedicated prometheus registry (never the
// global one, to avoid collisions with other instrumented libraries in the
// same process — the same rationale octoreflex's metrics.go documents).
func New(opts Options) *Monitor {
	retention := defaultRetention
	if opts.RetentionMs > 0 {
		retention = time.Duration(opts.RetentionMs) * time.Millisecond
	}
	reg := prometheus.NewRegistry()
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "c4aicore_metric_duration_ms",
		Help:    "Duration samples recorded via RecordMetric/EndOperation/EndSpan, in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 16),
	}, []string{"metric"})
	totals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "c4aicore_metric_total",
		Help: "Count of samples recorded per metric name and status tag.",
	}, []string{"metric", "status"})
	reg.MustRegister(durations, totals)

	return &Monitor{
		retention: retention,
		series:    make(map[string]*series),
		alerts:    make(map[string][]*alertRule),
		lastValue: make(map[string]float64),
		ops:       make(map[string]opState),
		spans:     make(map[string]spanState),
		logger:    opts.Logger,
		registry:  reg,
		durations: durations,
		totals:    totals,
		startedAt: time.Now(),
	}
}

// Registry exposes the Monitor's dedicated prometheus registry for scraping.
func (m *Monitor) Registry() *prometheus.Registry { return m.registry }

// RecordMetric ingests one sample. It never fails: on buffer overflow the
// oldest sample for that metric is dropped.
func (m *Monitor) RecordMetric(name string, value float64, unit string, tags map[string]string, ts time.Time) {
	m.mu.Lock()
	s, ok := m.series[name]
	if !ok {
		s = &series{}
		m.series[name] = s
	}
	s.samples = append(s.samples, Sample{Value: value, Unit: unit, Tags: tags, Timestamp: ts})
	m.pruneLocked(s, ts)

	prev, hadPrev := m.lastValue[name]
	m.lastValue[name] = value
	rules := append([]*alertRule(nil), m.alerts[name]...)
	m.mu.Unlock()

	if unit == "ms" {
		m.durations.WithLabelValues(name).Observe(value)
	}
	status := tags["status"]
	if status == "" {
		status = "n/a"
	}
	m.totals.WithLabelValues(name, status).Inc()

	m.evaluateAlerts(name, rules, prev, hadPrev, value)
}

func (m *Monitor) pruneLocked(s *series, now time.Time) {
	cutoff := now.Add(-m.retention)
	i := 0
	for i < len(s.samples) && s.samples[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.samples = s.samples[i:]
	}
	if len(s.samples) > maxSamplesPerMetric {
		drop := len(s.samples) - maxSamplesPerMetric
		s.samples = s.samples[drop:]
	}
}

func (m *Monitor) evaluateAlerts(name string, rules []*alertRule, prev float64, hadPrev bool, value float64) {
	for _, r := range rules {
		crossed := false
		switch r.direction {
		case Above:
			if value >= r.threshold && (!hadPrev || prev < r.threshold) {
				crossed = true
			}
		case Below:
			if value <= r.threshold && (!hadPrev || prev > r.threshold) {
				crossed = true
			}
		}
		if !crossed {
			continue
		}
		m.fireHandler(name, value, r)
	}
}

func (m *Monitor) fireHandler(name string, value float64, r *alertRule) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("alert handler panicked", obslog.F("metric", name), obslog.F("recover", rec))
		}
	}()
	r.handler(name, value)
}

// SetAlertThreshold registers a handler invoked synchronously the first time
// a newly recorded sample crosses value in direction relative to the
// previous sample (edge-triggered; it will not fire again until the metric
// crosses back and re-crosses).
func (m *Monitor) SetAlertThreshold(metric string, value float64, direction Direction, handler func(metric string, value float64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[metric] = append(m.alerts[metric], &alertRule{threshold: value, direction: direction, handler: handler})
}

// StartOperation begins timing a named operation and returns an opaque id.
func (m *Monitor) StartOperation(name string, tags map[string]string) string {
	id := fmt.Sprintf("op-%d", atomic.AddUint64(&m.opSeq, 1))
	m.mu.Lock()
	m.ops[id] = opState{name: name, tags: tags, start: time.Now()}
	m.mu.Unlock()
	return id
}

// EndOperation completes a StartOperation span, recording a duration metric
// named "<name>.duration_ms". Returns an error if id is unknown.
func (m *Monitor) EndOperation(id string, status string, opErr error) error {
	m.mu.Lock()
	op, ok := m.ops[id]
	if ok {
		delete(m.ops, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("metrics: unknown operation id %q", id)
	}

	tags := cloneTags(op.tags)
	tags["status"] = status
	if opErr != nil {
		tags["error"] = opErr.Error()
	}
	m.RecordMetric(op.name+".duration_ms", float64(time.Since(op.start).Milliseconds()), "ms", tags, time.Now())
	return nil
}

// StartSpan begins a hierarchical timing span and returns its id. parent may
// be empty for a root span.
func (m *Monitor) StartSpan(category, label string, parent string) string {
	id := fmt.Sprintf("span-%d", atomic.AddUint64(&m.opSeq, 1))
	m.mu.Lock()
	m.spans[id] = spanState{category: category, label: label, parent: parent, start: time.Now()}
	m.mu.Unlock()
	return id
}

// EndSpan closes a span started with StartSpan, recording
// "span.<category>.duration_ms" with the given extra key/value tags merged
// in.
func (m *Monitor) EndSpan(category, id string, kv map[string]string) {
	m.mu.Lock()
	sp, ok := m.spans[id]
	if ok {
		delete(m.spans, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	tags := cloneTags(kv)
	tags["label"] = sp.label
	if sp.parent != "" {
		tags["parent"] = sp.parent
	}
	m.RecordMetric("span."+category+".duration_ms", float64(time.Since(sp.start).Milliseconds()), "ms", tags, time.Now())
}

func cloneTags(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Report aggregates metric activity over a trailing window.
type Report struct {
	WindowMs          int64
	TotalSamples      int
	P50, P95, P99     float64
	SuccessRate       float64
	CacheHitRateProxy float64
	Goroutines        int
	HeapAllocBytes    uint64
	UptimeMs          int64
	ByMetric          map[string]int
}

// GenerateReport aggregates totals, latency percentiles, success rate,
// a cache-hit-rate proxy, and a CPU/memory snapshot over the trailing
// windowMs milliseconds.
func (m *Monitor) GenerateReport(windowMs int64) Report {
	window := time.Duration(windowMs) * time.Millisecond
	cutoff := time.Now().Add(-window)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var latencies []float64
	byMetric := make(map[string]int)
	var successes, outcomes int
	var cacheHits, cacheTotal int

	for name, s := range m.series {
		for _, sample := range s.samples {
			if sample.Timestamp.Before(cutoff) {
				continue
			}
			byMetric[name]++
			if sample.Unit == "ms" {
				latencies = append(latencies, sample.Value)
			}
			if status, ok := sample.Tags["status"]; ok {
				outcomes++
				if status == "success" {
					successes++
				}
			}
			if name == "cache.hit" {
				cacheHits++
				cacheTotal++
			} else if name == "cache.miss" {
				cacheTotal++
			}
		}
	}

	sort.Float64s(latencies)
	report := Report{
		WindowMs:     windowMs,
		TotalSamples: len(latencies),
		ByMetric:     byMetric,
		UptimeMs:     time.Since(m.startedAt).Milliseconds(),
	}
	report.P50 = percentile(latencies, 0.50)
	report.P95 = percentile(latencies, 0.95)
	report.P99 = percentile(latencies, 0.99)
	if outcomes > 0 {
		report.SuccessRate = float64(successes) / float64(outcomes)
	}
	if cacheTotal > 0 {
		report.CacheHitRateProxy = float64(cacheHits) / float64(cacheTotal)
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	report.HeapAllocBytes = memStats.HeapAlloc
	report.Goroutines = runtime.NumGoroutine()

	return report
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
