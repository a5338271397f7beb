package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/lattice-games/c4aicore/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordMetricNeverFailsAndReportsAggregate(t *testing.T) {
	m := metrics.New(metrics.Options{})
	now := time.Now()
	for i := 0; i < 10; i++ {
		m.RecordMetric("compute.duration_ms", float64(10+i), "ms", map[string]string{"status": "success"}, now)
	}
	m.RecordMetric("compute.duration_ms", 999, "ms", map[string]string{"status": "failure"}, now)

	report := m.GenerateReport(60_000)
	assert.Equal(t, 11, report.TotalSamples)
	assert.InDelta(t, 10.0/11.0, report.SuccessRate, 0.01)
	assert.Greater(t, report.P99, report.P50)
}

func TestStartEndOperation(t *testing.T) {
	m := metrics.New(metrics.Options{})
	id := m.StartOperation("ai-compute", map[string]string{"strategy": "minimax"})
	time.Sleep(time.Millisecond)
	err := m.EndOperation(id, "success", nil)
	require.NoError(t, err)

	err = m.EndOperation("unknown-id", "success", nil)
	assert.Error(t, err)
}

func TestSpanNesting(t *testing.T) {
	m := metrics.New(metrics.Options{})
	root := m.StartSpan("request", "GetMove", "")
	child := m.StartSpan("compute", "strategy-select", root)
	m.EndSpan("compute", child, nil)
	m.EndSpan("request", root, map[string]string{"cached": "false"})

	report := m.GenerateReport(60_000)
	assert.Greater(t, report.ByMetric["span.request.duration_ms"], 0)
	assert.Greater(t, report.ByMetric["span.compute.duration_ms"], 0)
}

func TestAlertThresholdIsEdgeTriggered(t *testing.T) {
	m := metrics.New(metrics.Options{})
	fires := 0
	m.SetAlertThreshold("queue.depth", 100, metrics.Above, func(metric string, value float64) {
		fires++
	})

	now := time.Now()
	m.RecordMetric("queue.depth", 50, "count", nil, now)
	m.RecordMetric("queue.depth", 150, "count", nil, now) // crosses: fires
	m.RecordMetric("queue.depth", 160, "count", nil, now) // still above: no new fire
	m.RecordMetric("queue.depth", 40, "count", nil, now)  // back below
	m.RecordMetric("queue.depth", 120, "count", nil, now) // crosses again: fires

	assert.Equal(t, 2, fires)
}

func TestAlertHandlerPanicIsSwallowed(t *testing.T) {
	m := metrics.New(metrics.Options{})
	m.SetAlertThreshold("panicky", 1, metrics.Above, func(metric string, value float64) {
		panic(errors.New("boom"))
	})
	assert.NotPanics(t, func() {
		m.RecordMetric("panicky", 2, "count", nil, time.Now())
	})
}
