package orchestrator

import (
	"time"

	"github.com/lattice-games/c4aicore/internal/batcher"
	"github.com/lattice-games/c4aicore/internal/breaker"
	"github.com/lattice-games/c4aicore/internal/cache"
	"github.com/lattice-games/c4aicore/internal/events"
	"github.com/lattice-games/c4aicore/internal/metrics"
	"github.com/lattice-games/c4aicore/internal/obslog"
	"github.com/lattice-games/c4aicore/internal/precompute"
	"github.com/lattice-games/c4aicore/internal/strategy"
)

// reportWindowMs is the trailing window SystemHealth asks the Performance
// Monitor to aggregate over.
const reportWindowMs = 60_000

// HealthReport aggregates every subsystem's observability surface (spec
// §4.7 "SystemHealth") into one snapshot plus derived recommendations.
type HealthReport struct {
	MovesCache      cache.Stats
	PrecomputeCache cache.Stats
	BreakerState    string
	Queue           batcher.Stats
	AnalysisBatcher batcher.Stats
	Precompute      precompute.Stats
	Strategies      map[strategy.Tag]strategy.Stats
	Performance     metrics.Report
	Emergency       bool
	Recommendations []string
}

// SystemHealth snapshots every subsystem and derives plain-language
// recommendations from threshold crossings, the way the teacher's
// SupervisorStats rolls up per-worker counters for an operator-facing view.
func (o *Orchestrator) SystemHealth() HealthReport {
	report := HealthReport{
		MovesCache:      o.cacheM.Stats("moves"),
		PrecomputeCache: o.cacheM.Stats(precompute.CacheNamespace),
		BreakerState:    o.breakerReg.Operation("ai-compute", o.cfg.Breaker).State().String(),
		Queue:           o.queue.Stats(),
		AnalysisBatcher: o.analysisBatcher.Stats(),
		Strategies:      make(map[strategy.Tag]strategy.Stats, 4),
		Performance:     o.monitor.GenerateReport(reportWindowMs),
		Emergency:       o.emergency.Load(),
	}
	if o.precompute != nil {
		report.Precompute = o.precompute.Stats()
	}
	for _, tag := range []strategy.Tag{strategy.Minimax, strategy.AlphaBeta, strategy.MCTS, strategy.Heaviest} {
		report.Strategies[tag] = o.selector.Stats(tag)
	}

	report.Recommendations = recommend(report)
	return report
}

func recommend(r HealthReport) []string {
	var out []string
	if r.Emergency {
		out = append(out, "system under resource pressure: serving only requests at or above the emergency priority floor")
	}
	if r.BreakerState == breaker.Open.String() {
		out = append(out, "ai-compute circuit is open: requests are falling back to a legal-move heuristic")
	}
	if r.Performance.TotalSamples > 0 && r.Performance.SuccessRate < 0.9 {
		out = append(out, "ai-compute success rate below 90% over the trailing window: investigate compute failures")
	}
	if r.Queue.QueueUtilization > 0.8 {
		out = append(out, "priority queue above 80% utilization: consider raising its MaxQueueSize or concurrency")
	}
	if r.MovesCache.Hits+r.MovesCache.Misses > 100 && r.MovesCache.HitRate < 0.2 {
		out = append(out, "moves cache hit rate below 20%: reconsider its TTL for this workload")
	}
	return out
}

// monitorPressure polls Pressure at PressureCheckInterval and flips
// emergency mode on/off, clearing precompute work on entry the way spec
// §5 "Emergency mode" describes. A nil Pressure collaborator means this
// loop observes nothing and emergency mode never engages — no CPU/memory
// sampling library appears anywhere in the example pack, so the
// collaborator is left injectable rather than hand-rolled over
// runtime.MemStats.
func (o *Orchestrator) monitorPressure() {
	if o.pressure == nil {
		return
	}
	ticker := time.NewTicker(o.cfg.PressureCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			cpu, mem := o.pressure()
			critical := (o.cfg.CPUPressureThreshold > 0 && cpu >= o.cfg.CPUPressureThreshold) ||
				(o.cfg.MemPressureThreshold > 0 && mem >= o.cfg.MemPressureThreshold)
			wasEmergency := o.emergency.Swap(critical)
			if critical && !wasEmergency {
				o.enterEmergencyMode(cpu, mem)
			}
		}
	}
}

func (o *Orchestrator) enterEmergencyMode(cpu, mem float64) {
	if o.precompute != nil {
		o.precompute.Clear()
	}
	o.cacheM.Invalidate(precompute.CacheNamespace, "")
	o.logger.Warn("entering emergency mode", obslog.F("cpu", cpu), obslog.F("mem", mem))
	o.bus.EmitKV(events.PerformanceAlert, "reason", "emergency_mode", "cpu", cpu, "mem", mem)
}
