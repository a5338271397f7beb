// Package config enumerates the core's configuration surface (spec §6.4)
// and assembles every subsystem into a wired Orchestrator. It replaces the
// teacher's per-package ad hoc NewX() chain
// (kernel/threads/intelligence.NewUnifiedIntelligenceCoordinator, which
// constructor-injects one engine at a time) with a single assembly point,
// per the design note in spec §9 ("dynamic wiring ... becomes a small
// assembly function").
package config

import (
	"context"
	"time"

	"github.com/lattice-games/c4aicore/internal/aierrors"
	"github.com/lattice-games/c4aicore/internal/batcher"
	"github.com/lattice-games/c4aicore/internal/board"
	"github.com/lattice-games/c4aicore/internal/breaker"
	"github.com/lattice-games/c4aicore/internal/cache"
	"github.com/lattice-games/c4aicore/internal/clockrand"
	"github.com/lattice-games/c4aicore/internal/compute"
	"github.com/lattice-games/c4aicore/internal/events"
	"github.com/lattice-games/c4aicore/internal/metrics"
	"github.com/lattice-games/c4aicore/internal/obslog"
	"github.com/lattice-games/c4aicore/internal/orchestrator"
	"github.com/lattice-games/c4aicore/internal/precompute"
	"github.com/lattice-games/c4aicore/internal/strategy"
)

// Config is the single enumerated configuration record for the whole core
// (spec §6.4): caching, breaker, retry, batcher, priority queue,
// precomputation, monitor, and orchestrator settings in one value.
type Config struct {
	Cache        cache.Config
	Queue        batcher.PriorityQueueConfig
	Precompute   precompute.Config
	Monitor      metrics.Options
	Orchestrator orchestrator.Config
}

// Default returns a Config with every subsystem's documented defaults
// (spec §4.1-§4.6, §6.4), ready to pass to Assemble as-is for a smoke test
// or a first deployment.
func Default() Config {
	return Config{
		Cache: cache.Config{
			DefaultTTL:       10 * time.Minute,
			MaxEntries:       10_000,
			MemoryLimitBytes: 64 << 20,
		},
		Queue: batcher.PriorityQueueConfig{
			Name:                "ai-compute",
			Concurrency:         4,
			StarvationThreshold: 10 * time.Second,
			MaxQueueSize:        512,
		},
		Precompute: precompute.Config{
			Enabled:       true,
			MaxDepth:      8,
			MaxConcurrent: 3,
			BatchSize:     10,
			QueueCap:      1000,
			Warmup:        true,
		},
		Monitor: metrics.Options{
			RetentionMs: int64((30 * time.Minute).Milliseconds()),
		},
		Orchestrator: orchestrator.Config{
			DefaultTimeLimitMs:     5000,
			DefaultPriority:        5,
			MovesCacheTTL:          2 * time.Minute,
			EmergencyPriorityFloor: 7,
			PressureCheckInterval:  5 * time.Second,
			Breaker: breaker.OperationConfig{
				FailureThreshold: 3,
				ResetTimeout:     5 * time.Second,
				HalfOpenProbes:   2,
				ExcludeErrors: func(err error) bool {
					return aierrors.KindOf(err) == aierrors.DeadlineExceeded
				},
			},
			Retry: breaker.RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 50 * time.Millisecond,
				Factor:       2.0,
				MaxDelay:     2 * time.Second,
				Jitter:       true,
			},
			AnalysisBatch: batcher.NamedBatcherConfig{
				Name:         "board-analysis",
				MaxBatchSize: 8,
				MaxLatency:   50 * time.Millisecond,
				MaxQueueSize: 256,
			},
		},
	}
}

// Collaborators are the core-out interfaces Assemble wires in (spec §6.2):
// the caller supplies the actual move-compute back end, everything else has
// a usable default.
type Collaborators struct {
	// ComputeMove is the only required collaborator: the external AI search
	// back end the core's breaker/retry/batcher wrap.
	ComputeMove compute.Move
	OpeningBook compute.OpeningBook
	Clock       clockrand.Clock
	Random      clockrand.Random
	Logger      *obslog.Logger
	Pressure    orchestrator.PressureFunc
}

// Assembled holds every subsystem Assemble built, so a caller can start/stop
// background loops (Precompute, the pressure monitor) and reach
// SystemHealth-adjacent internals directly if needed, without the
// Orchestrator needing to expose them all itself.
type Assembled struct {
	Orchestrator *orchestrator.Orchestrator
	Cache        *cache.Manager
	BreakerReg   *breaker.Registry
	Selector     *strategy.Selector
	Precompute   *precompute.Engine
	Monitor      *metrics.Monitor
	Queue        *batcher.PriorityQueue
	Bus          *events.Bus
}

// Assemble wires every subsystem into a running Orchestrator in dependency
// order (spec §2 "Dependency order: Performance Monitor → Cache Manager →
// Circuit Breaker → Batcher → Strategy Selector → Precomputation Engine →
// Orchestrator"), the "small assembly function" spec §9 calls for in place
// of a DI container.
func Assemble(cfg Config, collab Collaborators) (*Assembled, error) {
	if collab.ComputeMove == nil {
		return nil, aierrors.New(aierrors.Internal, "config.Assemble requires a ComputeMove collaborator")
	}

	logger := collab.Logger
	if logger == nil {
		logger = obslog.DefaultLogger("c4aicore")
	}
	clock := collab.Clock
	if clock == nil {
		clock = clockrand.System
	}
	random := collab.Random
	if random == nil {
		random = clockrand.SystemRandom{}
	}

	bus := events.New()
	monitor := metrics.New(metrics.Options{RetentionMs: cfg.Monitor.RetentionMs, Logger: logger.With(obslog.F("subsystem", "metrics"))})
	cacheM := cache.New(cfg.Cache, bus, logger.With(obslog.F("subsystem", "cache")))
	breakerReg := breaker.NewRegistry(bus, logger.With(obslog.F("subsystem", "breaker")))

	queueCfg := cfg.Queue
	queueCfg.Process = func(ctx context.Context, payload any) (any, error) {
		job, ok := payload.(orchestrator.ComputeJob)
		if !ok {
			return nil, aierrors.New(aierrors.Internal, "priority queue received an unexpected payload type")
		}
		return collab.ComputeMove(ctx, job.Board, job.Player, job.Strategy, job.Deadline)
	}
	queue := batcher.NewPriorityQueue(queueCfg, bus, clock)

	selector := strategy.New(bus, clock)

	var precomputeEngine *precompute.Engine
	if cfg.Precompute.Enabled {
		precomputeEngine = precompute.New(cfg.Precompute, func(ctx context.Context, b board.Board, p board.Player, depth int) (precompute.Result, error) {
			decision, err := selector.Select(strategy.Request{Board: b, Player: p, Difficulty: defaultPrecomputeDifficulty})
			tag := string(strategy.Heaviest)
			if err == nil {
				tag = string(decision.Primary)
			}
			deadline := clock.Now().Add(time.Duration(cfg.Orchestrator.DefaultTimeLimitMs) * time.Millisecond)
			result, cErr := collab.ComputeMove(ctx, b, p, tag, deadline)
			if cErr != nil {
				return precompute.Result{}, cErr
			}
			return precompute.Result{Move: result.Move, Score: result.Score, Confidence: result.Confidence}, nil
		}, cacheM, bus, logger.With(obslog.F("subsystem", "precompute")), clock)
		precomputeEngine.Start()
	}

	orch := orchestrator.New(cfg.Orchestrator, orchestrator.Dependencies{
		Cache:       cacheM,
		BreakerReg:  breakerReg,
		Selector:    selector,
		Precompute:  precomputeEngine,
		Monitor:     monitor,
		Queue:       queue,
		Bus:         bus,
		Logger:      logger.With(obslog.F("subsystem", "orchestrator")),
		Clock:       clock,
		Random:      random,
		OpeningBook: collab.OpeningBook,
		Pressure:    collab.Pressure,
	})

	return &Assembled{
		Orchestrator: orch,
		Cache:        cacheM,
		BreakerReg:   breakerReg,
		Selector:     selector,
		Precompute:   precomputeEngine,
		Monitor:      monitor,
		Queue:        queue,
		Bus:          bus,
	}, nil
}

// defaultPrecomputeDifficulty is the difficulty the strategy selector scores
// speculative precompute jobs at; precompute jobs have no caller-supplied
// difficulty, so a mid-range value is used to pick a strategy of reasonable
// cost (spec §4.6: "computes the result via the same compute path as
// synchronous requests").
const defaultPrecomputeDifficulty = 12

// Stop tears down Assembled's background loops in reverse dependency order.
func (a *Assembled) Stop() {
	a.Orchestrator.Stop()
	if a.Precompute != nil {
		a.Precompute.Stop()
	}
	a.Queue.Close()
}
