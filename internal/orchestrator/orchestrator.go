// Package orchestrator implements the Orchestrator (spec §4.7): the single
// entry point that ties every other subsystem together into GetMove,
// StreamAnalysis, AnalyseBoards, and SystemHealth. It plays the role the
// teacher's UnifiedIntelligenceCoordinator plays
// (kernel/threads/intelligence/coordinator.go) — the one component that
// knows about every collaborator and recovers from their individual
// failures — but is built by constructor injection from an explicit
// Dependencies struct rather than the teacher's internal field wiring, per
// the assembly-function design note in spec §9.
package orchestrator

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
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
	"github.com/lattice-games/c4aicore/internal/precompute"
	"github.com/lattice-games/c4aicore/internal/strategy"
)

// Request is one move-selection request (spec §6.1 "GetMove").
type Request struct {
	GameID      string
	Board       board.Board
	Player      board.Player
	Difficulty  int
	TimeLimitMs int64 // 0 uses Config.DefaultTimeLimitMs
	Priority    int   // 0 uses Config.DefaultPriority; range [1,10]
}

// Response is GetMove's result (spec §6.1).
type Response struct {
	Move         int
	Confidence   float64
	Strategy     string
	Phase        string
	Explanation  string
	Alternatives []compute.Alternative
	Cached       bool
	ComputeMs    int64
}

// ComputeJob is the payload the priority queue hands to its Process
// function: everything ComputeMove needs
// for one search, independent of the Orchestrator itself so the queue can
// be constructed before the Orchestrator is (spec §9 assembly function).
type ComputeJob struct {
	Board    board.Board
	Player   board.Player
	Strategy string
	Deadline time.Time
}

// Config configures the Orchestrator (spec §6.4).
type Config struct {
	DefaultTimeLimitMs     int64
	DefaultPriority        int
	MovesCacheTTL          time.Duration
	Breaker                breaker.OperationConfig
	Retry                  breaker.RetryConfig
	EmergencyPriorityFloor int           // requests below this priority are rejected in emergency mode
	PressureCheckInterval  time.Duration
	CPUPressureThreshold   float64 // fraction [0,1]; 0 disables the check
	MemPressureThreshold   float64 // fraction [0,1]; 0 disables the check
	AnalysisBatch          batcher.NamedBatcherConfig
}

func (c Config) withDefaults() Config {
	if c.DefaultTimeLimitMs <= 0 {
		c.DefaultTimeLimitMs = 5000
	}
	if c.DefaultPriority <= 0 {
		c.DefaultPriority = 5
	}
	if c.MovesCacheTTL <= 0 {
		c.MovesCacheTTL = 2 * time.Minute
	}
	if c.EmergencyPriorityFloor <= 0 {
		c.EmergencyPriorityFloor = 7
	}
	if c.PressureCheckInterval <= 0 {
		c.PressureCheckInterval = 5 * time.Second
	}
	return c
}

// PressureFunc samples current resource pressure as fractions in [0,1].
// A nil PressureFunc means emergency mode never engages.
type PressureFunc func() (cpuFraction, memFraction float64)

// Dependencies are the Orchestrator's constructor-injected collaborators
// (spec §9 "Dynamic wiring ... becomes a small assembly function").
type Dependencies struct {
	Cache        *cache.Manager
	BreakerReg   *breaker.Registry
	Selector     *strategy.Selector
	Precompute   *precompute.Engine
	Monitor      *metrics.Monitor
	Queue        *batcher.PriorityQueue
	Bus          *events.Bus
	Logger       *obslog.Logger
	Clock        clockrand.Clock
	Random       clockrand.Random
	OpeningBook  compute.OpeningBook
	Pressure     PressureFunc
}

// Orchestrator is the core's single entry point.
type Orchestrator struct {
	cfg         Config
	cacheM      *cache.Manager
	breakerReg  *breaker.Registry
	selector    *strategy.Selector
	precompute  *precompute.Engine
	monitor     *metrics.Monitor
	queue       *batcher.PriorityQueue
	bus         *events.Bus
	logger      *obslog.Logger
	clock       clockrand.Clock
	random      clockrand.Random
	openingBook compute.OpeningBook
	pressure    PressureFunc

	analysisBatcher *batcher.NamedBatcher

	emergency atomic.Bool
	stopOnce  sync.Once
	stopCh    chan struct{}
}

// New wires the Orchestrator from cfg and deps. Nil collaborators are
// nil-guarded the way kernel/threads/supervisor.go guards a nil logger:
// Bus/Logger absorb calls harmlessly, OpeningBook defaults to a permanent
// miss, Clock/Random default to the system implementations.
func New(cfg Config, deps Dependencies) *Orchestrator {
	cfg = cfg.withDefaults()
	clock := deps.Clock
	if clock == nil {
		clock = clockrand.System
	}
	random := deps.Random
	if random == nil {
		random = clockrand.SystemRandom{}
	}
	book := deps.OpeningBook
	if book == nil {
		book = compute.NoOpeningBook{}
	}

	analysisCfg := cfg.AnalysisBatch
	if analysisCfg.Name == "" {
		analysisCfg.Name = "board-analysis"
	}
	if analysisCfg.MaxBatchSize < 1 {
		analysisCfg.MaxBatchSize = 8
	}
	if analysisCfg.MaxLatency <= 0 {
		analysisCfg.MaxLatency = 50 * time.Millisecond
	}

	o := &Orchestrator{
		cfg:         cfg,
		cacheM:      deps.Cache,
		breakerReg:  deps.BreakerReg,
		selector:    deps.Selector,
		precompute:  deps.Precompute,
		monitor:     deps.Monitor,
		queue:       deps.Queue,
		bus:         deps.Bus,
		logger:      deps.Logger,
		clock:       clock,
		random:      random,
		openingBook: book,
		pressure:    deps.Pressure,
		stopCh:      make(chan struct{}),
	}
	analysisCfg.Process = o.processAnalysisBatch
	o.analysisBatcher = batcher.NewNamedBatcher(analysisCfg, deps.Bus, deps.Logger, clock)

	go o.monitorPressure()
	return o
}

// Stop halts the Orchestrator's background pressure monitor. It does not
// stop injected collaborators (Precompute, Queue); callers own their
// lifecycle independently, matching spec §9's explicit-ownership design.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
}

func (o *Orchestrator) normalizeRequest(req Request) (Request, error) {
	if req.Difficulty < 1 || req.Difficulty > 25 {
		return Request{}, aierrors.New(aierrors.InvalidInput, "difficulty must be in [1,25]")
	}
	if req.Priority <= 0 {
		req.Priority = o.cfg.DefaultPriority
	}
	if req.Priority > 10 {
		req.Priority = 10
	}
	if req.TimeLimitMs <= 0 {
		req.TimeLimitMs = o.cfg.DefaultTimeLimitMs
	}
	return req, nil
}

func (o *Orchestrator) deadlineFor(req Request) time.Time {
	return o.clock.Now().Add(time.Duration(req.TimeLimitMs) * time.Millisecond)
}

func timeRemaining(clock clockrand.Clock, deadline time.Time) *time.Duration {
	d := deadline.Sub(clock.Now())
	if d < 0 {
		d = 0
	}
	return &d
}

// GetMove runs the 8-step happy path of spec §4.7: span, precompute-cache
// short-circuit, best-effort speculative precompute, memoised
// breaker-protected compute, opening-book/fallback recovery, and a final
// compute-time metric.
func (o *Orchestrator) GetMove(ctx context.Context, req Request) (Response, error) {
	if !req.Board.ValidGravity() {
		return Response{}, aierrors.New(aierrors.InvalidInput, "board violates gravity")
	}
	req, err := o.normalizeRequest(req)
	if err != nil {
		return Response{}, err
	}
	if o.emergency.Load() && req.Priority < o.cfg.EmergencyPriorityFloor {
		return Response{}, aierrors.New(aierrors.QueueFull, "rejected under emergency mode: priority below floor")
	}

	spanID := o.monitor.StartSpan("orchestrator", "get_move", "")
	start := o.clock.Now()
	defer o.monitor.EndSpan("orchestrator", spanID, map[string]string{"game_id": req.GameID})

	fingerprint := req.Board.Fingerprint(req.Player)

	if cached, ok := o.cacheM.Get(precompute.CacheNamespace, fingerprint); ok {
		if pr, ok := cached.(precompute.Result); ok {
			resp := Response{
				Move:       pr.Move,
				Confidence: pr.Confidence,
				Strategy:   "precomputed",
				Phase:      string(strategy.ClassifyPhase(req.Board.FillRatio())),
				Cached:     true,
				ComputeMs:  o.clock.Now().Sub(start).Milliseconds(),
			}
			o.recordComputeMetric(req, resp, nil)
			return resp, nil
		}
	}

	if o.precompute != nil {
		b, p, moveNumber := req.Board, req.Player, req.Board.MoveNumber()
		go o.predictAndPrecompute(b, p, moveNumber)
	}

	deadline := o.deadlineFor(req)
	resp, cached, err := cache.MemoiseShared(o.cacheM, "moves", fingerprint, cache.SetOptions{TTL: o.cfg.MovesCacheTTL}, func(ctx context.Context) (Response, error) {
		return o.computeAIMove(ctx, req, deadline)
	})
	resp.ComputeMs = o.clock.Now().Sub(start).Milliseconds()
	o.recordComputeMetric(req, resp, err)
	if err != nil {
		return Response{}, err
	}
	resp.Cached = cached
	return resp, nil
}

func (o *Orchestrator) recordComputeMetric(req Request, resp Response, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	o.monitor.RecordMetric("ai_compute.duration_ms", float64(resp.ComputeMs), "ms", map[string]string{
		"strategy":   resp.Strategy,
		"difficulty": strconv.Itoa(req.Difficulty),
		"status":     status,
	}, o.clock.Now())
}

// computeAIMove is the memoised function's inner body (spec §4.7 steps
// 5-7): an opening-book consult, then strategy selection and the
// breaker/retry-wrapped external ComputeMove, falling back to
// compute.FallbackMove on breaker rejection or exhausted retries.
func (o *Orchestrator) computeAIMove(ctx context.Context, req Request, deadline time.Time) (Response, error) {
	if col, bookErr := o.openingBook.Lookup(req.Board); bookErr != nil {
		o.logger.Warn("opening book lookup failed", obslog.F("err", bookErr))
	} else if col != nil {
		return Response{
			Move:       *col,
			Confidence: 0.95,
			Strategy:   string(strategy.OpeningBook),
			Phase:      string(strategy.ClassifyPhase(req.Board.FillRatio())),
			Explanation: "opening book hit",
		}, nil
	}

	decision, err := o.selector.Select(strategy.Request{
		Board:         req.Board,
		Player:        req.Player,
		Difficulty:    req.Difficulty,
		TimeRemaining: timeRemaining(o.clock, deadline),
	})
	if err != nil {
		return Response{}, err
	}

	job := ComputeJob{Board: req.Board, Player: req.Player, Strategy: string(decision.Primary), Deadline: deadline}
	op := o.breakerReg.Operation("ai-compute", o.cfg.Breaker)

	moveStart := o.clock.Now()
	raw, _, execErr := op.Execute(ctx, func(ctx context.Context) (any, error) {
		return breaker.Retry(ctx, o.cfg.Retry, o.random, o.bus, func(ctx context.Context) (any, error) {
			return o.queue.Enqueue(ctx, job, req.Priority)
		})
	})
	moveMs := o.clock.Now().Sub(moveStart)

	if execErr != nil {
		fb, ok := compute.FallbackMove(req.Board)
		if !ok {
			return Response{}, aierrors.New(aierrors.NoLegalMove, "no legal column remains")
		}
		o.selector.UpdatePerformance(decision.Primary, strategy.Loss, moveMs, 0)
		return Response{
			Move:        fb.Move,
			Confidence:  fb.Confidence,
			Strategy:    string(decision.Fallback),
			Phase:       string(decision.Phase),
			Explanation: "fallback after " + execErr.Error(),
		}, nil
	}

	result, ok := raw.(compute.Result)
	if !ok {
		return Response{}, aierrors.New(aierrors.Internal, "compute returned an unexpected result type")
	}

	o.selector.UpdatePerformance(decision.Primary, strategy.Win, moveMs, result.Confidence)

	return Response{
		Move:         result.Move,
		Confidence:   result.Confidence,
		Strategy:     string(decision.Primary),
		Phase:        string(decision.Phase),
		Explanation:  decision.Reason,
		Alternatives: result.Alternatives,
	}, nil
}

// predictAndPrecompute schedules speculative compute for the likely
// positions after req's move, fire-and-forget (spec §13 Open Question: the
// source fires and forgets; this keeps that behavior). It is never awaited
// by GetMove.
func (o *Orchestrator) predictAndPrecompute(b board.Board, p board.Player, moveNumber int) {
	for _, pred := range precompute.PredictLikelyPositions(b, p, moveNumber) {
		o.precompute.ScheduleJob(pred.Board, pred.Player, pred.Priority, pred.Depth)
	}
}
