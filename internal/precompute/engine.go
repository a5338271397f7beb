package precompute

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/lattice-games/c4aicore/internal/board"
	"github.com/lattice-games/c4aicore/internal/cache"
	"github.com/lattice-games/c4aicore/internal/clockrand"
	"github.com/lattice-games/c4aicore/internal/events"
	"github.com/lattice-games/c4aicore/internal/obslog"
)

const (
	// CacheNamespace is where precomputed results are written (spec §4.6
	// "Lifecycle": "writes to the cache with a 1-hour TTL").
	CacheNamespace = "precompute"
	resultTTL      = time.Hour

	defaultQueueCap    = 1000
	defaultConcurrency = 3
	defaultBatchSize   = 10
	dispatchInterval   = 100 * time.Millisecond // ~10 Hz
	bloomExpectedItems = 100000
	bloomFalsePositive = 0.01
)

// Result is one precomputed move, the same shape ComputeMove returns for a
// synchronous request.
type Result struct {
	Move       int
	Score      float64
	Confidence float64
}

// ComputeFunc runs the same compute path synchronous requests use.
type ComputeFunc func(ctx context.Context, b board.Board, p board.Player, depth int) (Result, error)

type job struct {
	fingerprint string
	board       board.Board
	player      board.Player
	depth       int
	priority    float64
	index       int
}

type jobHeap []*job

func (h jobHeap) Len() int            { return len(h) }
func (h jobHeap) Less(i, j int) bool  { return h[i].priority > h[j].priority }
func (h jobHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *jobHeap) Push(x any) {
	item := x.(*job)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Config configures the Precomputation Engine (spec §6.4).
type Config struct {
	Enabled       bool
	MaxDepth      int
	MaxConcurrent int
	BatchSize     int
	QueueCap      int
	Warmup        bool
}

// Engine runs the bounded priority queue + periodic dispatcher of spec §4.6.
type Engine struct {
	cfg     Config
	compute ComputeFunc
	cacheM  *cache.Manager
	bus     *events.Bus
	logger  *obslog.Logger
	clock   clockrand.Clock

	mu       sync.Mutex
	queue    jobHeap
	active   map[string]bool // fingerprint+player key, authoritative dedup
	inFlight int
	seen     *bloom.BloomFilter

	stopOnce sync.Once
	stopCh   chan struct{}

	scheduled uint64
	completed uint64
	dropped   uint64
}

func activeKey(fingerprint string, p board.Player) string {
	if p == board.PlayerRed {
		return fingerprint + "|R"
	}
	return fingerprint + "|Y"
}

// New constructs an Engine. The dispatcher goroutine is started by Start.
func New(cfg Config, compute ComputeFunc, cacheM *cache.Manager, bus *events.Bus, logger *obslog.Logger, clock clockrand.Clock) *Engine {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultConcurrency
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = defaultQueueCap
	}
	if clock == nil {
		clock = clockrand.System
	}
	return &Engine{
		cfg:     cfg,
		compute: compute,
		cacheM:  cacheM,
		bus:     bus,
		logger:  logger,
		clock:   clock,
		active:  make(map[string]bool),
		seen:    bloom.NewWithEstimates(bloomExpectedItems, bloomFalsePositive),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the periodic dispatcher and, if configured, schedules
// warmup jobs (spec §4.6 "Warmup").
func (e *Engine) Start() {
	if !e.cfg.Enabled {
		return
	}
	if e.cfg.Warmup {
		e.warmup()
	}
	go e.dispatchLoop()
}

// Stop halts the dispatcher. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// ScheduleJob enqueues (board, player) for speculative compute, deduped by
// (fingerprint, player) against both in-flight jobs and the pending queue.
// On a full queue the lowest-priority job is dropped (spec §4.6 "Model").
func (e *Engine) ScheduleJob(b board.Board, p board.Player, priority float64, depth int) {
	if !e.cfg.Enabled {
		return
	}
	fp := b.Fingerprint(p)
	key := activeKey(fp, p)
	keyBytes := []byte(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.seen.Test(keyBytes) && e.active[key] {
		return
	}

	j := &job{fingerprint: fp, board: b, player: p, depth: depth, priority: priority}
	if e.queue.Len() >= e.cfg.QueueCap {
		worstIdx := e.worstIndexLocked()
		if worstIdx < 0 || e.queue[worstIdx].priority >= priority {
			e.dropped++
			return
		}
		displaced := e.queue[worstIdx]
		delete(e.active, activeKey(displaced.fingerprint, displaced.player))
		heap.Remove(&e.queue, worstIdx)
	}

	e.active[key] = true
	e.seen.Add(keyBytes)
	heap.Push(&e.queue, j)
	e.scheduled++
	e.bus.EmitKV(events.PrecomputeScheduled, "fingerprint", fp, "priority", priority)
}

func (e *Engine) worstIndexLocked() int {
	if e.queue.Len() == 0 {
		return -1
	}
	worst := 0
	for i, j := range e.queue {
		if j.priority < e.queue[worst].priority {
			worst = i
		}
	}
	return worst
}

func (e *Engine) dispatchLoop() {
	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.dispatchBatch()
		}
	}
}

func (e *Engine) dispatchBatch() {
	for {
		e.mu.Lock()
		if e.inFlight >= e.cfg.MaxConcurrent || e.queue.Len() == 0 {
			e.mu.Unlock()
			return
		}
		batchCap := e.cfg.MaxConcurrent - e.inFlight
		if batchCap > e.cfg.BatchSize {
			batchCap = e.cfg.BatchSize
		}
		var batch []*job
		for len(batch) < batchCap && e.queue.Len() > 0 {
			batch = append(batch, heap.Pop(&e.queue).(*job))
		}
		e.inFlight += len(batch)
		e.mu.Unlock()

		for _, j := range batch {
			go e.run(j)
		}
		return
	}
}

func (e *Engine) run(j *job) {
	defer func() {
		e.mu.Lock()
		e.inFlight--
		delete(e.active, activeKey(j.fingerprint, j.player))
		e.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := e.compute(ctx, j.board, j.player, j.depth)
	if err != nil {
		e.logger.Warn("precompute job failed", obslog.F("fingerprint", j.fingerprint), obslog.F("err", err))
		return
	}

	e.cacheM.Set(CacheNamespace, j.fingerprint, result, cache.SetOptions{TTL: resultTTL})

	e.mu.Lock()
	e.completed++
	e.mu.Unlock()
	e.bus.EmitKV(events.PrecomputeCompleted, "fingerprint", j.fingerprint, "move", result.Move)
}

// Clear drops all pending jobs without cancelling in-flight ones, used by
// the orchestrator's emergency mode (spec §5 "Emergency mode").
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	dropped := e.queue.Len()
	e.queue = e.queue[:0]
	e.active = make(map[string]bool)
	e.dropped += uint64(dropped)
}

// Stats reports the engine's current counters.
type Stats struct {
	Pending   int
	InFlight  int
	Scheduled uint64
	Completed uint64
	Dropped   uint64
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Pending:   e.queue.Len(),
		InFlight:  e.inFlight,
		Scheduled: e.scheduled,
		Completed: e.completed,
		Dropped:   e.dropped,
	}
}

// warmup schedules five one-stone opening positions (Red in column 3, 2, 4,
// 1 or 5, Yellow to move) at priority 8, and one fixed six-stone position
// (Red to move) at priority 6. No other endgame patterns are scheduled.
func (e *Engine) warmup() {
	b := board.New()
	for _, col := range []int{3, 2, 4, 1, 5} {
		child, ok := b.Drop(col, board.PlayerRed)
		if !ok {
			continue
		}
		e.ScheduleJob(child, board.PlayerYellow, 8, e.cfg.MaxDepth)
	}

	endgame := b
	for i, col := range []int{3, 3, 2, 2, 4, 4} {
		player := board.PlayerRed
		if i%2 == 1 {
			player = board.PlayerYellow
		}
		next, ok := endgame.Drop(col, player)
		if !ok {
			break
		}
		endgame = next
	}
	e.ScheduleJob(endgame, board.PlayerRed, 6, e.cfg.MaxDepth)
}
