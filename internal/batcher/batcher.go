// Package batcher implements the two queue disciplines of spec §4.4: a named
// batcher that coalesces same-operation requests into batches, and a
// priority queue executor with starvation prevention. Both generalize the
// teacher's container/heap-backed JobQueue/DeadlineScheduler
// (kernel/threads/intelligence/scheduling/engine.go) from EDF job scheduling
// to request admission. The named batcher additionally has an optional
// rate-limited admission gate wired from the teacher's gossip rate limiter
// (kernel/core/mesh/routing/gossip.go's limiter.TokenBucket), active only
// when RateLimitPerSec > 0; the priority queue has no rate limiter.
package batcher

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lattice-games/c4aicore/internal/aierrors"
	"github.com/lattice-games/c4aicore/internal/clockrand"
	"github.com/lattice-games/c4aicore/internal/events"
	"github.com/lattice-games/c4aicore/internal/obslog"
	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"
)

// Stats mirrors spec §4.4's batcher/queue observability surface.
type Stats struct {
	Pending           int
	InFlight          int
	Processed         uint64
	Failed            uint64
	AvgBatchSize      float64
	AvgProcessingTime time.Duration
	QueueUtilization  float64
}

type request struct {
	id       uint64
	payload  any
	priority int
	queuedAt time.Time
	deadline time.Time
	result   chan outcome
	index    int
}

type outcome struct {
	value any
	err   error
}

func newLimiter(perSecond, burst int) *limiter.TokenBucket {
	if perSecond <= 0 {
		return nil
	}
	lim, err := limiter.NewTokenBucket(limiter.Config{
		Rate:     int64(perSecond),
		Duration: time.Second,
		Burst:    int64(burst),
	}, store.NewMemoryStore(time.Minute))
	if err != nil {
		return nil
	}
	return lim
}

// NamedBatcherConfig configures one named batcher (spec §6.4).
type NamedBatcherConfig struct {
	Name            string
	MaxBatchSize    int
	MaxLatency      time.Duration
	MaxQueueSize    int
	RateLimitPerSec int
	RateLimitBurst  int
	Process         func(ctx context.Context, payloads []any) ([]any, error)
}

// NamedBatcher groups requests for one operation name and flushes a batch
// when size≥MaxBatchSize or the oldest item's age≥MaxLatency (spec §4.4).
type NamedBatcher struct {
	cfg    NamedBatcherConfig
	bus    *events.Bus
	logger *obslog.Logger
	clock  clockrand.Clock

	mu       sync.Mutex
	queue    []*request
	nextID   uint64
	inFlight int

	processed  uint64
	failed     uint64
	batchSizes []int
	procTimes  []time.Duration

	limiter *limiter.TokenBucket
	timer   *time.Timer
	closed  bool
}

// NewNamedBatcher constructs a batcher. Its flush timer is armed by the
// first Enqueue into an empty queue.
func NewNamedBatcher(cfg NamedBatcherConfig, bus *events.Bus, logger *obslog.Logger, clock clockrand.Clock) *NamedBatcher {
	if cfg.MaxBatchSize < 1 {
		cfg.MaxBatchSize = 1
	}
	if clock == nil {
		clock = clockrand.System
	}
	b := &NamedBatcher{
		cfg:     cfg,
		bus:     bus,
		logger:  logger,
		clock:   clock,
		limiter: newLimiter(cfg.RateLimitPerSec, cfg.RateLimitBurst),
	}
	return b
}

// Enqueue adds payload at priority and blocks until the batch it lands in is
// processed, ctx is cancelled, or the queue rejects it.
func (b *NamedBatcher) Enqueue(ctx context.Context, payload any, priority int) (any, error) {
	if b.limiter != nil && !b.limiter.Allow(b.cfg.Name) {
		return nil, aierrors.New(aierrors.QueueFull, "admission rate limit exceeded for batcher "+b.cfg.Name)
	}

	req := &request{
		payload:  payload,
		priority: priority,
		queuedAt: b.clock.Now(),
		result:   make(chan outcome, 1),
	}
	if dl, ok := ctx.Deadline(); ok {
		req.deadline = dl
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, aierrors.New(aierrors.QueueFull, "batcher "+b.cfg.Name+" is closed")
	}
	if b.cfg.MaxQueueSize > 0 && len(b.queue) >= b.cfg.MaxQueueSize {
		victim, idx := b.lowestPriorityLocked()
		if victim == nil || victim.priority >= priority {
			b.mu.Unlock()
			return nil, aierrors.New(aierrors.QueueFull, "batcher "+b.cfg.Name+" queue full")
		}
		b.queue = append(b.queue[:idx], b.queue[idx+1:]...)
		victim.result <- outcome{err: aierrors.New(aierrors.QueueFull, "displaced by higher-priority request")}
	}

	req.id = b.nextID
	b.nextID++
	b.queue = append(b.queue, req)
	flush := len(b.queue) >= b.cfg.MaxBatchSize
	if len(b.queue) == 1 {
		b.armTimerLocked()
	}
	b.mu.Unlock()

	b.bus.EmitKV(events.BatcherEnqueue, "batcher", b.cfg.Name, "priority", priority)

	if flush {
		b.flush()
	}

	select {
	case out := <-req.result:
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *NamedBatcher) lowestPriorityLocked() (*request, int) {
	if len(b.queue) == 0 {
		return nil, -1
	}
	worstIdx := 0
	for i, r := range b.queue {
		if r.priority < b.queue[worstIdx].priority {
			worstIdx = i
		}
	}
	return b.queue[worstIdx], worstIdx
}

func (b *NamedBatcher) armTimerLocked() {
	if b.cfg.MaxLatency <= 0 {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.cfg.MaxLatency, b.flush)
}

func (b *NamedBatcher) flush() {
	b.mu.Lock()
	if len(b.queue) == 0 {
		b.mu.Unlock()
		return
	}
	sort.SliceStable(b.queue, func(i, j int) bool {
		if b.queue[i].priority != b.queue[j].priority {
			return b.queue[i].priority > b.queue[j].priority
		}
		return b.queue[i].queuedAt.Before(b.queue[j].queuedAt)
	})
	n := len(b.queue)
	if n > b.cfg.MaxBatchSize {
		n = b.cfg.MaxBatchSize
	}
	batch := b.queue[:n]
	b.queue = b.queue[n:]
	b.inFlight += n
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.queue) > 0 {
		b.armTimerLocked()
	}
	b.mu.Unlock()

	start := b.clock.Now()
	payloads := make([]any, n)
	for i, r := range batch {
		payloads[i] = r.payload
	}

	results, err := b.cfg.Process(context.Background(), payloads)
	elapsed := b.clock.Now().Sub(start)

	b.mu.Lock()
	b.inFlight -= n
	b.batchSizes = append(b.batchSizes, n)
	b.procTimes = append(b.procTimes, elapsed)
	if err != nil {
		b.failed += uint64(n)
	} else {
		b.processed += uint64(n)
	}
	b.mu.Unlock()

	if err != nil {
		b.bus.EmitKV(events.BatcherError, "batcher", b.cfg.Name, "error", err.Error())
		for _, r := range batch {
			r.result <- outcome{err: err}
		}
		return
	}

	b.bus.EmitKV(events.BatcherProcessed, "batcher", b.cfg.Name, "size", n)
	for i, r := range batch {
		if i < len(results) {
			r.result <- outcome{value: results[i]}
		} else {
			r.result <- outcome{err: aierrors.New(aierrors.Internal, "processor returned fewer results than batch size")}
		}
	}
}

// Stats reports the batcher's current counters (spec §4.4).
func (b *NamedBatcher) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Pending:           len(b.queue),
		InFlight:          b.inFlight,
		Processed:         b.processed,
		Failed:            b.failed,
		AvgBatchSize:      average(b.batchSizes),
		AvgProcessingTime: averageDuration(b.procTimes),
		QueueUtilization:  utilization(len(b.queue), b.cfg.MaxQueueSize),
	}
}

func average(xs []int) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0
	for _, x := range xs {
		sum += x
	}
	return float64(sum) / float64(len(xs))
}

func averageDuration(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range ds {
		sum += d
	}
	return sum / time.Duration(len(ds))
}

func utilization(pending, max int) float64 {
	if max <= 0 {
		return 0
	}
	return float64(pending) / float64(max)
}
