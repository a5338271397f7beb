package batcher

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/lattice-games/c4aicore/internal/aierrors"
	"github.com/lattice-games/c4aicore/internal/clockrand"
	"github.com/lattice-games/c4aicore/internal/events"
)

// requestHeap orders by priority descending, then by arrival (earlier
// queuedAt first), generalizing the teacher's JobQueue
// (kernel/threads/intelligence/scheduling/engine.go) from EDF deadlines to
// plain priority.
type requestHeap []*request

func (h requestHeap) Len() int { return len(h) }
func (h requestHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].queuedAt.Before(h[j].queuedAt)
}
func (h requestHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *requestHeap) Push(x any) {
	item := x.(*request)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// PriorityQueueConfig configures a concurrency-bounded priority executor
// (spec §4.4).
type PriorityQueueConfig struct {
	Name                string
	Concurrency         int
	StarvationThreshold time.Duration
	MaxQueueSize        int
	Process             func(ctx context.Context, payload any) (any, error)
}

// PriorityQueue admits the strictly-highest-priority item next, except that
// any item waiting longer than StarvationThreshold becomes eligible
// regardless of priority (spec §4.4).
type PriorityQueue struct {
	cfg    PriorityQueueConfig
	bus    *events.Bus
	clock  clockrand.Clock

	mu      sync.Mutex
	heap    requestHeap
	nextID  uint64
	active  int
	paused  bool
	closed  bool
	cond    *sync.Cond

	processed uint64
	failed    uint64
	procTimes []time.Duration
}

// NewPriorityQueue constructs a queue and starts its dispatch loop.
func NewPriorityQueue(cfg PriorityQueueConfig, bus *events.Bus, clock clockrand.Clock) *PriorityQueue {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.StarvationThreshold <= 0 {
		cfg.StarvationThreshold = 10 * time.Second
	}
	if clock == nil {
		clock = clockrand.System
	}
	q := &PriorityQueue{cfg: cfg, bus: bus, clock: clock}
	q.cond = sync.NewCond(&q.mu)
	go q.dispatchLoop()
	return q
}

// Pause gates the scheduler without dropping pending items.
func (q *PriorityQueue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume un-gates the scheduler.
func (q *PriorityQueue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Close stops the dispatch loop; pending items are rejected with QueueFull.
func (q *PriorityQueue) Close() {
	q.mu.Lock()
	q.closed = true
	for q.heap.Len() > 0 {
		r := heap.Pop(&q.heap).(*request)
		r.result <- outcome{err: aierrors.New(aierrors.QueueFull, "queue "+q.cfg.Name+" closed")}
	}
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Enqueue admits payload at priority and blocks for the processor's result,
// ctx cancellation, or a queue rejection.
func (q *PriorityQueue) Enqueue(ctx context.Context, payload any, priority int) (any, error) {
	req := &request{
		payload:  payload,
		priority: priority,
		queuedAt: q.clock.Now(),
		result:   make(chan outcome, 1),
	}
	if dl, ok := ctx.Deadline(); ok {
		req.deadline = dl
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, aierrors.New(aierrors.QueueFull, "queue "+q.cfg.Name+" closed")
	}
	if q.cfg.MaxQueueSize > 0 && q.heap.Len() >= q.cfg.MaxQueueSize {
		worst := q.worstLocked()
		if worst == nil || worst.priority >= priority {
			q.mu.Unlock()
			return nil, aierrors.New(aierrors.QueueFull, "queue "+q.cfg.Name+" full")
		}
		heap.Remove(&q.heap, worst.index)
		worst.result <- outcome{err: aierrors.New(aierrors.QueueFull, "displaced by higher-priority request")}
	}

	req.id = q.nextID
	q.nextID++
	heap.Push(&q.heap, req)
	q.mu.Unlock()
	q.cond.Broadcast()

	q.bus.EmitKV(events.QueueEnqueue, "queue", q.cfg.Name, "priority", priority)

	select {
	case out := <-req.result:
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *PriorityQueue) worstLocked() *request {
	if q.heap.Len() == 0 {
		return nil
	}
	worst := q.heap[0]
	for _, r := range q.heap {
		if r.priority < worst.priority {
			worst = r
		}
	}
	return worst
}

// dispatchLoop pulls the next eligible request and runs it on a worker
// goroutine, up to Concurrency concurrently.
func (q *PriorityQueue) dispatchLoop() {
	for {
		q.mu.Lock()
		for {
			if q.closed {
				q.mu.Unlock()
				return
			}
			if !q.paused && q.active < q.cfg.Concurrency && q.heap.Len() > 0 {
				break
			}
			q.cond.Wait()
		}
		req := q.popNextLocked()
		q.active++
		q.mu.Unlock()

		go q.run(req)
	}
}

// popNextLocked selects the starved item if any exists (wait ≥
// StarvationThreshold), else the strictly-highest-priority item. Must be
// called with q.mu held.
func (q *PriorityQueue) popNextLocked() *request {
	now := q.clock.Now()
	for i, r := range q.heap {
		if now.Sub(r.queuedAt) >= q.cfg.StarvationThreshold {
			heap.Remove(&q.heap, i)
			return r
		}
	}
	return heap.Pop(&q.heap).(*request)
}

func (q *PriorityQueue) run(req *request) {
	ctx := context.Background()
	if !req.deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.deadline)
		defer cancel()
	}

	start := q.clock.Now()
	result, err := q.cfg.Process(ctx, req.payload)
	elapsed := q.clock.Now().Sub(start)

	q.mu.Lock()
	q.active--
	q.procTimes = append(q.procTimes, elapsed)
	if err != nil {
		q.failed++
	} else {
		q.processed++
	}
	q.mu.Unlock()
	q.cond.Broadcast()

	if err != nil {
		q.bus.EmitKV(events.BatcherError, "queue", q.cfg.Name, "error", err.Error())
		req.result <- outcome{err: err}
		return
	}
	q.bus.EmitKV(events.QueueProcessed, "queue", q.cfg.Name)
	req.result <- outcome{value: result}
}

// Stats reports the queue's current counters (spec §4.4).
func (q *PriorityQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:           q.heap.Len(),
		InFlight:          q.active,
		Processed:         q.processed,
		Failed:            q.failed,
		AvgProcessingTime: averageDuration(q.procTimes),
		QueueUtilization:  utilization(q.heap.Len(), q.cfg.MaxQueueSize),
	}
}
