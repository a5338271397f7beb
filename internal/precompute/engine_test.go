package precompute_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lattice-games/c4aicore/internal/board"
	"github.com/lattice-games/c4aicore/internal/cache"
	"github.com/lattice-games/c4aicore/internal/events"
	"github.com/lattice-games/c4aicore/internal/precompute"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, compute precompute.ComputeFunc) (*precompute.Engine, *cache.Manager) {
	t.Helper()
	cm := cache.New(cache.Config{}, events.New(), nil)
	e := precompute.New(precompute.Config{
		Enabled:       true,
		MaxDepth:      6,
		MaxConcurrent: 3,
		BatchSize:     10,
		QueueCap:      1000,
	}, compute, cm, events.New(), nil, nil)
	return e, cm
}

func TestScheduleJobDedupesSameFingerprintAndPlayer(t *testing.T) {
	var calls int32
	e, _ := newTestEngine(t, func(ctx context.Context, b board.Board, p board.Player, depth int) (precompute.Result, error) {
		atomic.AddInt32(&calls, 1)
		return precompute.Result{Move: 3}, nil
	})

	b := board.New()
	e.ScheduleJob(b, board.PlayerRed, 5, 6)
	e.ScheduleJob(b, board.PlayerRed, 7, 6) // same fingerprint+player, should be a no-op
	stats := e.Stats()
	assert.Equal(t, 1, stats.Pending)
}

func TestScheduleJobAllowsDifferentPlayerSameBoard(t *testing.T) {
	e, _ := newTestEngine(t, func(ctx context.Context, b board.Board, p board.Player, depth int) (precompute.Result, error) {
		return precompute.Result{}, nil
	})
	b := board.New()
	e.ScheduleJob(b, board.PlayerRed, 5, 6)
	e.ScheduleJob(b, board.PlayerYellow, 5, 6)
	assert.Equal(t, 2, e.Stats().Pending)
}

func TestDispatcherDrainsQueueAndWritesCache(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	e, cm := newTestEngine(t, func(ctx context.Context, b board.Board, p board.Player, depth int) (precompute.Result, error) {
		defer wg.Done()
		return precompute.Result{Move: 3, Score: 0.5, Confidence: 0.8}, nil
	})
	e.Start()
	defer e.Stop()

	b := board.New()
	e.ScheduleJob(b, board.PlayerRed, 5, 6)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("precompute job never ran")
	}

	// Give the job's goroutine time to write the cache entry after return.
	require.Eventually(t, func() bool {
		_, ok := cm.Get(precompute.CacheNamespace, b.Fingerprint(board.PlayerRed))
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestScheduleJobOverflowDropsLowestPriority(t *testing.T) {
	cm := cache.New(cache.Config{}, events.New(), nil)
	e := precompute.New(precompute.Config{
		Enabled:       true,
		MaxDepth:      6,
		MaxConcurrent: 3,
		BatchSize:     10,
		QueueCap:      1,
	}, func(ctx context.Context, b board.Board, p board.Player, depth int) (precompute.Result, error) {
		return precompute.Result{}, nil
	}, cm, events.New(), nil, nil)

	b1, _ := board.New().Drop(0, board.PlayerRed)
	b2, _ := board.New().Drop(1, board.PlayerRed)

	e.ScheduleJob(b1, board.PlayerRed, 1, 6)
	e.ScheduleJob(b2, board.PlayerRed, 9, 6) // higher priority should displace b1
	require.Equal(t, 1, e.Stats().Pending)

	b3, _ := board.New().Drop(2, board.PlayerRed)
	e.ScheduleJob(b3, board.PlayerRed, 0, 6) // lower priority than the incumbent: dropped
	assert.Equal(t, 1, e.Stats().Pending)
	assert.Equal(t, uint64(1), e.Stats().Dropped)
}

func TestClearDropsPendingJobs(t *testing.T) {
	e, _ := newTestEngine(t, func(ctx context.Context, b board.Board, p board.Player, depth int) (precompute.Result, error) {
		return precompute.Result{}, nil
	})
	b, _ := board.New().Drop(0, board.PlayerRed)
	e.ScheduleJob(b, board.PlayerRed, 5, 6)
	require.Equal(t, 1, e.Stats().Pending)

	e.Clear()
	assert.Equal(t, 0, e.Stats().Pending)
}

func TestWarmupSchedulesOpeningAndEndgameJobs(t *testing.T) {
	cm := cache.New(cache.Config{}, events.New(), nil)
	e := precompute.New(precompute.Config{
		Enabled:       true,
		MaxDepth:      6,
		MaxConcurrent: 3,
		BatchSize:     10,
		QueueCap:      1000,
		Warmup:        true,
	}, func(ctx context.Context, b board.Board, p board.Player, depth int) (precompute.Result, error) {
		return precompute.Result{}, nil
	}, cm, events.New(), nil, nil)

	e.Start()
	defer e.Stop()

	require.Eventually(t, func() bool {
		return e.Stats().Scheduled > 0
	}, time.Second, 10*time.Millisecond)
}
