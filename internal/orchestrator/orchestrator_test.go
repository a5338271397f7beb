package orchestrator_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
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
	"github.com/lattice-games/c4aicore/internal/orchestrator"
	"github.com/lattice-games/c4aicore/internal/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingComputeMove is the MockComputeMove fixture of SPEC_FULL.md §10.4:
// it counts invocations (for single-flight assertions) and always returns
// the centre column.
func countingComputeMove(calls *int64, delay time.Duration) compute.Move {
	return func(ctx context.Context, b board.Board, p board.Player, strat string, deadline time.Time) (compute.Result, error) {
		atomic.AddInt64(calls, 1)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return compute.Result{}, ctx.Err()
			}
		}
		return compute.Result{Move: 3, Score: 1, Confidence: 0.8}, nil
	}
}

func newTestOrchestrator(t *testing.T, move compute.Move) *orchestrator.Orchestrator {
	t.Helper()
	bus := events.New()
	clock := clockrand.System
	cacheM := cache.New(cache.Config{DefaultTTL: time.Minute, MaxEntries: 1000}, bus, nil)
	breakerReg := breaker.NewRegistry(bus, nil)
	selector := strategy.New(bus, clock)
	queue := batcher.NewPriorityQueue(batcher.PriorityQueueConfig{
		Name:        "ai-compute",
		Concurrency: 4,
		Process: func(ctx context.Context, payload any) (any, error) {
			job := payload.(orchestrator.ComputeJob)
			return move(ctx, job.Board, job.Player, job.Strategy, job.Deadline)
		},
	}, bus, clock)
	monitor := metrics.New(metrics.Options{})

	o := orchestrator.New(orchestrator.Config{}, orchestrator.Dependencies{
		Cache:      cacheM,
		BreakerReg: breakerReg,
		Selector:   selector,
		Monitor:    monitor,
		Queue:      queue,
		Bus:        bus,
		Clock:      clock,
		Random:     clockrand.SystemRandom{},
	})
	t.Cleanup(func() {
		o.Stop()
		queue.Close()
	})
	return o
}

func TestGetMoveReturnsLegalColumn(t *testing.T) {
	var calls int64
	o := newTestOrchestrator(t, countingComputeMove(&calls, 0))

	req := board.New()
	resp, err := o.GetMove(context.Background(), orchestrator.Request{
		GameID:     "g1",
		Board:      req,
		Player:     board.PlayerRed,
		Difficulty: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Move)
	assert.Contains(t, req.LegalColumns(), resp.Move)
}

func TestGetMoveRejectsInvalidBoard(t *testing.T) {
	var calls int64
	o := newTestOrchestrator(t, countingComputeMove(&calls, 0))

	// A stone in the top-left corner with nothing beneath it violates
	// gravity (spec §3 "Board" invariant).
	violated, err := board.Deserialize("1" + strings.Repeat("0", 41))
	require.NoError(t, err)

	_, getErr := o.GetMove(context.Background(), orchestrator.Request{
		Board:      violated,
		Player:     board.PlayerRed,
		Difficulty: 5,
	})
	require.Error(t, getErr)
	assert.Equal(t, aierrors.InvalidInput, aierrors.KindOf(getErr))
	assert.Equal(t, int64(0), atomic.LoadInt64(&calls))
}

func TestGetMoveRejectsOutOfRangeDifficulty(t *testing.T) {
	var calls int64
	o := newTestOrchestrator(t, countingComputeMove(&calls, 0))

	_, err := o.GetMove(context.Background(), orchestrator.Request{
		Board:      board.New(),
		Player:     board.PlayerRed,
		Difficulty: 26,
	})
	require.Error(t, err)
	assert.Equal(t, aierrors.InvalidInput, aierrors.KindOf(err))
	assert.Equal(t, int64(0), atomic.LoadInt64(&calls))
}

func TestGetMoveSingleFlight(t *testing.T) {
	var calls int64
	o := newTestOrchestrator(t, countingComputeMove(&calls, 50*time.Millisecond))

	req := orchestrator.Request{Board: board.New(), Player: board.PlayerRed, Difficulty: 5}

	results := make(chan orchestrator.Response, 10)
	for i := 0; i < 10; i++ {
		go func() {
			resp, err := o.GetMove(context.Background(), req)
			require.NoError(t, err)
			results <- resp
		}()
	}

	moves := make(map[int]bool)
	for i := 0; i < 10; i++ {
		resp := <-results
		moves[resp.Move] = true
	}

	assert.Len(t, moves, 1)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestGetMoveFallsBackOnPersistentFailure(t *testing.T) {
	failing := func(ctx context.Context, b board.Board, p board.Player, s string, deadline time.Time) (compute.Result, error) {
		return compute.Result{}, aierrors.New(aierrors.TransientCompute, "compute exploded")
	}
	o := newTestOrchestrator(t, failing)

	resp, err := o.GetMove(context.Background(), orchestrator.Request{
		Board:      board.New(),
		Player:     board.PlayerRed,
		Difficulty: 5,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, resp.Confidence, 0.3)
	assert.Contains(t, board.New().LegalColumns(), resp.Move)
}

func TestGetMoveOpeningBookHit(t *testing.T) {
	var calls int64
	bus := events.New()
	clock := clockrand.System
	cacheM := cache.New(cache.Config{DefaultTTL: time.Minute, MaxEntries: 1000}, bus, nil)
	breakerReg := breaker.NewRegistry(bus, nil)
	selector := strategy.New(bus, clock)
	move := countingComputeMove(&calls, 0)
	queue := batcher.NewPriorityQueue(batcher.PriorityQueueConfig{
		Name:        "ai-compute",
		Concurrency: 4,
		Process: func(ctx context.Context, payload any) (any, error) {
			job := payload.(orchestrator.ComputeJob)
			return move(ctx, job.Board, job.Player, job.Strategy, job.Deadline)
		},
	}, bus, clock)
	monitor := metrics.New(metrics.Options{})

	bookCol := 2
	o := orchestrator.New(orchestrator.Config{}, orchestrator.Dependencies{
		Cache:       cacheM,
		BreakerReg:  breakerReg,
		Selector:    selector,
		Monitor:     monitor,
		Queue:       queue,
		Bus:         bus,
		Clock:       clock,
		Random:      clockrand.SystemRandom{},
		OpeningBook: fakeOpeningBook{col: &bookCol},
	})
	t.Cleanup(func() { o.Stop(); queue.Close() })

	resp, err := o.GetMove(context.Background(), orchestrator.Request{
		Board:      board.New(),
		Player:     board.PlayerRed,
		Difficulty: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, bookCol, resp.Move)
	assert.Equal(t, "opening-book", resp.Strategy)
	assert.Equal(t, int64(0), atomic.LoadInt64(&calls))
}

type fakeOpeningBook struct{ col *int }

func (f fakeOpeningBook) Lookup(board.Board) (*int, error) { return f.col, nil }

func TestAnalyseBoardsFansOutConcurrently(t *testing.T) {
	var calls int64
	o := newTestOrchestrator(t, countingComputeMove(&calls, 0))

	boards := []board.Board{board.New(), board.New(), board.New()}
	scores := o.AnalyseBoards(context.Background(), boards, board.PlayerRed)
	require.Len(t, scores, 3)
	for _, s := range scores {
		require.NoError(t, s.Err)
		assert.Equal(t, 3, s.Move)
	}
}

func TestStreamAnalysisEmitsInOrderAndCompletes(t *testing.T) {
	var calls int64
	o := newTestOrchestrator(t, countingComputeMove(&calls, 0))

	s := o.StreamAnalysis(context.Background(), orchestrator.Request{
		Board:      board.New(),
		Player:     board.PlayerRed,
		Difficulty: 5,
	})

	var kinds []orchestrator.UpdateKind
	for {
		u, ok := s.Next(context.Background())
		if !ok {
			break
		}
		kinds = append(kinds, u.Kind)
		if u.Kind == orchestrator.UpdateComplete {
			require.NoError(t, u.Err)
			assert.Equal(t, 3, u.Response.Move)
		}
	}
	require.NotEmpty(t, kinds)
	assert.Equal(t, orchestrator.UpdateComplete, kinds[len(kinds)-1])
}

func TestStreamAnalysisStopEarlyStopsDelivery(t *testing.T) {
	var calls int64
	o := newTestOrchestrator(t, countingComputeMove(&calls, 20*time.Millisecond))

	s := o.StreamAnalysis(context.Background(), orchestrator.Request{
		Board:      board.New(),
		Player:     board.PlayerRed,
		Difficulty: 5,
	})
	_, ok := s.Next(context.Background())
	require.True(t, ok)
	s.Stop()

	// Draining after Stop must terminate rather than hang.
	done := make(chan struct{})
	go func() {
		for {
			_, ok := s.Next(context.Background())
			if !ok {
				close(done)
				return
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not drain after Stop")
	}
}
