// Package compute defines the core-out collaborator contract (spec §6.2):
// the external ComputeMove function the orchestrator wraps in
// breaker/retry/batching, an optional opening-book lookup, and the
// always-available fallback mover used when ComputeMove is unavailable or
// exhausted. Separating the collaborator interface from its
// implementations follows the teacher's own boundary between
// UnifiedIntelligenceCoordinator (the orchestrating core) and the engines
// it calls by capability (kernel/threads/intelligence/coordinator.go's
// Dispatch).
package compute

import (
	"context"
	"time"

	"github.com/lattice-games/c4aicore/internal/board"
)

// Result is what ComputeMove returns for one search (spec §6.2).
type Result struct {
	Move         int
	Score        float64
	Confidence   float64
	Alternatives []Alternative
}

// Alternative is one runner-up move surfaced in a response's
// "alternatives" field (spec §6.1).
type Alternative struct {
	Move      int
	Score     float64
	Reasoning string
}

// Move is the external AI search collaborator. It may fail (e.g. compute
// timeout, engine crash); that failure is what the breaker/retry wrapper
// classifies and recovers from. Implementations must respect ctx's
// deadline.
type Move func(ctx context.Context, b board.Board, p board.Player, strategy string, deadline time.Time) (Result, error)

// OpeningBook is a pure, possibly-failing lookup of a known-good move for
// an opening position (spec §6.2). A lookup failure or miss (nil) is
// treated identically by the orchestrator: fall through to ComputeMove.
type OpeningBook interface {
	Lookup(b board.Board) (col *int, err error)
}

// NoOpeningBook always misses; it is the default when no book is wired.
type NoOpeningBook struct{}

func (NoOpeningBook) Lookup(board.Board) (*int, error) { return nil, nil }

// FallbackMove picks a legal move without consulting ComputeMove at all:
// the centre column if legal, else the legal column nearest the centre
// (the lower column on a tie), always with confidence 0.3. It never fails
// as long as at least one column is legal.
func FallbackMove(b board.Board) (Result, bool) {
	legal := b.LegalColumns()
	if len(legal) == 0 {
		return Result{}, false
	}

	center := board.Cols / 2
	chosen := legal[0]
	bestDist := abs(legal[0] - center)
	for _, col := range legal[1:] {
		if d := abs(col - center); d < bestDist {
			bestDist = d
			chosen = col
		}
	}

	return Result{Move: chosen, Score: 0, Confidence: 0.3}, true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
