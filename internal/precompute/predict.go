// Package precompute implements the Precomputation Engine (spec §4.6): a
// bounded priority queue of speculative compute jobs, deduplicated by
// (fingerprint, player) with a bloom filter guarding the authoritative
// active-set map, drained by a periodic dispatcher under a concurrency cap.
// The active-set dedup pattern generalizes the teacher's gossip dedup
// (kernel/core/mesh/gossip.go's seenFilter bloom.BloomFilter guarding a
// message map) from "have I seen this message" to "is this position
// already queued or in flight".
package precompute

import (
	"sort"

	"github.com/lattice-games/c4aicore/internal/board"
)

// Prediction is one speculative child position worth precomputing (spec
// §4.6 "Prediction of likely positions").
type Prediction struct {
	Board       board.Board
	Player      board.Player
	Column      int
	Probability float64
	Depth       int
	Priority    float64
	MoveNumber  int
}

const (
	baseProbability        = 0.1
	centerColumn           = board.Cols / 2
	centerBonus            = 0.2
	adjacentCenterBonus    = 0.1
	immediateWinBonus      = 0.9
	blocksOpponentBonus    = 0.8
	expandThreshold        = 0.1
	recurseParentThreshold = 0.3
	decayFactor            = 0.8
	topN                   = 20
)

func isAdjacentCenter(col int) bool {
	return col == centerColumn-1 || col == centerColumn+1
}

// heuristicProbability scores one candidate move before normalization (spec
// §4.6 step 2).
func heuristicProbability(b board.Board, col int, p board.Player) float64 {
	prob := baseProbability
	if col == centerColumn {
		prob += centerBonus
	} else if isAdjacentCenter(col) {
		prob += adjacentCenterBonus
	}
	if b.WinsImmediately(col, p) {
		prob += immediateWinBonus
	}
	if b.BlocksOpponentWin(col, p) {
		prob += blocksOpponentBonus
	}
	return prob
}

// PredictLikelyPositions implements spec §4.6 steps 1-5: score legal moves,
// normalize, recursively expand promising lines, and return the top 20
// predicted positions with an assigned compute depth and priority.
func PredictLikelyPositions(b board.Board, p board.Player, moveNumber int) []Prediction {
	var out []Prediction
	expand(b, p, moveNumber, 1.0, 2, &out)

	if len(out) > topN {
		// Keep the topN highest-probability predictions (stable on ties by
		// original discovery order).
		out = topByProbability(out, topN)
	}
	for i := range out {
		out[i].Depth = depthFor(out[i].MoveNumber)
		out[i].Priority = out[i].Probability * 10
	}
	return out
}

func depthFor(moveNumber int) int {
	d := 8 - moveNumber
	if d < 4 {
		d = 4
	}
	return d
}

func expand(b board.Board, p board.Player, moveNumber int, parentProbability float64, lookahead int, out *[]Prediction) {
	legal := b.LegalColumns()
	if len(legal) == 0 {
		return
	}

	raw := make([]float64, len(legal))
	sum := 0.0
	for i, col := range legal {
		raw[i] = heuristicProbability(b, col, p)
		sum += raw[i]
	}
	if sum == 0 {
		return
	}

	for i, col := range legal {
		prob := raw[i] / sum
		child, ok := b.Drop(col, p)
		if !ok {
			continue
		}
		*out = append(*out, Prediction{
			Board:       child,
			Player:      p.Opponent(),
			Column:      col,
			Probability: prob,
			MoveNumber:  moveNumber + 1,
		})

		if prob > expandThreshold && lookahead > 0 && parentProbability > recurseParentThreshold {
			expand(child, p.Opponent(), moveNumber+1, prob*decayFactor, lookahead-1, out)
		}
	}
}

func topByProbability(preds []Prediction, n int) []Prediction {
	sorted := make([]Prediction, len(preds))
	copy(sorted, preds)
	// Highest probability first, preserving relative order among
	// equal-probability entries.
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Probability > sorted[j].Probability
	})
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}
