package orchestrator

import (
	"context"
	"sync"

	"github.com/lattice-games/c4aicore/internal/aierrors"
	"github.com/lattice-games/c4aicore/internal/board"
)

// analysisDifficulty is the fixed difficulty AnalyseBoards requests at: it
// has no per-board caller-supplied difficulty, so a mid-range value is used
// (spec §6.1 "AnalyseBoards([board], player) → [{bestMove, score}]").
const analysisDifficulty = 12

// BoardScore is one element of AnalyseBoards' result (spec §6.1).
type BoardScore struct {
	Move  int
	Score float64
	Err   error
}

// AnalyseBoards submits every board concurrently to the orchestrator's
// named analysis batcher and returns one BoardScore per input board, in the
// same order, fanned out on a sync.WaitGroup rather than an errgroup (spec
// §12 "Supplemented features": the teacher never reaches for an errgroup
// anywhere in the pack, and first-error cancellation beyond ctx's own
// deadline is not needed here — each board's analysis is independent).
// Many boards submitted at once coalesce into board-analysis batches (spec
// §4.4); each batch runs GetMove, moves cache included, for its boards one
// after another.
func (o *Orchestrator) AnalyseBoards(ctx context.Context, boards []board.Board, player board.Player) []BoardScore {
	out := make([]BoardScore, len(boards))
	var wg sync.WaitGroup
	for i, b := range boards {
		wg.Add(1)
		go func(i int, b board.Board) {
			defer wg.Done()
			raw, err := o.analysisBatcher.Enqueue(ctx, analysisJob{board: b, player: player}, o.cfg.DefaultPriority)
			if err != nil {
				out[i] = BoardScore{Err: err}
				return
			}
			res, ok := raw.(analysisResult)
			if !ok {
				out[i] = BoardScore{Err: aierrors.New(aierrors.Internal, "analysis batch returned an unexpected result type")}
				return
			}
			if res.err != nil {
				out[i] = BoardScore{Err: res.err}
				return
			}
			out[i] = BoardScore{Move: res.resp.Move, Score: res.resp.Confidence}
		}(i, b)
	}
	wg.Wait()
	return out
}

// analysisJob is one item the board-analysis NamedBatcher coalesces.
type analysisJob struct {
	board  board.Board
	player board.Player
}

// analysisResult carries a per-item outcome through the batch: the
// NamedBatcher's Process signature returns one error for the whole batch,
// so individual GetMove failures are encoded positionally instead of
// failing every item in the batch.
type analysisResult struct {
	resp Response
	err  error
}

// processAnalysisBatch is the NamedBatcher's Process function (wired in
// New): it runs GetMove once per item in the batch, in order, and returns
// results positionally.
func (o *Orchestrator) processAnalysisBatch(ctx context.Context, payloads []any) ([]any, error) {
	out := make([]any, len(payloads))
	for i, p := range payloads {
		job, ok := p.(analysisJob)
		if !ok {
			out[i] = analysisResult{err: aierrors.New(aierrors.Internal, "analysis batch received an unexpected payload type")}
			continue
		}
		resp, err := o.GetMove(ctx, Request{
			Board:      job.board,
			Player:     job.player,
			Difficulty: analysisDifficulty,
		})
		out[i] = analysisResult{resp: resp, err: err}
	}
	return out, nil
}
