// Command c4aicore-bench assembles the orchestration core with a toy
// ComputeMove fixture and drives it through a handful of GetMove and
// StreamAnalysis calls, printing a SystemHealth report at the end. It plays
// the smoke-test role the teacher's cmd/inos-node/main.go played for the
// mesh/WASM demo, adapted to this module's domain: there is no P2P
// transport or WASM sandbox here, only the in-process orchestration core.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/lattice-games/c4aicore/internal/board"
	"github.com/lattice-games/c4aicore/internal/compute"
	"github.com/lattice-games/c4aicore/internal/config"
	"github.com/lattice-games/c4aicore/internal/obslog"
	"github.com/lattice-games/c4aicore/internal/orchestrator"
)

// demoComputeMove is a stand-in for the real move-compute back end spec §1
// places out of scope (minimax/MCTS/neural nets). It picks a legal column
// with a slight centre bias and a strategy-scaled synthetic delay, so the
// bench exercises the breaker/batcher/cache machinery under realistic
// timing without shipping an actual search engine.
func demoComputeMove(strategyDelay map[string]time.Duration) compute.Move {
	return func(ctx context.Context, b board.Board, p board.Player, strat string, deadline time.Time) (compute.Result, error) {
		legal := b.LegalColumns()
		if len(legal) == 0 {
			return compute.Result{}, fmt.Errorf("no legal column")
		}

		if d := strategyDelay[strat]; d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return compute.Result{}, ctx.Err()
			}
		}

		for _, col := range legal {
			if b.WinsImmediately(col, p) {
				return compute.Result{Move: col, Score: 1, Confidence: 0.97}, nil
			}
			if b.BlocksOpponentWin(col, p) {
				return compute.Result{Move: col, Score: 0.6, Confidence: 0.8}, nil
			}
		}

		col := legal[rand.Intn(len(legal))]
		alts := make([]compute.Alternative, 0, len(legal)-1)
		for _, c := range legal {
			if c == col {
				continue
			}
			alts = append(alts, compute.Alternative{Move: c, Score: 0.4, Reasoning: "runner-up by " + strat})
		}
		return compute.Result{Move: col, Score: 0.5, Confidence: 0.6, Alternatives: alts}, nil
	}
}

func main() {
	games := flag.Int("games", 5, "number of GetMove calls to run")
	difficulty := flag.Int("difficulty", 8, "request difficulty [1,25]")
	flag.Parse()

	logger := obslog.DefaultLogger("c4aicore-bench")
	defer logger.Sync()

	move := demoComputeMove(map[string]time.Duration{
		"minimax":     2 * time.Millisecond,
		"alpha-beta":  8 * time.Millisecond,
		"mcts":        30 * time.Millisecond,
		"heaviest":    90 * time.Millisecond,
		"opening-book": 0,
	})

	assembled, err := config.Assemble(config.Default(), config.Collaborators{
		ComputeMove: move,
		Logger:      logger,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "assemble:", err)
		os.Exit(1)
	}
	defer assembled.Stop()

	b := board.New()
	player := board.PlayerRed
	for i := 0; i < *games; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		resp, err := assembled.Orchestrator.GetMove(ctx, orchestrator.Request{
			GameID:     fmt.Sprintf("bench-%d", i),
			Board:      b,
			Player:     player,
			Difficulty: *difficulty,
		})
		cancel()
		if err != nil {
			fmt.Printf("move %d: error: %v\n", i, err)
			continue
		}
		fmt.Printf("move %d: column=%d strategy=%s confidence=%.2f cached=%v compute_ms=%d\n",
			i, resp.Move, resp.Strategy, resp.Confidence, resp.Cached, resp.ComputeMs)

		next, ok := b.Drop(resp.Move, player)
		if !ok {
			break
		}
		b = next
		player = player.Opponent()
	}

	streamCtx, streamCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer streamCancel()
	stream := assembled.Orchestrator.StreamAnalysis(streamCtx, orchestrator.Request{
		GameID:     "bench-stream",
		Board:      b,
		Player:     player,
		Difficulty: *difficulty,
	})
	for {
		u, ok := stream.Next(streamCtx)
		if !ok {
			break
		}
		fmt.Printf("stream: kind=%s\n", u.Kind)
		if u.Kind == orchestrator.UpdateComplete {
			break
		}
	}

	health := assembled.Orchestrator.SystemHealth()
	fmt.Printf("\nsystem health: breaker=%s queue_pending=%d cache_hit_rate=%.2f\n",
		health.BreakerState, health.Queue.Pending, health.MovesCache.HitRate)
	for _, rec := range health.Recommendations {
		fmt.Println("recommendation:", rec)
	}
}
