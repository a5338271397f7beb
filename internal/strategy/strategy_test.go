package strategy_test

import (
	"testing"
	"time"

	"github.com/lattice-games/c4aicore/internal/board"
	"github.com/lattice-games/c4aicore/internal/events"
	"github.com/lattice-games/c4aicore/internal/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPhase(t *testing.T) {
	assert.Equal(t, strategy.Opening, strategy.ClassifyPhase(0.1))
	assert.Equal(t, strategy.Midgame, strategy.ClassifyPhase(0.5))
	assert.Equal(t, strategy.Endgame, strategy.ClassifyPhase(0.9))
}

func TestSelectRejectsOutOfRangeDifficulty(t *testing.T) {
	s := strategy.New(events.New(), nil)
	_, err := s.Select(strategy.Request{Board: board.New(), Player: board.PlayerRed, Difficulty: 0})
	require.Error(t, err)
	_, err = s.Select(strategy.Request{Board: board.New(), Player: board.PlayerRed, Difficulty: 26})
	require.Error(t, err)
}

func TestSelectOnlyOffersBaselinesAtLowDifficulty(t *testing.T) {
	s := strategy.New(events.New(), nil)
	dec, err := s.Select(strategy.Request{Board: board.New(), Player: board.PlayerRed, Difficulty: 1})
	require.NoError(t, err)
	assert.Contains(t, []strategy.Tag{strategy.Minimax, strategy.AlphaBeta}, dec.Primary)
}

func TestSelectSucceedsOnLateBoardAtMaxDifficulty(t *testing.T) {
	s := strategy.New(events.New(), nil)
	b := board.New()
	// Fill 30 of the 42 cells (late midgame) with every strategy unlocked.
	for i := 0; i < 30; i++ {
		cols := b.LegalColumns()
		if len(cols) == 0 {
			break
		}
		player := board.PlayerRed
		if i%2 == 1 {
			player = board.PlayerYellow
		}
		next, ok := b.Drop(cols[0], player)
		if !ok {
			break
		}
		b = next
	}
	dec, err := s.Select(strategy.Request{Board: b, Player: board.PlayerRed, Difficulty: 25})
	require.NoError(t, err)
	assert.NotEmpty(t, dec.Primary)
}

func TestFallbackIsNeverHeavierThanPrimary(t *testing.T) {
	weight := map[strategy.Tag]int{strategy.Minimax: 0, strategy.AlphaBeta: 1, strategy.MCTS: 2, strategy.Heaviest: 3}
	s := strategy.New(events.New(), nil)
	for i := 0; i < 20; i++ {
		dec, err := s.Select(strategy.Request{Board: board.New(), Player: board.PlayerRed, Difficulty: 25})
		require.NoError(t, err)
		assert.LessOrEqual(t, weight[dec.Fallback], weight[dec.Primary])
	}
}

func TestTightDeadlinePenalizesHeavyStrategies(t *testing.T) {
	s := strategy.New(events.New(), nil)
	tight := 20 * time.Millisecond
	dec, err := s.Select(strategy.Request{Board: board.New(), Player: board.PlayerRed, Difficulty: 25, TimeRemaining: &tight})
	require.NoError(t, err)
	assert.NotEqual(t, strategy.Heaviest, dec.Primary)
}

func TestUpdatePerformanceMovesRollingAverage(t *testing.T) {
	s := strategy.New(events.New(), nil)
	s.UpdatePerformance(strategy.MCTS, strategy.Win, 100*time.Millisecond, 0.9)
	s.UpdatePerformance(strategy.MCTS, strategy.Loss, 200*time.Millisecond, 0.5)

	stats := s.Stats(strategy.MCTS)
	assert.Equal(t, 2, stats.GamesPlayed)
	assert.InDelta(t, 0.5, stats.SuccessRate, 1e-9)
	assert.InDelta(t, 0.7, stats.AvgConfidence, 1e-9)
	assert.InDelta(t, 150, stats.AvgMoveMs, 1e-9)
}

func TestStrategySelectedEventEmitted(t *testing.T) {
	bus := events.New()
	var got string
	bus.On(events.StrategySelected, func(e events.Event) {
		got, _ = e.Data["strategy"].(string)
	})
	s := strategy.New(bus, nil)
	dec, err := s.Select(strategy.Request{Board: board.New(), Player: board.PlayerRed, Difficulty: 5})
	require.NoError(t, err)
	assert.Equal(t, string(dec.Primary), got)
}
