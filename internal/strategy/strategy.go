// Package strategy implements the Strategy Selector (spec §4.5): it picks a
// primary strategy, a simpler fallback (minimax falls back to itself), a
// confidence proxy, and an
// execution time budget for one move request, scoring candidates from
// closed-form baselines plus rolling performance history. It generalizes
// the teacher's UnifiedIntelligenceCoordinator.Decide
// (kernel/threads/intelligence/coordinator.go), which scores and picks among
// a fixed set of decision-making "engines" the same way this package scores
// and picks among a fixed set of move-search strategies.
package strategy

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/lattice-games/c4aicore/internal/aierrors"
	"github.com/lattice-games/c4aicore/internal/board"
	"github.com/lattice-games/c4aicore/internal/clockrand"
	"github.com/lattice-games/c4aicore/internal/events"
)

// Tag identifies one move-search strategy.
type Tag string

const (
	Minimax   Tag = "minimax"
	AlphaBeta Tag = "alpha-beta"
	MCTS      Tag = "mcts"
	Heaviest  Tag = "heaviest"
	// OpeningBook is never selected by Select; the orchestrator assigns it
	// directly on an opening-book hit (spec §4.7 step 5).
	OpeningBook Tag = "opening-book"
)

// fallbackOf implements the fixed mapping heaviest → mcts → alpha-beta →
// minimax (spec §4.5 step 5). Minimax has no simpler strategy and maps to
// itself.
func fallbackOf(t Tag) Tag {
	switch t {
	case Heaviest:
		return MCTS
	case MCTS:
		return AlphaBeta
	default:
		return Minimax
	}
}

// Phase classifies a board by fill ratio (spec §4.5 step 1).
type Phase string

const (
	Opening Phase = "opening"
	Midgame Phase = "midgame"
	Endgame Phase = "endgame"
)

func ClassifyPhase(fillRatio float64) Phase {
	switch {
	case fillRatio < 0.25:
		return Opening
	case fillRatio < 0.75:
		return Midgame
	default:
		return Endgame
	}
}

// baseline holds each strategy's closed-form constants (spec §4.5 step 3).
type baseline struct {
	winRate       float64
	avgComputeMs  float64
	confidence    float64
	resourceUsage float64
}

var baselines = map[Tag]baseline{
	Minimax:   {winRate: 0.55, avgComputeMs: 15, confidence: 0.55, resourceUsage: 0.1},
	AlphaBeta: {winRate: 0.68, avgComputeMs: 60, confidence: 0.70, resourceUsage: 0.3},
	MCTS:      {winRate: 0.78, avgComputeMs: 250, confidence: 0.80, resourceUsage: 0.6},
	Heaviest:  {winRate: 0.88, avgComputeMs: 800, confidence: 0.90, resourceUsage: 1.0},
}

// phaseBonus rewards heavier search as the game narrows (spec §4.5 step 3:
// "phaseBonus").
var phaseBonus = map[Phase]map[Tag]float64{
	Opening: {Minimax: 0.5, AlphaBeta: 0.3, MCTS: 0.0, Heaviest: -0.3},
	Midgame: {Minimax: 0.0, AlphaBeta: 0.3, MCTS: 0.4, Heaviest: 0.2},
	Endgame: {Minimax: 0.1, AlphaBeta: 0.5, MCTS: 0.6, Heaviest: 0.5},
}

// tierUnlockDifficulty is the minimum request difficulty that admits a
// strategy into the candidate set (spec §4.5 step 2: baseline strategies
// are always candidates; higher difficulty unlocks heavier ones).
var tierUnlockDifficulty = map[Tag]int{
	Minimax:   1,
	AlphaBeta: 1,
	MCTS:      10,
	Heaviest:  20,
}

// Outcome is the result of a completed game from the perspective of the
// strategy that chose the move (spec §4.5 "Updates").
type Outcome string

const (
	Win  Outcome = "win"
	Loss Outcome = "loss"
	Draw Outcome = "draw"
)

// rolling is one strategy's mutex-serialized performance history. The spec
// requires updates for the same strategy to be serialized (§5 "Ordering
// guarantees") so rolling averages stay monotone in sample count.
type rolling struct {
	mu            sync.Mutex
	gamesPlayed   int
	successRate   float64
	avgConfidence float64
	avgMoveMs     float64
	lastUpdated   time.Time
}

func movingAverage(old float64, sample float64, n int) float64 {
	return old + (sample-old)/float64(n)
}

// Request is one move-selection request (spec §4.5 "Inputs").
type Request struct {
	Board         board.Board
	Player        board.Player
	Difficulty    int
	TimeRemaining *time.Duration
}

// Decision is the selector's output (spec §4.5).
type Decision struct {
	Primary         Tag
	Fallback        Tag
	Budget          time.Duration
	Confidence      float64
	Reason          string
	Phase           Phase
	EstimatedExecMs float64
}

// Selector picks strategies and tracks their rolling performance.
type Selector struct {
	mu      sync.Mutex
	rolling map[Tag]*rolling
	bus     *events.Bus
	clock   clockrand.Clock
}

// New constructs a Selector with empty performance history.
func New(bus *events.Bus, clock clockrand.Clock) *Selector {
	if clock == nil {
		clock = clockrand.System
	}
	s := &Selector{rolling: make(map[Tag]*rolling), bus: bus, clock: clock}
	for tag := range baselines {
		s.rolling[tag] = &rolling{}
	}
	return s
}

func (s *Selector) rollingFor(tag Tag) *rolling {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rolling[tag]
	if !ok {
		r = &rolling{}
		s.rolling[tag] = r
	}
	return r
}

func (s *Selector) candidates(difficulty int) []Tag {
	out := make([]Tag, 0, len(baselines))
	for _, tag := range []Tag{Minimax, AlphaBeta, MCTS, Heaviest} {
		if difficulty >= tierUnlockDifficulty[tag] {
			out = append(out, tag)
		}
	}
	return out
}

// Select runs the scoring algorithm of spec §4.5 steps 1-7.
func (s *Selector) Select(req Request) (Decision, error) {
	if req.Difficulty < 1 || req.Difficulty > 25 {
		return Decision{}, aierrors.New(aierrors.InvalidInput, "difficulty must be in [1,25]")
	}

	fillRatio := req.Board.FillRatio()
	phase := ClassifyPhase(fillRatio)
	candidates := s.candidates(req.Difficulty)

	type scored struct {
		tag   Tag
		score float64
	}
	scores := make([]scored, 0, len(candidates))
	for _, tag := range candidates {
		scores = append(scores, scored{tag: tag, score: s.score(tag, phase, req.TimeRemaining)})
	}

	// Rank by score descending; ties broken by lower expected compute time,
	// then lower resource usage (spec §4.5 step 4).
	sort.Slice(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if baselines[a.tag].avgComputeMs != baselines[b.tag].avgComputeMs {
			return baselines[a.tag].avgComputeMs < baselines[b.tag].avgComputeMs
		}
		return baselines[a.tag].resourceUsage < baselines[b.tag].resourceUsage
	})

	best := scores[0]
	secondBest := best.score
	if len(scores) > 1 {
		secondBest = scores[1].score
	}

	gap := best.score - secondBest
	confidence := clamp(0.5+gap/4.0, 0.3, 0.99)

	complexity := 1 + fillRatio*0.5
	estimatedExecMs := baselines[best.tag].avgComputeMs * complexity

	budget := time.Duration(estimatedExecMs*2) * time.Millisecond
	if req.TimeRemaining != nil && *req.TimeRemaining < budget {
		budget = *req.TimeRemaining
	}

	s.bus.EmitKV(events.StrategySelected, "strategy", string(best.tag), "phase", string(phase), "confidence", confidence)

	return Decision{
		Primary:         best.tag,
		Fallback:        fallbackOf(best.tag),
		Budget:          budget,
		Confidence:      confidence,
		Reason:          reasonFor(best.tag, phase, req.Difficulty),
		Phase:           phase,
		EstimatedExecMs: estimatedExecMs,
	}, nil
}

func (s *Selector) score(tag Tag, phase Phase, timeRemaining *time.Duration) float64 {
	b := baselines[tag]
	base := b.winRate*3 + b.confidence*2 - b.resourceUsage*1.5

	r := s.rollingFor(tag)
	r.mu.Lock()
	historyBonus := 0.0
	if r.gamesPlayed > 0 {
		recency := 1.0
		if !r.lastUpdated.IsZero() {
			age := s.clock.Now().Sub(r.lastUpdated)
			if age > time.Hour {
				recency = 0.5
			}
		}
		historyBonus = (r.successRate*1.5 + r.avgConfidence*0.5) * recency
	}
	r.mu.Unlock()

	timePenalty := 0.0
	if timeRemaining != nil && *timeRemaining > 0 {
		ratio := b.avgComputeMs / float64(timeRemaining.Milliseconds())
		if ratio > 0.5 {
			timePenalty = ratio * 2
		}
	}

	return base + phaseBonus[phase][tag] - tierDifficultyPenalty(tag) + historyBonus - timePenalty
}

// tierDifficultyPenalty lightly penalizes the heaviest strategies so that,
// all else equal, the selector does not reach for more search than a
// request's phase/history justifies (spec §4.5 step 3: "difficultyPenalty").
func tierDifficultyPenalty(tag Tag) float64 {
	switch tag {
	case Heaviest:
		return 0.4
	case MCTS:
		return 0.2
	default:
		return 0
	}
}

func reasonFor(tag Tag, phase Phase, difficulty int) string {
	return string(tag) + " selected for " + string(phase) + " phase at difficulty " + strconv.Itoa(difficulty)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// UpdatePerformance folds a completed decision's outcome into the
// strategy's rolling stats with a moving average weighted by gamesPlayed
// (spec §4.5 "Updates").
func (s *Selector) UpdatePerformance(tag Tag, outcome Outcome, moveMs time.Duration, confidence float64) {
	r := s.rollingFor(tag)
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gamesPlayed++
	sample := 0.0
	if outcome == Win {
		sample = 1.0
	} else if outcome == Draw {
		sample = 0.5
	}
	r.successRate = movingAverage(r.successRate, sample, r.gamesPlayed)
	r.avgConfidence = movingAverage(r.avgConfidence, confidence, r.gamesPlayed)
	r.avgMoveMs = movingAverage(r.avgMoveMs, float64(moveMs.Milliseconds()), r.gamesPlayed)
	r.lastUpdated = s.clock.Now()
}

// Stats exposes one strategy's rolling performance, for SystemHealth.
type Stats struct {
	GamesPlayed   int
	SuccessRate   float64
	AvgConfidence float64
	AvgMoveMs     float64
}

func (s *Selector) Stats(tag Tag) Stats {
	r := s.rollingFor(tag)
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		GamesPlayed:   r.gamesPlayed,
		SuccessRate:   r.successRate,
		AvgConfidence: r.avgConfidence,
		AvgMoveMs:     r.avgMoveMs,
	}
}
