// Package board implements the Connect-Four board value type: a 6x7 grid,
// gravity validation, canonical fingerprinting, and the board-level rules
// (legal columns, immediate win/block detection) that every other subsystem
// in the orchestration core consumes as an opaque, read-only snapshot.
package board

import "strings"

const (
	Rows = 6
	Cols = 7
)

// Cell is the occupant of one board position.
type Cell uint8

const (
	Empty Cell = iota
	Red
	Yellow
)

// Player is the active side to move.
type Player uint8

const (
	PlayerRed Player = iota
	PlayerYellow
)

func (p Player) Opponent() Player {
	if p == PlayerRed {
		return PlayerYellow
	}
	return PlayerRed
}

func (p Player) Cell() Cell {
	if p == PlayerRed {
		return Red
	}
	return Yellow
}

func (p Player) suffix() string {
	if p == PlayerRed {
		return "-R"
	}
	return "-Y"
}

// Board is a 6x7 grid, row-major, row 0 is the top row. The core never
// mutates a Board; every transformation returns a new value.
type Board struct {
	rows [Rows][Cols]Cell
}

// New returns an empty board.
func New() Board {
	return Board{}
}

// At returns the cell at (row, col). Out-of-range coordinates return Empty.
func (b Board) At(row, col int) Cell {
	if row < 0 || row >= Rows || col < 0 || col >= Cols {
		return Empty
	}
	return b.rows[row][col]
}

// FillRatio is the fraction of occupied cells, used by the strategy selector
// to classify opening/midgame/endgame phase.
func (b Board) FillRatio() float64 {
	occupied := 0
	for r := 0; r < Rows; r++ {
		for c := 0; c < Cols; c++ {
			if b.rows[r][c] != Empty {
				occupied++
			}
		}
	}
	return float64(occupied) / float64(Rows*Cols)
}

// MoveNumber is the count of stones already placed (ply count).
func (b Board) MoveNumber() int {
	return int(b.FillRatio() * float64(Rows*Cols))
}

// ValidGravity reports whether every cell obeys: a cell can be non-empty
// only if the cell directly below it (row+1) is non-empty, except for the
// bottom row.
func (b Board) ValidGravity() bool {
	for c := 0; c < Cols; c++ {
		seenEmpty := false
		for r := Rows - 1; r >= 0; r-- {
			if b.rows[r][c] == Empty {
				seenEmpty = true
				continue
			}
			if seenEmpty {
				return false
			}
		}
	}
	return true
}

// LegalColumns returns the columns whose top cell is Empty, in ascending order.
func (b Board) LegalColumns() []int {
	cols := make([]int, 0, Cols)
	for c := 0; c < Cols; c++ {
		if b.rows[0][c] == Empty {
			cols = append(cols, c)
		}
	}
	return cols
}

// IsFull reports whether the board has no legal column remaining.
func (b Board) IsFull() bool {
	return len(b.LegalColumns()) == 0
}

// landingRow returns the row a stone dropped into column c would land on,
// or -1 if the column is full.
func (b Board) landingRow(col int) int {
	for r := Rows - 1; r >= 0; r-- {
		if b.rows[r][col] == Empty {
			return r
		}
	}
	return -1
}

// Drop returns the board resulting from player dropping a stone into col.
// ok is false if the column is full.
func (b Board) Drop(col int, p Player) (Board, bool) {
	row := b.landingRow(col)
	if row < 0 {
		return b, false
	}
	next := b
	next.rows[row][col] = p.Cell()
	return next, true
}

// WinsImmediately reports whether dropping into col wins the game for p.
func (b Board) WinsImmediately(col int, p Player) bool {
	next, ok := b.Drop(col, p)
	if !ok {
		return false
	}
	return next.HasConnectFour(p.Cell())
}

// BlocksOpponentWin reports whether playing col is necessary to prevent the
// opponent from winning immediately on their next move.
func (b Board) BlocksOpponentWin(col int, p Player) bool {
	opp := p.Opponent()
	for _, oc := range b.LegalColumns() {
		if b.WinsImmediately(oc, opp) && oc == col {
			return true
		}
	}
	return false
}

var directions = [4][2]int{{0, 1}, {1, 0}, {1, 1}, {1, -1}}

// HasConnectFour reports whether four same-colored cells are connected
// horizontally, vertically, or diagonally anywhere on the board.
func (b Board) HasConnectFour(c Cell) bool {
	if c == Empty {
		return false
	}
	for r := 0; r < Rows; r++ {
		for col := 0; col < Cols; col++ {
			if b.rows[r][col] != c {
				continue
			}
			for _, d := range directions {
				count := 1
				rr, cc := r+d[0], col+d[1]
				for rr >= 0 && rr < Rows && cc >= 0 && cc < Cols && b.rows[rr][cc] == c {
					count++
					rr += d[0]
					cc += d[1]
				}
				if count >= 4 {
					return true
				}
			}
		}
	}
	return false
}

// Fingerprint returns the canonical identity of (board, player): 42 cell
// digits (row-major, 0=Empty/1=Red/2=Yellow) followed by "-R" or "-Y".
func (b Board) Fingerprint(p Player) string {
	var sb strings.Builder
	sb.Grow(Rows*Cols + 2)
	for r := 0; r < Rows; r++ {
		for c := 0; c < Cols; c++ {
			switch b.rows[r][c] {
			case Empty:
				sb.WriteByte('0')
			case Red:
				sb.WriteByte('1')
			case Yellow:
				sb.WriteByte('2')
			}
		}
	}
	sb.WriteString(p.suffix())
	return sb.String()
}
