package board

import "fmt"

// Serialize encodes a board as the 42-digit grid portion of its fingerprint
// (row-major, 0=Empty/1=Red/2=Yellow), independent of the active player.
// Deserialize is its exact inverse: Deserialize(Serialize(b)) reconstructs a
// board with an identical fingerprint for any player.
func Serialize(b Board) string {
	buf := make([]byte, 0, Rows*Cols)
	for r := 0; r < Rows; r++ {
		for c := 0; c < Cols; c++ {
			switch b.rows[r][c] {
			case Empty:
				buf = append(buf, '0')
			case Red:
				buf = append(buf, '1')
			case Yellow:
				buf = append(buf, '2')
			}
		}
	}
	return string(buf)
}

// Deserialize parses the 42-digit grid encoding produced by Serialize.
func Deserialize(s string) (Board, error) {
	if len(s) != Rows*Cols {
		return Board{}, fmt.Errorf("board: encoded length %d, want %d", len(s), Rows*Cols)
	}
	var b Board
	i := 0
	for r := 0; r < Rows; r++ {
		for c := 0; c < Cols; c++ {
			switch s[i] {
			case '0':
				b.rows[r][c] = Empty
			case '1':
				b.rows[r][c] = Red
			case '2':
				b.rows[r][c] = Yellow
			default:
				return Board{}, fmt.Errorf("board: invalid cell byte %q at index %d", s[i], i)
			}
			i++
		}
	}
	return b, nil
}
