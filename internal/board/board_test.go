package board_test

import (
	"testing"

	"github.com/lattice-games/c4aicore/internal/board"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyBoardFingerprint(t *testing.T) {
	b := board.New()
	assert.Equal(t, "000000000000000000000000000000000000000000-R", b.Fingerprint(board.PlayerRed))
	assert.Equal(t, "000000000000000000000000000000000000000000-Y", b.Fingerprint(board.PlayerYellow))
}

func TestDropAndGravity(t *testing.T) {
	b := board.New()
	b, ok := b.Drop(3, board.PlayerRed)
	require.True(t, ok)
	assert.True(t, b.ValidGravity())
	assert.Equal(t, board.Red, b.At(5, 3))
}

func TestColumnFullRejectsDrop(t *testing.T) {
	b := board.New()
	for i := 0; i < board.Rows; i++ {
		var ok bool
		b, ok = b.Drop(0, board.PlayerRed)
		require.True(t, ok)
	}
	_, ok := b.Drop(0, board.PlayerRed)
	assert.False(t, ok)
	assert.NotContains(t, b.LegalColumns(), 0)
}

func TestWinsImmediately(t *testing.T) {
	b := board.New()
	for _, c := range []int{0, 1, 2} {
		var ok bool
		b, ok = b.Drop(c, board.PlayerRed)
		require.True(t, ok)
	}
	assert.True(t, b.WinsImmediately(3, board.PlayerRed))
	assert.False(t, b.WinsImmediately(4, board.PlayerRed))
}

func TestBlocksOpponentWin(t *testing.T) {
	b := board.New()
	for _, c := range []int{0, 1, 2} {
		var ok bool
		b, ok = b.Drop(c, board.PlayerYellow)
		require.True(t, ok)
	}
	assert.True(t, b.BlocksOpponentWin(3, board.PlayerRed))
	assert.False(t, b.BlocksOpponentWin(4, board.PlayerRed))
}

func TestSerializeRoundTrip(t *testing.T) {
	b := board.New()
	b, _ = b.Drop(2, board.PlayerRed)
	b, _ = b.Drop(2, board.PlayerYellow)
	b, _ = b.Drop(5, board.PlayerRed)

	s := board.Serialize(b)
	back, err := board.Deserialize(s)
	require.NoError(t, err)
	assert.Equal(t, b.Fingerprint(board.PlayerRed), back.Fingerprint(board.PlayerRed))
	assert.Equal(t, b.Fingerprint(board.PlayerYellow), back.Fingerprint(board.PlayerYellow))
}

func TestDeserializeRejectsMalformedInput(t *testing.T) {
	_, err := board.Deserialize("short")
	assert.Error(t, err)

	_, err = board.Deserialize(string(make([]byte, board.Rows*board.Cols)))
	assert.Error(t, err)
}

func TestInvalidGravityDetected(t *testing.T) {
	// A stone floating in row 4, column 0 with nothing beneath it in row 5.
	grid := "0000000" +
		"0000000" +
		"0000000" +
		"0000000" +
		"1000000" +
		"0000000"
	b, err := board.Deserialize(grid)
	require.NoError(t, err)
	assert.False(t, b.ValidGravity())
}
