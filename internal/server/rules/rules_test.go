package rules

import (
	"errors"
	"strings"
	"testing"

	"arena/internal/server/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func play(t *testing.T, e *Engine, moves ...string) []string {
	t.Helper()
	history := []string{e.StartPosition()}
	fen := e.StartPosition()
	for _, mv := range moves {
		promo := ""
		if len(mv) == 5 {
			promo = mv[4:]
		}
		next, _, err := e.ApplyMove(fen, mv[0:2], mv[2:4], promo)
		require.NoError(t, err, "move %s", mv)
		fen = next
		history = append(history, fen)
	}
	return history
}

func TestStartPosition(t *testing.T) {
	e := New()

	side, err := e.SideToMove(e.StartPosition())
	require.NoError(t, err)
	assert.Equal(t, core.ColorWhite, side)

	moves, err := e.LegalMoves(e.StartPosition())
	require.NoError(t, err)
	assert.Len(t, moves, 20)
	assert.Contains(t, moves, "e2e4")
	assert.Contains(t, moves, "g1f3")
}

func TestApplyMove(t *testing.T) {
	e := New()

	fen, san, err := e.ApplyMove(e.StartPosition(), "e2", "e4", "")
	require.NoError(t, err)
	assert.Equal(t, "e4", san)
	assert.True(t, strings.HasPrefix(fen, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq"))

	side, err := e.SideToMove(fen)
	require.NoError(t, err)
	assert.Equal(t, core.ColorBlack, side)
}

func TestApplyMoveIllegal(t *testing.T) {
	e := New()

	tests := []struct {
		name, from, to, promo string
	}{
		{"pawn three squares", "e2", "e5", ""},
		{"moving opponent piece", "e7", "e5", ""},
		{"empty square", "e4", "e5", ""},
		{"bogus promotion", "e2", "e4", "q"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := e.ApplyMove(e.StartPosition(), tt.from, tt.to, tt.promo)
			assert.True(t, errors.Is(err, ErrIllegalMove), "got %v", err)
		})
	}
}

func TestApplyMoveInvalidPosition(t *testing.T) {
	_, _, err := New().ApplyMove("not a fen", "e2", "e4", "")
	assert.ErrorIs(t, err, ErrInvalidPosition)
}

func TestPromotion(t *testing.T) {
	e := New()
	fen := "8/4P3/8/8/8/8/k7/4K3 w - - 0 1"

	moves, err := e.LegalMoves(fen)
	require.NoError(t, err)
	assert.Subset(t, moves, []string{"e7e8q", "e7e8r", "e7e8b", "e7e8n"})

	_, _, err = e.ApplyMove(fen, "e7", "e8", "")
	assert.ErrorIs(t, err, ErrIllegalMove)

	next, san, err := e.ApplyMove(fen, "e7", "e8", "Q")
	require.NoError(t, err)
	assert.Equal(t, "e8=Q", san)
	assert.True(t, strings.HasPrefix(next, "4Q3/"))
}

func TestCheckmate(t *testing.T) {
	e := New()
	history := play(t, e, "f2f3", "e7e5", "g2g4", "d8h4")
	fen := history[len(history)-1]

	assert.True(t, e.IsCheckmate(fen, history))
	assert.False(t, e.IsStalemate(fen, history))

	side, err := e.SideToMove(fen)
	require.NoError(t, err)
	assert.Equal(t, core.ColorWhite, side, "mated side is the side to move")
}

func TestStalemate(t *testing.T) {
	e := New()
	fen := "7k/5Q2/6K1/8/8/8/8/8 b - - 0 1"

	assert.True(t, e.IsStalemate(fen, []string{fen}))
	assert.False(t, e.IsCheckmate(fen, []string{fen}))

	moves, err := e.LegalMoves(fen)
	require.NoError(t, err)
	assert.Empty(t, moves)
}

func TestInsufficientMaterial(t *testing.T) {
	e := New()

	tests := []struct {
		name string
		fen  string
		want bool
	}{
		{"bare kings", "8/8/8/4k3/8/8/8/4K3 w - - 0 1", true},
		{"king and knight", "8/8/8/4k3/8/8/8/3NK3 w - - 0 1", true},
		{"king and bishop", "8/8/8/4k3/8/8/8/2B1K3 w - - 0 1", true},
		{"same coloured bishops", "5b2/8/8/4k3/8/8/8/2B1K3 w - - 0 1", true},
		{"opposite coloured bishops", "2b5/8/8/4k3/8/8/8/2B1K3 w - - 0 1", false},
		{"two knights", "8/8/8/4k3/8/8/8/2NNK3 w - - 0 1", false},
		{"rook", "8/8/8/4k3/8/8/8/R3K3 w - - 0 1", false},
		{"pawn", "8/8/8/4k3/8/8/4P3/4K3 w - - 0 1", false},
		{"start position", core.StartingFEN, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.IsInsufficientMaterial(tt.fen, []string{tt.fen}))
		})
	}
}

func TestDrawByMoveCount(t *testing.T) {
	e := New()

	assert.True(t, e.IsDrawByMoveCount("8/8/8/4k3/8/8/8/R3K3 w - - 100 80", nil))
	assert.False(t, e.IsDrawByMoveCount("8/8/8/4k3/8/8/8/R3K3 w - - 99 80", nil))
	assert.False(t, e.IsDrawByMoveCount("garbage", nil))
}

func TestThreefoldRepetition(t *testing.T) {
	e := New()
	shuffle := []string{"g1f3", "g8f6", "f3g1", "f6g8"}

	history := play(t, e, shuffle...)
	fen := history[len(history)-1]
	assert.False(t, e.IsThreefoldRepetition(fen, history), "start position seen twice")

	history = play(t, e, append(append([]string{}, shuffle...), shuffle...)...)
	fen = history[len(history)-1]
	assert.True(t, e.IsThreefoldRepetition(fen, history), "start position seen three times")
}

func TestRepetitionIgnoresUncapturableEnPassant(t *testing.T) {
	e := New()
	shuffle := []string{"g8f6", "g1f3", "f6g8", "f3g1"}

	moves := []string{"e2e4"}
	moves = append(moves, shuffle...)
	moves = append(moves, shuffle...)
	history := play(t, e, moves...)
	fen := history[len(history)-1]
	assert.True(t, e.IsThreefoldRepetition(fen, history), "position after e4 seen three times")

	withTarget := "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"
	without := "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
	assert.Equal(t, repetitionKey(without), repetitionKey(withTarget))
}

func TestRepetitionKeepsCapturableEnPassant(t *testing.T) {
	withTarget := "rnbqkbnr/ppp1pppp/8/8/3pP3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 3"
	without := "rnbqkbnr/ppp1pppp/8/8/3pP3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 3"
	assert.NotEqual(t, repetitionKey(without), repetitionKey(withTarget))
	assert.Contains(t, repetitionKey(withTarget), " e3")
}
