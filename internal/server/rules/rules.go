// Package rules exposes the chess legality and termination capability set
// the match orchestrator depends on, backed by github.com/notnil/chess.
package rules

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"arena/internal/server/core"

	"github.com/notnil/chess"
)

var (
	ErrIllegalMove     = errors.New("illegal move")
	ErrInvalidPosition = errors.New("invalid position")
)

// moveCountLimit is the half-move clock value at which the game is drawn
const moveCountLimit = 100

// Engine is stateless; every call decodes the position it is given
type Engine struct{}

func New() *Engine {
	return &Engine{}
}

func (e *Engine) StartPosition() string {
	return core.StartingFEN
}

func (e *Engine) SideToMove(fen string) (core.Color, error) {
	pos, err := decode(fen)
	if err != nil {
		return core.ColorNone, err
	}
	return colorOf(pos.Turn()), nil
}

// LegalMoves returns every legal move in compact notation, sorted
func (e *Engine) LegalMoves(fen string) ([]string, error) {
	pos, err := decode(fen)
	if err != nil {
		return nil, err
	}
	valid := pos.ValidMoves()
	moves := make([]string, 0, len(valid))
	for _, m := range valid {
		moves = append(moves, Compact(m))
	}
	sort.Strings(moves)
	return moves, nil
}

// ApplyMove plays from-to(-promotion) on fen and returns the resulting position
// and the move in standard algebraic notation
func (e *Engine) ApplyMove(fen, from, to, promotion string) (string, string, error) {
	pos, err := decode(fen)
	if err != nil {
		return "", "", err
	}

	want := strings.ToLower(from + to + promotion)
	for _, m := range pos.ValidMoves() {
		if Compact(m) != want {
			continue
		}
		san := chess.AlgebraicNotation{}.Encode(pos, m)
		next := pos.Update(m)
		return next.String(), san, nil
	}

	return "", "", fmt.Errorf("%w: %s in %s", ErrIllegalMove, want, fen)
}

func (e *Engine) IsCheckmate(fen string, history []string) bool {
	pos, err := decode(fen)
	if err != nil {
		return false
	}
	return pos.Status() == chess.Checkmate
}

func (e *Engine) IsStalemate(fen string, history []string) bool {
	pos, err := decode(fen)
	if err != nil {
		return false
	}
	return pos.Status() == chess.Stalemate
}

// IsThreefoldRepetition reports whether fen has occurred at least three times
// in history, which must include fen itself as its last entry
func (e *Engine) IsThreefoldRepetition(fen string, history []string) bool {
	key := repetitionKey(fen)
	if key == "" {
		return false
	}
	count := 0
	for _, h := range history {
		if repetitionKey(h) == key {
			count++
		}
	}
	return count >= 3
}

func (e *Engine) IsInsufficientMaterial(fen string, history []string) bool {
	pos, err := decode(fen)
	if err != nil {
		return false
	}
	return insufficientMaterial(pos.Board())
}

func (e *Engine) IsDrawByMoveCount(fen string, history []string) bool {
	fields := strings.Fields(fen)
	if len(fields) != 6 {
		return false
	}
	halfMoves, err := strconv.Atoi(fields[4])
	if err != nil {
		return false
	}
	return halfMoves >= moveCountLimit
}

func decode(fen string) (*chess.Position, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	return chess.NewGame(opt).Position(), nil
}

func colorOf(c chess.Color) core.Color {
	switch c {
	case chess.White:
		return core.ColorWhite
	case chess.Black:
		return core.ColorBlack
	default:
		return core.ColorNone
	}
}

// Compact renders a move as from-square, to-square and optional promotion letter
func Compact(m *chess.Move) string {
	s := m.S1().String() + m.S2().String()
	switch m.Promo() {
	case chess.Queen:
		s += "q"
	case chess.Rook:
		s += "r"
	case chess.Bishop:
		s += "b"
	case chess.Knight:
		s += "n"
	}
	return s
}

// repetitionKey keeps placement, side to move, castling rights and the
// en-passant target. The target only counts when a capture onto it is legal.
func repetitionKey(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) < 4 {
		return ""
	}
	if fields[3] != "-" && !canCaptureEnPassant(fen) {
		fields[3] = "-"
	}
	return strings.Join(fields[:4], " ")
}

func canCaptureEnPassant(fen string) bool {
	pos, err := decode(fen)
	if err != nil {
		return false
	}
	for _, m := range pos.ValidMoves() {
		if m.HasTag(chess.EnPassant) {
			return true
		}
	}
	return false
}

// insufficientMaterial covers K v K, K+minor v K and K+B v K+B with same-coloured bishops
func insufficientMaterial(b *chess.Board) bool {
	var minors, knights int
	bishopSquareColors := map[int]bool{}

	for sq, p := range b.SquareMap() {
		switch p.Type() {
		case chess.King, chess.NoPieceType:
			continue
		case chess.Knight:
			knights++
			minors++
		case chess.Bishop:
			minors++
			bishopSquareColors[(int(sq.File())+int(sq.Rank()))%2] = true
		default:
			return false
		}
	}

	switch {
	case minors <= 1:
		return true
	case knights == 0 && len(bishopSquareColors) == 1:
		return true
	default:
		return false
	}
}
