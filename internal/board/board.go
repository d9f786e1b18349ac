// Package board renders FEN positions for terminal display
package board

import (
	"fmt"
	"strconv"
	"strings"

	"arena/internal/server/core"
)

type Board struct {
	squares   [8][8]byte
	turn      core.Color
	castling  string
	enPassant string
	halfmove  int
	fullmove  int
}

func ParseFEN(fen string) (*Board, error) {
	parts := strings.Fields(fen)
	if len(parts) != 6 {
		return nil, fmt.Errorf("invalid FEN: expected 6 parts, got %d", len(parts))
	}

	b := &Board{}

	ranks := strings.Split(parts[0], "/")
	if len(ranks) != 8 {
		return nil, fmt.Errorf("invalid FEN: expected 8 ranks")
	}

	for r := 0; r < 8; r++ {
		file := 0
		for _, ch := range ranks[r] {
			switch {
			case ch >= '1' && ch <= '8':
				file += int(ch - '0')
			case strings.ContainsRune("pnbrqkPNBRQK", ch):
				if file >= 8 {
					return nil, fmt.Errorf("invalid FEN: too many pieces in rank %d", 8-r)
				}
				b.squares[r][file] = byte(ch)
				file++
			default:
				return nil, fmt.Errorf("invalid FEN: unexpected %q in rank %d", ch, 8-r)
			}
		}
		if file != 8 {
			return nil, fmt.Errorf("invalid FEN: rank %d has %d files", 8-r, file)
		}
	}

	switch parts[1] {
	case "w":
		b.turn = core.ColorWhite
	case "b":
		b.turn = core.ColorBlack
	default:
		return nil, fmt.Errorf("invalid FEN: turn must be 'w' or 'b'")
	}
	b.castling = parts[2]
	b.enPassant = parts[3]

	var err error
	if b.halfmove, err = strconv.Atoi(parts[4]); err != nil || b.halfmove < 0 {
		return nil, fmt.Errorf("invalid FEN: halfmove counter")
	}
	if b.fullmove, err = strconv.Atoi(parts[5]); err != nil || b.fullmove < 1 {
		return nil, fmt.Errorf("invalid FEN: fullmove counter")
	}

	return b, nil
}

// ToASCII draws the board from White's side, ranks and files labelled
func (b *Board) ToASCII() string {
	var sb strings.Builder
	sb.WriteString("  a b c d e f g h\n")

	for r := 0; r < 8; r++ {
		fmt.Fprintf(&sb, "%d ", 8-r)
		for f := 0; f < 8; f++ {
			if piece := b.squares[r][f]; piece != 0 {
				fmt.Fprintf(&sb, "%c ", piece)
			} else {
				sb.WriteString(". ")
			}
		}
		fmt.Fprintf(&sb, " %d\n", 8-r)
	}
	sb.WriteString("  a b c d e f g h")

	return sb.String()
}

func (b *Board) Turn() core.Color {
	return b.turn
}

func (b *Board) FullMove() int {
	return b.fullmove
}

func (b *Board) HalfMoveClock() int {
	return b.halfmove
}

// PieceAt returns the FEN letter on a square such as "e4", or 0 when empty
func (b *Board) PieceAt(square string) byte {
	if len(square) != 2 {
		return 0
	}
	if square[0] < 'a' || square[0] > 'h' || square[1] < '1' || square[1] > '8' {
		return 0
	}
	file := square[0] - 'a'
	rank := '8' - square[1]
	return b.squares[rank][file]
}
