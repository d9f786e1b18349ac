package display

import (
	"fmt"
	"io"
	"strings"

	"arena/internal/server/core"
)

// RenderBoard writes an ASCII board with colored pieces
func RenderBoard(w io.Writer, asciiBoard string) {
	lines := strings.Split(asciiBoard, "\n")
	last := len(lines) - 1

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}

		isFileLine := i == 0 || i == last

		for _, char := range line {
			switch {
			case char >= 'a' && char <= 'h' && isFileLine:
				fmt.Fprintf(w, "%s%c%s", Cyan, char, Reset)
			case char >= 'A' && char <= 'Z':
				fmt.Fprintf(w, "%s%c%s", Blue, char, Reset)
			case char >= 'a' && char <= 'z':
				fmt.Fprintf(w, "%s%c%s", Red, char, Reset)
			case char >= '1' && char <= '8':
				fmt.Fprintf(w, "%s%c%s", Cyan, char, Reset)
			default:
				fmt.Fprintf(w, "%c", char)
			}
		}
		fmt.Fprintln(w)
	}
}

// ColorForTurn returns colored turn indicator
func ColorForTurn(turn core.Color) string {
	if turn == core.ColorWhite {
		return Blue + "White" + Reset
	}
	return Red + "Black" + Reset
}

// StatusText colors a match status
func StatusText(s core.Status) string {
	switch s {
	case core.StatusRunning:
		return Green + s.String() + Reset
	case core.StatusPaused:
		return Yellow + s.String() + Reset
	case core.StatusFinished:
		return Magenta + s.String() + Reset
	default:
		return s.String()
	}
}

// ResultText describes a result in words
func ResultText(r core.Result) string {
	switch r {
	case core.ResultNone:
		return "in progress"
	case core.ResultWhiteWinsCheckmate:
		return "White wins by checkmate"
	case core.ResultBlackWinsCheckmate:
		return "Black wins by checkmate"
	case core.ResultStalemate:
		return "Draw by stalemate"
	case core.ResultDrawRepetition:
		return "Draw by threefold repetition"
	case core.ResultDrawInsufficient:
		return "Draw by insufficient material"
	case core.ResultDrawMoveCount:
		return "Draw by move count"
	case core.ResultWhiteForfeitInvalid:
		return "White forfeits (invalid move)"
	case core.ResultBlackForfeitInvalid:
		return "Black forfeits (invalid move)"
	case core.ResultWhiteForfeitTimeout:
		return "White forfeits (timeout)"
	case core.ResultBlackForfeitTimeout:
		return "Black forfeits (timeout)"
	default:
		return r.String()
	}
}
