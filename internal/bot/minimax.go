package bot

import (
	"context"
	"sort"
	"time"

	"arena/internal/server/rules"

	"github.com/notnil/chess"
)

const (
	defaultMaxDepth = 4
	// fallbackBudget applies when a request carries no time limit
	fallbackBudget = time.Second
)

// Minimax is an iterative-deepening negamax search with alpha-beta pruning.
// It answers with the best move of the deepest fully searched iteration.
type Minimax struct {
	MaxDepth int
}

func NewMinimax() *Minimax {
	return &Minimax{MaxDepth: defaultMaxDepth}
}

func (m *Minimax) Move(ctx context.Context, position string, timeLimit time.Duration) (string, error) {
	pos, err := decode(position)
	if err != nil {
		return "", err
	}
	moves := orderMoves(pos, pos.ValidMoves())
	if len(moves) == 0 {
		return "", ErrNoLegalMoves
	}

	budget := fallbackBudget
	if timeLimit > 0 {
		budget = timeLimit * 3 / 4
	}
	deadline := time.Now().Add(budget)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s := &search{ctx: ctx, deadline: deadline}
	best := moves[0]
	for depth := 1; depth <= m.MaxDepth; depth++ {
		move, score, ok := s.root(pos, moves, depth)
		if !ok {
			break
		}
		best = move
		moves = moveToFront(moves, move)
		if score >= mateScore-depth {
			break
		}
	}

	return rules.Compact(best), nil
}

type search struct {
	ctx      context.Context
	deadline time.Time
	nodes    int
	aborted  bool
}

func (s *search) expired() bool {
	if s.aborted {
		return true
	}
	s.nodes++
	if s.nodes&255 == 0 && (time.Now().After(s.deadline) || s.ctx.Err() != nil) {
		s.aborted = true
	}
	return s.aborted
}

func (s *search) root(pos *chess.Position, moves []*chess.Move, depth int) (*chess.Move, int, bool) {
	var best *chess.Move
	alpha := -infinity
	for _, m := range moves {
		score := -s.negamax(pos.Update(m), depth-1, -infinity, -alpha, 1)
		if s.aborted {
			return nil, 0, false
		}
		if best == nil || score > alpha {
			alpha = score
			best = m
		}
	}
	return best, alpha, true
}

func (s *search) negamax(pos *chess.Position, depth, alpha, beta, ply int) int {
	if s.expired() {
		return 0
	}

	moves := pos.ValidMoves()
	if len(moves) == 0 {
		if pos.Status() == chess.Checkmate {
			return -mateScore + ply
		}
		return 0
	}
	if depth == 0 {
		return evaluate(pos)
	}

	for _, m := range orderMoves(pos, moves) {
		score := -s.negamax(pos.Update(m), depth-1, -beta, -alpha, ply+1)
		if s.aborted {
			return 0
		}
		if score >= beta {
			return beta
		}
		if score > alpha {
			alpha = score
		}
	}
	return alpha
}

// orderMoves puts promotions and captures of valuable pieces first
func orderMoves(pos *chess.Position, moves []*chess.Move) []*chess.Move {
	board := pos.Board()
	rank := func(m *chess.Move) int {
		r := 0
		if m.Promo() != chess.NoPieceType {
			r += pieceValues[m.Promo()]
		}
		if m.HasTag(chess.Capture) {
			r += 10*pieceValues[board.Piece(m.S2()).Type()] - pieceValues[board.Piece(m.S1()).Type()]
		}
		return r
	}

	ordered := make([]*chess.Move, len(moves))
	copy(ordered, moves)
	sort.SliceStable(ordered, func(i, j int) bool {
		return rank(ordered[i]) > rank(ordered[j])
	})
	return ordered
}

func moveToFront(moves []*chess.Move, first *chess.Move) []*chess.Move {
	out := make([]*chess.Move, 0, len(moves))
	out = append(out, first)
	for _, m := range moves {
		if m != first {
			out = append(out, m)
		}
	}
	return out
}
