package bot

import (
	"context"
	"math/rand"
	"time"

	"arena/internal/server/rules"

	"github.com/notnil/chess"
)

// Greedy looks one ply ahead: it mates when it can, otherwise it takes the move
// with the best static evaluation, breaking ties at random
type Greedy struct {
	rng *rand.Rand
}

func NewGreedy(seed int64) *Greedy {
	return &Greedy{rng: rand.New(rand.NewSource(seed))}
}

func (g *Greedy) Move(ctx context.Context, position string, timeLimit time.Duration) (string, error) {
	pos, err := decode(position)
	if err != nil {
		return "", err
	}
	moves := pos.ValidMoves()
	if len(moves) == 0 {
		return "", ErrNoLegalMoves
	}

	var best []*chess.Move
	bestScore := -infinity
	for _, m := range moves {
		child := pos.Update(m)
		if child.Status() == chess.Checkmate {
			return rules.Compact(m), nil
		}
		score := -evaluate(child)
		switch {
		case score > bestScore:
			bestScore = score
			best = append(best[:0], m)
		case score == bestScore:
			best = append(best, m)
		}
		if ctx.Err() != nil {
			break
		}
	}

	return rules.Compact(best[g.rng.Intn(len(best))]), nil
}
