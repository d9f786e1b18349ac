// Package bot provides the move generators an agent host can load by locator:
// built-in searchers ("builtin:<name>") and external UCI engines ("uci:<path>").
package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"arena/internal/server/agent"
	"arena/internal/server/rules"

	"github.com/notnil/chess"
)

const (
	SchemeBuiltin = "builtin:"
	SchemeUCI     = "uci:"
)

var (
	ErrUnknownLocator = errors.New("unknown agent locator")
	ErrNoLegalMoves   = errors.New("no legal moves")
)

type factory func(seed int64) agent.Mover

var builtins = map[string]factory{
	"random":  func(seed int64) agent.Mover { return NewRandom(seed) },
	"greedy":  func(seed int64) agent.Mover { return NewGreedy(seed) },
	"minimax": func(seed int64) agent.Mover { return NewMinimax() },
}

// Builtins lists the names accepted after "builtin:"
func Builtins() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load resolves a locator into a Mover. It satisfies agent.Loader.
func Load(ctx context.Context, locator string) (agent.Mover, error) {
	switch {
	case strings.HasPrefix(locator, SchemeBuiltin):
		name := strings.TrimPrefix(locator, SchemeBuiltin)
		f, ok := builtins[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownLocator, locator)
		}
		return f(time.Now().UnixNano()), nil

	case strings.HasPrefix(locator, SchemeUCI):
		path := strings.TrimPrefix(locator, SchemeUCI)
		if path == "" {
			return nil, fmt.Errorf("%w: empty engine path", ErrUnknownLocator)
		}
		return StartUCI(ctx, path)

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownLocator, locator)
	}
}

func decode(fen string) (*chess.Position, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("invalid position: %w", err)
	}
	return chess.NewGame(opt).Position(), nil
}

// Random plays a uniformly random legal move
type Random struct {
	rng *rand.Rand
}

func NewRandom(seed int64) *Random {
	return &Random{rng: rand.New(rand.NewSource(seed))}
}

func (r *Random) Move(ctx context.Context, position string, timeLimit time.Duration) (string, error) {
	pos, err := decode(position)
	if err != nil {
		return "", err
	}
	moves := pos.ValidMoves()
	if len(moves) == 0 {
		return "", ErrNoLegalMoves
	}
	return rules.Compact(moves[r.rng.Intn(len(moves))]), nil
}
