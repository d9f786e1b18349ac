// Package cli implements the arena-server maintenance subcommands
package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"arena/internal/server/service"
	"arena/internal/server/storage"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Run dispatches "db ..." and "token ..." command lines
func Run(args []string) error {
	return run(args, os.Stdout)
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("command required: db, token")
	}

	switch args[0] {
	case "db":
		if len(args) < 2 {
			return fmt.Errorf("db subcommand required: init, delete, query")
		}
		switch args[1] {
		case "init":
			return runInit(args[2:], out)
		case "delete":
			return runDelete(args[2:], out)
		case "query":
			return runQuery(args[2:], out)
		default:
			return fmt.Errorf("unknown db subcommand: %s", args[1])
		}
	case "token":
		return runToken(args[1:], out, readSecret)
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func openStore(path string) (*storage.Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path required")
	}
	return storage.NewStore(path, false, zerolog.Nop())
}

func runInit(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("db init", flag.ContinueOnError)
	path := fs.String("path", "", "Database file path (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openStore(*path)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer store.Close()

	if err := store.InitDB(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	fmt.Fprintf(out, "Database initialized at: %s\n", *path)
	return nil
}

func runDelete(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("db delete", flag.ContinueOnError)
	path := fs.String("path", "", "Database file path (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openStore(*path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	if err := store.DeleteDB(); err != nil {
		return fmt.Errorf("failed to delete database: %w", err)
	}

	fmt.Fprintf(out, "Database deleted: %s\n", *path)
	return nil
}

func runQuery(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("db query", flag.ContinueOnError)
	path := fs.String("path", "", "Database file path (required)")
	matchID := fs.String("match", "", "Match ID to filter (optional, * for all)")
	agentName := fs.String("agent", "", "Agent username on either side (optional, * for all)")
	gameID := fs.String("moves", "", "Print the moves of this game ID instead")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openStore(*path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	if *gameID != "" {
		moves, err := store.QueryMoves(*gameID)
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}
		fmt.Fprintln(w, "Ply\tMove\tSide\tSAN\tUCI\tms")
		for _, m := range moves {
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%d\n", m.Ply, m.MoveNumber, m.PlayerColor, m.MoveSAN, m.MoveUCI, m.ElapsedMs)
		}
		fmt.Fprintf(w, "\n%d move(s)\n", len(moves))
		return nil
	}

	games, err := store.QueryGames(*matchID, *agentName)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if len(games) == 0 {
		fmt.Fprintln(w, "No games found")
		return nil
	}

	fmt.Fprintln(w, "Game ID\tMatch ID\tWhite\tBlack\tResult\tMoves\tFinished")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, g := range games {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			g.GameID,
			short(g.MatchID),
			g.WhiteAgent,
			g.BlackAgent,
			g.Result,
			g.MoveCount,
			g.FinishedAt.Format("2006-01-02 15:04:05"),
		)
	}
	fmt.Fprintf(w, "\nFound %d game(s)\n", len(games))
	return nil
}

func runToken(args []string, out io.Writer, prompt func() ([]byte, error)) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "", "Operator name (required)")
	ttl := fs.Duration("ttl", service.OperatorTokenTTL, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *subject == "" {
		return fmt.Errorf("subject required")
	}

	secret := []byte(os.Getenv("ARENA_JWT_SECRET"))
	if len(secret) == 0 {
		var err error
		if secret, err = prompt(); err != nil {
			return fmt.Errorf("failed to read secret: %w", err)
		}
	}
	if len(secret) < 32 {
		return fmt.Errorf("secret must be at least 32 bytes")
	}

	token, err := service.GenerateOperatorToken(secret, *subject, *ttl)
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}

	fmt.Fprintln(out, token)
	fmt.Fprintf(os.Stderr, "Token for %q expires %s\n", *subject, time.Now().Add(*ttl).Format(time.RFC3339))
	return nil
}

func readSecret() ([]byte, error) {
	fmt.Fprint(os.Stderr, "Enter JWT secret: ")
	secret, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	return secret, err
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}
