// Package main implements an interactive client for the arena server API.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"arena/internal/client/commands"
	"arena/internal/client/display"
	"arena/internal/client/session"
	"arena/internal/server/core"

	"github.com/chzyer/readline"
)

func main() {
	apiURL := flag.String("api", "http://localhost:8080", "Arena server base URL")
	flag.Parse()

	s := session.New(strings.TrimRight(*apiURL, "/"))
	if token := os.Getenv("ARENA_TOKEN"); token != "" {
		s.SetAuthToken(token)
	}

	registry := commands.NewRegistry(s)

	items := make([]readline.PrefixCompleterInterface, 0, len(registry.Names()))
	for _, name := range registry.Names() {
		items = append(items, readline.PcItem(name))
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          display.Prompt("arena"),
		HistoryFile:     ".arena_history",
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("%s%s%s\n", display.Red, err.Error(), display.Reset)
		os.Exit(1)
	}
	defer rl.Close()

	fmt.Printf("%sArena Client%s\n", display.Cyan, display.Reset)
	fmt.Printf("%sAPI: %s%s\n", display.Cyan, s.APIBaseURL, display.Reset)
	fmt.Printf("Type 'help' for commands\n\n")

	for {
		rl.SetPrompt(buildPrompt(s))

		line, err := rl.Readline()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasSuffix(line, " -v") {
			s.Verbose = true
			line = strings.TrimSuffix(line, " -v")
		} else {
			s.Verbose = false
		}

		if err := registry.Execute(line); errors.Is(err, commands.ErrExit) {
			break
		}
	}
}

func buildPrompt(s *session.Session) string {
	prompt := "arena"

	if s.CurrentMatch != "" {
		id := s.CurrentMatch
		if len(id) > 8 {
			id = id[:8]
		}
		prompt += display.Yellow + " [" + display.White + id + display.Yellow + "]"
	}

	if m := s.MatchState; m != nil {
		prompt += " " + display.StatusText(m.Status)
		if m.Status != core.StatusFinished {
			prompt += " - Turn:" + display.ColorForTurn(m.SideToMove)
		}
	}

	return display.Prompt(prompt)
}
