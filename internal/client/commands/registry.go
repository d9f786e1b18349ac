// Package commands implements the REPL commands of the arena client
package commands

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"arena/internal/client/api"
	"arena/internal/client/display"
	"arena/internal/server/core"
)

// ErrExit is returned by the exit command to end the REPL
var ErrExit = errors.New("exit")

type Session interface {
	GetAPIBaseURL() string
	SetAPIBaseURL(string)
	GetCurrentMatch() string
	SetCurrentMatch(string)
	GetLastVersion() int
	SetLastVersion(int)
	GetAuthToken() string
	SetAuthToken(string)
	GetClient() *api.Client
	IsVerbose() bool
	GetMatchState() *core.MatchResponse
	SetMatchState(*core.MatchResponse)
	Out() io.Writer
}

// Command defines a client command with its handler
type Command struct {
	Name        string
	ShortName   string
	Description string
	Usage       string
	Handler     func(Session, []string) error
}

// Registry manages command registration and execution
type Registry struct {
	session  Session
	commands map[string]*Command
}

func NewRegistry(session Session) *Registry {
	r := &Registry{
		session:  session,
		commands: make(map[string]*Command),
	}

	r.registerMatchCommands()
	r.registerUtilityCommands()

	r.Register(&Command{
		Name:        "help",
		ShortName:   "?",
		Description: "Show available commands",
		Usage:       "help [command]",
		Handler:     r.helpHandler,
	})

	r.Register(&Command{
		Name:        "exit",
		ShortName:   "x",
		Description: "Exit the client",
		Usage:       "exit",
		Handler:     exitHandler,
	})

	return r
}

func (r *Registry) Register(cmd *Command) {
	r.commands[cmd.Name] = cmd
	if cmd.ShortName != "" {
		r.commands[cmd.ShortName] = cmd
	}
}

// Names returns every command name, for completion
func (r *Registry) Names() []string {
	var names []string
	for key, cmd := range r.commands {
		if key == cmd.Name {
			names = append(names, key)
		}
	}
	sort.Strings(names)
	return names
}

// Execute runs one input line. It returns ErrExit when the user asked to leave.
func (r *Registry) Execute(input string) error {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	cmdName := parts[0]
	args := parts[1:]
	out := r.session.Out()

	cmd, exists := r.commands[cmdName]
	if !exists {
		fmt.Fprintf(out, "%sUnknown command: %s%s\n", display.Red, cmdName, display.Reset)
		fmt.Fprintf(out, "Type 'help' for available commands\n")
		return nil
	}

	c := r.session.GetClient()
	c.SetVerbose(r.session.IsVerbose())
	c.Out = out

	err := cmd.Handler(r.session, args)
	if errors.Is(err, ErrExit) {
		return err
	}
	if err != nil {
		fmt.Fprintf(out, "%sError: %s%s\n", display.Red, err.Error(), display.Reset)
	}
	return nil
}

func (r *Registry) helpHandler(s Session, args []string) error {
	out := s.Out()
	if len(args) > 0 {
		cmd, exists := r.commands[args[0]]
		if !exists {
			return fmt.Errorf("unknown command: %s", args[0])
		}
		fmt.Fprintf(out, "\n%s%s%s - %s\n", display.Cyan, cmd.Name, display.Reset, cmd.Description)
		if cmd.ShortName != "" {
			fmt.Fprintf(out, "Short form: %s%s%s\n", display.Cyan, cmd.ShortName, display.Reset)
		}
		fmt.Fprintf(out, "Usage: %s\n", cmd.Usage)
		return nil
	}

	fmt.Fprintf(out, "\n%sAvailable Commands:%s\n\n", display.Cyan, display.Reset)

	groups := []struct {
		title string
		names []string
	}{
		{"Match Commands", []string{"agents", "new", "join", "list", "load", "play", "pause", "step", "reset", "delay", "limit", "show", "state", "watch", "delete"}},
		{"Utility Commands", []string{"health", "url", "token", "raw", "clear", "help", "exit"}},
	}

	for i, g := range groups {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "%s%s:%s\n", display.Yellow, g.title, display.Reset)
		for _, name := range g.names {
			cmd, exists := r.commands[name]
			if !exists {
				continue
			}
			shortPart := "    "
			if cmd.ShortName != "" {
				shortPart = fmt.Sprintf("[%s%s%s] ", display.Cyan, cmd.ShortName, display.Reset)
			}
			fmt.Fprintf(out, "  %s%-10s %s\n", shortPart, cmd.Name, cmd.Description)
		}
	}

	fmt.Fprintf(out, "\nType 'help <command>' for detailed usage\n")
	fmt.Fprintf(out, "Add '-v' to any command for verbose output\n")
	return nil
}

func exitHandler(s Session, args []string) error {
	fmt.Fprintf(s.Out(), "%sGoodbye!%s\n", display.Cyan, display.Reset)
	return ErrExit
}

// requireMatch returns the current match or explains how to pick one
func requireMatch(s Session) (string, error) {
	id := s.GetCurrentMatch()
	if id == "" {
		return "", fmt.Errorf("no current match, use 'new' or 'join <matchId>'")
	}
	return id, nil
}
