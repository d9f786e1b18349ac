package commands

import (
	"fmt"
	"strconv"
	"strings"

	"arena/internal/board"
	"arena/internal/client/display"
	"arena/internal/server/core"
)

func (r *Registry) registerMatchCommands() {
	r.Register(&Command{
		Name:        "agents",
		ShortName:   "a",
		Description: "List seatable agents",
		Usage:       "agents",
		Handler:     agentsHandler,
	})

	r.Register(&Command{
		Name:        "new",
		ShortName:   "n",
		Description: "Create a match between two agents",
		Usage:       "new <white> <black>",
		Handler:     newMatchHandler,
	})

	r.Register(&Command{
		Name:        "join",
		ShortName:   "j",
		Description: "Set current match ID",
		Usage:       "join <matchId>",
		Handler:     joinMatchHandler,
	})

	r.Register(&Command{
		Name:        "list",
		ShortName:   "l",
		Description: "List hosted matches",
		Usage:       "list",
		Handler:     listHandler,
	})

	r.Register(&Command{
		Name:        "load",
		ShortName:   "o",
		Description: "Replace both agents of the current match",
		Usage:       "load <white> <black>",
		Handler:     loadHandler,
	})

	r.Register(&Command{
		Name:        "play",
		ShortName:   "p",
		Description: "Start or resume the game loop",
		Usage:       "play",
		Handler:     controlHandler("play"),
	})

	r.Register(&Command{
		Name:        "pause",
		ShortName:   "z",
		Description: "Pause after the current ply",
		Usage:       "pause",
		Handler:     controlHandler("pause"),
	})

	r.Register(&Command{
		Name:        "step",
		ShortName:   "t",
		Description: "Play exactly one ply",
		Usage:       "step",
		Handler:     controlHandler("step"),
	})

	r.Register(&Command{
		Name:        "reset",
		ShortName:   "r",
		Description: "Return to the starting position",
		Usage:       "reset",
		Handler:     controlHandler("reset"),
	})

	r.Register(&Command{
		Name:        "delay",
		ShortName:   "y",
		Description: "Set the pause between plies",
		Usage:       "delay <ms>",
		Handler:     settingsHandler("delay"),
	})

	r.Register(&Command{
		Name:        "limit",
		ShortName:   "m",
		Description: "Set the per-move time limit",
		Usage:       "limit <ms>",
		Handler:     settingsHandler("limit"),
	})

	r.Register(&Command{
		Name:        "show",
		ShortName:   "h",
		Description: "Show board and match state",
		Usage:       "show",
		Handler:     showHandler,
	})

	r.Register(&Command{
		Name:        "state",
		ShortName:   "s",
		Description: "Show raw match JSON",
		Usage:       "state",
		Handler:     stateHandler,
	})

	r.Register(&Command{
		Name:        "watch",
		ShortName:   "w",
		Description: "Follow the match with long-polling",
		Usage:       "watch [updates]",
		Handler:     watchHandler,
	})

	r.Register(&Command{
		Name:        "delete",
		ShortName:   "d",
		Description: "Delete a match",
		Usage:       "delete [matchId]",
		Handler:     deleteHandler,
	})
}

func agentsHandler(s Session, args []string) error {
	agents, err := s.GetClient().ListAgents()
	if err != nil {
		return err
	}

	out := s.Out()
	fmt.Fprintf(out, "%sAgents:%s\n", display.Cyan, display.Reset)
	for _, a := range agents {
		fmt.Fprintf(out, "  %s%s%s", display.Green, a.Username, display.Reset)
		if a.ForkURL != "" {
			fmt.Fprintf(out, "  %s", a.ForkURL)
		}
		fmt.Fprintln(out)
	}
	return nil
}

func newMatchHandler(s Session, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: new <white> <black>")
	}

	resp, err := s.GetClient().CreateMatch(args[0], args[1])
	if err != nil {
		return err
	}

	s.SetCurrentMatch(resp.MatchID)
	s.SetMatchState(resp)

	out := s.Out()
	fmt.Fprintf(out, "%sMatch created: %s%s\n", display.Green, resp.MatchID, display.Reset)
	fmt.Fprintf(out, "%s%s vs %s, use 'play' or 'step'%s\n", display.Cyan, args[0], args[1], display.Reset)
	return nil
}

func joinMatchHandler(s Session, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: join <matchId>")
	}

	resp, err := s.GetClient().GetMatch(args[0])
	if err != nil {
		return err
	}

	s.SetCurrentMatch(args[0])
	s.SetMatchState(resp)

	fmt.Fprintf(s.Out(), "%sJoined match: %s%s\n", display.Green, args[0], display.Reset)
	printSummary(s, resp)
	return nil
}

func listHandler(s Session, args []string) error {
	matches, err := s.GetClient().ListMatches()
	if err != nil {
		return err
	}

	out := s.Out()
	if len(matches) == 0 {
		fmt.Fprintln(out, "No matches")
		return nil
	}
	for _, m := range matches {
		marker := " "
		if m.MatchID == s.GetCurrentMatch() {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s  %-8s %-10s vs %-10s moves:%d  %s\n",
			marker, m.MatchID, display.StatusText(m.Status), m.White, m.Black, m.Moves, display.ResultText(m.Result))
	}
	return nil
}

func loadHandler(s Session, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: load <white> <black>")
	}
	id, err := requireMatch(s)
	if err != nil {
		return err
	}

	resp, err := s.GetClient().LoadAgents(id, args[0], args[1])
	if err != nil {
		return err
	}
	s.SetMatchState(resp)
	fmt.Fprintf(s.Out(), "%sAgents loaded%s\n", display.Green, display.Reset)
	return nil
}

func controlHandler(action string) func(Session, []string) error {
	return func(s Session, args []string) error {
		id, err := requireMatch(s)
		if err != nil {
			return err
		}

		c := s.GetClient()
		var resp *core.MatchResponse
		switch action {
		case "play":
			resp, err = c.Play(id)
		case "pause":
			resp, err = c.Pause(id)
		case "step":
			resp, err = c.Step(id)
		case "reset":
			resp, err = c.Reset(id)
		}
		if err != nil {
			return err
		}

		s.SetMatchState(resp)
		if action == "step" && len(resp.MoveHistory) > 0 {
			last := resp.MoveHistory[len(resp.MoveHistory)-1]
			fmt.Fprintf(s.Out(), "%s%s played %s (%dms)%s\n",
				display.Magenta, last.Side.Name(), last.Algebraic, last.ElapsedMs, display.Reset)
		}
		printSummary(s, resp)
		return nil
	}
}

func settingsHandler(field string) func(Session, []string) error {
	return func(s Session, args []string) error {
		if len(args) < 1 {
			return fmt.Errorf("usage: %s <ms>", field)
		}
		ms, err := strconv.Atoi(args[0])
		if err != nil || ms < 0 {
			return fmt.Errorf("invalid milliseconds: %s", args[0])
		}
		id, err := requireMatch(s)
		if err != nil {
			return err
		}

		var req core.SettingsRequest
		if field == "delay" {
			req.MoveDelayMs = &ms
		} else {
			req.TimeLimitMs = &ms
		}

		resp, err := s.GetClient().UpdateSettings(id, req)
		if err != nil {
			return err
		}
		s.SetMatchState(resp)
		fmt.Fprintf(s.Out(), "Move delay: %dms | Time limit: %dms\n", resp.MoveDelayMs, resp.MoveTimeLimitMs)
		return nil
	}
}

func showHandler(s Session, args []string) error {
	id, err := requireMatch(s)
	if err != nil {
		return err
	}

	resp, err := s.GetClient().GetMatch(id)
	if err != nil {
		return err
	}
	s.SetMatchState(resp)
	return render(s, resp)
}

// render draws the board followed by the match summary and move list
func render(s Session, m *core.MatchResponse) error {
	b, err := board.ParseFEN(m.Position)
	if err != nil {
		return err
	}

	out := s.Out()
	fmt.Fprintln(out)
	display.RenderBoard(out, b.ToASCII())
	fmt.Fprintf(out, "\nFEN: %s\n", m.Position)
	printSummary(s, m)

	if len(m.MoveHistory) > 0 {
		fmt.Fprintf(out, "History: %s\n", history(m.MoveHistory))
	}
	return nil
}

func printSummary(s Session, m *core.MatchResponse) {
	white, black := "-", "-"
	if m.WhiteAgent != nil {
		white = m.WhiteAgent.Username
	}
	if m.BlackAgent != nil {
		black = m.BlackAgent.Username
	}
	fmt.Fprintf(s.Out(), "%s vs %s | Turn: %s | Status: %s | Moves: %d | Result: %s\n",
		white, black, display.ColorForTurn(m.SideToMove), display.StatusText(m.Status),
		len(m.MoveHistory), display.ResultText(m.Result))
}

// history formats moves as "1.e4 e5 2.Nf3". Records number a Black reply one
// past the White move it answers, so the pair label comes from White's record.
func history(moves []core.MoveRecord) string {
	var sb strings.Builder
	for i, mv := range moves {
		if i > 0 {
			sb.WriteByte(' ')
		}
		switch {
		case mv.Side == core.ColorWhite:
			fmt.Fprintf(&sb, "%d.", mv.MoveNumber)
		case i == 0:
			fmt.Fprintf(&sb, "%d...", mv.MoveNumber-1)
		}
		sb.WriteString(mv.Algebraic)
	}
	return sb.String()
}

func stateHandler(s Session, args []string) error {
	id, err := requireMatch(s)
	if err != nil {
		return err
	}

	resp, err := s.GetClient().GetMatch(id)
	if err != nil {
		return err
	}
	s.SetMatchState(resp)

	fmt.Fprintf(s.Out(), "%sMatch State:%s\n", display.Cyan, display.Reset)
	display.PrettyPrintJSON(s.Out(), resp)
	return nil
}

// watchHandler long-polls and redraws until the match finishes, a poll
// times out with no change, or the requested number of updates arrived
func watchHandler(s Session, args []string) error {
	id, err := requireMatch(s)
	if err != nil {
		return err
	}

	limit := 0
	if len(args) > 0 {
		if limit, err = strconv.Atoi(args[0]); err != nil || limit < 1 {
			return fmt.Errorf("invalid update count: %s", args[0])
		}
	}

	out := s.Out()
	fmt.Fprintf(out, "%sWatching %s (version %d)...%s\n", display.Cyan, id, s.GetLastVersion(), display.Reset)

	for updates := 0; limit == 0 || updates < limit; updates++ {
		version := s.GetLastVersion()
		resp, err := s.GetClient().WaitMatch(id, version)
		if err != nil {
			return err
		}
		if resp.Version == version {
			fmt.Fprintf(out, "%sNo updates (timeout)%s\n", display.Yellow, display.Reset)
			return nil
		}

		s.SetMatchState(resp)
		if err := render(s, resp); err != nil {
			return err
		}
		if resp.Status == core.StatusFinished {
			fmt.Fprintf(out, "%sGame over: %s%s\n", display.Magenta, display.ResultText(resp.Result), display.Reset)
			return nil
		}
	}
	return nil
}

func deleteHandler(s Session, args []string) error {
	id := s.GetCurrentMatch()
	if len(args) > 0 {
		id = args[0]
	}
	if id == "" {
		return fmt.Errorf("specify match ID or set current match")
	}

	if err := s.GetClient().DeleteMatch(id); err != nil {
		return err
	}

	if id == s.GetCurrentMatch() {
		s.SetCurrentMatch("")
	}

	fmt.Fprintf(s.Out(), "%sMatch deleted: %s%s\n", display.Green, id, display.Reset)
	return nil
}
