package commands

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"arena/internal/client/display"

	"golang.org/x/term"
)

func (r *Registry) registerUtilityCommands() {
	r.Register(&Command{
		Name:        "health",
		ShortName:   ".",
		Description: "Check server health",
		Usage:       "health",
		Handler:     healthHandler,
	})

	r.Register(&Command{
		Name:        "url",
		ShortName:   "/",
		Description: "Set API base URL",
		Usage:       "url [apiUrl]",
		Handler:     urlHandler,
	})

	r.Register(&Command{
		Name:        "token",
		ShortName:   "k",
		Description: "Set or clear the operator token",
		Usage:       "token [jwt|clear]",
		Handler:     tokenHandler,
	})

	r.Register(&Command{
		Name:        "raw",
		ShortName:   ":",
		Description: "Send raw API request",
		Usage:       "raw <method> <path> [json-body]",
		Handler:     rawRequestHandler,
	})

	r.Register(&Command{
		Name:        "clear",
		ShortName:   "-",
		Description: "Clear screen",
		Usage:       "clear",
		Handler:     clearHandler,
	})
}

func healthHandler(s Session, args []string) error {
	resp, err := s.GetClient().Health()
	if err != nil {
		return err
	}

	out := s.Out()
	fmt.Fprintf(out, "%sServer Health:%s\n", display.Cyan, display.Reset)
	fmt.Fprintf(out, "  Status:  %s\n", resp.Status)
	fmt.Fprintf(out, "  Time:    %s\n", time.Unix(resp.Time, 0).Format("2006-01-02 15:04:05"))
	if resp.Storage != "" {
		fmt.Fprintf(out, "  Storage: %s\n", resp.Storage)
	}
	fmt.Fprintf(out, "  Matches: %d\n", resp.Matches)
	fmt.Fprintf(out, "  Auth:    %v\n", resp.Auth)
	return nil
}

func urlHandler(s Session, args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(s.Out(), "Current API URL: %s\n", s.GetAPIBaseURL())
		return nil
	}

	url := args[0]
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	url = strings.TrimRight(url, "/")

	s.SetAPIBaseURL(url)
	fmt.Fprintf(s.Out(), "%sAPI URL set to: %s%s\n", display.Cyan, url, display.Reset)
	return nil
}

func tokenHandler(s Session, args []string) error {
	out := s.Out()
	if len(args) > 0 {
		if args[0] == "clear" {
			s.SetAuthToken("")
			fmt.Fprintf(out, "%sToken cleared%s\n", display.Cyan, display.Reset)
			return nil
		}
		s.SetAuthToken(args[0])
		fmt.Fprintf(out, "%sToken set%s\n", display.Green, display.Reset)
		return nil
	}

	if !term.IsTerminal(int(syscall.Stdin)) {
		if s.GetAuthToken() == "" {
			fmt.Fprintln(out, "No token set")
		} else {
			fmt.Fprintln(out, "Token set")
		}
		return nil
	}

	fmt.Fprint(out, "Operator token: ")
	token, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(out)
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	s.SetAuthToken(strings.TrimSpace(string(token)))
	fmt.Fprintf(out, "%sToken set%s\n", display.Green, display.Reset)
	return nil
}

func rawRequestHandler(s Session, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: raw <method> <path> [json-body]")
	}

	method := strings.ToUpper(args[0])
	path := args[1]

	body := ""
	if len(args) > 2 {
		body = strings.Join(args[2:], " ")
	}

	return s.GetClient().RawRequest(method, path, body)
}

func clearHandler(s Session, args []string) error {
	cmd := exec.Command("clear")
	cmd.Stdout = os.Stdout
	return cmd.Run()
}
