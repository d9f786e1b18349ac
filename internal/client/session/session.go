// Package session holds the REPL client's mutable state
package session

import (
	"io"
	"os"

	"arena/internal/client/api"
	"arena/internal/server/core"
)

type Session struct {
	APIBaseURL   string
	Client       *api.Client
	CurrentMatch string
	LastVersion  int
	AuthToken    string
	MatchState   *core.MatchResponse
	Verbose      bool
	Output       io.Writer
}

func New(baseURL string) *Session {
	return &Session{
		APIBaseURL:  baseURL,
		Client:      api.New(baseURL),
		LastVersion: -1,
		Output:      os.Stdout,
	}
}

func (s *Session) GetAPIBaseURL() string  { return s.APIBaseURL }
func (s *Session) SetAPIBaseURL(u string) { s.APIBaseURL = u; s.Client.SetBaseURL(u) }

func (s *Session) GetCurrentMatch() string { return s.CurrentMatch }

// SetCurrentMatch switches matches and forgets the cached snapshot
func (s *Session) SetCurrentMatch(id string) {
	if id != s.CurrentMatch {
		s.MatchState = nil
		s.LastVersion = -1
	}
	s.CurrentMatch = id
}

func (s *Session) GetLastVersion() int  { return s.LastVersion }
func (s *Session) SetLastVersion(v int) { s.LastVersion = v }

func (s *Session) GetAuthToken() string { return s.AuthToken }
func (s *Session) SetAuthToken(t string) {
	s.AuthToken = t
	s.Client.SetToken(t)
}

func (s *Session) GetClient() *api.Client { return s.Client }
func (s *Session) IsVerbose() bool        { return s.Verbose }

func (s *Session) GetMatchState() *core.MatchResponse { return s.MatchState }

// SetMatchState caches a snapshot and remembers its version for long-polling
func (s *Session) SetMatchState(m *core.MatchResponse) {
	s.MatchState = m
	if m != nil {
		s.LastVersion = m.Version
	}
}

func (s *Session) Out() io.Writer { return s.Output }
