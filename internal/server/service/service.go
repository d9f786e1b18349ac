// Package service hosts the live matches: it creates and tears down
// orchestrators, versions their snapshots for long-polling clients and
// archives finished games.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"arena/internal/server/catalog"
	"arena/internal/server/core"
	"arena/internal/server/match"
	"arena/internal/server/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const MaxMatches = 10

var (
	ErrMatchNotFound = errors.New("match not found")
	ErrResourceLimit = errors.New("match limit reached")
	ErrMatchFinished = errors.New("match finished")
)

// Factory builds a fresh orchestrator for a new match
type Factory func(log zerolog.Logger) *match.Orchestrator

type Option func(*Service)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) {
		s.log = log
	}
}

// WithStore enables archiving of finished games
func WithStore(store *storage.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

func WithWaitTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.waitTimeout = d
	}
}

// Service coordinates live matches, the agent catalog and the archive
type Service struct {
	mu          sync.RWMutex
	matches     map[string]*entry
	factory     Factory
	catalog     *catalog.Catalog
	store       *storage.Store
	waiter      *WaitRegistry
	waitTimeout time.Duration
	jwtSecret   []byte
	log         zerolog.Logger

	shutdownOnce sync.Once
	shutdownErr  error
}

type entry struct {
	id      string
	orch    *match.Orchestrator
	created time.Time
	version atomic.Int64

	// touched only on the orchestrator's dispatcher goroutine
	archivedGen uint64
	archived    bool
}

func New(factory Factory, cat *catalog.Catalog, opts ...Option) *Service {
	s := &Service{
		matches: make(map[string]*entry),
		factory: factory,
		catalog: cat,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.waiter = NewWaitRegistry(s.waitTimeout)
	return s
}

// Catalog returns the seatable agents
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

// GetStorageHealth returns the storage component status
func (s *Service) GetStorageHealth() string {
	if s.store == nil {
		return "disabled"
	}
	if s.store.IsHealthy() {
		return "ok"
	}
	return "degraded"
}

// ActiveMatches returns the number of hosted matches
func (s *Service) ActiveMatches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matches)
}

// CreateMatch seats two catalog agents in a new match and loads them
func (s *Service) CreateMatch(ctx context.Context, white, black string) (core.MatchResponse, error) {
	wd, bd, err := s.resolve(white, black)
	if err != nil {
		return core.MatchResponse{}, err
	}

	s.mu.Lock()
	if len(s.matches) >= MaxMatches {
		s.mu.Unlock()
		return core.MatchResponse{}, fmt.Errorf("%w: %d matches running", ErrResourceLimit, MaxMatches)
	}
	e := &entry{id: uuid.New().String(), created: time.Now()}
	log := s.log.With().Str("match", e.id).Logger()
	e.orch = s.factory(log)
	e.orch.SetObserver(s.observer(e))
	s.matches[e.id] = e
	s.mu.Unlock()

	if err := e.orch.LoadAgents(ctx, &wd, &bd); err != nil {
		s.remove(e.id)
		return core.MatchResponse{}, err
	}

	log.Info().Str("white", wd.Username).Str("black", bd.Username).Msg("match created")
	return s.response(e), nil
}

// GetMatch returns the current snapshot with its version
func (s *Service) GetMatch(id string) (core.MatchResponse, error) {
	e, err := s.get(id)
	if err != nil {
		return core.MatchResponse{}, err
	}
	return s.response(e), nil
}

// Version returns the snapshot counter of a match
func (s *Service) Version(id string) (int, error) {
	e, err := s.get(id)
	if err != nil {
		return 0, err
	}
	return int(e.version.Load()), nil
}

// RegisterWait registers a long-poll client for version changes
func (s *Service) RegisterWait(ctx context.Context, id string, version int) <-chan struct{} {
	return s.waiter.RegisterWait(ctx, id, version)
}

func (s *Service) Play(id string) (core.MatchResponse, error) {
	e, err := s.open(id)
	if err != nil {
		return core.MatchResponse{}, err
	}
	e.orch.Play()
	return s.response(e), nil
}

func (s *Service) Pause(id string) (core.MatchResponse, error) {
	e, err := s.get(id)
	if err != nil {
		return core.MatchResponse{}, err
	}
	e.orch.Pause()
	return s.response(e), nil
}

// Step plays one ply and returns the state after it
func (s *Service) Step(ctx context.Context, id string) (core.MatchResponse, error) {
	e, err := s.open(id)
	if err != nil {
		return core.MatchResponse{}, err
	}
	if err := e.orch.Step(ctx); err != nil {
		return core.MatchResponse{}, err
	}
	return s.response(e), nil
}

func (s *Service) Reset(id string) (core.MatchResponse, error) {
	e, err := s.get(id)
	if err != nil {
		return core.MatchResponse{}, err
	}
	e.orch.Reset()
	return s.response(e), nil
}

// LoadAgents replaces both agents of an existing match
func (s *Service) LoadAgents(ctx context.Context, id, white, black string) (core.MatchResponse, error) {
	e, err := s.get(id)
	if err != nil {
		return core.MatchResponse{}, err
	}
	wd, bd, err := s.resolve(white, black)
	if err != nil {
		return core.MatchResponse{}, err
	}
	if err := e.orch.LoadAgents(ctx, &wd, &bd); err != nil {
		return core.MatchResponse{}, err
	}
	return s.response(e), nil
}

// UpdateSettings applies whichever of the settings are present
func (s *Service) UpdateSettings(id string, req core.SettingsRequest) (core.MatchResponse, error) {
	e, err := s.get(id)
	if err != nil {
		return core.MatchResponse{}, err
	}
	if req.MoveDelayMs != nil {
		e.orch.SetMoveDelay(time.Duration(*req.MoveDelayMs) * time.Millisecond)
	}
	if req.TimeLimitMs != nil {
		e.orch.SetTimeLimit(time.Duration(*req.TimeLimitMs) * time.Millisecond)
	}
	return s.response(e), nil
}

// DeleteMatch releases the agents and forgets the match
func (s *Service) DeleteMatch(id string) error {
	if !s.remove(id) {
		return fmt.Errorf("%w: %s", ErrMatchNotFound, id)
	}
	s.log.Info().Str("match", id).Msg("match deleted")
	return nil
}

// ListMatches summarizes hosted matches, oldest first
func (s *Service) ListMatches() []core.MatchSummary {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.matches))
	for _, e := range s.matches {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].created.Before(entries[j].created)
	})

	out := make([]core.MatchSummary, 0, len(entries))
	for _, e := range entries {
		st := e.orch.State()
		sum := core.MatchSummary{
			MatchID: e.id,
			Status:  st.Status,
			Result:  st.Result,
			Moves:   len(st.MoveHistory),
		}
		if st.WhiteAgent != nil {
			sum.White = st.WhiteAgent.Username
		}
		if st.BlackAgent != nil {
			sum.Black = st.BlackAgent.Username
		}
		out = append(out, sum)
	}
	return out
}

// Shutdown closes every match, the wait registry and the store; later calls
// return the first result
func (s *Service) Shutdown(timeout time.Duration) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(timeout)
	})
	return s.shutdownErr
}

func (s *Service) shutdown(timeout time.Duration) error {
	s.mu.Lock()
	entries := s.matches
	s.matches = make(map[string]*entry)
	s.mu.Unlock()

	for _, e := range entries {
		e.orch.Close()
	}

	var errs []error
	if err := s.waiter.Shutdown(timeout); err != nil {
		errs = append(errs, fmt.Errorf("wait registry: %w", err))
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) resolve(white, black string) (core.AgentDescriptor, core.AgentDescriptor, error) {
	wd, err := s.catalog.Find(white)
	if err != nil {
		return core.AgentDescriptor{}, core.AgentDescriptor{}, err
	}
	bd, err := s.catalog.Find(black)
	if err != nil {
		return core.AgentDescriptor{}, core.AgentDescriptor{}, err
	}
	return wd, bd, nil
}

func (s *Service) get(id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.matches[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMatchNotFound, id)
	}
	return e, nil
}

// open is get for commands that cannot apply to a finished match
func (s *Service) open(id string) (*entry, error) {
	e, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if e.orch.State().Status == core.StatusFinished {
		return nil, ErrMatchFinished
	}
	return e, nil
}

func (s *Service) remove(id string) bool {
	s.mu.Lock()
	e, ok := s.matches[id]
	delete(s.matches, id)
	s.mu.Unlock()

	if !ok {
		return false
	}
	s.waiter.RemoveMatch(id)
	e.orch.Close()
	return true
}

// response reads the version before the state so a client never holds a
// version newer than the snapshot it came with
func (s *Service) response(e *entry) core.MatchResponse {
	version := int(e.version.Load())
	return core.MatchResponse{
		MatchID:     e.id,
		Version:     version,
		MoveDelayMs: e.orch.Settings().MoveDelay.Milliseconds(),
		MatchState:  e.orch.State(),
	}
}

func (s *Service) observer(e *entry) match.Observer {
	return match.ObserverFunc(func(st core.MatchState) {
		v := e.version.Add(1)
		s.waiter.NotifyMatch(e.id, int(v))

		if st.Status == core.StatusFinished && (!e.archived || e.archivedGen != st.Generation) {
			e.archived, e.archivedGen = true, st.Generation
			s.archive(e.id, st)
		}
	})
}

func (s *Service) archive(matchID string, st core.MatchState) {
	s.log.Info().
		Str("match", matchID).
		Str("result", st.Result.String()).
		Int("moves", len(st.MoveHistory)).
		Msg("game over")

	if s.store == nil {
		return
	}

	game := storage.GameRecord{
		GameID:      uuid.New().String(),
		MatchID:     matchID,
		Result:      string(st.Result),
		FinalFEN:    st.Position,
		MoveCount:   len(st.MoveHistory),
		TimeLimitMs: st.MoveTimeLimitMs,
		FinishedAt:  time.Now(),
	}
	if st.WhiteAgent != nil {
		game.WhiteAgent, game.WhiteLocator = st.WhiteAgent.Username, st.WhiteAgent.Locator
	}
	if st.BlackAgent != nil {
		game.BlackAgent, game.BlackLocator = st.BlackAgent.Username, st.BlackAgent.Locator
	}

	moves := make([]storage.MoveRecord, len(st.MoveHistory))
	for i, m := range st.MoveHistory {
		moves[i] = storage.MoveRecord{
			Ply:          i,
			MoveNumber:   m.MoveNumber,
			MoveSAN:      m.Algebraic,
			MoveUCI:      m.Compact,
			FENAfterMove: m.ResultingPosition,
			PlayerColor:  m.Side.String(),
			ElapsedMs:    m.ElapsedMs,
		}
	}

	s.store.RecordGame(game, moves)
}
