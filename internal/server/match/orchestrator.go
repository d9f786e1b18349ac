// Package match runs one chess match between two agents: it owns the match
// state, drives the game loop and publishes snapshots to an observer.
package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"arena/internal/server/agent"
	"arena/internal/server/core"

	"github.com/rs/zerolog"
)

var (
	ErrLoadFailed  = errors.New("agent load failed")
	ErrSuperseded  = errors.New("agent load superseded")
	ErrClosed      = errors.New("orchestrator closed")
	ErrNoAgentSpec = errors.New("both agents are required")
)

// Rules is the chess capability set the orchestrator consumes
type Rules interface {
	StartPosition() string
	SideToMove(fen string) (core.Color, error)
	LegalMoves(fen string) ([]string, error)
	ApplyMove(fen, from, to, promotion string) (string, string, error)
	IsCheckmate(fen string, history []string) bool
	IsStalemate(fen string, history []string) bool
	IsThreefoldRepetition(fen string, history []string) bool
	IsInsufficientMaterial(fen string, history []string) bool
	IsDrawByMoveCount(fen string, history []string) bool
}

type Option func(*Orchestrator)

func WithLogger(log zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.log = log
	}
}

func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		o.cfg = cfg
	}
}

// Orchestrator is safe for concurrent use by multiple goroutines
type Orchestrator struct {
	rules Rules
	dial  agent.Dialer
	log   zerolog.Logger
	pub   *publisher
	start string

	mu       sync.Mutex
	cfg      Config
	state    core.MatchState
	channels [2]agent.Channel
	gen      uint64
	stepping bool
	stopRun  context.CancelFunc
	plyDone  chan struct{}
	closed   bool
}

func New(rules Rules, dial agent.Dialer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		rules: rules,
		dial:  dial,
		log:   zerolog.Nop(),
		cfg:   DefaultConfig(),
		pub:   newPublisher(),
		start: rules.StartPosition(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.state = o.freshStateLocked(nil, nil)
	return o
}

// SetObserver registers the single snapshot consumer, replacing any previous one
func (o *Orchestrator) SetObserver(obs Observer) {
	o.pub.setObserver(obs)
}

// State returns a deep copy of the current match state
func (o *Orchestrator) State() core.MatchState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Clone()
}

// LoadAgents tears down any attached agents, then dials and loads both sides in
// parallel. On success the match is idle at the start position.
func (o *Orchestrator) LoadAgents(ctx context.Context, white, black *core.AgentDescriptor) error {
	if white == nil || black == nil {
		return fmt.Errorf("%w: %w", ErrLoadFailed, ErrNoAgentSpec)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	o.gen++
	gen := o.gen
	old := o.detachLocked()
	o.state = o.freshStateLocked(nil, nil)
	o.publishLocked()
	timeout := o.cfg.LoadTimeout
	o.mu.Unlock()

	o.closeChannels(old)

	var (
		wg       sync.WaitGroup
		channels [2]agent.Channel
		errs     [2]error
	)
	for i, d := range []*core.AgentDescriptor{white, black} {
		wg.Add(1)
		go func(i int, d *core.AgentDescriptor) {
			defer wg.Done()
			channels[i], errs[i] = o.open(ctx, sideOf(i), d, timeout)
		}(i, d)
	}
	wg.Wait()

	if err := errors.Join(errs[0], errs[1]); err != nil {
		o.closeChannels(channels)
		o.log.Warn().Err(err).Msg("agent load failed")
		return fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}

	o.mu.Lock()
	if o.closed || o.gen != gen {
		o.mu.Unlock()
		o.closeChannels(channels)
		return ErrSuperseded
	}
	w, b := *white, *black
	o.channels = channels
	o.state = o.freshStateLocked(&w, &b)
	o.publishLocked()
	o.mu.Unlock()

	o.log.Info().
		Str("white", white.Username).
		Str("black", black.Username).
		Msg("agents loaded")
	return nil
}

func (o *Orchestrator) open(ctx context.Context, side core.Color, d *core.AgentDescriptor, timeout time.Duration) (agent.Channel, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch, err := o.dial(ctx, side)
	if err != nil {
		return nil, fmt.Errorf("dial %s agent: %w", side.Name(), err)
	}
	if err := ch.Load(ctx, d.Locator); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("load %s agent %s: %w", side.Name(), d.Username, err)
	}
	return ch, nil
}

// Play starts continuous play; no-op when running, finished or mid-step
func (o *Orchestrator) Play() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed || o.stepping {
		return
	}
	if o.state.Status == core.StatusRunning || o.state.Status == core.StatusFinished {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.stopRun = cancel
	o.state.Status = core.StatusRunning
	o.publishLocked()

	go o.run(ctx, o.gen)
}

// Pause stops the loop after the current ply. A request already sent is still
// awaited and its reply applied.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Status != core.StatusRunning {
		return
	}
	o.cancelRunLocked()
	o.state.Status = core.StatusPaused
	o.publishLocked()
}

// Step plays exactly one ply and returns once it is applied. ctx bounds only the
// wait for a ply still in flight from before a pause.
func (o *Orchestrator) Step(ctx context.Context) error {
	o.mu.Lock()
	if o.closed || o.stepping {
		o.mu.Unlock()
		return nil
	}
	if o.state.Status == core.StatusRunning || o.state.Status == core.StatusFinished {
		o.mu.Unlock()
		return nil
	}
	o.stepping = true
	gen := o.gen
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		if o.gen == gen {
			o.stepping = false
		}
		o.mu.Unlock()
	}()

	_, err := o.ply(ctx, gen, true)
	return err
}

// Reset restores the start position with the same agents attached
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	o.gen++
	o.cancelRunLocked()
	o.stepping = false
	o.state = o.freshStateLocked(o.state.WhiteAgent, o.state.BlackAgent)
	o.publishLocked()
}

// SetMoveDelay changes the pacing between plies of continuous play
func (o *Orchestrator) SetMoveDelay(d time.Duration) {
	if d < 0 {
		d = 0
	}
	o.mu.Lock()
	o.cfg.MoveDelay = d
	o.mu.Unlock()
}

// SetTimeLimit changes the per-move limit sent with the next request
func (o *Orchestrator) SetTimeLimit(d time.Duration) {
	if d <= 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg.TimeLimit = d
	o.state.MoveTimeLimitMs = d.Milliseconds()
	o.publishLocked()
}

// Settings returns the current timing configuration
func (o *Orchestrator) Settings() Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// Cleanup releases both agent channels and stops the loop. Idempotent; agents
// can be loaded again afterwards.
func (o *Orchestrator) Cleanup() {
	o.mu.Lock()
	o.gen++
	old := o.detachLocked()
	if o.state.Status == core.StatusRunning {
		o.state.Status = core.StatusPaused
		o.publishLocked()
	}
	o.mu.Unlock()

	o.closeChannels(old)
}

// Close cleans up and stops snapshot delivery after flushing queued snapshots
func (o *Orchestrator) Close() {
	o.Cleanup()
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.pub.close()
}

func (o *Orchestrator) run(ctx context.Context, gen uint64) {
	for {
		more, _ := o.ply(ctx, gen, false)
		if !more {
			return
		}

		o.mu.Lock()
		delay := o.cfg.MoveDelay
		o.mu.Unlock()

		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// ply executes one half-move. It reports whether continuous play should go on.
func (o *Orchestrator) ply(ctx context.Context, gen uint64, stepped bool) (bool, error) {
	o.mu.Lock()
	for o.plyDone != nil {
		done := o.plyDone
		o.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return false, ctx.Err()
		}
		o.mu.Lock()
	}

	if o.gen != gen || o.state.Status == core.StatusFinished {
		o.mu.Unlock()
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		o.mu.Unlock()
		return false, err
	}

	if r := o.classifyLocked(); r != core.ResultNone {
		o.finishLocked(r)
		o.publishLocked()
		o.mu.Unlock()
		return false, nil
	}

	side := o.state.SideToMove
	ch := o.channels[slot(side)]
	if ch == nil {
		o.log.Warn().Str("side", side.Name()).Msg("no agent attached")
		o.finishLocked(core.ForfeitInvalid(side))
		o.publishLocked()
		o.mu.Unlock()
		return false, nil
	}

	position := o.state.Position
	limit := o.cfg.TimeLimit
	timeout := o.cfg.replyTimeout()
	done := make(chan struct{})
	o.plyDone = done
	o.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(context.Background(), timeout)
	start := time.Now()
	reply, err := ch.RequestMove(reqCtx, position, limit)
	elapsed := time.Since(start)
	cancel()

	o.mu.Lock()
	defer o.mu.Unlock()
	o.plyDone = nil
	close(done)

	if o.gen != gen {
		o.log.Debug().
			Uint64("generation", gen).
			Str("move", reply).
			Msg("discarding reply for superseded match")
		return false, nil
	}

	return o.applyLocked(side, position, reply, err, elapsed, stepped), nil
}

func (o *Orchestrator) applyLocked(side core.Color, position, reply string, err error, elapsed time.Duration, stepped bool) bool {
	if err != nil {
		result := core.ForfeitInvalid(side)
		if errors.Is(err, agent.ErrTimeout) {
			result = core.ForfeitTimeout(side)
		}
		o.log.Warn().Err(err).Str("side", side.Name()).Msg("agent move failed")
		o.finishLocked(result)
		o.publishLocked()
		return false
	}

	mv, err := agent.ParseMove(reply)
	if err != nil {
		o.log.Warn().Err(err).Str("side", side.Name()).Msg("malformed agent move")
		o.finishLocked(core.ForfeitInvalid(side))
		o.publishLocked()
		return false
	}

	fen, san, err := o.rules.ApplyMove(position, mv.From, mv.To, mv.Promotion)
	if err != nil {
		o.log.Warn().Err(err).Str("side", side.Name()).Str("move", mv.String()).Msg("rejected agent move")
		o.finishLocked(core.ForfeitInvalid(side))
		o.publishLocked()
		return false
	}

	next, err := o.rules.SideToMove(fen)
	if err != nil {
		next = core.OppositeColor(side)
	}

	o.state.MoveHistory = append(o.state.MoveHistory, core.MoveRecord{
		MoveNumber:        (len(o.state.MoveHistory)+1)/2 + 1,
		Algebraic:         san,
		Compact:           mv.String(),
		ResultingPosition: fen,
		Side:              side,
		ElapsedMs:         elapsed.Milliseconds(),
	})
	o.state.Position = fen
	o.state.SideToMove = next
	o.state.LastMoveElapsedMs = elapsed.Milliseconds()

	o.log.Debug().
		Str("side", side.Name()).
		Str("move", san).
		Int64("elapsed_ms", elapsed.Milliseconds()).
		Msg("move applied")

	if r := o.classifyLocked(); r != core.ResultNone {
		o.finishLocked(r)
		o.publishLocked()
		return false
	}

	if stepped {
		o.state.Status = core.StatusPaused
	}
	o.publishLocked()
	return o.state.Status == core.StatusRunning
}

// classifyLocked checks terminal conditions in fixed priority order
func (o *Orchestrator) classifyLocked() core.Result {
	fen := o.state.Position
	history := make([]string, 0, len(o.state.MoveHistory)+1)
	history = append(history, o.start)
	for _, m := range o.state.MoveHistory {
		history = append(history, m.ResultingPosition)
	}

	switch {
	case o.rules.IsCheckmate(fen, history):
		return core.CheckmateBy(core.OppositeColor(o.state.SideToMove))
	case o.rules.IsStalemate(fen, history):
		return core.ResultStalemate
	case o.rules.IsThreefoldRepetition(fen, history):
		return core.ResultDrawRepetition
	case o.rules.IsInsufficientMaterial(fen, history):
		return core.ResultDrawInsufficient
	case o.rules.IsDrawByMoveCount(fen, history):
		return core.ResultDrawMoveCount
	}
	return core.ResultNone
}

func (o *Orchestrator) finishLocked(r core.Result) {
	o.cancelRunLocked()
	o.state.Status = core.StatusFinished
	o.state.Result = r
	o.log.Info().
		Str("result", r.String()).
		Int("moves", len(o.state.MoveHistory)).
		Msg("match finished")
}

func (o *Orchestrator) cancelRunLocked() {
	if o.stopRun != nil {
		o.stopRun()
		o.stopRun = nil
	}
}

// detachLocked stops the loop and hands back the channels for closing outside the lock
func (o *Orchestrator) detachLocked() [2]agent.Channel {
	o.cancelRunLocked()
	o.stepping = false
	old := o.channels
	o.channels = [2]agent.Channel{}
	return old
}

func (o *Orchestrator) closeChannels(channels [2]agent.Channel) {
	for i, ch := range channels {
		if ch == nil {
			continue
		}
		if err := ch.Close(); err != nil {
			o.log.Warn().Err(err).Str("side", sideOf(i).Name()).Msg("closing agent channel")
		}
	}
}

func (o *Orchestrator) freshStateLocked(white, black *core.AgentDescriptor) core.MatchState {
	s := core.NewMatchState(white, black, o.cfg.TimeLimit.Milliseconds())
	s.Position = o.start
	if side, err := o.rules.SideToMove(o.start); err == nil {
		s.SideToMove = side
	}
	s.Generation = o.gen
	return s
}

func (o *Orchestrator) publishLocked() {
	o.state.Generation = o.gen
	o.pub.publish(o.state.Clone())
}

func slot(side core.Color) int {
	if side == core.ColorBlack {
		return 1
	}
	return 0
}

func sideOf(i int) core.Color {
	if i == 1 {
		return core.ColorBlack
	}
	return core.ColorWhite
}
