package match

import (
	"context"
	"errors"
	"math/rand"
	"os/exec"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"arena/internal/server/agent"
	"arena/internal/server/core"
	"arena/internal/server/rules"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	whiteAgent = &core.AgentDescriptor{Username: "alpha", Locator: "white"}
	blackAgent = &core.AgentDescriptor{Username: "beta", Locator: "black"}
)

func testConfig() Config {
	return Config{
		TimeLimit:   time.Second,
		MoveDelay:   0,
		ReplyGrace:  100 * time.Millisecond,
		LoadTimeout: time.Second,
	}
}

// script replays its moves in order, cycling when exhausted
type script struct {
	mu     sync.Mutex
	moves  []string
	calls  int
	closed atomic.Int32
}

func newScript(moves ...string) *script {
	return &script{moves: moves}
}

func (s *script) Move(ctx context.Context, position string, limit time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.moves[s.calls%len(s.moves)]
	s.calls++
	return m, nil
}

func (s *script) Close() error {
	s.closed.Add(1)
	return nil
}

func loaderFor(movers map[string]agent.Mover) agent.Loader {
	return func(ctx context.Context, locator string) (agent.Mover, error) {
		m, ok := movers[locator]
		if !ok {
			return nil, errors.New("unknown agent " + locator)
		}
		return m, nil
	}
}

func newOrchestrator(t *testing.T, r Rules, cfg Config, movers map[string]agent.Mover) *Orchestrator {
	t.Helper()
	if r == nil {
		r = rules.New()
	}
	o := New(r, agent.LocalDialer(loaderFor(movers), zerolog.Nop()), WithConfig(cfg))
	t.Cleanup(o.Close)
	return o
}

func loaded(t *testing.T, r Rules, cfg Config, white, black agent.Mover) *Orchestrator {
	t.Helper()
	o := newOrchestrator(t, r, cfg, map[string]agent.Mover{"white": white, "black": black})
	require.NoError(t, o.LoadAgents(context.Background(), whiteAgent, blackAgent))
	return o
}

func step(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Step(ctx))
}

func waitStatus(t *testing.T, o *Orchestrator, status core.Status) core.MatchState {
	t.Helper()
	require.Eventually(t, func() bool {
		return o.State().Status == status
	}, 5*time.Second, 5*time.Millisecond)
	return o.State()
}

func idleBetweenPlies(o *Orchestrator) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.plyDone == nil
}

// assertReplayable checks that every record follows from the previous position
func assertReplayable(t *testing.T, s core.MatchState) {
	t.Helper()
	e := rules.New()
	fen := e.StartPosition()
	for i, m := range s.MoveHistory {
		mv, err := agent.ParseMove(m.Compact)
		require.NoError(t, err)
		next, san, err := e.ApplyMove(fen, mv.From, mv.To, mv.Promotion)
		require.NoError(t, err, "ply %d", i)
		assert.Equal(t, m.ResultingPosition, next, "ply %d", i)
		assert.Equal(t, m.Algebraic, san, "ply %d", i)
		assert.Equal(t, (i+1)/2+1, m.MoveNumber, "ply %d", i)
		fen = next
	}
	assert.Equal(t, fen, s.Position)

	side, err := e.SideToMove(fen)
	require.NoError(t, err)
	assert.Equal(t, side, s.SideToMove)
}

func TestLoadAgents(t *testing.T) {
	o := loaded(t, nil, testConfig(), newScript("e2e4"), newScript("e7e5"))

	s := o.State()
	assert.Equal(t, core.StatusIdle, s.Status)
	assert.Equal(t, core.ResultNone, s.Result)
	assert.Equal(t, core.StartingFEN, s.Position)
	assert.Empty(t, s.MoveHistory)
	assert.Equal(t, core.ColorWhite, s.SideToMove)
	require.NotNil(t, s.WhiteAgent)
	require.NotNil(t, s.BlackAgent)
	assert.Equal(t, "alpha", s.WhiteAgent.Username)
	assert.Equal(t, "beta", s.BlackAgent.Username)
	assert.Equal(t, int64(1000), s.MoveTimeLimitMs)
}

func TestTwoSteps(t *testing.T) {
	o := loaded(t, nil, testConfig(), newScript("e2e4"), newScript("e7e5"))

	step(t, o)
	s := o.State()
	assert.Equal(t, core.StatusPaused, s.Status)
	assert.Equal(t, core.ColorBlack, s.SideToMove)

	step(t, o)
	s = o.State()
	assert.Equal(t, core.StatusPaused, s.Status)
	assert.Equal(t, core.ResultNone, s.Result)
	assert.Equal(t, core.ColorWhite, s.SideToMove)

	require.Len(t, s.MoveHistory, 2)
	assert.Equal(t, 1, s.MoveHistory[0].MoveNumber)
	assert.Equal(t, 2, s.MoveHistory[1].MoveNumber)
	assert.Equal(t, "e4", s.MoveHistory[0].Algebraic)
	assert.Equal(t, "e5", s.MoveHistory[1].Algebraic)
	assert.Equal(t, "e2e4", s.MoveHistory[0].Compact)
	assert.Equal(t, core.ColorWhite, s.MoveHistory[0].Side)
	assert.Equal(t, core.ColorBlack, s.MoveHistory[1].Side)
	assertReplayable(t, s)
}

func TestStateIsDeepCopy(t *testing.T) {
	o := loaded(t, nil, testConfig(), newScript("e2e4"), newScript("e7e5"))
	step(t, o)

	s := o.State()
	s.MoveHistory[0].Compact = "a2a3"
	s.WhiteAgent.Username = "mallory"

	fresh := o.State()
	assert.Equal(t, "e2e4", fresh.MoveHistory[0].Compact)
	assert.Equal(t, "alpha", fresh.WhiteAgent.Username)
}

func TestTimeoutForfeit(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	slow := agent.MoverFunc(func(ctx context.Context, position string, limit time.Duration) (string, error) {
		<-release
		return "e2e4", nil
	})

	cfg := testConfig()
	cfg.TimeLimit = 50 * time.Millisecond
	cfg.ReplyGrace = 50 * time.Millisecond
	o := loaded(t, nil, cfg, slow, newScript("e7e5"))

	start := time.Now()
	step(t, o)
	assert.Less(t, time.Since(start), 2*time.Second)

	s := o.State()
	assert.Equal(t, core.StatusFinished, s.Status)
	assert.Equal(t, core.ResultWhiteForfeitTimeout, s.Result)
	assert.Empty(t, s.MoveHistory)
	assert.Equal(t, core.StartingFEN, s.Position)
}

func TestInvalidMoveForfeit(t *testing.T) {
	tests := []struct {
		name  string
		black agent.Mover
	}{
		{"illegal move", newScript("e7e4")},
		{"malformed move", newScript("zz")},
		{"agent error", agent.MoverFunc(func(ctx context.Context, position string, limit time.Duration) (string, error) {
			return "", errors.New("segfault")
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := loaded(t, nil, testConfig(), newScript("e2e4"), tt.black)
			step(t, o)
			step(t, o)

			s := o.State()
			assert.Equal(t, core.StatusFinished, s.Status)
			assert.Equal(t, core.ResultBlackForfeitInvalid, s.Result)
			require.Len(t, s.MoveHistory, 1)
			assert.Equal(t, core.ColorBlack, s.SideToMove)
		})
	}
}

func TestCheckmate(t *testing.T) {
	o := loaded(t, nil, testConfig(), newScript("f2f3", "g2g4"), newScript("e7e5", "d8h4"))

	o.Play()
	s := waitStatus(t, o, core.StatusFinished)

	assert.Equal(t, core.ResultBlackWinsCheckmate, s.Result)
	assert.Len(t, s.MoveHistory, 4)
	assert.Equal(t, "Qh4#", s.MoveHistory[3].Algebraic)
	assertReplayable(t, s)

	// Finished is terminal for play and step
	o.Play()
	step(t, o)
	assert.Equal(t, s.MoveHistory, o.State().MoveHistory)
	assert.Equal(t, core.StatusFinished, o.State().Status)
}

type fixedStart struct {
	*rules.Engine
	fen string
}

func (f fixedStart) StartPosition() string {
	return f.fen
}

func TestCheckmateTakesPrecedenceOverMoveCount(t *testing.T) {
	r := fixedStart{Engine: rules.New(), fen: "6k1/5ppp/8/8/8/8/8/R5K1 w - - 99 80"}
	o := loaded(t, r, testConfig(), newScript("a1a8"), newScript("g8h8"))

	step(t, o)
	s := o.State()
	require.Len(t, s.MoveHistory, 1)

	fen := s.Position
	assert.True(t, r.IsDrawByMoveCount(fen, nil), "position also satisfies the move-count rule")
	assert.Equal(t, core.StatusFinished, s.Status)
	assert.Equal(t, core.ResultWhiteWinsCheckmate, s.Result)
}

func TestRepetitionDraw(t *testing.T) {
	o := loaded(t, nil, testConfig(), newScript("g1f3", "f3g1"), newScript("g8f6", "f6g8"))

	o.Play()
	s := waitStatus(t, o, core.StatusFinished)
	assert.Equal(t, core.ResultDrawRepetition, s.Result)
	assert.Len(t, s.MoveHistory, 8)
}

func TestPauseAndResume(t *testing.T) {
	cfg := testConfig()
	cfg.MoveDelay = 20 * time.Millisecond
	o := loaded(t, nil, cfg, newScript("g1f3", "f3g1"), newScript("g8f6", "f6g8"))

	o.Play()
	require.Eventually(t, func() bool {
		return len(o.State().MoveHistory) >= 2
	}, 5*time.Second, 2*time.Millisecond)

	o.Pause()
	require.Eventually(t, func() bool { return idleBetweenPlies(o) }, 5*time.Second, 2*time.Millisecond)

	paused := o.State()
	assert.Equal(t, core.StatusPaused, paused.Status)
	assertReplayable(t, paused)

	// Nothing moves while paused
	time.Sleep(3 * cfg.MoveDelay)
	assert.Equal(t, paused.MoveHistory, o.State().MoveHistory)

	o.Play()
	s := waitStatus(t, o, core.StatusFinished)
	assert.Equal(t, core.ResultDrawRepetition, s.Result)
	require.Len(t, s.MoveHistory, 8)
	assert.Equal(t, paused.MoveHistory, s.MoveHistory[:len(paused.MoveHistory)])
	assertReplayable(t, s)
}

func TestPauseDoesNotCancelRequest(t *testing.T) {
	release := make(chan struct{})
	white := agent.MoverFunc(func(ctx context.Context, position string, limit time.Duration) (string, error) {
		<-release
		return "e2e4", nil
	})
	o := loaded(t, nil, testConfig(), white, newScript("e7e5"))

	o.Play()
	require.Eventually(t, func() bool { return !idleBetweenPlies(o) }, 5*time.Second, 2*time.Millisecond)
	o.Pause()
	close(release)

	require.Eventually(t, func() bool { return len(o.State().MoveHistory) == 1 }, 5*time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool { return idleBetweenPlies(o) }, 5*time.Second, 2*time.Millisecond)

	s := o.State()
	assert.Equal(t, core.StatusPaused, s.Status)
	assert.Equal(t, core.ColorBlack, s.SideToMove)
}

func TestResetDiscardsStaleReply(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	white := agent.MoverFunc(func(ctx context.Context, position string, limit time.Duration) (string, error) {
		if calls.Add(1) == 1 {
			<-release
			return "e2e4", nil
		}
		return "d2d4", nil
	})
	o := loaded(t, nil, testConfig(), white, newScript("d7d5"))

	stepped := make(chan error, 1)
	go func() {
		stepped <- o.Step(context.Background())
	}()
	require.Eventually(t, func() bool { return !idleBetweenPlies(o) }, 5*time.Second, 2*time.Millisecond)

	o.Reset()
	reset := o.State()
	assert.Equal(t, core.StatusIdle, reset.Status)
	assert.Empty(t, reset.MoveHistory)

	close(release)
	select {
	case err := <-stepped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("step did not return")
	}

	s := o.State()
	assert.Equal(t, core.StatusIdle, s.Status)
	assert.Empty(t, s.MoveHistory)
	assert.Equal(t, core.StartingFEN, s.Position)
	assert.Equal(t, core.ResultNone, s.Result)
	assert.Equal(t, reset.Generation, s.Generation)

	// The same agents keep playing after the reset
	step(t, o)
	s = o.State()
	require.Len(t, s.MoveHistory, 1)
	assert.Equal(t, "d2d4", s.MoveHistory[0].Compact)
}

// shellDialer starts one sh host per side. The hosts reply without ids, the
// way a minimal external agent does.
func shellDialer(t *testing.T, scripts map[core.Color]string) agent.Dialer {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no shell available")
	}
	return func(ctx context.Context, side core.Color) (agent.Channel, error) {
		return agent.StartProcess(sh, []string{"-c", scripts[side]}, zerolog.Nop())
	}
}

func TestResetIgnoresLateIdlessReply(t *testing.T) {
	// The first move answer arrives after the deadline and is illegal from
	// the start position; the second is the fresh answer.
	white := `n=0
while read -r line; do
  case "$line" in
    *'"load"'*) echo '{"type":"ready"}' ;;
    *) n=$((n+1))
       if [ "$n" -eq 1 ]; then sleep 1; echo '{"type":"result","move":"f1c4"}'
       else echo '{"type":"result","move":"d2d4"}'; fi ;;
  esac
done`
	black := `while read -r line; do
  case "$line" in
    *'"load"'*) echo '{"type":"ready"}' ;;
    *) echo '{"type":"result","move":"d7d5"}' ;;
  esac
done`

	cfg := testConfig()
	cfg.TimeLimit = 100 * time.Millisecond
	cfg.ReplyGrace = 100 * time.Millisecond
	o := New(rules.New(), shellDialer(t, map[core.Color]string{
		core.ColorWhite: white,
		core.ColorBlack: black,
	}), WithConfig(cfg))
	t.Cleanup(o.Close)
	require.NoError(t, o.LoadAgents(context.Background(), whiteAgent, blackAgent))

	step(t, o)
	require.Equal(t, core.ResultWhiteForfeitTimeout, o.State().Result)

	o.Reset()
	o.SetTimeLimit(3 * time.Second)
	step(t, o)

	s := o.State()
	assert.Equal(t, core.ResultNone, s.Result)
	require.Len(t, s.MoveHistory, 1)
	assert.Equal(t, "d2d4", s.MoveHistory[0].Compact)
	assertReplayable(t, s)
}

func TestResetClearsHistory(t *testing.T) {
	o := loaded(t, nil, testConfig(), newScript("e2e4"), newScript("e7e5"))
	step(t, o)
	step(t, o)
	require.Len(t, o.State().MoveHistory, 2)

	o.Reset()
	s := o.State()
	assert.Empty(t, s.MoveHistory)
	assert.Equal(t, core.StatusIdle, s.Status)
	assert.Equal(t, "alpha", s.WhiteAgent.Username)

	require.NoError(t, o.LoadAgents(context.Background(), whiteAgent, blackAgent))
	assert.Empty(t, o.State().MoveHistory)
}

func TestLoadFailure(t *testing.T) {
	o := newOrchestrator(t, nil, testConfig(), map[string]agent.Mover{"white": newScript("e2e4")})

	err := o.LoadAgents(context.Background(), whiteAgent, blackAgent)
	require.ErrorIs(t, err, ErrLoadFailed)
	assert.Contains(t, err.Error(), "unknown agent black")

	s := o.State()
	assert.Nil(t, s.WhiteAgent)
	assert.Nil(t, s.BlackAgent)
	assert.Equal(t, core.StatusIdle, s.Status)
}

func TestLoadTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	load := func(ctx context.Context, locator string) (agent.Mover, error) {
		<-release
		return newScript("e2e4"), nil
	}

	cfg := testConfig()
	cfg.LoadTimeout = 50 * time.Millisecond
	o := New(rules.New(), agent.LocalDialer(load, zerolog.Nop()), WithConfig(cfg))
	t.Cleanup(o.Close)

	err := o.LoadAgents(context.Background(), whiteAgent, blackAgent)
	require.ErrorIs(t, err, ErrLoadFailed)
	assert.ErrorIs(t, err, agent.ErrTimeout)
}

func TestLoadRequiresBothAgents(t *testing.T) {
	o := newOrchestrator(t, nil, testConfig(), nil)
	err := o.LoadAgents(context.Background(), whiteAgent, nil)
	assert.ErrorIs(t, err, ErrLoadFailed)
	assert.ErrorIs(t, err, ErrNoAgentSpec)
}

func TestPlayWithoutAgentsForfeits(t *testing.T) {
	o := newOrchestrator(t, nil, testConfig(), nil)

	o.Play()
	s := waitStatus(t, o, core.StatusFinished)
	assert.Equal(t, core.ResultWhiteForfeitInvalid, s.Result)
	assert.Empty(t, s.MoveHistory)
}

func TestCleanup(t *testing.T) {
	white, black := newScript("e2e4"), newScript("e7e5")
	o := loaded(t, nil, testConfig(), white, black)

	o.Cleanup()
	o.Cleanup()

	require.Eventually(t, func() bool {
		return white.closed.Load() == 1 && black.closed.Load() == 1
	}, 5*time.Second, 2*time.Millisecond)

	// Channels are gone; the side to move forfeits
	step(t, o)
	assert.Equal(t, core.ResultWhiteForfeitInvalid, o.State().Result)

	// Loading again works after cleanup
	require.NoError(t, o.LoadAgents(context.Background(), whiteAgent, blackAgent))
	assert.Equal(t, core.StatusIdle, o.State().Status)
}

func TestSettings(t *testing.T) {
	o := newOrchestrator(t, nil, testConfig(), nil)

	o.SetTimeLimit(2500 * time.Millisecond)
	o.SetMoveDelay(-time.Second)
	o.SetTimeLimit(0)

	cfg := o.Settings()
	assert.Equal(t, 2500*time.Millisecond, cfg.TimeLimit)
	assert.Equal(t, time.Duration(0), cfg.MoveDelay)
	assert.Equal(t, int64(2500), o.State().MoveTimeLimitMs)
}

func TestObserverReceivesOrderedSnapshots(t *testing.T) {
	o := newOrchestrator(t, nil, testConfig(), map[string]agent.Mover{
		"white": newScript("e2e4"),
		"black": newScript("e7e5"),
	})

	var mu sync.Mutex
	var got []core.MatchState
	o.SetObserver(ObserverFunc(func(s core.MatchState) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	}))

	require.NoError(t, o.LoadAgents(context.Background(), whiteAgent, blackAgent))
	step(t, o)
	step(t, o)
	o.Close()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)

	last := got[len(got)-1]
	assert.Len(t, last.MoveHistory, 2)
	assert.Equal(t, core.StatusPaused, last.Status)

	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i].Generation, got[i-1].Generation)
		if got[i].Generation == got[i-1].Generation {
			assert.GreaterOrEqual(t, len(got[i].MoveHistory), len(got[i-1].MoveHistory))
		}
	}
}

// randomMover plays uniformly random legal moves
func randomMover(seed int64) agent.Mover {
	e := rules.New()
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(seed))
	return agent.MoverFunc(func(ctx context.Context, position string, limit time.Duration) (string, error) {
		moves, err := e.LegalMoves(position)
		if err != nil || len(moves) == 0 {
			return "", errors.New("no legal moves")
		}
		mu.Lock()
		defer mu.Unlock()
		return moves[rng.Intn(len(moves))], nil
	})
}

func TestRandomTransitionsKeepInvariants(t *testing.T) {
	cfg := testConfig()
	cfg.MoveDelay = time.Millisecond
	o := newOrchestrator(t, nil, cfg, map[string]agent.Mover{
		"white": randomMover(1),
		"black": randomMover(2),
	})

	check := func(s core.MatchState) {
		assert.Equal(t, s.Result != core.ResultNone, s.Status == core.StatusFinished,
			"status %s with result %s", s.Status, s.Result)
		want := core.ColorWhite
		if len(s.MoveHistory)%2 == 1 {
			want = core.ColorBlack
		}
		assert.Equal(t, want, s.SideToMove)
		if n := len(s.MoveHistory); n > 0 {
			assert.Equal(t, s.MoveHistory[n-1].ResultingPosition, s.Position)
		} else {
			assert.Equal(t, core.StartingFEN, s.Position)
		}
	}
	o.SetObserver(ObserverFunc(check))

	require.NoError(t, o.LoadAgents(context.Background(), whiteAgent, blackAgent))

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		switch rng.Intn(6) {
		case 0, 1:
			o.Play()
		case 2:
			o.Pause()
		case 3:
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			_ = o.Step(ctx)
			cancel()
		case 4:
			if rng.Intn(4) == 0 {
				o.Reset()
				assert.Empty(t, o.State().MoveHistory)
			}
		case 5:
			o.SetMoveDelay(time.Duration(rng.Intn(3)) * time.Millisecond)
		}
		check(o.State())
		time.Sleep(time.Duration(rng.Intn(3)) * time.Millisecond)
	}

	o.Pause()
	require.Eventually(t, func() bool { return idleBetweenPlies(o) }, 5*time.Second, 2*time.Millisecond)
	s := o.State()
	check(s)
	assertReplayable(t, s)
}
