package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"arena/internal/bot"
	"arena/internal/server/agent"
	"arena/internal/server/catalog"
	"arena/internal/server/core"
	"arena/internal/server/match"
	"arena/internal/server/rules"
	"arena/internal/server/service"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newApp(t *testing.T, opts ...service.Option) (*fiber.App, *service.Service) {
	t.Helper()
	cat, err := catalog.New([]core.AgentDescriptor{
		{Username: "random", Locator: "builtin:random", ForkURL: "https://example.com/random"},
		{Username: "greedy", Locator: "builtin:greedy"},
		{Username: "ghost", Locator: "builtin:ghost"},
	})
	require.NoError(t, err)

	cfg := match.DefaultConfig()
	cfg.MoveDelay = 0
	cfg.TimeLimit = time.Second
	factory := func(log zerolog.Logger) *match.Orchestrator {
		return match.New(rules.New(), agent.LocalDialer(bot.Load, log), match.WithLogger(log), match.WithConfig(cfg))
	}
	svc := service.New(factory, cat, opts...)
	t.Cleanup(func() { svc.Shutdown(time.Second) })

	return NewFiberApp(svc, Config{DevMode: true, Log: zerolog.Nop()}), svc
}

func do(t *testing.T, app *fiber.App, method, path string, body any, header map[string]string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, 10_000)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func decodeInto[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(b, &v), string(b))
	return v
}

func createMatch(t *testing.T, app *fiber.App) core.MatchResponse {
	t.Helper()
	code, body := do(t, app, "POST", "/api/v1/matches", core.CreateMatchRequest{White: "random", Black: "greedy"}, nil)
	require.Equal(t, fiber.StatusCreated, code, string(body))
	return decodeInto[core.MatchResponse](t, body)
}

func TestHealth(t *testing.T) {
	app, _ := newApp(t)
	code, body := do(t, app, "GET", "/health", nil, nil)
	require.Equal(t, fiber.StatusOK, code)

	h := decodeInto[map[string]any](t, body)
	assert.Equal(t, "healthy", h["status"])
	assert.Equal(t, "disabled", h["storage"])
	assert.EqualValues(t, 0, h["matches"])
}

func TestListAgentsHidesLocators(t *testing.T) {
	app, _ := newApp(t)
	code, body := do(t, app, "GET", "/api/v1/agents", nil, nil)
	require.Equal(t, fiber.StatusOK, code)

	agents := decodeInto[[]core.AgentInfo](t, body)
	require.Len(t, agents, 3)
	assert.Equal(t, "random", agents[0].Username)
	assert.Equal(t, "https://example.com/random", agents[0].ForkURL)
	assert.NotContains(t, string(body), "builtin:")
}

func TestCreateStepAndGet(t *testing.T) {
	app, _ := newApp(t)
	m := createMatch(t, app)
	assert.Equal(t, core.StatusIdle, m.Status)
	assert.Equal(t, core.StartingFEN, m.Position)

	code, body := do(t, app, "POST", "/api/v1/matches/"+m.MatchID+"/step", nil, nil)
	require.Equal(t, fiber.StatusOK, code, string(body))
	stepped := decodeInto[core.MatchResponse](t, body)
	assert.Len(t, stepped.MoveHistory, 1)
	assert.Equal(t, core.StatusPaused, stepped.Status)
	assert.Equal(t, core.ColorBlack, stepped.SideToMove)

	code, body = do(t, app, "GET", "/api/v1/matches/"+m.MatchID, nil, nil)
	require.Equal(t, fiber.StatusOK, code)
	got := decodeInto[core.MatchResponse](t, body)
	assert.Equal(t, stepped.Position, got.Position)

	code, body = do(t, app, "GET", "/api/v1/matches", nil, nil)
	require.Equal(t, fiber.StatusOK, code)
	list := decodeInto[[]core.MatchSummary](t, body)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].Moves)
}

func TestLongPollReturnsCurrentWhenVersionDiffers(t *testing.T) {
	app, _ := newApp(t)
	m := createMatch(t, app)

	code, body := do(t, app, "GET", "/api/v1/matches/"+m.MatchID+"?wait=true&version=-5", nil, nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, m.Version, decodeInto[core.MatchResponse](t, body).Version)
}

func TestLongPollTimesOut(t *testing.T) {
	app, _ := newApp(t, service.WithWaitTimeout(50*time.Millisecond))
	m := createMatch(t, app)

	start := time.Now()
	code, body := do(t, app, "GET", "/api/v1/matches/"+m.MatchID+"?wait=true&version="+strconv.Itoa(m.Version), nil, nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, m.Version, decodeInto[core.MatchResponse](t, body).Version)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestLongPollWakesOnChange(t *testing.T) {
	app, svc := newApp(t)
	m := createMatch(t, app)

	go func() {
		time.Sleep(50 * time.Millisecond)
		svc.Step(context.Background(), m.MatchID)
	}()

	code, body := do(t, app, "GET", "/api/v1/matches/"+m.MatchID+"?wait=true&version="+strconv.Itoa(m.Version), nil, nil)
	require.Equal(t, fiber.StatusOK, code)
	got := decodeInto[core.MatchResponse](t, body)
	assert.Greater(t, got.Version, m.Version)
}

func TestErrorMapping(t *testing.T) {
	app, _ := newApp(t)
	missing := "00000000-0000-4000-8000-000000000000"

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"bad id", "GET", "/api/v1/matches/not-a-uuid", nil, fiber.StatusBadRequest, core.ErrInvalidRequest},
		{"unknown match", "GET", "/api/v1/matches/" + missing, nil, fiber.StatusNotFound, core.ErrMatchNotFound},
		{"unknown match play", "POST", "/api/v1/matches/" + missing + "/play", nil, fiber.StatusNotFound, core.ErrMatchNotFound},
		{"unknown agent", "POST", "/api/v1/matches", core.CreateMatchRequest{White: "random", Black: "nobody"}, fiber.StatusNotFound, core.ErrAgentNotFound},
		{"load failure", "POST", "/api/v1/matches", core.CreateMatchRequest{White: "random", Black: "ghost"}, fiber.StatusBadGateway, core.ErrLoadFailed},
		{"missing field", "POST", "/api/v1/matches", map[string]string{"white": "random"}, fiber.StatusBadRequest, core.ErrInvalidRequest},
		{"bad settings", "PUT", "/api/v1/matches/" + missing + "/settings", map[string]int{"timeLimitMs": 5}, fiber.StatusBadRequest, core.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, app, tt.method, tt.path, tt.body, nil)
			assert.Equal(t, tt.status, status, string(body))
			assert.Equal(t, tt.code, decodeInto[core.ErrorResponse](t, body).Code)
		})
	}
}

func TestUnsupportedMediaType(t *testing.T) {
	app, _ := newApp(t)
	req := httptest.NewRequest("POST", "/api/v1/matches", bytes.NewReader([]byte("white=random")))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestSettingsAndAgents(t *testing.T) {
	app, _ := newApp(t)
	m := createMatch(t, app)

	code, body := do(t, app, "PUT", "/api/v1/matches/"+m.MatchID+"/settings", map[string]int{"moveDelayMs": 0, "timeLimitMs": 1500}, nil)
	require.Equal(t, fiber.StatusOK, code, string(body))
	updated := decodeInto[core.MatchResponse](t, body)
	assert.Equal(t, int64(1500), updated.MoveTimeLimitMs)
	assert.Equal(t, int64(0), updated.MoveDelayMs)

	code, body = do(t, app, "PUT", "/api/v1/matches/"+m.MatchID+"/agents", core.LoadAgentsRequest{White: "greedy", Black: "random"}, nil)
	require.Equal(t, fiber.StatusOK, code, string(body))
	reloaded := decodeInto[core.MatchResponse](t, body)
	assert.Equal(t, "greedy", reloaded.WhiteAgent.Username)
	assert.Empty(t, reloaded.MoveHistory)
}

func TestResetAndDelete(t *testing.T) {
	app, _ := newApp(t)
	m := createMatch(t, app)

	code, _ := do(t, app, "POST", "/api/v1/matches/"+m.MatchID+"/step", nil, nil)
	require.Equal(t, fiber.StatusOK, code)

	code, body := do(t, app, "POST", "/api/v1/matches/"+m.MatchID+"/reset", nil, nil)
	require.Equal(t, fiber.StatusOK, code)
	reset := decodeInto[core.MatchResponse](t, body)
	assert.Empty(t, reset.MoveHistory)
	assert.Equal(t, core.StatusIdle, reset.Status)

	code, _ = do(t, app, "DELETE", "/api/v1/matches/"+m.MatchID, nil, nil)
	assert.Equal(t, fiber.StatusNoContent, code)

	code, _ = do(t, app, "GET", "/api/v1/matches/"+m.MatchID, nil, nil)
	assert.Equal(t, fiber.StatusNotFound, code)
}

func TestAuthRequiredWhenSecretSet(t *testing.T) {
	app, _ := newApp(t, service.WithJWTSecret(testSecret))
	req := core.CreateMatchRequest{White: "random", Black: "greedy"}

	code, body := do(t, app, "POST", "/api/v1/matches", req, nil)
	require.Equal(t, fiber.StatusUnauthorized, code)
	assert.Equal(t, core.ErrUnauthorized, decodeInto[core.ErrorResponse](t, body).Code)

	code, _ = do(t, app, "POST", "/api/v1/matches", req, map[string]string{"Authorization": "Bearer garbage"})
	require.Equal(t, fiber.StatusUnauthorized, code)

	token, err := service.GenerateOperatorToken(testSecret, "ops", time.Hour)
	require.NoError(t, err)
	code, body = do(t, app, "POST", "/api/v1/matches", req, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, fiber.StatusCreated, code, string(body))

	// reads stay public
	code, _ = do(t, app, "GET", "/api/v1/matches", nil, nil)
	assert.Equal(t, fiber.StatusOK, code)
}
