package core

// StartingFEN is the fixed position every match begins from
const StartingFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// AgentDescriptor identifies an agent and where its move generator lives
type AgentDescriptor struct {
	Username string `json:"username" validate:"required,max=64"`
	Avatar   string `json:"avatar,omitempty" validate:"omitempty,max=512"`
	ForkURL  string `json:"forkUrl,omitempty" validate:"omitempty,max=512"`
	Locator  string `json:"locator" validate:"required,max=1024"`
}

// MoveRecord is one applied ply, immutable once appended
type MoveRecord struct {
	MoveNumber        int    `json:"moveNumber"`
	Algebraic         string `json:"san"`
	Compact           string `json:"uci"`
	ResultingPosition string `json:"fen"`
	Side              Color  `json:"color"`
	ElapsedMs         int64  `json:"timeMs"`
}

// MatchState is the orchestrator's authoritative match state.
// Values handed out by the orchestrator are deep copies.
type MatchState struct {
	Status            Status           `json:"status"`
	Result            Result           `json:"result"`
	Position          string           `json:"fen"`
	MoveHistory       []MoveRecord     `json:"moves"`
	SideToMove        Color            `json:"currentTurn"`
	WhiteAgent        *AgentDescriptor `json:"whiteBot"`
	BlackAgent        *AgentDescriptor `json:"blackBot"`
	LastMoveElapsedMs int64            `json:"lastMoveTimeMs"`
	MoveTimeLimitMs   int64            `json:"moveTimeLimitMs"`
	Generation        uint64           `json:"generation"`
}

// NewMatchState returns a fresh state at the start position with the given agents attached
func NewMatchState(white, black *AgentDescriptor, timeLimitMs int64) MatchState {
	return MatchState{
		Status:          StatusIdle,
		Result:          ResultNone,
		Position:        StartingFEN,
		MoveHistory:     []MoveRecord{},
		SideToMove:      ColorWhite,
		WhiteAgent:      white,
		BlackAgent:      black,
		MoveTimeLimitMs: timeLimitMs,
	}
}

// Clone returns a copy sharing no memory with s
func (s MatchState) Clone() MatchState {
	c := s
	c.MoveHistory = make([]MoveRecord, len(s.MoveHistory))
	copy(c.MoveHistory, s.MoveHistory)
	if s.WhiteAgent != nil {
		w := *s.WhiteAgent
		c.WhiteAgent = &w
	}
	if s.BlackAgent != nil {
		b := *s.BlackAgent
		c.BlackAgent = &b
	}
	return c
}

// Positions returns the position history from the start position through the current one
func (s MatchState) Positions() []string {
	positions := make([]string, 0, len(s.MoveHistory)+1)
	positions = append(positions, StartingFEN)
	for _, m := range s.MoveHistory {
		positions = append(positions, m.ResultingPosition)
	}
	return positions
}

// Agent returns the descriptor for a side
func (s MatchState) Agent(side Color) *AgentDescriptor {
	if side == ColorWhite {
		return s.WhiteAgent
	}
	return s.BlackAgent
}
