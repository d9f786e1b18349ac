package core

// Request types

type CreateMatchRequest struct {
	White string `json:"white" validate:"required,max=64"`
	Black string `json:"black" validate:"required,max=64"`
}

type LoadAgentsRequest struct {
	White string `json:"white" validate:"required,max=64"`
	Black string `json:"black" validate:"required,max=64"`
}

type SettingsRequest struct {
	MoveDelayMs *int `json:"moveDelayMs,omitempty" validate:"omitempty,min=0,max=60000"`
	TimeLimitMs *int `json:"timeLimitMs,omitempty" validate:"omitempty,min=100,max=300000"`
}

// Response types

type MatchResponse struct {
	MatchID     string `json:"matchId"`
	Version     int    `json:"version"`
	MoveDelayMs int64  `json:"moveDelayMs"`
	MatchState
}

type MatchSummary struct {
	MatchID string `json:"matchId"`
	Status  Status `json:"status"`
	Result  Result `json:"result"`
	White   string `json:"white,omitempty"`
	Black   string `json:"black,omitempty"`
	Moves   int    `json:"moves"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// AgentInfo is the public face of a catalog entry
type AgentInfo struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	ForkURL  string `json:"forkUrl,omitempty"`
}
