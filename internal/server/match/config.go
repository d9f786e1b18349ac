package match

import "time"

const (
	DefaultTimeLimit   = 10 * time.Second
	DefaultMoveDelay   = 500 * time.Millisecond
	DefaultReplyGrace  = 1 * time.Second
	DefaultLoadTimeout = 30 * time.Second
)

// Config holds the orchestrator's timing parameters
type Config struct {
	// TimeLimit is sent to the agent with every move request
	TimeLimit time.Duration
	// MoveDelay paces continuous play between plies; zero disables pacing
	MoveDelay time.Duration
	// ReplyGrace is added to TimeLimit to bound the wait for a reply
	ReplyGrace time.Duration
	// LoadTimeout bounds each agent's load handshake
	LoadTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		TimeLimit:   DefaultTimeLimit,
		MoveDelay:   DefaultMoveDelay,
		ReplyGrace:  DefaultReplyGrace,
		LoadTimeout: DefaultLoadTimeout,
	}
}

// replyTimeout is the hard bound on waiting for a move reply
func (c Config) replyTimeout() time.Duration {
	return c.TimeLimit + c.ReplyGrace
}
