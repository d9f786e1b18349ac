package core

// Error codes
const (
	ErrMatchNotFound     = "MATCH_NOT_FOUND"
	ErrAgentNotFound     = "AGENT_NOT_FOUND"
	ErrLoadFailed        = "LOAD_FAILED"
	ErrMatchFinished     = "MATCH_FINISHED"
	ErrRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrInvalidContent    = "INVALID_CONTENT_TYPE"
	ErrInvalidRequest    = "INVALID_REQUEST"
	ErrInternalError     = "INTERNAL_ERROR"
	ErrResourceLimit     = "RESOURCE_LIMIT"
	ErrUnauthorized      = "UNAUTHORIZED"
)
