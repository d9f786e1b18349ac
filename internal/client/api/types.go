package api

import (
	"fmt"

	"arena/internal/server/core"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Time    int64  `json:"time"`
	Storage string `json:"storage,omitempty"`
	Matches int    `json:"matches"`
	Auth    bool   `json:"auth"`
}

// Error is a non-2xx reply from the server
type Error struct {
	Status int
	core.ErrorResponse
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("request failed with status %d (%s)", e.Status, e.Code)
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}
