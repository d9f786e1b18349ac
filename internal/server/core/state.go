package core

import "encoding/json"

// Status is the lifecycle state of a match
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusFinished Status = "finished"
)

func (s Status) String() string {
	return string(s)
}

// Result is the outcome of a finished match, ResultNone while the game is open
type Result string

const (
	ResultNone                Result = ""
	ResultWhiteWinsCheckmate  Result = "white-wins-checkmate"
	ResultBlackWinsCheckmate  Result = "black-wins-checkmate"
	ResultStalemate           Result = "stalemate"
	ResultDrawRepetition      Result = "draw-repetition"
	ResultDrawInsufficient    Result = "draw-insufficient-material"
	ResultDrawMoveCount       Result = "draw-move-count"
	ResultWhiteForfeitInvalid Result = "white-forfeit-invalid-move"
	ResultBlackForfeitInvalid Result = "black-forfeit-invalid-move"
	ResultWhiteForfeitTimeout Result = "white-forfeit-timeout"
	ResultBlackForfeitTimeout Result = "black-forfeit-timeout"
)

func (r Result) String() string {
	if r == ResultNone {
		return "none"
	}
	return string(r)
}

// CheckmateBy returns the checkmate result won by the given side
func CheckmateBy(winner Color) Result {
	if winner == ColorWhite {
		return ResultWhiteWinsCheckmate
	}
	return ResultBlackWinsCheckmate
}

// ForfeitInvalid returns the invalid-move forfeit for the offending side
func ForfeitInvalid(side Color) Result {
	if side == ColorWhite {
		return ResultWhiteForfeitInvalid
	}
	return ResultBlackForfeitInvalid
}

// ForfeitTimeout returns the timeout forfeit for the offending side
func ForfeitTimeout(side Color) Result {
	if side == ColorWhite {
		return ResultWhiteForfeitTimeout
	}
	return ResultBlackForfeitTimeout
}

// Winner reports the winning side of a decisive result, ColorNone for draws and open games
func (r Result) Winner() Color {
	switch r {
	case ResultWhiteWinsCheckmate, ResultBlackForfeitInvalid, ResultBlackForfeitTimeout:
		return ColorWhite
	case ResultBlackWinsCheckmate, ResultWhiteForfeitInvalid, ResultWhiteForfeitTimeout:
		return ColorBlack
	default:
		return ColorNone
	}
}

// IsForfeit reports whether the result was caused by an agent failure
func (r Result) IsForfeit() bool {
	switch r {
	case ResultWhiteForfeitInvalid, ResultBlackForfeitInvalid,
		ResultWhiteForfeitTimeout, ResultBlackForfeitTimeout:
		return true
	}
	return false
}

// MarshalJSON encodes ResultNone as null
func (r Result) MarshalJSON() ([]byte, error) {
	if r == ResultNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(r))
}

func (r *Result) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = ResultNone
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*r = Result(s)
	return nil
}
