package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MessageType is the "type" discriminator of every protocol message
type MessageType string

const (
	// Orchestrator -> agent
	TypeLoad MessageType = "load"
	TypeMove MessageType = "move"

	// Agent -> orchestrator
	TypeReady  MessageType = "ready"
	TypeResult MessageType = "result"
	TypeError  MessageType = "error"
)

// Message is the union of all protocol messages, one JSON object per line on the wire.
// ID is an envelope field: requests carry it and hosts may echo it on the reply;
// replies without one are matched to requests in order.
type Message struct {
	Type            MessageType `json:"type"`
	ID              uint64      `json:"id,omitempty"`
	ResourceLocator string      `json:"resourceLocator,omitempty"`
	Position        string      `json:"position,omitempty"`
	TimeLimitMs     int64       `json:"timeLimitMs,omitempty"`
	Move            string      `json:"move,omitempty"`
	Message         string      `json:"message,omitempty"`
}

func LoadMessage(locator string) Message {
	return Message{Type: TypeLoad, ResourceLocator: locator}
}

func MoveMessage(position string, timeLimitMs int64) Message {
	return Message{Type: TypeMove, Position: position, TimeLimitMs: timeLimitMs}
}

func ReadyMessage() Message {
	return Message{Type: TypeReady}
}

func ResultMessage(move string) Message {
	return Message{Type: TypeResult, Move: move}
}

func ErrorMessage(format string, args ...any) Message {
	return Message{Type: TypeError, Message: fmt.Sprintf(format, args...)}
}

// IsReply reports whether the message travels agent -> orchestrator
func (m Message) IsReply() bool {
	switch m.Type {
	case TypeReady, TypeResult, TypeError:
		return true
	}
	return false
}

func encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func decode(line []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return Message{}, fmt.Errorf("malformed message: %w", err)
	}
	switch m.Type {
	case TypeLoad, TypeMove, TypeReady, TypeResult, TypeError:
		return m, nil
	default:
		return Message{}, fmt.Errorf("unknown message type %q", m.Type)
	}
}

// Move is a compact-notation move split into its components
type Move struct {
	From      string
	To        string
	Promotion string
}

func (m Move) String() string {
	return m.From + m.To + m.Promotion
}

// ParseMove decodes compact notation: [a-h][1-8][a-h][1-8][qrbn]?
func ParseMove(s string) (Move, error) {
	move := strings.ToLower(strings.TrimSpace(s))

	if len(move) < 4 || len(move) > 5 {
		return Move{}, fmt.Errorf("invalid move %q: expected 4 or 5 characters", s)
	}

	if move[0] < 'a' || move[0] > 'h' ||
		move[1] < '1' || move[1] > '8' ||
		move[2] < 'a' || move[2] > 'h' ||
		move[3] < '1' || move[3] > '8' {
		return Move{}, fmt.Errorf("invalid move %q: bad square", s)
	}

	m := Move{From: move[0:2], To: move[2:4]}
	if len(move) == 5 {
		switch move[4] {
		case 'q', 'r', 'b', 'n':
			m.Promotion = move[4:]
		default:
			return Move{}, fmt.Errorf("invalid move %q: bad promotion piece", s)
		}
	}

	return m, nil
}
