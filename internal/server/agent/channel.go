// Package agent implements the Agent Channel: a request/reply protocol between the
// match orchestrator and an isolated move generator, plus the host loop that runs
// on the agent side.
package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"arena/internal/server/core"

	"github.com/rs/zerolog"
)

var (
	ErrTimeout = errors.New("agent reply timeout")
	ErrClosed  = errors.New("agent channel closed")
	ErrBusy    = errors.New("agent request already outstanding")
)

// maxLineSize bounds a single protocol message
const maxLineSize = 1 << 20

// AgentError is an error reported by the agent itself through an "error" message
type AgentError struct {
	Message string
}

func (e *AgentError) Error() string {
	return "agent error: " + e.Message
}

// Channel is the orchestrator's view of one agent
type Channel interface {
	// Load sends the load directive and waits for ready, bounded by ctx
	Load(ctx context.Context, locator string) error
	// RequestMove asks for one move; a ctx deadline is reported as ErrTimeout
	RequestMove(ctx context.Context, position string, timeLimit time.Duration) (string, error)
	// Close releases the agent; safe to call more than once
	Close() error
}

// Dialer creates a fresh channel for one side of a match
type Dialer func(ctx context.Context, side core.Color) (Channel, error)

type pendingRequest struct {
	id    uint64
	reply chan Message
}

// conn carries the one-outstanding-request discipline over a line-oriented duplex stream.
// Transports embed it and supply the teardown.
type conn struct {
	log zerolog.Logger

	wmu sync.Mutex
	w   io.Writer

	mu       sync.Mutex
	nextID   uint64
	pending  *pendingRequest
	// replies the host still owes for requests abandoned after they were sent
	owed     int
	closed   bool
	done     chan struct{}
	doneOnce sync.Once
	// closed once the read loop has consumed the stream to its end
	drained  chan struct{}

	closeOnce sync.Once
	closeErr  error
	teardown  func() error
}

func newConn(r io.Reader, w io.Writer, log zerolog.Logger, teardown func() error) *conn {
	c := &conn{
		log:      log,
		w:        w,
		done:     make(chan struct{}),
		drained:  make(chan struct{}),
		teardown: teardown,
	}
	go c.readLoop(r)
	return c
}

func (c *conn) readLoop(r io.Reader) {
	defer close(c.drained)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := decode(line)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping undecodable agent message")
			continue
		}
		if !msg.IsReply() {
			c.log.Warn().Str("type", string(msg.Type)).Msg("dropping non-reply agent message")
			continue
		}
		c.deliver(msg)
	}

	if err := scanner.Err(); err != nil {
		c.log.Debug().Err(err).Msg("agent stream ended")
	}
	c.markClosed()
}

// deliver hands msg to the pending request it answers, at most once.
// Hosts answer in order, so while replies are owed to abandoned requests an
// id-less reply belongs to the oldest of them, never to the pending one.
func (c *conn) deliver(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pending
	switch {
	case p != nil && msg.ID == p.id:
	case msg.ID == 0 && c.owed == 0 && p != nil:
	default:
		if c.owed > 0 && (msg.ID == 0 || msg.ID <= c.nextID) {
			c.owed--
		}
		c.log.Debug().
			Uint64("id", msg.ID).
			Str("type", string(msg.Type)).
			Int("owed", c.owed).
			Msg("discarding stale agent reply")
		return
	}

	c.pending = nil
	p.reply <- msg
}

func (c *conn) roundTrip(ctx context.Context, req Message) (Message, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Message{}, ErrClosed
	}
	if c.pending != nil {
		c.mu.Unlock()
		return Message{}, ErrBusy
	}
	c.nextID++
	req.ID = c.nextID
	p := &pendingRequest{id: req.ID, reply: make(chan Message, 1)}
	c.pending = p
	c.mu.Unlock()

	if err := c.write(req); err != nil {
		c.abandon(p, false)
		return Message{}, fmt.Errorf("send %s: %w", req.Type, errors.Join(ErrClosed, err))
	}

	select {
	case msg := <-p.reply:
		return msg, nil
	case <-c.done:
		c.abandon(p, false)
		return Message{}, ErrClosed
	case <-ctx.Done():
		c.abandon(p, true)
		// A reply may have raced the deadline
		select {
		case msg := <-p.reply:
			return msg, nil
		default:
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Message{}, ErrTimeout
		}
		return Message{}, ctx.Err()
	}
}

// abandon gives up on p. When sent is set and no reply was delivered yet,
// the host still owes one and it is counted for discarding.
func (c *conn) abandon(p *pendingRequest, sent bool) {
	c.mu.Lock()
	if c.pending == p {
		c.pending = nil
		if sent {
			c.owed++
		}
	}
	c.mu.Unlock()
}

func (c *conn) write(m Message) error {
	data, err := encode(m)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.w.Write(data)
	return err
}

func (c *conn) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.pending = nil
	c.mu.Unlock()
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *conn) Load(ctx context.Context, locator string) error {
	msg, err := c.roundTrip(ctx, LoadMessage(locator))
	if err != nil {
		return err
	}
	switch msg.Type {
	case TypeReady:
		return nil
	case TypeError:
		return &AgentError{Message: msg.Message}
	default:
		return fmt.Errorf("unexpected %q reply to load", msg.Type)
	}
}

func (c *conn) RequestMove(ctx context.Context, position string, timeLimit time.Duration) (string, error) {
	msg, err := c.roundTrip(ctx, MoveMessage(position, timeLimit.Milliseconds()))
	if err != nil {
		return "", err
	}
	switch msg.Type {
	case TypeResult:
		if msg.Move == "" {
			return "", &AgentError{Message: "empty move"}
		}
		return msg.Move, nil
	case TypeError:
		return "", &AgentError{Message: msg.Message}
	default:
		return "", fmt.Errorf("unexpected %q reply to move", msg.Type)
	}
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.markClosed()
		if c.teardown != nil {
			c.closeErr = c.teardown()
		}
	})
	return c.closeErr
}
