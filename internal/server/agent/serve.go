package agent

import (
	"bufio"
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Mover generates one move for a position within the time limit
type Mover interface {
	Move(ctx context.Context, position string, timeLimit time.Duration) (string, error)
}

// MoverFunc adapts a function to Mover
type MoverFunc func(ctx context.Context, position string, timeLimit time.Duration) (string, error)

func (f MoverFunc) Move(ctx context.Context, position string, timeLimit time.Duration) (string, error) {
	return f(ctx, position, timeLimit)
}

// Loader resolves a resource locator into a ready Mover
type Loader func(ctx context.Context, locator string) (Mover, error)

// typeInvalid marks a request line the host could not decode
const typeInvalid MessageType = "invalid"

// Serve runs the agent side of the protocol: it reads requests from r, one per line,
// handles them in order and writes replies to w. It returns when r is exhausted or
// ctx is cancelled. A loaded Mover that implements io.Closer is closed on exit.
func Serve(ctx context.Context, r io.Reader, w io.Writer, load Loader, log zerolog.Logger) error {
	requests := make(chan Message, 16)
	readErr := make(chan error, 1)

	go func() {
		defer close(requests)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			msg, err := decode(line)
			if err != nil {
				msg = Message{Type: typeInvalid, Message: err.Error()}
			}
			select {
			case requests <- msg:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	h := &host{load: load, log: log}
	defer h.release()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-requests:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			reply := h.handle(ctx, req)
			reply.ID = req.ID
			data, err := encode(reply)
			if err != nil {
				return err
			}
			if _, err := w.Write(data); err != nil {
				return err
			}
		}
	}
}

type host struct {
	load  Loader
	log   zerolog.Logger
	mover Mover
}

func (h *host) handle(ctx context.Context, req Message) Message {
	switch req.Type {
	case TypeLoad:
		h.release()
		mover, err := h.load(ctx, req.ResourceLocator)
		if err != nil {
			h.log.Warn().Err(err).Str("locator", req.ResourceLocator).Msg("agent load failed")
			return ErrorMessage("load %s: %v", req.ResourceLocator, err)
		}
		h.mover = mover
		h.log.Debug().Str("locator", req.ResourceLocator).Msg("agent loaded")
		return ReadyMessage()

	case TypeMove:
		if h.mover == nil {
			return ErrorMessage("no agent loaded")
		}
		limit := time.Duration(req.TimeLimitMs) * time.Millisecond
		moveCtx := ctx
		if limit > 0 {
			var cancel context.CancelFunc
			moveCtx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}
		move, err := h.mover.Move(moveCtx, req.Position, limit)
		if err != nil {
			return ErrorMessage("%v", err)
		}
		if move == "" {
			return ErrorMessage("agent returned no move")
		}
		return ResultMessage(move)

	case typeInvalid:
		return ErrorMessage("%s", req.Message)

	default:
		return ErrorMessage("unexpected request type %q", req.Type)
	}
}

func (h *host) release() {
	if c, ok := h.mover.(io.Closer); ok {
		if err := c.Close(); err != nil {
			h.log.Warn().Err(err).Msg("closing agent")
		}
	}
	h.mover = nil
}
