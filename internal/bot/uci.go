package bot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	handshakeTimeout = 5 * time.Second
	stopGrace        = 500 * time.Millisecond
	quitGrace        = 1 * time.Second
)

var ErrEngineClosed = errors.New("engine closed unexpectedly")

// UCI drives an external engine over the Universal Chess Interface
type UCI struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string
	mu    sync.Mutex
}

// StartUCI launches the engine at path and completes the uci/isready handshake
func StartUCI(ctx context.Context, path string) (*UCI, error) {
	cmd := exec.Command(path)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}

	u := &UCI{
		cmd:   cmd,
		stdin: stdin,
		lines: make(chan string, 64),
	}
	go u.readLoop(stdout)

	if err := u.initialize(ctx); err != nil {
		u.Close()
		return nil, err
	}
	return u, nil
}

func (u *UCI) readLoop(r io.Reader) {
	defer close(u.lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		u.lines <- scanner.Text()
	}
}

func (u *UCI) initialize(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	if err := u.send("uci"); err != nil {
		return err
	}
	if _, err := u.await(ctx, "uciok"); err != nil {
		return fmt.Errorf("waiting for uciok: %w", err)
	}
	if err := u.send("ucinewgame"); err != nil {
		return err
	}
	if err := u.send("isready"); err != nil {
		return err
	}
	if _, err := u.await(ctx, "readyok"); err != nil {
		return fmt.Errorf("waiting for readyok: %w", err)
	}
	return nil
}

func (u *UCI) send(cmd string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, err := fmt.Fprintln(u.stdin, cmd)
	return err
}

// await returns the first line starting with prefix
func (u *UCI) await(ctx context.Context, prefix string) (string, error) {
	for {
		select {
		case line, ok := <-u.lines:
			if !ok {
				return "", ErrEngineClosed
			}
			if strings.HasPrefix(line, prefix) {
				return line, nil
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Move searches for movetime and returns the engine's bestmove. If ctx ends
// first the search is stopped and whatever the engine settles on is returned.
func (u *UCI) Move(ctx context.Context, position string, timeLimit time.Duration) (string, error) {
	moveTime := timeLimit * 3 / 4
	if moveTime <= 0 {
		moveTime = fallbackBudget
	}

	if err := u.send("position fen " + position); err != nil {
		return "", err
	}
	if err := u.send(fmt.Sprintf("go movetime %d", moveTime.Milliseconds())); err != nil {
		return "", err
	}

	line, err := u.await(ctx, "bestmove ")
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if err := u.send("stop"); err != nil {
			return "", err
		}
		stopCtx, cancel := context.WithTimeout(context.Background(), stopGrace)
		defer cancel()
		line, err = u.await(stopCtx, "bestmove ")
	}
	if err != nil {
		return "", fmt.Errorf("waiting for bestmove: %w", err)
	}

	fields := strings.Fields(line)
	if len(fields) < 2 || fields[1] == "(none)" || fields[1] == "0000" {
		return "", ErrNoLegalMoves
	}
	return fields[1], nil
}

// Close asks the engine to quit and kills it if it does not exit in time
func (u *UCI) Close() error {
	_ = u.send("quit")
	_ = u.stdin.Close()

	done := make(chan error, 1)
	go func() {
		done <- u.cmd.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-time.After(quitGrace):
		if err := u.cmd.Process.Kill(); err != nil {
			return err
		}
		<-done
		return nil
	}
}
