package agent

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"arena/internal/server/core"

	"github.com/rs/zerolog"
)

// exitGrace is how long a host process gets to exit after its stdin closes
const exitGrace = 1 * time.Second

// ProcessChannel hosts the agent in a child process speaking the protocol on stdin/stdout
type ProcessChannel struct {
	*conn
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// StartProcess launches the agent host executable at path
func StartProcess(path string, args []string, log zerolog.Logger) (*ProcessChannel, error) {
	cmd := exec.Command(path, args...)
	cmd.Stderr = log.With().Str("stream", "stderr").Logger()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	if err = cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start agent host: %w", err)
	}

	p := &ProcessChannel{
		cmd:   cmd,
		stdin: stdin,
	}
	p.conn = newConn(stdout, stdin, log, p.shutdown)

	log.Debug().Int("pid", cmd.Process.Pid).Str("path", path).Msg("agent host started")
	return p, nil
}

// shutdown closes stdin so the host exits on EOF, killing it if it lingers.
// The read loop must see the end of stdout before Wait closes the pipe.
func (p *ProcessChannel) shutdown() error {
	p.stdin.Close()

	var killErr error
	select {
	case <-p.drained:
	case <-time.After(exitGrace):
		killErr = p.cmd.Process.Kill()
		select {
		case <-p.drained:
		case <-time.After(exitGrace):
			p.log.Warn().Msg("agent host output still open after kill")
		}
	}

	if err := p.cmd.Wait(); err != nil && killErr == nil {
		p.log.Debug().Err(err).Msg("agent host exited")
	}
	return killErr
}

// ProcessDialer starts one agent host process per side
func ProcessDialer(path string, args []string, log zerolog.Logger) Dialer {
	return func(ctx context.Context, side core.Color) (Channel, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return StartProcess(path, args, log.With().Str("side", side.Name()).Logger())
	}
}
