package agent

import (
	"context"
	"io"

	"arena/internal/server/core"

	"github.com/rs/zerolog"
)

// LocalChannel hosts the agent on a goroutine in this process, speaking the same
// line protocol over in-memory pipes
type LocalChannel struct {
	*conn
	cancel   context.CancelFunc
	toHost   *io.PipeWriter
	fromHost *io.PipeReader
}

func NewLocal(load Loader, log zerolog.Logger) *LocalChannel {
	hostIn, toHost := io.Pipe()
	fromHost, hostOut := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	l := &LocalChannel{
		cancel:   cancel,
		toHost:   toHost,
		fromHost: fromHost,
	}

	go func() {
		err := Serve(ctx, hostIn, hostOut, load, log)
		if err != nil && ctx.Err() == nil {
			log.Debug().Err(err).Msg("local agent host stopped")
		}
		hostOut.Close()
		hostIn.Close()
	}()

	l.conn = newConn(fromHost, toHost, log, l.shutdown)
	return l
}

func (l *LocalChannel) shutdown() error {
	l.cancel()
	l.toHost.Close()
	l.fromHost.Close()
	return nil
}

// LocalDialer hosts both sides in-process with the given loader
func LocalDialer(load Loader, log zerolog.Logger) Dialer {
	return func(ctx context.Context, side core.Color) (Channel, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return NewLocal(load, log.With().Str("side", side.Name()).Logger()), nil
	}
}
