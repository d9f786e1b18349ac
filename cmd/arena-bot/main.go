// Package main is the agent host: it speaks the line-delimited JSON agent
// protocol on stdin/stdout and serves the built-in and UCI bots.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"arena/internal/bot"
	"arena/internal/server/agent"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

func main() {
	var (
		logLevel = flag.String("log-level", "warn", "Log level written to stderr")
		list     = flag.Bool("list", false, "List built-in agents and exit")
	)
	flag.Parse()

	if *list {
		fmt.Println(strings.Join(bot.Builtins(), "\n"))
		return
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil || *logLevel == "" {
		lvl = zerolog.WarnLevel
	}
	// stdout carries the protocol
	var log zerolog.Logger
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	} else {
		log = zerolog.New(os.Stderr)
	}
	log = log.Level(lvl).With().Timestamp().Int("pid", os.Getpid()).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := agent.Serve(ctx, os.Stdin, os.Stdout, bot.Load, log); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("agent host stopped")
		os.Exit(1)
	}
}
