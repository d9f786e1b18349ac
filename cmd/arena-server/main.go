// Package main runs the arena control server: a REST API hosting bot-vs-bot
// matches, plus the db and token maintenance subcommands.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arena/cmd/arena-server/cli"
	"arena/internal/bot"
	"arena/internal/server/agent"
	"arena/internal/server/catalog"
	"arena/internal/server/http"
	"arena/internal/server/match"
	"arena/internal/server/rules"
	"arena/internal/server/service"
	"arena/internal/server/storage"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

const (
	gracefulShutdownTimeout = time.Second * 5
	devJWTSecret            = "dev-secret-minimum-32-characters-long"
)

func main() {
	// Maintenance subcommands
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "db", "token":
			if err := cli.Run(os.Args[1:]); err != nil {
				fmt.Fprintf(os.Stderr, "CLI error: %v\n", err)
				os.Exit(1)
			}
			os.Exit(0)
		}
	}

	var (
		apiHost     = flag.String("api-host", "localhost", "API server host")
		apiPort     = flag.Int("api-port", 8080, "API server port")
		dev         = flag.Bool("dev", false, "Development mode (relaxed rate limits, fixed JWT secret)")
		storagePath = flag.String("storage-path", "", "Path to SQLite archive of finished games (disabled if empty)")
		pidPath     = flag.String("pid", "", "Optional path to write PID file")
		pidLock     = flag.Bool("pid-lock", false, "Lock PID file to allow only one instance (requires -pid)")
		catalogPath = flag.String("catalog", "", "Path to agent manifest JSON (built-in agents if empty)")
		agentHost   = flag.String("agent-host", "", "Path to the arena-bot executable (agents run in-process if empty)")
		timeLimit   = flag.Duration("time-limit", match.DefaultTimeLimit, "Default per-move time limit")
		moveDelay   = flag.Duration("move-delay", match.DefaultMoveDelay, "Default pause between plies")
		authOn      = flag.Bool("auth", false, "Require an operator token on mutating routes")
		logLevel    = flag.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	)
	flag.Parse()

	log := newLogger(*logLevel)

	if *pidLock && *pidPath == "" {
		log.Fatal().Msg("-pid-lock flag requires the -pid flag to be set")
	}

	if *pidPath != "" {
		cleanup, err := managePIDFile(*pidPath, *pidLock)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to manage PID file")
		}
		defer cleanup()
		log.Info().Str("path", *pidPath).Bool("lock", *pidLock).Msg("PID file created")
	}

	// 1. Agent catalog
	cat := catalog.Default()
	if *catalogPath != "" {
		var err error
		if cat, err = catalog.Load(*catalogPath); err != nil {
			log.Fatal().Err(err).Msg("failed to load agent catalog")
		}
	}
	log.Info().Strs("agents", cat.Usernames()).Msg("agent catalog ready")

	// 2. Archive (optional)
	var store *storage.Store
	if *storagePath != "" {
		var err error
		store, err = storage.NewStore(*storagePath, *dev, log.With().Str("component", "storage").Logger())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize storage")
		}
		if err := store.InitDB(); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize schema")
		}
		log.Info().Str("path", *storagePath).Msg("game archive enabled")
	} else {
		log.Info().Msg("game archive disabled (use -storage-path to enable)")
	}

	// 3. Operator auth (optional)
	opts := []service.Option{
		service.WithLogger(log.With().Str("component", "service").Logger()),
	}
	if store != nil {
		opts = append(opts, service.WithStore(store))
	}
	if *authOn {
		secret, err := jwtSecret(*dev)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to prepare JWT secret")
		}
		opts = append(opts, service.WithJWTSecret(secret))

		if os.Getenv("ARENA_JWT_SECRET") == "" {
			// No way to mint tokens offline for a per-process secret
			token, err := service.GenerateOperatorToken(secret, "operator", service.OperatorTokenTTL)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to issue operator token")
			}
			log.Info().Str("token", token).Msg("operator token issued")
		}
	}

	// 4. Match factory
	cfg := match.DefaultConfig()
	cfg.TimeLimit = *timeLimit
	cfg.MoveDelay = *moveDelay

	newDialer := func(l zerolog.Logger) agent.Dialer {
		return agent.LocalDialer(bot.Load, l)
	}
	if *agentHost != "" {
		newDialer = func(l zerolog.Logger) agent.Dialer {
			return agent.ProcessDialer(*agentHost, nil, l)
		}
	}
	engine := rules.New()
	factory := func(l zerolog.Logger) *match.Orchestrator {
		return match.New(engine, newDialer(l), match.WithLogger(l), match.WithConfig(cfg))
	}

	svc := service.New(factory, cat, opts...)

	// 5. HTTP API
	app := http.NewFiberApp(svc, http.Config{
		DevMode: *dev,
		Log:     log.With().Str("component", "http").Logger(),
	})
	apiAddr := fmt.Sprintf("%s:%d", *apiHost, *apiPort)

	go func() {
		log.Info().
			Str("addr", "http://"+apiAddr).
			Bool("dev", *dev).
			Bool("auth", svc.AuthEnabled()).
			Dur("timeLimit", cfg.TimeLimit).
			Dur("moveDelay", cfg.MoveDelay).
			Str("agentHost", *agentHost).
			Msg("arena API server starting")

		if err := app.Listen(apiAddr); err != nil {
			log.Error().Err(err).Msg("API server listen error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server forced to shutdown")
	}

	// Stops every match and flushes the archive
	if err := svc.Shutdown(gracefulShutdownTimeout); err != nil {
		log.Warn().Err(err).Msg("service shutdown error")
	}

	log.Info().Msg("server exited")
}

// jwtSecret picks the operator token secret: env, fixed in dev mode, random otherwise
func jwtSecret(dev bool) ([]byte, error) {
	if s := os.Getenv("ARENA_JWT_SECRET"); s != "" {
		return []byte(s), nil
	}
	if dev {
		return []byte(devJWTSecret), nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	return []byte(hex.EncodeToString(secret)), nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var l zerolog.Logger
	if term.IsTerminal(int(os.Stderr.Fd())) {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	} else {
		l = zerolog.New(os.Stderr)
	}
	return l.Level(lvl).With().Timestamp().Logger()
}
