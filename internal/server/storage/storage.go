// Package storage archives finished matches to SQLite. Writes are queued and
// applied by a single writer; a failed write marks the store degraded and
// later writes are dropped.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const (
	queueDepth   = 256
	drainBudget  = 2 * time.Second
	busyTimeout  = 5000
	maxOpenConns = 4
)

// job is one queued write, applied inside its own transaction
type job struct {
	name  string
	apply func(*sql.Tx) error
}

// Store archives games through a single background writer. Reads go straight
// to the pool.
type Store struct {
	db   *sql.DB
	path string
	log  zerolog.Logger

	jobs     chan job
	stop     chan struct{}
	finished chan struct{}
	degraded atomic.Bool

	shutdown sync.Once
	closeErr error
}

// dsn carries connection pragmas as go-sqlite3 parameters so every pooled
// connection gets them, not only the first
func dsn(path string, wal bool) string {
	q := url.Values{}
	q.Set("_foreign_keys", "on")
	q.Set("_busy_timeout", strconv.Itoa(busyTimeout))
	if wal {
		q.Set("_journal_mode", "WAL")
	}
	return "file:" + path + "?" + q.Encode()
}

// NewStore opens the database at path and starts the writer
func NewStore(path string, walMode bool, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(path, walMode))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", path, err)
	}
	db.SetMaxOpenConns(maxOpenConns)

	s := &Store{
		db:       db,
		path:     path,
		log:      log,
		jobs:     make(chan job, queueDepth),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go s.run()

	log.Debug().Str("path", path).Bool("wal", walMode).Msg("storage opened")
	return s, nil
}

// IsHealthy reports false once any queued write has failed
func (s *Store) IsHealthy() bool {
	return !s.degraded.Load()
}

// enqueue schedules a write without blocking the caller; a full queue or a
// degraded store drops it
func (s *Store) enqueue(name string, apply func(*sql.Tx) error) {
	if s.degraded.Load() {
		s.log.Debug().Str("write", name).Msg("storage degraded, write skipped")
		return
	}
	select {
	case <-s.stop:
		s.log.Warn().Str("write", name).Msg("storage closed, write dropped")
		return
	default:
	}
	select {
	case s.jobs <- job{name: name, apply: apply}:
	default:
		s.log.Warn().Str("write", name).Int("depth", queueDepth).Msg("storage queue full, write dropped")
	}
}

func (s *Store) run() {
	defer close(s.finished)

	for {
		select {
		case j := <-s.jobs:
			s.perform(j)
		case <-s.stop:
			s.drain()
			return
		}
	}
}

// drain applies what is still queued at shutdown, within drainBudget
func (s *Store) drain() {
	deadline := time.Now().Add(drainBudget)
	for time.Now().Before(deadline) {
		select {
		case j := <-s.jobs:
			s.perform(j)
		default:
			return
		}
	}
	if n := len(s.jobs); n > 0 {
		s.log.Warn().Int("dropped", n).Msg("storage drain budget exhausted")
	}
}

func (s *Store) perform(j job) {
	if s.degraded.Load() {
		return
	}
	start := time.Now()
	if err := s.inTx(j.apply); err != nil {
		s.degraded.Store(true)
		s.log.Error().Err(err).Str("write", j.name).Msg("storage degraded")
		return
	}
	s.log.Debug().Str("write", j.name).Dur("took", time.Since(start)).Msg("storage write applied")
}

func (s *Store) inTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close stops the writer after draining the queue and closes the database.
// Later calls return the first result.
func (s *Store) Close() error {
	s.shutdown.Do(func() {
		close(s.stop)
		select {
		case <-s.finished:
		case <-time.After(drainBudget + time.Second):
			s.log.Warn().Msg("storage writer did not stop in time")
		}
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

// InitDB creates the schema if it is missing
func (s *Store) InitDB() error {
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(Schema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		return nil
	})
}

// DeleteDB closes the store and removes its file along with any WAL sidecars
func (s *Store) DeleteDB() error {
	if err := s.Close(); err != nil {
		return fmt.Errorf("close before delete: %w", err)
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(s.path + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", s.path+suffix, err)
		}
	}
	return nil
}
