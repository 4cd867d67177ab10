// Package sqlstream stores the event log and the group cursors in SQL
// tables. It registers two backends: "sqlite" (modernc.org/sqlite) and
// "postgres" (lib/pq).
package sqlstream

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	_ "github.com/lib/pq"   // PostgreSQL driver
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/drblury/eventscore/codec"
	"github.com/drblury/eventscore/event"
	"github.com/drblury/eventscore/stream"
)

const (
	// SQLiteBackend is the registry name of the SQLite backend.
	SQLiteBackend = "sqlite"
	// PostgresBackend is the registry name of the PostgreSQL backend.
	PostgresBackend = "postgres"

	// DefaultPollInterval bounds how long a blocking pop waits before
	// re-reading the tables for writes made by other processes.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultSQLiteFile is used when no file is configured.
	DefaultSQLiteFile = "eventscore.db"
)

// ErrPostgresURLRequired is returned when no PostgreSQL URL is configured.
var ErrPostgresURLRequired = errors.New("eventscore: postgres url is required")

func init() {
	stream.RegisterWithCapabilities(SQLiteBackend, BuildSQLite, stream.SQLiteCapabilities)
	stream.RegisterWithCapabilities(PostgresBackend, BuildPostgres, stream.PostgresCapabilities)
}

// BuildSQLite opens (or creates) the configured SQLite file.
func BuildSQLite(ctx context.Context, cfg stream.Config, deps stream.Dependencies) (stream.Stream, error) {
	file := cfg.GetSQLiteFile()
	if file == "" {
		file = DefaultSQLiteFile
	}
	return Open(ctx, Config{
		Dialect:    SQLite,
		DSN:        file + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
		Serializer: deps.Serializer,
		Logger:     deps.Logger,
	})
}

// BuildPostgres connects to the configured PostgreSQL database.
func BuildPostgres(ctx context.Context, cfg stream.Config, deps stream.Dependencies) (stream.Stream, error) {
	url := cfg.GetPostgresURL()
	if url == "" {
		return nil, ErrPostgresURLRequired
	}
	return Open(ctx, Config{
		Dialect:    Postgres,
		DSN:        url,
		Serializer: deps.Serializer,
		Logger:     deps.Logger,
	})
}

// Config holds the settings of a SQL stream.
type Config struct {
	Dialect Dialect
	DSN     string
	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
	Serializer   codec.Serializer
	Logger       watermill.LoggerAdapter
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Serializer == nil {
		c.Serializer = codec.Default
	}
	if c.Logger == nil {
		c.Logger = watermill.NopLogger{}
	}
	return c
}

// Stream is safe for concurrent use.
type Stream struct {
	db     *sql.DB
	config Config
	locks  *stream.KeyedMutex

	mu     sync.Mutex
	notify chan struct{}
	closed bool
}

// Open connects, pings and applies the schema.
func Open(ctx context.Context, cfg Config) (*Stream, error) {
	cfg = cfg.withDefaults()
	db, err := sql.Open(cfg.Dialect.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Dialect.Name, err)
	}
	if cfg.Dialect.Name == SQLite.Name {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database: %w", cfg.Dialect.Name, err)
	}
	for _, stmt := range cfg.Dialect.Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
	}
	cfg.Logger.Info("SQL stream ready", watermill.LogFields{"dialect": cfg.Dialect.Name})
	return &Stream{
		db:     db,
		config: cfg,
		locks:  stream.NewKeyedMutex(),
		notify: make(chan struct{}),
	}, nil
}

// Put inserts evt into eventscore_events. The insert either commits or
// fails, so blocking and non-blocking puts behave alike apart from the
// timeout applied.
func (s *Stream) Put(ctx context.Context, evt event.Event, opts ...stream.Option) error {
	if s.isClosed() {
		return stream.ErrStreamClosed
	}
	o := stream.NewOptions(opts...)
	payload, err := s.config.Serializer.Encode(evt)
	if err != nil {
		return err
	}

	putCtx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()
	_, err = s.db.ExecContext(putCtx,
		s.config.Dialect.Rebind(`INSERT INTO eventscore_events (event_type, event_id, payload) VALUES (?, ?, ?)`),
		string(evt.Type), evt.ID.String(), payload)
	if err != nil {
		return fmt.Errorf("%w: %w", stream.ErrEventNotSent, err)
	}

	s.mu.Lock()
	if !s.closed {
		close(s.notify)
		s.notify = make(chan struct{})
	}
	s.mu.Unlock()
	return nil
}

// Pop reads the first event past the group's cursor and moves the cursor in
// the same transaction.
func (s *Stream) Pop(ctx context.Context, eventType event.Type, group event.Group, opts ...stream.Option) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	o := stream.NewOptions(opts...)
	key := stream.Key(eventType, group)

	waitCtx, cancel := context.WithTimeout(ctx, o.Wait())
	defer cancel()
	unlock, err := s.locks.Lock(waitCtx, key)
	if err != nil {
		return event.Event{}, emptyOr(ctx)
	}
	defer unlock()

	for {
		wake, closed := s.waiter()
		if closed {
			return event.Event{}, stream.ErrStreamClosed
		}
		payload, found, err := s.popOnce(ctx, eventType, group)
		if err != nil {
			return event.Event{}, err
		}
		if found {
			return s.config.Serializer.Decode(payload)
		}

		poll := time.NewTimer(s.config.PollInterval)
		select {
		case <-wake:
		case <-poll.C:
		case <-waitCtx.Done():
			poll.Stop()
			return event.Event{}, emptyOr(ctx)
		}
		poll.Stop()
	}
}

func (s *Stream) popOnce(ctx context.Context, eventType event.Type, group event.Group) ([]byte, bool, error) {
	d := s.config.Dialect
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin pop: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var position int64
	err = tx.QueryRowContext(ctx,
		d.Rebind(`SELECT position FROM eventscore_cursors WHERE event_type = ? AND grp = ?`+d.LockCursor),
		string(eventType), string(group)).Scan(&position)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("read cursor: %w", err)
	}

	var (
		seq     int64
		payload []byte
	)
	err = tx.QueryRowContext(ctx,
		d.Rebind(`SELECT seq, payload FROM eventscore_events WHERE event_type = ? AND seq > ? ORDER BY seq LIMIT 1`),
		string(eventType), position).Scan(&seq, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read event: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		d.Rebind(`INSERT INTO eventscore_cursors (event_type, grp, position) VALUES (?, ?, ?)
			ON CONFLICT (event_type, grp) DO UPDATE SET position = excluded.position`),
		string(eventType), string(group), seq)
	if err != nil {
		return nil, false, fmt.Errorf("advance cursor: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit pop: %w", err)
	}
	return payload, true, nil
}

// Cursor reports the sequence number of the last event delivered to group.
func (s *Stream) Cursor(ctx context.Context, eventType event.Type, group event.Group) (int64, error) {
	var position int64
	err := s.db.QueryRowContext(ctx,
		s.config.Dialect.Rebind(`SELECT position FROM eventscore_cursors WHERE event_type = ? AND grp = ?`),
		string(eventType), string(group)).Scan(&position)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return position, err
}

func (s *Stream) waiter() (<-chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notify, s.closed
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close wakes waiting pops and closes the database.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.notify)
	s.mu.Unlock()
	return s.db.Close()
}

// Capabilities describes the dialect in use.
func (s *Stream) Capabilities() stream.Capabilities {
	if s.config.Dialect.Name == Postgres.Name {
		return stream.PostgresCapabilities
	}
	return stream.SQLiteCapabilities
}

func emptyOr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return stream.ErrEmptyStream
}

var _ stream.CapabilitiesProvider = (*Stream)(nil)
