// Package sqlite provides a SQLite backed event store for the replay engine.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	_ "modernc.org/sqlite"

	"github.com/codewandler/clstr-timemachine/core/replay"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	stream_id TEXT NOT NULL,
	pos INTEGER NOT NULL,
	lamport INTEGER NOT NULL,
	ts_micros INTEGER NOT NULL,
	id TEXT NOT NULL,
	tags TEXT NOT NULL,
	payload BLOB,
	PRIMARY KEY (stream_id, pos)
);

CREATE INDEX IF NOT EXISTS idx_events_order ON events(lamport, stream_id, pos);

CREATE TRIGGER IF NOT EXISTS trg_events_no_update
BEFORE UPDATE ON events
BEGIN
	SELECT RAISE(ABORT, 'events are append-only: UPDATE forbidden');
END;

CREATE TRIGGER IF NOT EXISTS trg_events_no_delete
BEFORE DELETE ON events
BEGIN
	SELECT RAISE(ABORT, 'events are append-only: DELETE forbidden');
END;
`

type (
	valueOption[T any] struct{ v T }

	storeOpts struct {
		log          *slog.Logger
		pollInterval time.Duration
	}

	Option interface{ applyToStore(*storeOpts) }

	LogOption          valueOption[*slog.Logger]
	PollIntervalOption valueOption[time.Duration]
)

func WithLog(l *slog.Logger) LogOption                    { return LogOption{v: l} }
func WithPollInterval(d time.Duration) PollIntervalOption { return PollIntervalOption{v: d} }
func (o LogOption) applyToStore(s *storeOpts)             { s.log = o.v }
func (o PollIntervalOption) applyToStore(s *storeOpts)    { s.pollInterval = o.v }

// Store persists events in a single SQLite table keyed by (stream, position).
type Store struct {
	db           *sql.DB
	log          *slog.Logger
	pollInterval time.Duration

	mu sync.Mutex // serializes appends
}

// Open opens (or creates) the database at path. ":memory:" is accepted for
// throwaway stores.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	options := storeOpts{log: slog.Default(), pollInterval: time.Second}
	for _, opt := range opts {
		opt.applyToStore(&options)
	}
	if options.log == nil {
		options.log = slog.Default()
	}
	if options.pollInterval <= 0 {
		options.pollInterval = time.Second
	}

	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// every connection would see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{
		db:           db,
		log:          options.log.With(slog.String("store", "sqlite"), slog.String("path", path)),
		pollInterval: options.pollInterval,
	}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append assigns offsets and Lamport timestamps and inserts events in one
// transaction.
func (s *Store) Append(ctx context.Context, events ...replay.Event) ([]replay.Event, error) {
	if len(events) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var clock int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(lamport), 0) FROM events`).Scan(&clock); err != nil {
		return nil, fmt.Errorf("read lamport clock: %w", err)
	}
	lamport := uint64(clock)

	next := map[replay.StreamID]replay.Position{}
	out := make([]replay.Event, 0, len(events))
	for _, e := range events {
		if e.Stream == "" {
			return nil, errors.New("event stream is empty")
		}
		tags, err := encodeTags(e.Tags)
		if err != nil {
			return nil, err
		}

		offset, ok := next[e.Stream]
		if !ok {
			var last int64
			err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(pos), -1) FROM events WHERE stream_id = ?`, string(e.Stream)).Scan(&last)
			if err != nil {
				return nil, fmt.Errorf("read stream %q position: %w", e.Stream, err)
			}
			offset = replay.Position(last + 1)
		}

		e, lamport = replay.Stamp(e, offset, lamport)
		_, err = tx.ExecContext(ctx, `
INSERT INTO events(stream_id, pos, lamport, ts_micros, id, tags, payload)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			string(e.Stream), int64(e.Offset), int64(e.Lamport), e.Timestamp.UnixMicro(), e.ID, tags, []byte(e.Payload))
		if err != nil {
			return nil, fmt.Errorf("insert %s: %w", e, err)
		}
		next[e.Stream] = offset + 1
		out = append(out, e)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	s.log.Debug("append", slog.Int("num_events", len(out)), slog.Uint64("lamport", lamport))
	return out, nil
}

func (s *Store) CurrentBounds(ctx context.Context) (replay.PositionMap, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stream_id, MAX(pos) FROM events GROUP BY stream_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := replay.PositionMap{}
	for rows.Next() {
		var (
			id  string
			pos int64
		)
		if err := rows.Scan(&id, &pos); err != nil {
			return nil, err
		}
		out[replay.StreamID(id)] = replay.Position(pos)
	}
	return out, rows.Err()
}

func (s *Store) QueryRange(ctx context.Context, q replay.RangeQuery) ([]replay.Event, error) {
	where, args, ok := whereClause(q)
	if !ok {
		return nil, nil
	}
	return s.query(ctx, `SELECT `+columns+` FROM events WHERE `+where+orderBy(q.Order), args...)
}

// QueryRangeChunked pages through the selection with keyset pagination on
// (lamport, stream_id, pos).
func (s *Store) QueryRangeChunked(ctx context.Context, q replay.RangeQuery, chunkSize int, onChunk replay.ChunkFunc) error {
	if chunkSize <= 0 {
		return fmt.Errorf("invalid chunk size %d", chunkSize)
	}
	where, args, ok := whereClause(q)
	if !ok {
		return nil
	}

	cmp := ">"
	if q.Order == replay.Descending {
		cmp = "<"
	}

	var last *replay.Event
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pageWhere, pageArgs := where, args
		if last != nil {
			pageWhere = "(" + where + ") AND (lamport, stream_id, pos) " + cmp + " (?, ?, ?)"
			pageArgs = append(append([]any{}, args...), int64(last.Lamport), string(last.Stream), int64(last.Offset))
		}
		page, err := s.query(ctx,
			`SELECT `+columns+` FROM events WHERE `+pageWhere+orderBy(q.Order)+` LIMIT ?`,
			append(pageArgs, chunkSize)...,
		)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := onChunk(page); err != nil {
			if errors.Is(err, replay.ErrStop) {
				return nil
			}
			return err
		}
		if len(page) < chunkSize {
			return nil
		}
		last = &page[len(page)-1]
	}
}

func (s *Store) ObserveEarliest(ctx context.Context, f replay.Filter, fn func(replay.Event)) (replay.CancelFunc, error) {
	return replay.ObservePolling(ctx, s, f, replay.Earliest, replay.PollOpts{Interval: s.pollInterval, Log: s.log}, fn), nil
}

func (s *Store) ObserveLatest(ctx context.Context, f replay.Filter, fn func(replay.Event)) (replay.CancelFunc, error) {
	return replay.ObservePolling(ctx, s, f, replay.Latest, replay.PollOpts{Interval: s.pollInterval, Log: s.log}, fn), nil
}

const columns = `stream_id, pos, lamport, ts_micros, id, tags, payload`

func (s *Store) query(ctx context.Context, query string, args ...any) ([]replay.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []replay.Event
	for rows.Next() {
		var (
			stream, id, tags string
			pos, lamport, ts int64
			payload          []byte
		)
		if err := rows.Scan(&stream, &pos, &lamport, &ts, &id, &tags, &payload); err != nil {
			return nil, err
		}
		out = append(out, replay.Event{
			ID:        id,
			Stream:    replay.StreamID(stream),
			Offset:    replay.Position(pos),
			Lamport:   uint64(lamport),
			Timestamp: replay.MicrosTime(ts),
			Tags:      strings.Fields(tags),
			Payload:   payload,
		})
	}
	return out, rows.Err()
}

// whereClause selects the bounded positions of every stream of q.Upper and
// the filter's tags. It reports false if nothing can match.
func whereClause(q replay.RangeQuery) (string, []any, bool) {
	var (
		ranges []string
		args   []any
	)
	for _, id := range q.Upper.Streams() {
		from, to := q.From(id), q.Upper[id]
		if to < 0 || to < from {
			continue
		}
		ranges = append(ranges, "(stream_id = ? AND pos >= ? AND pos <= ?)")
		args = append(args, string(id), int64(from), int64(to))
	}
	if len(ranges) == 0 {
		return "", nil, false
	}

	where := "(" + strings.Join(ranges, " OR ") + ")"
	for _, tag := range q.Filter.Tags() {
		where += " AND instr(tags, ?) > 0"
		args = append(args, " "+tag+" ")
	}
	return where, args, true
}

func orderBy(o replay.Order) string {
	if o == replay.Descending {
		return ` ORDER BY lamport DESC, stream_id DESC, pos DESC`
	}
	return ` ORDER BY lamport ASC, stream_id ASC, pos ASC`
}

// encodeTags pads tags with spaces so a filter tag matches with instr.
func encodeTags(tags []string) (string, error) {
	for _, t := range tags {
		if t == "" || strings.ContainsFunc(t, unicode.IsSpace) {
			return "", fmt.Errorf("invalid tag %q", t)
		}
	}
	return " " + strings.Join(tags, " ") + " ", nil
}

var (
	_ replay.Store    = (*Store)(nil)
	_ replay.Appender = (*Store)(nil)
)
