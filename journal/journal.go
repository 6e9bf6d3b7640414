// Package journal keeps an append-only SQLite record of auction events and
// settlement receipts.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/m1guelpf/dollar-auction/core"
)

var ErrNoReceipt = errors.New("no receipt recorded")

// Journal appends events on a single writer goroutine so observers never
// wait on disk.
type Journal struct {
	db *sql.DB

	mu     sync.RWMutex // guards closing ch
	ch     chan req
	wg     sync.WaitGroup
	closed bool

	failures atomic.Int64
	lastErr  atomic.Pointer[error]
}

type req struct {
	event core.Event
	flush chan struct{}
}

var _ core.Observer = (*Journal)(nil)

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("empty journal path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	j, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// New wraps an already open database. The schema is created if missing.
func New(db *sql.DB) (*Journal, error) {
	if err := initSchema(db); err != nil {
		return nil, fmt.Errorf("init journal schema: %w", err)
	}

	j := &Journal{
		db: db,
		ch: make(chan req, 4096),
	}
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.loop()
	}()
	return j, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			auction_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			account TEXT NOT NULL,
			amount TEXT NOT NULL,
			deadline TEXT NOT NULL,
			at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_auction ON events(auction_id, seq);`,
		`CREATE TABLE IF NOT EXISTS receipts (
			auction_id TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			cose BLOB NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Observe queues e for writing. Events observed after Close are dropped.
func (j *Journal) Observe(e core.Event) {
	if j == nil {
		return
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	j.ch <- req{event: e}
}

// Append writes e synchronously.
func (j *Journal) Append(ctx context.Context, e core.Event) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (auction_id, kind, account, amount, deadline, at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.AuctionID, string(e.Kind), string(e.Account), e.Amount.String(),
		formatTime(e.Deadline), formatTime(e.At),
	)
	if err != nil {
		return fmt.Errorf("append %s event: %w", e.Kind, err)
	}
	return nil
}

// Flush waits until every event queued before the call has been written.
func (j *Journal) Flush(ctx context.Context) error {
	done := make(chan struct{})
	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return nil
	}
	select {
	case j.ch <- req{flush: done}:
		j.mu.RUnlock()
	case <-ctx.Done():
		j.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Failures returns how many queued events could not be written, and the last error.
func (j *Journal) Failures() (int64, error) {
	var err error
	if p := j.lastErr.Load(); p != nil {
		err = *p
	}
	return j.failures.Load(), err
}

func (j *Journal) loop() {
	for r := range j.ch {
		if r.flush != nil {
			close(r.flush)
			continue
		}
		if err := j.Append(context.Background(), r.event); err != nil {
			j.failures.Add(1)
			j.lastErr.Store(&err)
		}
	}
}

// Events returns the events of one auction in commit order. A limit of zero
// or less returns all of them.
func (j *Journal) Events(ctx context.Context, auctionID string, limit int) ([]core.Event, error) {
	query := `SELECT kind, account, amount, deadline, at FROM events WHERE auction_id = ? ORDER BY seq`
	args := []any{auctionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []core.Event
	for rows.Next() {
		var kind, account, amount, deadline, at string
		if err := rows.Scan(&kind, &account, &amount, &deadline, &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e := core.Event{
			Kind:      core.EventKind(kind),
			AuctionID: auctionID,
			Account:   core.Identity(account),
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("event amount %q: %w", amount, err)
		}
		if e.Deadline, err = parseTime(deadline); err != nil {
			return nil, err
		}
		if e.At, err = parseTime(at); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Archive writes the events of one auction to w as zstd-compressed JSON lines.
func (j *Journal) Archive(ctx context.Context, auctionID string, w io.Writer) (int, error) {
	events, err := j.Events(ctx, auctionID, 0)
	if err != nil {
		return 0, err
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return 0, fmt.Errorf("create zstd writer: %w", err)
	}
	je := json.NewEncoder(enc)
	for _, e := range events {
		if err := je.Encode(e); err != nil {
			_ = enc.Close()
			return 0, fmt.Errorf("encode event: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return 0, fmt.Errorf("finish zstd stream: %w", err)
	}
	return len(events), nil
}

// ReadArchive decodes an archive produced by Archive.
func ReadArchive(r io.Reader) ([]core.Event, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open zstd stream: %w", err)
	}
	defer dec.Close()

	var events []core.Event
	jd := json.NewDecoder(dec)
	for {
		var e core.Event
		if err := jd.Decode(&e); err == io.EOF {
			return events, nil
		} else if err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, e)
	}
}

// RecordReceipt stores the signed receipt of a settled auction. A second
// receipt for the same auction is rejected.
func (j *Journal) RecordReceipt(ctx context.Context, auctionID, digest string, cose []byte) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO receipts (auction_id, digest, cose, recorded_at) VALUES (?, ?, ?, ?)`,
		auctionID, digest, cose, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("record receipt: %w", err)
	}
	return nil
}

// Receipt loads the signed receipt of an auction.
func (j *Journal) Receipt(ctx context.Context, auctionID string) (digest string, cose []byte, err error) {
	row := j.db.QueryRowContext(ctx, `SELECT digest, cose FROM receipts WHERE auction_id = ?`, auctionID)
	if err := row.Scan(&digest, &cose); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, fmt.Errorf("%w for auction %s", ErrNoReceipt, auctionID)
		}
		return "", nil, fmt.Errorf("load receipt: %w", err)
	}
	return digest, cose, nil
}

// Ping checks the database connection.
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// Close drains queued events and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.ch)
	j.mu.Unlock()

	j.wg.Wait()
	return j.db.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse event time %q: %w", s, err)
	}
	return t, nil
}
