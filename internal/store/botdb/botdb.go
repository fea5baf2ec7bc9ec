// Package botdb is the bot's durable state: the contacted set, the
// persisted session, and the run log. A single SQLite file favors crash
// safety over throughput, which fits a bot sending a handful of messages
// per cycle.
package botdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"flatseek/internal/model"
)

type DB struct {
	sql *sql.DB
	// contacted mirrors the contacted table so dedup checks are pure
	// map lookups; every mutation is flushed to disk first.
	contacted map[string]struct{}
}

// Open opens (or creates) the database, applies pragmas, migrates, and
// warms the contacted cache.
func Open(ctx context.Context, path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite is a single-writer engine; one connection avoids lock churn.
	d.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := d.ExecContext(ctx, pragma); err != nil {
			_ = d.Close()
			return nil, err
		}
	}
	db := &DB{sql: d, contacted: map[string]struct{}{}}
	if err := db.migrate(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}
	if err := db.warmContacted(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) Close() error { return d.sql.Close() }

func (d *DB) migrate(ctx context.Context) error {
	_, err := d.sql.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS contacted (
	  listing_id TEXT PRIMARY KEY,
	  contacted_at INTEGER NOT NULL,
	  dry_run INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_contacted_at ON contacted(contacted_at);
	CREATE TABLE IF NOT EXISTS session (
	  id INTEGER PRIMARY KEY CHECK (id=1),
	  payload TEXT NOT NULL,
	  updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS runs (
	  id TEXT PRIMARY KEY,
	  ts INTEGER NOT NULL,
	  offers_seen INTEGER NOT NULL,
	  offers_matched INTEGER NOT NULL,
	  offers_new INTEGER NOT NULL,
	  messages_sent INTEGER NOT NULL,
	  errors TEXT,
	  dry_run INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_runs_ts ON runs(ts);
	`)
	return err
}

func (d *DB) warmContacted(ctx context.Context) error {
	rows, err := d.sql.QueryContext(ctx, `SELECT listing_id FROM contacted`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		d.contacted[id] = struct{}{}
	}
	return rows.Err()
}

// IsContacted reports whether the listing was ever messaged (or marked
// during a dry run). The contacted table is the sole dedup authority.
func (d *DB) IsContacted(listingID string) bool {
	_, ok := d.contacted[listingID]
	return ok
}

// MarkContacted records the listing durably before updating the cache.
// Idempotent: marking twice is a no-op, never an error, and the row is
// stored exactly once.
func (d *DB) MarkContacted(ctx context.Context, listingID string, dryRun bool) error {
	dr := 0
	if dryRun {
		dr = 1
	}
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO contacted(listing_id, contacted_at, dry_run) VALUES(?,?,?)
		 ON CONFLICT(listing_id) DO NOTHING`,
		listingID, time.Now().UTC().Unix(), dr)
	if err != nil {
		return err
	}
	d.contacted[listingID] = struct{}{}
	return nil
}

// ContactedCount returns the size of the contacted set.
func (d *DB) ContactedCount() int { return len(d.contacted) }

// CountSentSince counts real (non-dry-run) contacts at or after t, for
// the daily send budget.
func (d *DB) CountSentSince(ctx context.Context, t time.Time) (int, error) {
	row := d.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contacted WHERE contacted_at>=? AND dry_run=0`, t.Unix())
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// SaveSession persists the single live session as JSON.
func (d *DB) SaveSession(ctx context.Context, sess *model.Session) error {
	if sess == nil {
		return errors.New("nil session")
	}
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	_, err = d.sql.ExecContext(ctx,
		`INSERT INTO session(id, payload, updated_at) VALUES(1,?,?)
		 ON CONFLICT(id) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at`,
		string(b), time.Now().UTC().Unix())
	return err
}

// LoadSession returns the persisted session, or (nil, nil) when none is
// stored so a fresh login happens.
func (d *DB) LoadSession(ctx context.Context) (*model.Session, error) {
	row := d.sql.QueryRowContext(ctx, `SELECT payload FROM session WHERE id=1`)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var sess model.Session
	if err := json.Unmarshal([]byte(payload), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// PutRun appends one cycle summary to the run log.
func (d *DB) PutRun(ctx context.Context, r model.RunRecord) error {
	dr := 0
	if r.DryRun {
		dr = 1
	}
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO runs(id, ts, offers_seen, offers_matched, offers_new, messages_sent, errors, dry_run)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.ID, r.Timestamp.Unix(), r.OffersSeen, r.OffersMatched, r.OffersNew,
		r.MessagesSent, strings.Join(r.Errors, "; "), dr)
	return err
}

// LastRuns returns up to n most recent run records, newest first.
func (d *DB) LastRuns(ctx context.Context, n int) ([]model.RunRecord, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT id, ts, offers_seen, offers_matched, offers_new, messages_sent, errors, dry_run
		 FROM runs ORDER BY ts DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.RunRecord
	for rows.Next() {
		var (
			r      model.RunRecord
			ts     int64
			errStr string
			dr     int
		)
		if err := rows.Scan(&r.ID, &ts, &r.OffersSeen, &r.OffersMatched, &r.OffersNew, &r.MessagesSent, &errStr, &dr); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(ts, 0).UTC()
		r.DryRun = dr != 0
		if errStr != "" {
			r.Errors = strings.Split(errStr, "; ")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
