// Package archive keeps completed coverage runs in a SQLite database.
//
// Query-friendly columns (site, time, stats) are stored as plain SQL; the
// request and full result travel in a msgpack+zstd blob.
package archive

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/lmux/antenna-coverage/core"
	"github.com/lmux/antenna-coverage/model"
)

// ErrNotFound reports an unknown run id.
var ErrNotFound = errors.New("run not found")

// Entry is one archived run together with the request that produced it.
type Entry struct {
	Run     model.CoverageRun
	Request core.CoverageRequest
}

// Summary is the listing view of an archived run; it omits the payload.
type Summary struct {
	ID         string
	SiteID     string
	StartedAt  time.Time
	FinishedAt time.Time
	Partial    bool
	Stats      core.CoverageStats
}

// Archive is a SQLite-backed run store. It is safe for concurrent use.
type Archive struct {
	db *sql.DB
}

const schema = `
	CREATE TABLE IF NOT EXISTS coverage_runs (
		id TEXT PRIMARY KEY,
		site_id TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		partial INTEGER NOT NULL DEFAULT 0,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		direction_deg REAL NOT NULL,
		frequency_ghz REAL NOT NULL,
		rays INTEGER NOT NULL,
		samples INTEGER NOT NULL,
		good INTEGER NOT NULL,
		okay INTEGER NOT NULL,
		bad INTEGER NOT NULL,
		obstructed INTEGER NOT NULL,
		unavailable INTEGER NOT NULL,
		payload BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_coverage_runs_site ON coverage_runs(site_id, started_at);
`

// Open opens or creates the archive at path. Use ":memory:" for a
// throwaway database.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway and an in-memory
	// database is private to its connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating coverage_runs table: %w", err)
	}
	return &Archive{db: db}, nil
}

// Close releases the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Save stores e. An empty run ID is filled with a fresh UUID, which is
// written back into e.
func (a *Archive) Save(ctx context.Context, e *Entry) error {
	if e == nil || e.Run.Result == nil {
		return fmt.Errorf("archive: entry has no result")
	}
	if e.Run.SiteID == "" {
		return fmt.Errorf("archive: entry has no site id")
	}
	if e.Run.ID == "" {
		e.Run.ID = uuid.NewString()
	}

	blob, err := marshalPayload(e.Request, e.Run.Result)
	if err != nil {
		return err
	}
	st := e.Run.Result.Stats
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO coverage_runs (
			id, site_id, started_at, finished_at, partial,
			latitude, longitude, direction_deg, frequency_ghz,
			rays, samples, good, okay, bad, obstructed, unavailable, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Run.ID, e.Run.SiteID, e.Run.StartedAt.UnixNano(), e.Run.FinishedAt.UnixNano(), e.Run.Partial,
		e.Request.Origin.Lat, e.Request.Origin.Lon, e.Request.DirectionDeg, e.Request.Profile.FrequencyGHz,
		st.Rays, st.Samples, st.Good, st.Okay, st.Bad, st.Obstructed, st.Unavailable, blob,
	)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", e.Run.ID, err)
	}
	return nil
}

// Get loads a run with its full result.
func (a *Archive) Get(ctx context.Context, id string) (*Entry, error) {
	var (
		e               Entry
		started, finish int64
		blob            []byte
	)
	err := a.db.QueryRowContext(ctx, `
		SELECT id, site_id, started_at, finished_at, partial, payload
		FROM coverage_runs WHERE id = ?`, id,
	).Scan(&e.Run.ID, &e.Run.SiteID, &started, &finish, &e.Run.Partial, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", id, err)
	}

	e.Run.StartedAt = time.Unix(0, started).UTC()
	e.Run.FinishedAt = time.Unix(0, finish).UTC()
	e.Request, e.Run.Result, err = decodePayload(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", id, err)
	}
	return &e, nil
}

// List returns summaries newest first. An empty siteID lists every site;
// a non-positive limit returns all rows.
func (a *Archive) List(ctx context.Context, siteID string, limit int) ([]Summary, error) {
	query := `
		SELECT id, site_id, started_at, finished_at, partial,
			rays, samples, good, okay, bad, obstructed, unavailable
		FROM coverage_runs`
	var args []any
	if siteID != "" {
		query += ` WHERE site_id = ?`
		args = append(args, siteID)
	}
	query += ` ORDER BY started_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			s               Summary
			started, finish int64
		)
		if err := rows.Scan(&s.ID, &s.SiteID, &started, &finish, &s.Partial,
			&s.Stats.Rays, &s.Stats.Samples, &s.Stats.Good, &s.Stats.Okay, &s.Stats.Bad,
			&s.Stats.Obstructed, &s.Stats.Unavailable); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		s.StartedAt = time.Unix(0, started).UTC()
		s.FinishedAt = time.Unix(0, finish).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}
