package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/openmbee/dngsync/internal/lineage"
)

// Run status values for the sync_runs.status column.
const (
	RunRunning = "running"
	RunDone    = "done"
	RunFailed  = "failed"
)

// Run is one row of sync_runs.
type Run struct {
	ID          string
	Project     string
	Ref         string
	StartedAt   time.Time
	FinishedAt  time.Time // zero while running
	Status      string
	Fallback    bool
	Applied     int
	Skipped     int
	HeadAdded   int
	HeadDeleted int
	ErrorMsg    string
}

// AppliedBaseline records a baseline whose snapshot reached the target
// and was tagged.
type AppliedBaseline struct {
	BaselineID  string
	BaselineURI string
	Title       string
	TagID       string
	ParentID    string
	Added       int
	Deleted     int
	RunID       string
	AppliedAt   time.Time
}

// Ledger persists what each sync run saw and applied in a SQLite database.
// One connection serializes all writes.
type Ledger struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// OpenLedger opens (creating if needed) the database at dbPath and applies
// pending migrations.
func OpenLedger(ctx context.Context, dbPath string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sync: opening ledger %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("ledger opened", slog.String("db_path", dbPath))

	return &Ledger{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// StartRun inserts a running sync_runs row and returns its id.
func (l *Ledger) StartRun(ctx context.Context, project, ref string) (string, error) {
	id := uuid.NewString()

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, project, ref, started_at, status) VALUES (?, ?, ?, ?, ?)`,
		id, project, ref, l.nowFunc().UnixNano(), RunRunning)
	if err != nil {
		return "", fmt.Errorf("sync: starting run: %w", err)
	}

	return id, nil
}

// FinishRun closes a run with the counts from rep. A non-nil runErr marks
// it failed.
func (l *Ledger) FinishRun(ctx context.Context, runID string, rep *Report, runErr error) error {
	status, msg := RunDone, sql.NullString{}
	if runErr != nil {
		status = RunFailed
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}

	if rep == nil {
		rep = &Report{}
	}

	res, err := l.db.ExecContext(ctx,
		`UPDATE sync_runs SET finished_at = ?, status = ?, fallback = ?, applied = ?,
			skipped = ?, head_added = ?, head_deleted = ?, error_msg = ?
		WHERE id = ?`,
		l.nowFunc().UnixNano(), status, rep.Fallback, len(rep.Applied),
		rep.Skipped, rep.HeadAdded, rep.HeadDeleted, msg, runID)
	if err != nil {
		return fmt.Errorf("sync: finishing run %s: %w", runID, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sync: finishing run %s: no such run", runID)
	}

	return nil
}

// RecordConfigurations upserts the baselines and streams a run discovered.
func (l *Ledger) RecordConfigurations(
	ctx context.Context, runID string, baselines map[string]lineage.Baseline, streams map[string]lineage.Stream,
) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sync: beginning configurations transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO configurations (uri, kind, id, title, created_at, previous, stream_uri, seen_run)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uri) DO UPDATE SET
			kind = excluded.kind, id = excluded.id, title = excluded.title,
			created_at = excluded.created_at, previous = excluded.previous,
			stream_uri = excluded.stream_uri, seen_run = excluded.seen_run`)
	if err != nil {
		return fmt.Errorf("sync: preparing configuration upsert: %w", err)
	}
	defer stmt.Close()

	for uri, b := range baselines {
		if _, err := stmt.ExecContext(ctx, uri, "baseline", b.ID, b.Title, nullTime(b.Created),
			nullString(b.Previous), nullString(b.StreamURI), runID); err != nil {
			return fmt.Errorf("sync: recording baseline %s: %w", b.ID, err)
		}
	}

	for uri, s := range streams {
		if _, err := stmt.ExecContext(ctx, uri, "stream", s.ID, s.Title, nullTime(s.Created),
			nil, nil, runID); err != nil {
			return fmt.Errorf("sync: recording stream %s: %w", s.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sync: committing configurations: %w", err)
	}

	l.logger.Debug("recorded configurations",
		slog.Int("baselines", len(baselines)),
		slog.Int("streams", len(streams)),
	)

	return nil
}

// RecordBaseline marks a baseline as applied. Re-applying a baseline (after
// a project reset) replaces the earlier row.
func (l *Ledger) RecordBaseline(ctx context.Context, a AppliedBaseline) error {
	if a.AppliedAt.IsZero() {
		a.AppliedAt = l.nowFunc()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO applied_baselines
			(baseline_id, baseline_uri, title, tag_id, parent_id, added, deleted, run_id, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(baseline_id) DO UPDATE SET
			baseline_uri = excluded.baseline_uri, title = excluded.title, tag_id = excluded.tag_id,
			parent_id = excluded.parent_id, added = excluded.added, deleted = excluded.deleted,
			run_id = excluded.run_id, applied_at = excluded.applied_at`,
		a.BaselineID, a.BaselineURI, a.Title, a.TagID, nullString(a.ParentID),
		a.Added, a.Deleted, a.RunID, a.AppliedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("sync: recording applied baseline %s: %w", a.BaselineID, err)
	}

	return nil
}

// AppliedBaselines returns every applied baseline in application order.
func (l *Ledger) AppliedBaselines(ctx context.Context) ([]AppliedBaseline, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT baseline_id, baseline_uri, title, tag_id, parent_id, added, deleted, run_id, applied_at
		FROM applied_baselines ORDER BY applied_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("sync: querying applied baselines: %w", err)
	}
	defer rows.Close()

	var out []AppliedBaseline

	for rows.Next() {
		var (
			a       AppliedBaseline
			parent  sql.NullString
			applied int64
		)

		if err := rows.Scan(&a.BaselineID, &a.BaselineURI, &a.Title, &a.TagID, &parent,
			&a.Added, &a.Deleted, &a.RunID, &applied); err != nil {
			return nil, fmt.Errorf("sync: scanning applied baseline: %w", err)
		}

		a.ParentID = parent.String
		a.AppliedAt = time.Unix(0, applied)
		out = append(out, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sync: iterating applied baselines: %w", err)
	}

	return out, nil
}

// Runs returns up to limit runs, newest first. limit <= 0 returns all.
func (l *Ledger) Runs(ctx context.Context, limit int) ([]Run, error) {
	q := `SELECT id, project, ref, started_at, finished_at, status, fallback, applied, skipped,
		head_added, head_deleted, error_msg FROM sync_runs ORDER BY started_at DESC, rowid DESC`

	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sync: querying runs: %w", err)
	}
	defer rows.Close()

	var out []Run

	for rows.Next() {
		var (
			r        Run
			started  int64
			finished sql.NullInt64
			errMsg   sql.NullString
		)

		if err := rows.Scan(&r.ID, &r.Project, &r.Ref, &started, &finished, &r.Status, &r.Fallback,
			&r.Applied, &r.Skipped, &r.HeadAdded, &r.HeadDeleted, &errMsg); err != nil {
			return nil, fmt.Errorf("sync: scanning run: %w", err)
		}

		r.StartedAt = time.Unix(0, started)
		if finished.Valid {
			r.FinishedAt = time.Unix(0, finished.Int64)
		}

		r.ErrorMsg = errMsg.String
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sync: iterating runs: %w", err)
	}

	return out, nil
}

// LastRun returns the newest run, or ErrNoRuns.
func (l *Ledger) LastRun(ctx context.Context) (Run, error) {
	runs, err := l.Runs(ctx, 1)
	if err != nil {
		return Run{}, err
	}

	if len(runs) == 0 {
		return Run{}, ErrNoRuns
	}

	return runs[0], nil
}

// ErrNoRuns is returned by LastRun on an empty ledger.
var ErrNoRuns = errors.New("sync: no runs recorded")

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
