package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/core"
)

const activeStatusSQL = "('QUEUED', 'RUNNING')"

const runColumns = `id, project_id, status, percent, remote_handle, prompt, repository, branch,
	metadata, completion_source, reason, poll_failures, pending_failure, pending_failure_at,
	raw, created_at, updated_at, started_at, finished_at`

// dialect captures the SQL differences between the supported drivers.
type dialect struct {
	name string
	// numbered rewrites ? placeholders to $1, $2, ...
	numbered bool
	// greatest is the two-argument maximum function.
	greatest string
	// insertionOrder breaks created_at ties in list queries.
	insertionOrder string
}

var (
	sqliteDialect   = dialect{name: "sqlite", greatest: "MAX", insertionOrder: "rowid"}
	postgresDialect = dialect{name: "postgres", numbered: true, greatest: "GREATEST", insertionOrder: "seq"}
)

// rebind converts ? placeholders for drivers that need numbered parameters.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// migration is one embedded schema step.
type migration struct {
	version int
	sql     string
}

// SQLStore implements core.RunStore on database/sql. The SQLite and
// PostgreSQL backends share it and differ only in dialect and migrations.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

func newSQLStore(db *sql.DB, d dialect) *SQLStore {
	return &SQLStore{db: db, dialect: d}
}

// Driver returns the backend name.
func (s *SQLStore) Driver() string {
	return s.dialect.name
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate applies pending migrations in order.
func (s *SQLStore) migrate(ctx context.Context, migrations []migration) error {
	var version int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table doesn't exist yet
		version = 0
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		if _, err := s.db.ExecContext(ctx,
			s.dialect.rebind("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)"),
			m.version, time.Now().UTC()); err != nil {
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
	}
	return nil
}

func (s *SQLStore) exec(ctx context.Context, q execer, query string, args ...interface{}) (sql.Result, error) {
	return q.ExecContext(ctx, s.dialect.rebind(query), args...)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CreateRun inserts a new run.
func (s *SQLStore) CreateRun(ctx context.Context, run *core.Run) error {
	metadata, err := encodeJSON(run.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	raw, err := encodeJSON(run.Raw)
	if err != nil {
		return fmt.Errorf("marshaling raw payload: %w", err)
	}

	_, err = s.exec(ctx, s.db, `
		INSERT INTO runs (
			id, project_id, status, percent, remote_handle, prompt, repository, branch,
			metadata, completion_source, reason, poll_failures, pending_failure, pending_failure_at,
			raw, created_at, updated_at, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ProjectID, string(run.Status), run.Percent,
		nullString(run.RemoteHandle), run.Prompt, nullString(run.Repository), nullString(run.Branch),
		metadata, nullString(string(run.CompletionSource)), nullString(run.Reason),
		run.PollFailures, nullString(run.PendingFailure), nullTime(run.PendingFailureAt),
		raw, run.CreatedAt.UTC(), run.UpdatedAt.UTC(), nullTime(run.StartedAt), nullTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// GetRun loads a run by ID.
func (s *SQLStore) GetRun(ctx context.Context, id string) (*core.Run, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind("SELECT "+runColumns+" FROM runs WHERE id = ?"), id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("run", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns runs ordered by creation time, oldest first.
func (s *SQLStore) ListRuns(ctx context.Context, filter core.RunFilter) ([]*core.Run, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.Repository != "" {
		where = append(where, "LOWER(repository) = LOWER(?)")
		args = append(args, filter.Repository)
	}

	query := "SELECT " + runColumns + " FROM runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, " + s.dialect.insertionOrder + " ASC"

	limit := filter.Limit
	if limit <= 0 && filter.Offset > 0 {
		limit = math.MaxInt32
	}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// MarkRunning attaches the remote handle and moves a QUEUED run to RUNNING.
func (s *SQLStore) MarkRunning(ctx context.Context, id, handle string, at time.Time) (bool, error) {
	at = at.UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := s.exec(ctx, tx, `
		UPDATE runs SET status = 'RUNNING', remote_handle = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = 'QUEUED' AND remote_handle IS NULL`,
		handle, at, at, id)
	if err != nil {
		return false, fmt.Errorf("marking run running: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if err := s.insertTransition(ctx, tx, &core.Transition{
		RunID: id, From: core.RunStatusQueued, To: core.RunStatusRunning, Source: core.SourceStart, At: at,
	}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}
	return true, nil
}

// RecordProgress raises the stored percent and resets the failure counter.
func (s *SQLStore) RecordProgress(ctx context.Context, id string, update core.ProgressUpdate) (bool, error) {
	raw, err := encodeJSON(update.Raw)
	if err != nil {
		return false, fmt.Errorf("marshaling raw payload: %w", err)
	}
	pct := core.ClampPercent(update.Percent)
	at := update.At.UTC()

	res, err := s.exec(ctx, s.db, `
		UPDATE runs SET
			updated_at = CASE WHEN ? > percent THEN ? ELSE updated_at END,
			percent = `+s.dialect.greatest+`(percent, ?),
			raw = COALESCE(?, raw),
			poll_failures = 0
		WHERE id = ? AND status IN `+activeStatusSQL,
		pct, at, pct, raw, id)
	if err != nil {
		return false, fmt.Errorf("recording progress: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RecordPollFailure increments the consecutive failure counter.
func (s *SQLStore) RecordPollFailure(ctx context.Context, id string, _ time.Time) (int, error) {
	var failures int
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		UPDATE runs SET poll_failures = poll_failures + 1
		WHERE id = ? AND status IN `+activeStatusSQL+`
		RETURNING poll_failures`), id).Scan(&failures)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("recording poll failure: %w", err)
	}
	return failures, nil
}

// StagePendingFailure records a remote-reported failure unless one is
// already staged.
func (s *SQLStore) StagePendingFailure(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	res, err := s.exec(ctx, s.db, `
		UPDATE runs SET pending_failure = ?, pending_failure_at = ?
		WHERE id = ? AND pending_failure_at IS NULL AND status IN `+activeStatusSQL,
		reason, at.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("staging failure: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Terminate commits a terminal status with a compare-and-set on the current
// non-terminal status. The transition row is written in the same transaction.
func (s *SQLStore) Terminate(ctx context.Context, id string, t core.Termination) (bool, error) {
	if !t.Status.IsTerminal() {
		return false, core.ErrState(core.CodeInvalidTransition, "terminate requires a terminal status")
	}
	raw, err := encodeJSON(t.Raw)
	if err != nil {
		return false, fmt.Errorf("marshaling raw payload: %w", err)
	}
	at := t.At.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, s.dialect.rebind("SELECT status FROM runs WHERE id = ?"), id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, core.ErrNotFound("run", id)
	}
	if err != nil {
		return false, fmt.Errorf("reading run status: %w", err)
	}
	from := core.RunStatus(current)
	if !from.CanTransitionTo(t.Status) {
		return false, nil
	}

	res, err := s.exec(ctx, tx, `
		UPDATE runs SET
			status = ?, completion_source = ?, reason = ?,
			percent = `+s.dialect.greatest+`(percent, ?),
			raw = COALESCE(?, raw),
			pending_failure = NULL, pending_failure_at = NULL,
			finished_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(t.Status), string(t.Source), nullString(t.Reason),
		core.ClampPercent(t.Percent), raw, at, at, id, current)
	if err != nil {
		return false, fmt.Errorf("terminating run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if err := s.insertTransition(ctx, tx, &core.Transition{
		RunID: id, From: from, To: t.Status, Source: t.Source, Reason: t.Reason, At: at,
	}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}
	return true, nil
}

func (s *SQLStore) insertTransition(ctx context.Context, tx *sql.Tx, tr *core.Transition) error {
	_, err := s.exec(ctx, tx, `
		INSERT INTO run_transitions (run_id, from_status, to_status, source, reason, at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		tr.RunID, string(tr.From), string(tr.To), string(tr.Source), nullString(tr.Reason), tr.At.UTC())
	if err != nil {
		return fmt.Errorf("inserting transition: %w", err)
	}
	return nil
}

// AddArtifact attaches an artifact to a run.
func (s *SQLStore) AddArtifact(ctx context.Context, a *core.Artifact) error {
	content, err := encodeJSON(a.Content)
	if err != nil {
		return fmt.Errorf("marshaling artifact content: %w", err)
	}
	_, err = s.exec(ctx, s.db, `
		INSERT INTO artifacts (id, run_id, type, url, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.RunID, string(a.Type), nullString(a.URL), content, a.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting artifact: %w", err)
	}
	return nil
}

// ListArtifacts returns a run's artifacts, oldest first.
func (s *SQLStore) ListArtifacts(ctx context.Context, runID string) ([]*core.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT id, run_id, type, url, content, created_at
		FROM artifacts WHERE run_id = ? ORDER BY created_at ASC, id ASC`), runID)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	defer rows.Close()

	var out []*core.Artifact
	for rows.Next() {
		var (
			a       core.Artifact
			typ     string
			url     sql.NullString
			content sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.RunID, &typ, &url, &content, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		a.Type = core.ArtifactType(typ)
		a.URL = url.String
		if a.Content, err = decodeJSON(content); err != nil {
			return nil, fmt.Errorf("decoding artifact content: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// ListTransitions returns a run's status history in commit order.
func (s *SQLStore) ListTransitions(ctx context.Context, runID string) ([]*core.Transition, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT run_id, from_status, to_status, source, reason, at
		FROM run_transitions WHERE run_id = ? ORDER BY id ASC`), runID)
	if err != nil {
		return nil, fmt.Errorf("listing transitions: %w", err)
	}
	defer rows.Close()

	var out []*core.Transition
	for rows.Next() {
		var (
			tr            core.Transition
			from, to, src string
			reason        sql.NullString
		)
		if err := rows.Scan(&tr.RunID, &from, &to, &src, &reason, &tr.At); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		tr.From = core.RunStatus(from)
		tr.To = core.RunStatus(to)
		tr.Source = core.CompletionSource(src)
		tr.Reason = reason.String
		out = append(out, &tr)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*core.Run, error) {
	var (
		run                                  core.Run
		status                               string
		handle, repo, branch, source, reason sql.NullString
		pending                              sql.NullString
		metadata, raw                        sql.NullString
		pendingAt, startedAt, finishedAt     sql.NullTime
	)
	err := row.Scan(
		&run.ID, &run.ProjectID, &status, &run.Percent, &handle, &run.Prompt, &repo, &branch,
		&metadata, &source, &reason, &run.PollFailures, &pending, &pendingAt,
		&raw, &run.CreatedAt, &run.UpdatedAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Status = core.RunStatus(status)
	run.RemoteHandle = handle.String
	run.Repository = repo.String
	run.Branch = branch.String
	run.CompletionSource = core.CompletionSource(source.String)
	run.Reason = reason.String
	run.PendingFailure = pending.String
	run.PendingFailureAt = timePtr(pendingAt)
	run.StartedAt = timePtr(startedAt)
	run.FinishedAt = timePtr(finishedAt)

	if run.Metadata, err = decodeJSON(metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	if run.Raw, err = decodeJSON(raw); err != nil {
		return nil, fmt.Errorf("decoding raw payload: %w", err)
	}
	return &run, nil
}

// Helper functions for nullable values

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func encodeJSON(m map[string]interface{}) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeJSON(s sql.NullString) (map[string]interface{}, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}
