package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"flightdeck/internal/database/migrations"
	"flightdeck/internal/deck"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// timeLayout is fixed-width UTC so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// farFuture sorts tasks without a due date after every dated task.
const farFuture = "9999-12-31T23:59:59.999999Z"

// SQLiteStore implements deck.Store using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	path  string
	clock deck.Clock
	idgen deck.IDGenerator
}

var _ deck.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database at path and applies pending migrations.
// path can be a file path or ":memory:". A nil clock or idgen uses the real one.
func NewSQLiteStore(path string, clock deck.Clock, idgen deck.IDGenerator) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	s := NewSQLiteStoreFromDB(db, clock, idgen)
	s.path = path
	return s, nil
}

// NewSQLiteStoreFromDB wraps an existing connection. The caller is responsible
// for the schema.
func NewSQLiteStoreFromDB(db *sql.DB, clock deck.Clock, idgen deck.IDGenerator) *SQLiteStore {
	if clock == nil {
		clock = deck.RealClock{}
	}
	if idgen == nil {
		idgen = deck.UUIDGenerator{}
	}
	return &SQLiteStore{db: db, clock: clock, idgen: idgen}
}

// OpenConnection opens and configures a SQLite connection with appropriate PRAGMAs.
// A single connection is kept so ":memory:" databases are shared and writes serialize.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// SQLite defaults foreign keys to OFF; cascades depend on it.
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}
	return db, nil
}

func (s *SQLiteStore) now() string {
	return formatTime(s.clock.Now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(text string) time.Time {
	return deck.ParseTimestampString(text, time.Time{})
}

func nullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	v := ns.String
	return &v
}

func encodeJSON(v any, empty string) (string, error) {
	if v == nil {
		return empty, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}

func rawOrEmpty(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "{}"
	}
	return string(raw)
}

func rawFromText(text string) json.RawMessage {
	if text == "" {
		text = "{}"
	}
	return json.RawMessage(text)
}

// Snapshot operations

func (s *SQLiteStore) InsertSnapshot(in deck.SnapshotInput) (int64, error) {
	return s.insertSnapshot(context.Background(), s.db, in)
}

// PublishSnapshot appends a snapshot and its auto tasks in one transaction,
// so a snapshot never becomes latest without its tasks.
func (s *SQLiteStore) PublishSnapshot(in deck.SnapshotInput, drafts []deck.TaskDraft) (int64, error) {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := s.insertSnapshot(ctx, tx, in)
	if err != nil {
		return 0, err
	}
	if err := s.replaceAutoTasks(ctx, tx, id, drafts); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return id, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

func (s *SQLiteStore) insertSnapshot(ctx context.Context, db execer, in deck.SnapshotInput) (int64, error) {
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.clock.Now()
	}
	signals := in.Signals
	if signals == nil {
		signals = []deck.Signal{}
	}
	signalsJSON, err := encodeJSON(signals, "[]")
	if err != nil {
		return 0, fmt.Errorf("encoding signals: %w", err)
	}
	countsJSON, err := encodeJSON(in.SourceCounts, "{}")
	if err != nil {
		return 0, fmt.Errorf("encoding source counts: %w", err)
	}
	metaJSON, err := encodeJSON(in.Metadata, "{}")
	if err != nil {
		return 0, fmt.Errorf("encoding snapshot metadata: %w", err)
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO snapshots(created_at, source_counts_json, signals_json, source, status, metadata_json)
		VALUES(?, ?, ?, ?, ?, ?)`,
		formatTime(createdAt), countsJSON, signalsJSON, in.Source, in.Status, metaJSON)
	if err != nil {
		return 0, fmt.Errorf("inserting snapshot: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) GetLatestSnapshot() (*deck.Snapshot, error) {
	row := s.db.QueryRow(`
		SELECT id, created_at, source_counts_json, signals_json, source, status, metadata_json
		FROM snapshots ORDER BY created_at DESC, id DESC LIMIT 1`)

	var (
		snap                          deck.Snapshot
		createdAt                     string
		countsJSON, signalsJSON, meta string
	)
	err := row.Scan(&snap.ID, &createdAt, &countsJSON, &signalsJSON, &snap.Source, &snap.Status, &meta)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding latest snapshot: %w", err)
	}
	snap.CreatedAt = parseTime(createdAt)
	if err := json.Unmarshal([]byte(countsJSON), &snap.SourceCounts); err != nil {
		return nil, fmt.Errorf("decoding source counts: %w", err)
	}
	if err := json.Unmarshal([]byte(signalsJSON), &snap.Signals); err != nil {
		return nil, fmt.Errorf("decoding signals: %w", err)
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &snap.Metadata); err != nil {
			return nil, fmt.Errorf("decoding snapshot metadata: %w", err)
		}
	}
	if snap.SourceCounts == nil {
		snap.SourceCounts = map[string]int{}
	}
	if snap.Signals == nil {
		snap.Signals = []deck.Signal{}
	}
	return &snap, nil
}

// Task operations

const taskColumns = `id, snapshot_id, source, priority_bucket, title, action_hint, status,
	due_at, url, manual, metadata_json, created_at, updated_at`

// boardOrder ranks bucket, then status, then due date with undated last, then id.
const boardOrder = `
	CASE priority_bucket WHEN 'now' THEN 0 WHEN 'next' THEN 1 ELSE 2 END,
	CASE status WHEN 'in_progress' THEN 0 WHEN 'todo' THEN 1 WHEN 'snoozed' THEN 2 ELSE 3 END,
	COALESCE(due_at, '` + farFuture + `'),
	id`

func (s *SQLiteStore) ReplaceAutoTasksForSnapshot(snapshotID int64, drafts []deck.TaskDraft) error {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.replaceAutoTasks(ctx, tx, snapshotID, drafts); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) replaceAutoTasks(ctx context.Context, tx execer, snapshotID int64, drafts []deck.TaskDraft) error {
	now := s.now()

	if _, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE snapshot_id = ? AND manual = 0", snapshotID); err != nil {
		return fmt.Errorf("deleting auto tasks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tasks(snapshot_id, source, priority_bucket, title, action_hint, status,
			due_at, url, manual, metadata_json, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing task insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range drafts {
		// Unknown values are coerced rather than rejected.
		bucket := d.Bucket
		if !bucket.Valid() {
			bucket = deck.BucketLater
		}
		status := d.Status
		if !status.Valid() {
			status = deck.TaskTodo
		}
		source := d.Source
		if source == "" {
			source = "unknown"
		}
		var due any
		if d.DueAt != nil {
			due = formatTime(*d.DueAt)
		}
		meta, err := encodeJSON(d.Metadata, "{}")
		if err != nil {
			return fmt.Errorf("encoding task metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, snapshotID, string(source), string(bucket), d.Title, d.ActionHint,
			string(status), due, d.URL, meta, now, now); err != nil {
			return fmt.Errorf("inserting task %q: %w", d.Title, err)
		}
	}

	return nil
}

func (s *SQLiteStore) ListBoardTasks(latestSnapshotID *int64) ([]*deck.Task, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if latestSnapshotID == nil {
		rows, err = s.db.Query(`SELECT ` + taskColumns + ` FROM tasks
			WHERE manual = 1 AND status != 'done'
			ORDER BY ` + boardOrder)
	} else {
		rows, err = s.db.Query(`SELECT `+taskColumns+` FROM tasks
			WHERE (snapshot_id = ? AND manual = 0) OR (manual = 1 AND status != 'done')
			ORDER BY `+boardOrder, *latestSnapshotID)
	}
	if err != nil {
		return nil, fmt.Errorf("listing board tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*deck.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating board tasks: %w", err)
	}
	return tasks, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (*deck.Task, error) {
	var (
		t                    deck.Task
		snapshotID           sql.NullInt64
		source, bucket, stat string
		due                  sql.NullString
		manual               int
		meta                 string
		createdAt, updatedAt string
	)
	if err := r.Scan(&t.ID, &snapshotID, &source, &bucket, &t.Title, &t.ActionHint, &stat,
		&due, &t.URL, &manual, &meta, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.SnapshotID = nullInt(snapshotID)
	t.Source = deck.Source(source)
	t.Bucket = deck.Bucket(bucket)
	t.Status = deck.TaskStatus(stat)
	t.DueAt = nullTime(due)
	t.Manual = manual != 0
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	t.Metadata = map[string]any{}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &t.Metadata); err != nil {
			return nil, fmt.Errorf("decoding task metadata: %w", err)
		}
	}
	return &t, nil
}

func (s *SQLiteStore) CreateManualTask(in deck.ManualTaskInput) (int64, error) {
	bucket := in.Bucket
	if !bucket.Valid() {
		bucket = deck.BucketNext
	}
	meta, err := encodeJSON(in.Metadata, "{}")
	if err != nil {
		return 0, fmt.Errorf("encoding task metadata: %w", err)
	}
	var due any
	if in.DueAt != nil {
		due = formatTime(*in.DueAt)
	}
	now := s.now()

	// Manual tasks point at the snapshot current at creation; replace cycles
	// only touch manual = 0 rows.
	res, err := s.db.Exec(`
		INSERT INTO tasks(snapshot_id, source, priority_bucket, title, action_hint, status,
			due_at, url, manual, metadata_json, created_at, updated_at)
		VALUES((SELECT id FROM snapshots ORDER BY created_at DESC, id DESC LIMIT 1),
			?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`,
		string(deck.SourceManual), string(bucket), in.Title, in.ActionHint, string(deck.TaskTodo),
		due, in.URL, meta, now, now)
	if err != nil {
		return 0, fmt.Errorf("inserting manual task: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) UpdateTaskStatus(id int64, status deck.TaskStatus) error {
	if !status.Valid() {
		return deck.Validationf("unsupported task status: %s", status)
	}
	if _, err := s.db.Exec("UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?", string(status), s.now(), id); err != nil {
		return fmt.Errorf("updating task status: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTask(id int64) (*deck.Task, error) {
	t, err := scanTask(s.db.QueryRow("SELECT "+taskColumns+" FROM tasks WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding task: %w", err)
	}
	return t, nil
}

// Run operations

func finishedAt(status deck.RunStatus, now string) any {
	if status.Terminal() {
		return now
	}
	return nil
}

func errorText(text string) any {
	if text == "" {
		return nil
	}
	return text
}

func (s *SQLiteStore) CreateActionRun(taskID *int64, actionType string, request json.RawMessage) (string, error) {
	runID := s.idgen.New()
	var task any
	if taskID != nil {
		task = *taskID
	}
	_, err := s.db.Exec(`
		INSERT INTO action_runs(run_id, task_id, action_type, status, started_at, request_payload_json)
		VALUES(?, ?, ?, ?, ?, ?)`,
		runID, task, actionType, string(deck.RunQueued), s.now(), rawOrEmpty(request))
	if err != nil {
		return "", fmt.Errorf("inserting action run: %w", err)
	}
	return runID, nil
}

func (s *SQLiteStore) UpdateActionRun(runID string, u deck.RunUpdate) error {
	if err := s.updateRun("action_runs", "result_payload_json", runID, u); err != nil {
		return fmt.Errorf("updating action run: %w", err)
	}
	return nil
}

// updateRun applies u to a run that has not finished yet. finished_at is only
// ever set, and a completed or failed run no longer changes.
func (s *SQLiteStore) updateRun(table, resultColumn, runID string, u deck.RunUpdate) error {
	if !u.Status.Valid() {
		return deck.Validationf("unsupported run status: %s", u.Status)
	}
	res, err := s.db.Exec(`
		UPDATE `+table+`
		SET status = ?, finished_at = COALESCE(?, finished_at), `+resultColumn+` = ?, error = ?
		WHERE run_id = ? AND status NOT IN ('completed', 'failed')`,
		string(u.Status), finishedAt(u.Status, s.now()), rawOrEmpty(u.Result), errorText(u.Error), runID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return deck.Validationf("run %s is unknown or already finished", runID)
	}
	return nil
}

const actionRunColumns = `run_id, task_id, action_type, status, started_at, finished_at,
	request_payload_json, result_payload_json, error`

func scanActionRun(r rowScanner) (*deck.ActionRun, error) {
	var (
		run                 deck.ActionRun
		taskID              sql.NullInt64
		status, started     string
		finished, errText   sql.NullString
		request, resultJSON string
	)
	if err := r.Scan(&run.RunID, &taskID, &run.ActionType, &status, &started, &finished,
		&request, &resultJSON, &errText); err != nil {
		return nil, err
	}
	run.TaskID = nullInt(taskID)
	run.Status = deck.RunStatus(status)
	run.StartedAt = parseTime(started)
	run.FinishedAt = nullTime(finished)
	run.RequestPayload = rawFromText(request)
	run.ResultPayload = rawFromText(resultJSON)
	run.Error = nullString(errText)
	return &run, nil
}

func (s *SQLiteStore) GetActionRun(runID string) (*deck.ActionRun, error) {
	run, err := scanActionRun(s.db.QueryRow("SELECT "+actionRunColumns+" FROM action_runs WHERE run_id = ?", runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding action run: %w", err)
	}
	return run, nil
}

func (s *SQLiteStore) ListRecentActionRuns(limit int) ([]*deck.ActionRun, error) {
	rows, err := s.db.Query("SELECT "+actionRunColumns+" FROM action_runs ORDER BY started_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("listing action runs: %w", err)
	}
	defer rows.Close()

	var runs []*deck.ActionRun
	for rows.Next() {
		run, err := scanActionRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning action run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) CreateSkillRun(skillName string, request json.RawMessage) (string, error) {
	runID := s.idgen.New()
	_, err := s.db.Exec(`
		INSERT INTO skill_runs(run_id, skill_name, status, started_at, request_payload_json)
		VALUES(?, ?, ?, ?, ?)`,
		runID, skillName, string(deck.RunQueued), s.now(), rawOrEmpty(request))
	if err != nil {
		return "", fmt.Errorf("inserting skill run: %w", err)
	}
	return runID, nil
}

func (s *SQLiteStore) UpdateSkillRun(runID string, u deck.RunUpdate) error {
	if err := s.updateRun("skill_runs", "output_payload_json", runID, u); err != nil {
		return fmt.Errorf("updating skill run: %w", err)
	}
	return nil
}

const skillRunColumns = `run_id, skill_name, status, started_at, finished_at,
	request_payload_json, output_payload_json, error`

func scanSkillRun(r rowScanner) (*deck.SkillRun, error) {
	var (
		run               deck.SkillRun
		status, started   string
		finished, errText sql.NullString
		request, output   string
	)
	if err := r.Scan(&run.RunID, &run.SkillName, &status, &started, &finished,
		&request, &output, &errText); err != nil {
		return nil, err
	}
	run.Status = deck.RunStatus(status)
	run.StartedAt = parseTime(started)
	run.FinishedAt = nullTime(finished)
	run.RequestPayload = rawFromText(request)
	run.OutputPayload = rawFromText(output)
	run.Error = nullString(errText)
	return &run, nil
}

func (s *SQLiteStore) GetSkillRun(runID string) (*deck.SkillRun, error) {
	run, err := scanSkillRun(s.db.QueryRow("SELECT "+skillRunColumns+" FROM skill_runs WHERE run_id = ?", runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding skill run: %w", err)
	}
	return run, nil
}

func (s *SQLiteStore) ListRecentSkillRuns(limit int) ([]*deck.SkillRun, error) {
	rows, err := s.db.Query("SELECT "+skillRunColumns+" FROM skill_runs ORDER BY started_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("listing skill runs: %w", err)
	}
	defer rows.Close()

	var runs []*deck.SkillRun
	for rows.Next() {
		run, err := scanSkillRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning skill run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Refresh events

func (s *SQLiteStore) RecordRefreshEvent(kind, status, message string) error {
	_, err := s.db.Exec("INSERT INTO refresh_events(created_at, kind, status, message) VALUES(?, ?, ?, ?)",
		s.now(), kind, status, message)
	if err != nil {
		return fmt.Errorf("inserting refresh event: %w", err)
	}
	return nil
}

func scanRefreshEvent(r rowScanner) (*deck.RefreshEvent, error) {
	var (
		ev        deck.RefreshEvent
		createdAt string
	)
	if err := r.Scan(&ev.ID, &createdAt, &ev.Kind, &ev.Status, &ev.Message); err != nil {
		return nil, err
	}
	ev.CreatedAt = parseTime(createdAt)
	return &ev, nil
}

const lastRefreshQuery = "SELECT id, created_at, kind, status, message FROM refresh_events ORDER BY created_at DESC, id DESC LIMIT 1"

func (s *SQLiteStore) GetLastRefreshEvent() (*deck.RefreshEvent, error) {
	ev, err := scanRefreshEvent(s.db.QueryRow(lastRefreshQuery))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding last refresh event: %w", err)
	}
	return ev, nil
}

func (s *SQLiteStore) ListRecentRefreshEvents(limit int) ([]*deck.RefreshEvent, error) {
	rows, err := s.db.Query("SELECT id, created_at, kind, status, message FROM refresh_events ORDER BY created_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("listing refresh events: %w", err)
	}
	defer rows.Close()

	var events []*deck.RefreshEvent
	for rows.Next() {
		ev, err := scanRefreshEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning refresh event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) CanRefreshNow(cooldown time.Duration) (bool, *time.Time, error) {
	last, err := s.GetLastRefreshEvent()
	if err != nil {
		return false, nil, err
	}
	allowed, next := cooldownGate(last, cooldown, s.clock.Now())
	return allowed, next, nil
}

func cooldownGate(last *deck.RefreshEvent, cooldown time.Duration, now time.Time) (bool, *time.Time) {
	// Failures bypass the cooldown so a retry can start immediately.
	if last == nil || last.Status == deck.RefreshFailed {
		return true, nil
	}
	next := last.CreatedAt.Add(cooldown)
	return !now.Before(next), &next
}

func (s *SQLiteStore) ClaimRefresh(kind string, cooldown time.Duration) (bool, *time.Time, error) {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	last, err := scanRefreshEvent(tx.QueryRowContext(ctx, lastRefreshQuery))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, nil, fmt.Errorf("finding last refresh event: %w", err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		last = nil
	}

	now := s.clock.Now()
	allowed, next := cooldownGate(last, cooldown, now)
	if !allowed {
		return false, next, nil
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO refresh_events(created_at, kind, status, message) VALUES(?, ?, ?, ?)",
		formatTime(now), kind, deck.RefreshQueued, "refresh requested"); err != nil {
		return false, nil, fmt.Errorf("inserting refresh event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, nil, fmt.Errorf("committing transaction: %w", err)
	}
	return true, next, nil
}

// Retention

func (s *SQLiteStore) CleanupOld(retentionDays int) error {
	ctx := context.Background()
	cutoff := formatTime(s.clock.Now().AddDate(0, 0, -retentionDays))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	// Auto tasks cascade with their snapshot; manual tasks are detached first.
	statements := []string{
		"UPDATE tasks SET snapshot_id = NULL WHERE manual = 1 AND snapshot_id IN (SELECT id FROM snapshots WHERE created_at < ?)",
		"DELETE FROM snapshots WHERE created_at < ?",
		"DELETE FROM action_runs WHERE started_at < ?",
		"DELETE FROM skill_runs WHERE started_at < ?",
		"DELETE FROM refresh_events WHERE created_at < ?",
		"DELETE FROM tasks WHERE manual = 1 AND status = 'done' AND updated_at < ?",
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, cutoff); err != nil {
			return fmt.Errorf("cleanup %q: %w", stmt, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Path returns the database file path, or "" for wrapped connections.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// MigrationStatus reports the applied schema version.
func (s *SQLiteStore) MigrationStatus() (migrations.Status, error) {
	return migrations.ReadStatus(s.db)
}

// Schema returns the CREATE statements of the migrated schema, tables first,
// excluding SQLite internals and the migration table.
func (s *SQLiteStore) Schema() (string, error) {
	rows, err := s.db.Query(`
		SELECT sql || ';'
		FROM sqlite_master
		WHERE type IN ('table', 'index')
		  AND sql IS NOT NULL
		  AND name NOT LIKE 'sqlite_%'
		  AND tbl_name != 'schema_migrations'
		ORDER BY
		  CASE type WHEN 'table' THEN 1 WHEN 'index' THEN 2 END,
		  name`)
	if err != nil {
		return "", fmt.Errorf("querying schema: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return "", fmt.Errorf("scanning schema: %w", err)
		}
		b.WriteString(stmt)
		b.WriteString("\n\n")
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterating schema: %w", err)
	}
	return b.String(), nil
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteStore) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
