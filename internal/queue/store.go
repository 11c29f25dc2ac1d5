package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"mediamill/internal/config"
	"mediamill/internal/services"
)

// Store manages job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the job database and verifies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.LogDir, "queue.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Submit admits a new job, enforcing the pending-queue admission bound inside
// a single transaction so concurrent submitters cannot overshoot it. A
// rejected submission returns a backpressure error and creates no job.
func (s *Store) Submit(ctx context.Context, reference string, format Format, pendingLimit int) (*Job, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, services.Wrap(services.ErrPermanent, "queue", "submit", "reference must not be empty", nil)
	}
	if _, ok := ParseFormat(string(format)); !ok {
		return nil, services.Wrap(services.ErrPermanent, "queue", "submit", fmt.Sprintf("unknown output format %q", format), nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin submit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if pendingLimit > 0 {
		var pending int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE status = ?`, StatusPending).Scan(&pending); err != nil {
			return nil, fmt.Errorf("count pending jobs: %w", err)
		}
		if pending >= pendingLimit {
			return nil, services.Wrap(services.ErrBackpressure, "queue", "submit",
				fmt.Sprintf("pending queue is full (%d jobs)", pending), nil)
		}
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO jobs (reference, output_format, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)`,
		reference,
		string(format),
		StatusPending,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit submit: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier. Returns nil when the job is unknown.
func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Update persists changes to an existing job.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET reference = ?, output_format = ?, status = ?, attempts = ?,
             next_attempt_at = ?, error_message = ?, error_kind = ?,
             temp_path = ?, final_path = ?, progress_stage = ?,
             progress_percent = ?, progress_message = ?, bytes_fetched = ?,
             updated_at = ?, published_at = ?, last_heartbeat = ?,
             cancel_requested = ?
         WHERE id = ?`,
		job.Reference,
		string(job.OutputFormat),
		job.Status,
		job.Attempts,
		nullableTime(job.NextAttemptAt),
		nullableString(job.ErrorMessage),
		nullableString(job.ErrorKind),
		nullableString(job.TempPath),
		nullableString(job.FinalPath),
		nullableString(job.ProgressStage),
		job.ProgressPercent,
		nullableString(job.ProgressMessage),
		job.BytesFetched,
		job.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(job.PublishedAt),
		nullableTime(job.LastHeartbeat),
		boolToInt(job.CancelRequested),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// UpdateProgress persists only the progress fields, leaving state untouched.
func (s *Store) UpdateProgress(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET progress_stage = ?, progress_percent = ?, progress_message = ?,
             bytes_fetched = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(job.ProgressStage),
		job.ProgressPercent,
		nullableString(job.ProgressMessage),
		job.BytesFetched,
		now.Format(time.RFC3339Nano),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// UpdateHeartbeat refreshes the heartbeat timestamp for an in-flight job.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now,
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// List returns jobs filtered by status set (or all jobs when no status is
// provided), oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at, id`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountByStatus returns the number of jobs currently in the given status.
func (s *Store) CountByStatus(ctx context.Context, status Status) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE status = ?`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count by status: %w", err)
	}
	return count, nil
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates queue state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending, StatusAcquired:
			health.Pending += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		case StatusCancelled:
			health.Cancelled += count
		default:
			if _, ok := processingStatuses[status]; ok {
				health.Processing += count
			}
		}
	}
	return health, nil
}

// Remove deletes a job by identifier.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Clear removes all jobs from the queue.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs`)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return res.RowsAffected()
}

// ClearCompleted removes only completed jobs from the queue.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE status = ?`, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed removes only failed jobs from the queue.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE status = ?`, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return res.RowsAffected()
}

// DeleteTerminalBefore evicts terminal jobs whose last update is older than
// the cutoff, implementing the in-memory tracking retention window.
func (s *Store) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM jobs WHERE status IN (?, ?, ?) AND updated_at < ?`,
		StatusCompleted,
		StatusFailed,
		StatusCancelled,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("evict terminal jobs: %w", err)
	}
	return res.RowsAffected()
}

const jobColumns = "id, reference, output_format, status, attempts, next_attempt_at, error_message, error_kind, temp_path, final_path, progress_stage, progress_percent, progress_message, bytes_fetched, created_at, updated_at, published_at, last_heartbeat, cancel_requested"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id              int64
		reference       string
		formatStr       string
		statusStr       string
		attempts        int
		nextAttemptRaw  sql.NullString
		errorMessage    sql.NullString
		errorKind       sql.NullString
		tempPath        sql.NullString
		finalPath       sql.NullString
		progressStage   sql.NullString
		progressPercent sql.NullFloat64
		progressMessage sql.NullString
		bytesFetched    sql.NullInt64
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
		publishedRaw    sql.NullString
		heartbeatRaw    sql.NullString
		cancelRequested sql.NullInt64
	)

	if err := scanner.Scan(
		&id,
		&reference,
		&formatStr,
		&statusStr,
		&attempts,
		&nextAttemptRaw,
		&errorMessage,
		&errorKind,
		&tempPath,
		&finalPath,
		&progressStage,
		&progressPercent,
		&progressMessage,
		&bytesFetched,
		&createdRaw,
		&updatedRaw,
		&publishedRaw,
		&heartbeatRaw,
		&cancelRequested,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:              id,
		Reference:       reference,
		OutputFormat:    Format(formatStr),
		Status:          Status(statusStr),
		Attempts:        attempts,
		ErrorMessage:    errorMessage.String,
		ErrorKind:       errorKind.String,
		TempPath:        tempPath.String,
		FinalPath:       finalPath.String,
		ProgressStage:   progressStage.String,
		ProgressPercent: progressPercent.Float64,
		ProgressMessage: progressMessage.String,
		BytesFetched:    bytesFetched.Int64,
	}
	if cancelRequested.Valid {
		job.CancelRequested = cancelRequested.Int64 != 0
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	job.NextAttemptAt = parseNullableTime(nextAttemptRaw)
	job.PublishedAt = parseNullableTime(publishedRaw)
	job.LastHeartbeat = parseNullableTime(heartbeatRaw)
	return job, nil
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
