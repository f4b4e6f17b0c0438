package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MimeLyc/translation-orchestrator/internal/apperr"
	"github.com/MimeLyc/translation-orchestrator/internal/config"
	"github.com/MimeLyc/translation-orchestrator/internal/groundtruth"
	"github.com/MimeLyc/translation-orchestrator/internal/jobs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore keeps every record in one SQLite database. Each save is a
// single statement or transaction, so readers never see a partial record.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Driver() string { return config.StoreDriverSQLite }

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA synchronous = FULL;"); err != nil {
		return fmt.Errorf("set synchronous: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		// embed.FS paths always use forward slashes
		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) SaveJob(ctx context.Context, job *jobs.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.JobID, err)
	}
	summary, err := json.Marshal(job.Summary())
	if err != nil {
		return fmt.Errorf("encode job summary %s: %w", job.JobID, err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (id, file_id, status, created_at_ns, updated_at_ns, summary_json, payload_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			file_id=excluded.file_id,
			status=excluded.status,
			updated_at_ns=excluded.updated_at_ns,
			summary_json=excluded.summary_json,
			payload_json=excluded.payload_json`,
		job.JobID,
		job.FileID,
		string(job.Status),
		job.CreatedAt.UnixNano(),
		job.UpdatedAt.UnixNano(),
		string(summary),
		string(payload),
	)
	return err
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload_json FROM jobs WHERE id = ?`, jobID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("job %s not found", jobID)
		}
		return nil, err
	}
	var job jobs.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return &job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context) ([]jobs.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT summary_json FROM jobs ORDER BY created_at_ns DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]jobs.Summary, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var item jobs.Summary
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, fmt.Errorf("decode job summary: %w", err)
		}
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) SaveRecord(ctx context.Context, record *groundtruth.Record) error {
	if record == nil {
		return fmt.Errorf("ground truth record is nil")
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode ground truth %s: %w", record.EvaluationID, err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO ground_truth (evaluation_id, job_id, file_id, created_at_ns, payload_json)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(evaluation_id) DO UPDATE SET
			job_id=excluded.job_id,
			file_id=excluded.file_id,
			created_at_ns=excluded.created_at_ns,
			payload_json=excluded.payload_json`,
		record.EvaluationID,
		record.JobID,
		record.FileID,
		record.CreatedAt.UnixNano(),
		string(payload),
	)
	return err
}

func (s *SQLiteStore) GetRecord(ctx context.Context, evaluationID string) (*groundtruth.Record, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload_json FROM ground_truth WHERE evaluation_id = ?`, evaluationID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("ground truth record %s not found", evaluationID)
		}
		return nil, err
	}
	var record groundtruth.Record
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, fmt.Errorf("decode ground truth %s: %w", evaluationID, err)
	}
	return &record, nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context, fileID string, limit int) ([]*groundtruth.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	var (
		rows *sql.Rows
		err  error
	)
	if fileID != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT payload_json FROM ground_truth WHERE file_id = ? ORDER BY created_at_ns DESC, evaluation_id DESC LIMIT ?`,
			fileID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT payload_json FROM ground_truth ORDER BY created_at_ns DESC, evaluation_id DESC LIMIT ?`,
			limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*groundtruth.Record, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var record groundtruth.Record
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("decode ground truth: %w", err)
		}
		ret = append(ret, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) AddCorrection(ctx context.Context, c groundtruth.Correction) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO ground_truth_corrections (id, evaluation_id, segment_id, text, editor, notes, created_at_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.EvaluationID, c.SegmentID, c.Text, c.Editor, c.Notes, c.CreatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) ListCorrections(ctx context.Context, evaluationID string) ([]groundtruth.Correction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, evaluation_id, segment_id, text, editor, notes, created_at_ns
		 FROM ground_truth_corrections
		 WHERE evaluation_id = ?
		 ORDER BY seq ASC`,
		evaluationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]groundtruth.Correction, 0)
	for rows.Next() {
		var c groundtruth.Correction
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.EvaluationID, &c.SegmentID, &c.Text, &c.Editor, &c.Notes, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt = time.Unix(0, createdAt).UTC()
		ret = append(ret, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) LoadSettings(ctx context.Context) (*config.Snapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload_json FROM settings WHERE id = 1`).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var snapshot config.Snapshot
	if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return &snapshot, nil
}

// SaveSettings writes the snapshot and its change log entry in one transaction.
func (s *SQLiteStore) SaveSettings(ctx context.Context, snapshot *config.Snapshot, entry config.ChangeLogEntry) (err error) {
	if snapshot == nil {
		return fmt.Errorf("settings snapshot is nil")
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO settings (id, version, payload_json, updated_at_ns) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			version=excluded.version,
			payload_json=excluded.payload_json,
			updated_at_ns=excluded.updated_at_ns`,
		snapshot.Version, string(payload), snapshot.UpdatedAt.UnixNano(),
	); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO config_changelog (id, actor, action, diff_summary, created_at_ns) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.Actor, entry.Action, entry.DiffSummary, entry.Timestamp.UnixNano(),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListChangeLog(ctx context.Context, limit int) ([]config.ChangeLogEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor, action, diff_summary, created_at_ns FROM config_changelog ORDER BY seq DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]config.ChangeLogEntry, 0)
	for rows.Next() {
		var e config.ChangeLogEntry
		var ts int64
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.DiffSummary, &ts); err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		ret = append(ret, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}
