package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/richinsley/viewcomfy/results"
)

const schema = `
CREATE TABLE IF NOT EXISTS results (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	prompt_id   TEXT NOT NULL UNIQUE,
	status      TEXT NOT NULL,
	job_json    TEXT NOT NULL,
	recorded_at TEXT NOT NULL
);
`

type SQLiteArchive struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string) (*SQLiteArchive, error) {
	if path == "" {
		path = "viewcomfy.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteArchive{db: db}, nil
}

func (s *SQLiteArchive) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteArchive) Record(ctx context.Context, job *results.Job) (bool, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("encode job %s: %w", job.PromptID, err)
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO results(prompt_id, status, job_json, recorded_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(prompt_id) DO NOTHING
`, job.PromptID, string(job.Status), string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("insert result %s: %w", job.PromptID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteArchive) Get(ctx context.Context, promptID string) (*results.Job, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT job_json FROM results WHERE prompt_id = ?`, promptID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query result %s: %w", promptID, err)
	}
	return decodeJob(data)
}

func (s *SQLiteArchive) List(ctx context.Context, limit int) ([]*results.Job, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT job_json FROM results ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	jobs := make([]*results.Job, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		job, err := decodeJob(data)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func decodeJob(data string) (*results.Job, error) {
	job := &results.Job{}
	if err := json.Unmarshal([]byte(data), job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}
