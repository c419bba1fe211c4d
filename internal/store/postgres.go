package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgx used by the Postgres store.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

const createReportsTable = `
CREATE TABLE IF NOT EXISTS log_reports (
    user_id      TEXT        NOT NULL,
    file_id      TEXT        NOT NULL,
    file_name    TEXT        NOT NULL,
    processed_at TIMESTAMPTZ NOT NULL,
    report       JSONB       NOT NULL,
    PRIMARY KEY (user_id, file_id)
)`

const upsertReport = `
INSERT INTO log_reports (user_id, file_id, file_name, processed_at, report)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id, file_id) DO UPDATE
SET file_name = EXCLUDED.file_name,
    processed_at = EXCLUDED.processed_at,
    report = EXCLUDED.report`

const reportExists = `SELECT EXISTS (SELECT 1 FROM log_reports WHERE user_id = $1 AND file_id = $2)`

const selectReport = `SELECT report FROM log_reports WHERE user_id = $1 AND file_id = $2`

const deleteReport = `DELETE FROM log_reports WHERE user_id = $1 AND file_id = $2`

// Postgres stores reports in the log_reports table.
type Postgres struct {
	db DBTX
}

// NewPostgres returns a store using db. Call EnsureSchema before first use.
func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the log_reports table if it does not exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createReportsTable); err != nil {
		return fmt.Errorf("create log_reports: %w", err)
	}
	return nil
}

func (s *Postgres) Exists(ctx context.Context, userID, fileID string) (bool, error) {
	if err := validateKey(userID, fileID); err != nil {
		return false, err
	}
	var ok bool
	if err := s.db.QueryRow(ctx, reportExists, userID, fileID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check report %s/%s: %w", userID, fileID, err)
	}
	return ok, nil
}

func (s *Postgres) Save(ctx context.Context, r *Report) error {
	if err := validateKey(r.UserID, r.FileID); err != nil {
		return err
	}
	b, err := Encode(r)
	if err != nil {
		return err
	}
	// timestamptz keeps microseconds
	at := r.ProcessedAt.UTC().Truncate(time.Microsecond)
	if _, err := s.db.Exec(ctx, upsertReport, r.UserID, r.FileID, r.FileName, at, b); err != nil {
		return fmt.Errorf("save report %s/%s: %w", r.UserID, r.FileID, err)
	}
	return nil
}

func (s *Postgres) Load(ctx context.Context, userID, fileID string) (*Report, error) {
	if err := validateKey(userID, fileID); err != nil {
		return nil, err
	}
	var b []byte
	err := s.db.QueryRow(ctx, selectReport, userID, fileID).Scan(&b)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load report %s/%s: %w", userID, fileID, err)
	}
	return Decode(b)
}

func (s *Postgres) Delete(ctx context.Context, userID, fileID string) error {
	if err := validateKey(userID, fileID); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, deleteReport, userID, fileID); err != nil {
		return fmt.Errorf("delete report %s/%s: %w", userID, fileID, err)
	}
	return nil
}
