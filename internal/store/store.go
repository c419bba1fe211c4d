// Package store persists finalized log summaries keyed by (user, file).
//
// Every backend implements [ResultStore]. Saves are upserts, so
// reprocessing a file replaces its report. [ResultStore.Exists] answers
// "has this file been processed" without decoding the report. Deletes are
// idempotent: removing a missing report is not an error.
//
// Backends:
//
//   - [Postgres]: a log_reports table over pgx
//   - [KV]: a luxfi/database key-value store (badger on disk, or memdb)
//   - [SQLite]: a gorm model on an embedded SQLite file
package store

import (
	"context"
	"errors"
	"time"

	"github.com/JonMunkholm/bidlog/internal/logparse"
)

// ErrNotFound is returned by Load when no report exists for the key.
var ErrNotFound = errors.New("analysis result not found")

// Report is a stored analysis of one uploaded file.
type Report struct {
	FileID      string            `json:"fileId"`
	UserID      string            `json:"userId"`
	FileName    string            `json:"fileName"`
	ProcessedAt time.Time         `json:"processedAt"`
	Summary     *logparse.Summary `json:"summary"`
}

// ResultStore is the persistence boundary of the analysis service.
type ResultStore interface {
	Exists(ctx context.Context, userID, fileID string) (bool, error)
	Save(ctx context.Context, r *Report) error
	Load(ctx context.Context, userID, fileID string) (*Report, error)
	Delete(ctx context.Context, userID, fileID string) error
}

func validateKey(userID, fileID string) error {
	if userID == "" {
		return errors.New("store: empty user id")
	}
	if fileID == "" {
		return errors.New("store: empty file id")
	}
	return nil
}
