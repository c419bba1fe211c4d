package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// reportRow is the gorm model of a stored report.
type reportRow struct {
	UserID      string `gorm:"primaryKey"`
	FileID      string `gorm:"primaryKey"`
	FileName    string
	ProcessedAt time.Time
	Payload     []byte
}

func (reportRow) TableName() string { return "log_reports" }

// SQLite stores reports in an embedded SQLite database through gorm.
type SQLite struct {
	db *gorm.DB
}

// OpenSQLite opens the database at dsn and migrates the log_reports table.
func OpenSQLite(dsn string) (*SQLite, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if err := db.AutoMigrate(&reportRow{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite store: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Exists(ctx context.Context, userID, fileID string) (bool, error) {
	if err := validateKey(userID, fileID); err != nil {
		return false, err
	}
	var n int64
	err := s.db.WithContext(ctx).
		Model(&reportRow{}).
		Where("user_id = ? AND file_id = ?", userID, fileID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check report %s/%s: %w", userID, fileID, err)
	}
	return n > 0, nil
}

func (s *SQLite) Save(ctx context.Context, r *Report) error {
	if err := validateKey(r.UserID, r.FileID); err != nil {
		return err
	}
	b, err := Encode(r)
	if err != nil {
		return err
	}
	row := reportRow{
		UserID:      r.UserID,
		FileID:      r.FileID,
		FileName:    r.FileName,
		ProcessedAt: r.ProcessedAt,
		Payload:     b,
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "file_id"}},
			UpdateAll: true,
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save report %s/%s: %w", r.UserID, r.FileID, err)
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context, userID, fileID string) (*Report, error) {
	if err := validateKey(userID, fileID); err != nil {
		return nil, err
	}
	var row reportRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND file_id = ?", userID, fileID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load report %s/%s: %w", userID, fileID, err)
	}
	return Decode(row.Payload)
}

func (s *SQLite) Delete(ctx context.Context, userID, fileID string) error {
	if err := validateKey(userID, fileID); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND file_id = ?", userID, fileID).
		Delete(&reportRow{}).Error
	if err != nil {
		return fmt.Errorf("delete report %s/%s: %w", userID, fileID, err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
