package store

import (
	"context"
	"fmt"
	"net/url"

	"github.com/luxfi/database"
	"github.com/luxfi/database/badgerdb"
	"github.com/luxfi/database/memdb"
)

const kvPrefix = "report/"

// KV stores reports as JSON values in a luxfi/database key-value store.
type KV struct {
	db database.Database
}

// NewKV wraps an open database.
func NewKV(db database.Database) *KV {
	return &KV{db: db}
}

// OpenBadger opens (or creates) a badger database at path.
func OpenBadger(path string) (*KV, error) {
	db, err := badgerdb.New(path, nil, "", nil)
	if err != nil {
		return nil, fmt.Errorf("open badger store at %s: %w", path, err)
	}
	return NewKV(db), nil
}

// NewMemory returns a KV backed by an in-process memdb. Contents are lost on exit.
func NewMemory() *KV {
	return NewKV(memdb.New())
}

func kvKey(userID, fileID string) []byte {
	return []byte(kvPrefix + url.PathEscape(userID) + "/" + url.PathEscape(fileID))
}

func (s *KV) Exists(ctx context.Context, userID, fileID string) (bool, error) {
	if err := validateKey(userID, fileID); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, err := s.db.Has(kvKey(userID, fileID))
	if err != nil {
		return false, fmt.Errorf("check report %s/%s: %w", userID, fileID, err)
	}
	return ok, nil
}

func (s *KV) Save(ctx context.Context, r *Report) error {
	if err := validateKey(r.UserID, r.FileID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := Encode(r)
	if err != nil {
		return err
	}
	if err := s.db.Put(kvKey(r.UserID, r.FileID), b); err != nil {
		return fmt.Errorf("save report %s/%s: %w", r.UserID, r.FileID, err)
	}
	return nil
}

func (s *KV) Load(ctx context.Context, userID, fileID string) (*Report, error) {
	ok, err := s.Exists(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	b, err := s.db.Get(kvKey(userID, fileID))
	if err != nil {
		return nil, fmt.Errorf("load report %s/%s: %w", userID, fileID, err)
	}
	return Decode(b)
}

func (s *KV) Delete(ctx context.Context, userID, fileID string) error {
	if err := validateKey(userID, fileID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Delete(kvKey(userID, fileID)); err != nil {
		return fmt.Errorf("delete report %s/%s: %w", userID, fileID, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *KV) Close() error {
	return s.db.Close()
}
