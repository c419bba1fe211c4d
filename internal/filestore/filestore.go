// Package filestore keeps uploaded log files on local disk.
//
// Each file lives at <dir>/<user>/<id>.data next to a <id>.json sidecar
// holding its metadata, so lookups by (user, id) are a single path join.
// User ids are restricted to a safe charset (see [ValidUserID]) and file ids
// are uuids, so no path can leave the base directory.
package filestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no file exists for (user, id).
	ErrNotFound = errors.New("file not found")

	// ErrTooLarge is returned by Put when the content exceeds the size limit.
	ErrTooLarge = errors.New("file too large")

	// ErrInvalidUser is returned for user ids rejected by ValidUserID.
	ErrInvalidUser = errors.New("invalid user id")
)

const maxUserIDLen = 128

// ValidUserID reports whether id can name a user directory: 1 to 128
// letters, digits, '-', '_', '.' or '@', starting with a letter or digit.
func ValidUserID(id string) error {
	if id == "" || len(id) > maxUserIDLen {
		return fmt.Errorf("%w: length must be 1-%d", ErrInvalidUser, maxUserIDLen)
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case i > 0 && (c == '-' || c == '_' || c == '.' || c == '@'):
		default:
			return fmt.Errorf("%w: %q", ErrInvalidUser, id)
		}
	}
	return nil
}

// FileInfo is the metadata recorded for a stored file.
type FileInfo struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Name        string    `json:"fileName"`
	Size        int64     `json:"fileSize"`
	ContentType string    `json:"fileType"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// Store is a directory of uploaded files.
type Store struct {
	dir     string
	maxSize int64
}

// New creates the base directory if needed. maxSize <= 0 disables the limit.
func New(dir string, maxSize int64) (*Store, error) {
	if dir == "" {
		return nil, errors.New("filestore: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &Store{dir: dir, maxSize: maxSize}, nil
}

// Put copies r to disk under a new id and returns its metadata.
func (s *Store) Put(userID, name string, r io.Reader) (FileInfo, error) {
	if err := ValidUserID(userID); err != nil {
		return FileInfo{}, err
	}
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" {
		return FileInfo{}, errors.New("filestore: empty file name")
	}

	userDir := s.userDir(userID)
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return FileInfo{}, fmt.Errorf("create user directory: %w", err)
	}

	info := FileInfo{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        name,
		ContentType: ContentTypeFor(name),
		UploadedAt:  time.Now().UTC(),
	}

	tmp, err := os.CreateTemp(userDir, ".upload-*")
	if err != nil {
		return FileInfo{}, fmt.Errorf("create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	src := r
	if s.maxSize > 0 {
		src = io.LimitReader(r, s.maxSize+1)
	}
	n, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return FileInfo{}, fmt.Errorf("write file: %w", err)
	}
	if s.maxSize > 0 && n > s.maxSize {
		return FileInfo{}, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, s.maxSize)
	}
	info.Size = n

	meta, err := json.Marshal(info)
	if err != nil {
		return FileInfo{}, fmt.Errorf("encode file info: %w", err)
	}
	if err := os.WriteFile(s.metaPath(userID, info.ID), meta, 0o644); err != nil {
		return FileInfo{}, fmt.Errorf("write file info: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.dataPath(userID, info.ID)); err != nil {
		os.Remove(s.metaPath(userID, info.ID))
		return FileInfo{}, fmt.Errorf("store file: %w", err)
	}

	return info, nil
}

// Stat returns the metadata of a stored file.
func (s *Store) Stat(userID, id string) (FileInfo, error) {
	if err := checkKey(userID, id); err != nil {
		return FileInfo{}, err
	}
	b, err := os.ReadFile(s.metaPath(userID, id))
	if errors.Is(err, os.ErrNotExist) {
		return FileInfo{}, ErrNotFound
	}
	if err != nil {
		return FileInfo{}, fmt.Errorf("read file info: %w", err)
	}
	var info FileInfo
	if err := json.Unmarshal(b, &info); err != nil {
		return FileInfo{}, fmt.Errorf("decode file info %s: %w", id, err)
	}
	return info, nil
}

// Open returns a reader over the stored content. The caller closes it.
func (s *Store) Open(userID, id string) (io.ReadCloser, error) {
	if err := checkKey(userID, id); err != nil {
		return nil, err
	}
	f, err := os.Open(s.dataPath(userID, id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// Delete removes a stored file and its metadata.
func (s *Store) Delete(userID, id string) error {
	if err := checkKey(userID, id); err != nil {
		return err
	}
	err := os.Remove(s.dataPath(userID, id))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if err := os.Remove(s.metaPath(userID, id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete file info: %w", err)
	}
	return nil
}

func (s *Store) userDir(userID string) string {
	return filepath.Join(s.dir, userID)
}

func (s *Store) dataPath(userID, id string) string {
	return filepath.Join(s.userDir(userID), id+".data")
}

func (s *Store) metaPath(userID, id string) string {
	return filepath.Join(s.userDir(userID), id+".json")
}

// checkKey reports ErrNotFound for keys that cannot name a stored file.
func checkKey(userID, id string) error {
	if ValidUserID(userID) != nil {
		return ErrNotFound
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	return nil
}

// ContentTypeFor guesses a MIME type from the file extension.
func ContentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "text/csv"
	case ".xls":
		return "application/vnd.ms-excel"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".txt", ".log":
		return "text/plain"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
