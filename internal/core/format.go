package core

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned for files the log parser cannot read.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// SupportedExtension is the only extension accepted for analysis.
const SupportedExtension = ".csv"

// CheckFormat rejects any file whose extension is not .csv (any case).
// Uploads of other types are stored but fail here before parsing starts.
func CheckFormat(fileName string) error {
	ext := filepath.Ext(fileName)
	if !strings.EqualFold(ext, SupportedExtension) {
		if ext == "" {
			ext = "(none)"
		}
		return fmt.Errorf("%w: %s has extension %s, want %s", ErrUnsupportedFormat, fileName, ext, SupportedExtension)
	}
	return nil
}
