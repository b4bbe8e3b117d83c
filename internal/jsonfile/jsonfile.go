// Package jsonfile reads and writes whole JSON documents on disk.
//
// Writes go through a temp file in the same directory followed by a rename,
// so readers never observe a truncated document after a crash.
package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio"
)

// ErrNotFound is returned by Load when the document does not exist.
var ErrNotFound = errors.New("document not found")

// DefaultPerm is the file mode used for state documents.
const DefaultPerm os.FileMode = 0600

// Load decodes the JSON document at path into v.
// Returns ErrNotFound if the file does not exist.
func Load(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// Save encodes v as indented JSON and atomically replaces path.
func Save(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := renameio.WriteFile(path, data, DefaultPerm); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
