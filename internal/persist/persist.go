// Package persist provides the small on-disk persistence the relay needs:
// atomic JSON rewrites of the settings document and the shine set (§6
// "Persisted state"). Both write paths share the same temp-file-then-rename
// pattern the teacher uses for blob writes (internal/blob/store.go) so a
// crash mid-write never leaves a half-written file in the real path.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteJSON marshals v as indented JSON and atomically replaces path: it
// writes to a sibling temp file in the same directory, then renames over
// the target so a reader never observes a partial write.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", path, writeErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file for %s: %w", path, closeErr)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move %s into place: %w", path, err)
	}
	return nil
}

// ReadJSON unmarshals the JSON document at path into v. A missing file is
// reported as a plain *os.PathError so callers can fall back to a default
// with os.IsNotExist.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// ShineSet is the on-disk shape of the persisted shine set: a bare array
// of integers (§6 "a bare array of integers").
type ShineSet []int32

// WriteShines atomically writes ids to path in the bare-array shape.
func WriteShines(path string, ids []int32) error {
	return WriteJSON(path, ShineSet(ids))
}

// ReadShines loads the bare-array shine set from path. A missing file
// yields an empty set, not an error — PersistShines.Enabled may be turned
// on for a server that has never persisted before.
func ReadShines(path string) ([]int32, error) {
	var set ShineSet
	if err := ReadJSON(path, &set); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return set, nil
}
