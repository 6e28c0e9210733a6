// Package io holds small filesystem helpers shared by the archival tier.
package io

import (
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data via a temp file and rename so readers never
// observe a partially written object.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
