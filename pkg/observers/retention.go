package observers

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// SweepResult summarises one retention pass over a directory.
type SweepResult struct {
	Scanned int
	Removed int
	Freed   int64
}

// Sweep deletes the regular files directly under dir that match selects and
// that were last modified before cutoff. A missing dir is not an error.
// Removal failures are collected and the sweep carries on.
func Sweep(dir string, cutoff time.Time, match func(name string) bool) (SweepResult, error) {
	var res SweepResult
	if dir == "" {
		return res, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, err
	}
	var errs error
	for _, entry := range entries {
		if !entry.Type().IsRegular() || (match != nil && !match(entry.Name())) {
			continue
		}
		res.Scanned++
		info, err := entry.Info()
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		res.Removed++
		res.Freed += info.Size()
	}
	return res, errs
}
