// Package registry scans Jupyter runtime directories for kernel connection
// files.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"kd5/internal/common/fsutil"
	"kd5/internal/jupyter"
)

// Entry is one connection file found on disk.
type Entry struct {
	ID   string
	Path string
}

// LoadDir scans a directory for kernel-<id>.json files. Path is the
// absolute file path; ID is the <id> part of the name. A missing directory
// yields no entries.
func LoadDir(dir string) ([]Entry, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var out []Entry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := jupyter.KernelIDFromPath(e.Name())
		if !ok {
			continue
		}
		out = append(out, Entry{ID: id, Path: filepath.Join(abs, e.Name())})
	}
	return out, nil
}

// LoadDirs returns the union of LoadDir over dirs, deduplicated by id. The
// first directory that carries an id wins. Entries are sorted by id.
func LoadDirs(dirs []string) ([]Entry, error) {
	seen := make(map[string]bool)
	var out []Entry
	for _, d := range dirs {
		entries, err := LoadDir(d)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", d, err)
		}
		for _, e := range entries {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
