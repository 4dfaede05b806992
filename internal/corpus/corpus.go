package corpus

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"audio-annotator/internal/models"
)

// ErrNotFound reports that the corpus directory is empty, missing or not a
// directory. Callers treat it as an empty corpus rather than a failure.
var ErrNotFound = errors.New("corpus directory not found")

// Load lists the audio files directly inside dir whose extension is in
// allowed (compared case-insensitively) and returns them sorted by full path.
// Subdirectories are not descended into.
func Load(dir string, allowed []string) ([]models.CorpusEntry, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, ErrNotFound
	}

	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return nil, fmt.Errorf("stat corpus directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNotFound, dir)
	}

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read corpus directory: %w", err)
	}

	exts := allowedSet(allowed)
	paths := make([]string, 0, len(dirEntries))
	for _, d := range dirEntries {
		if d.IsDir() {
			continue
		}
		if _, ok := exts[strings.ToLower(filepath.Ext(d.Name()))]; !ok {
			continue
		}
		paths = append(paths, filepath.Join(dir, d.Name()))
	}

	sort.Strings(paths)

	entries := make([]models.CorpusEntry, len(paths))
	for i, p := range paths {
		entries[i] = models.CorpusEntry{Path: p}
	}
	return entries, nil
}

// IsAllowed reports whether path carries one of the allowed extensions.
func IsAllowed(path string, allowed []string) bool {
	_, ok := allowedSet(allowed)[strings.ToLower(filepath.Ext(path))]
	return ok
}

func allowedSet(allowed []string) map[string]struct{} {
	set := make(map[string]struct{}, len(allowed))
	for _, ext := range allowed {
		set[strings.ToLower(ext)] = struct{}{}
	}
	return set
}
