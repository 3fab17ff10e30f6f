package anacrolix

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/anacrolix/torrent"
)

// contentPaths lists the torrent's files relative to its save path. It is
// empty until metadata is available.
func contentPaths(t *torrent.Torrent) []string {
	if !torrentInfoReady(t) {
		return nil
	}
	files := t.Files()
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path())
	}
	return paths
}

// removeContent deletes files below baseDir and then any directories left
// empty by that. Paths escaping baseDir are rejected.
func removeContent(baseDir string, files []string) error {
	if strings.TrimSpace(baseDir) == "" {
		return errors.New("save path not configured")
	}

	baseAbs, err := filepath.Abs(baseDir)
	if err != nil {
		return err
	}
	baseAbs = filepath.Clean(baseAbs)

	dirs := make(map[string]struct{})
	for _, file := range files {
		if strings.TrimSpace(file) == "" || filepath.IsAbs(file) {
			return errors.New("invalid file path")
		}
		fullPath := filepath.Clean(filepath.Join(baseAbs, filepath.FromSlash(file)))
		if !strings.HasPrefix(fullPath, baseAbs+string(os.PathSeparator)) {
			return errors.New("invalid file path")
		}

		if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
			return err
		}
		for dir := filepath.Dir(fullPath); dir != baseAbs && strings.HasPrefix(dir, baseAbs); dir = filepath.Dir(dir) {
			dirs[dir] = struct{}{}
		}
	}

	// Deepest first so parents are empty by the time they are tried.
	ordered := make([]string, 0, len(dirs))
	for dir := range dirs {
		ordered = append(ordered, dir)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return strings.Count(ordered[i], string(os.PathSeparator)) > strings.Count(ordered[j], string(os.PathSeparator))
	})
	for _, dir := range ordered {
		_ = os.Remove(dir) // fails harmlessly when not empty
	}
	return nil
}
