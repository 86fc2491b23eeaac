package sftpmirror

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// LocalPath maps a remote directory to its place under localRoot.
// Only separators change: "/a/b/" under "R" becomes "R/a/b"
// ("R\a\b" on Windows).
func LocalPath(localRoot, remoteDir string) string {
	return filepath.Join(localRoot, filepath.FromSlash(remoteDir))
}

// ValidEntryName reports whether a name from a remote listing can be used
// as exactly one local path element.
func ValidEntryName(name string) bool {
	switch name {
	case "", ".", "..":
		return false
	}
	return !strings.ContainsRune(name, '/') && !strings.ContainsRune(name, filepath.Separator)
}

// withinRoot reports whether path is localRoot or lies below it.
func withinRoot(localRoot, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(localRoot), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// EnsureLocalSkeleton creates the local directory for every remote
// directory in dirs. Existing directories are left alone and no files are
// touched. A directory that would land outside localRoot is an error.
func EnsureLocalSkeleton(fs afero.Fs, localRoot string, dirs []string) error {
	for _, dir := range dirs {
		localDir := LocalPath(localRoot, dir)
		if !withinRoot(localRoot, localDir) {
			return fmt.Errorf("remote directory %s maps outside local root %s", dir, localRoot)
		}
		if err := fs.MkdirAll(localDir, 0o755); err != nil {
			return fmt.Errorf("failed to create local directory %s: %w", localDir, err)
		}
	}
	return nil
}
