// Package discover builds the software inventory for a project root.
package discover

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/phobologic/pyrelate/internal/filetype"
	"github.com/phobologic/pyrelate/internal/model"
)

// idNamespace scopes the name-based UUIDs assigned to inventory entries.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/phobologic/pyrelate"))

// FileEntry represents a discovered file.
type FileEntry struct {
	Path     string // Relative to repo root, slash-separated
	FileType string
}

var skipDirs = map[string]struct{}{
	"__pycache__":   {},
	"node_modules":  {},
	".git":          {},
	".hg":           {},
	".svn":          {},
	"venv":          {},
	".venv":         {},
	"env":           {},
	".env":          {},
	"build":         {},
	"dist":          {},
	".tox":          {},
	".mypy_cache":   {},
	".ruff_cache":   {},
	".pytest_cache": {},
	".nox":          {},
}

// Files discovers files under root that the extractor can analyze.
func Files(root string) ([]FileEntry, error) {
	gitFiles := gitLsFiles(root)
	var gi *ignore.GitIgnore
	if gitFiles == nil {
		gi = loadGitignore(root)
	}

	var results []FileEntry

	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip errors
		}

		name := d.Name()

		if d.IsDir() {
			if p == root {
				return nil
			}
			if _, skip := skipDirs[name]; skip || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".egg-info") {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(name, ".") {
			return nil
		}

		// Skip symlinks
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}

		if gitFiles != nil {
			if _, ok := gitFiles[rel]; !ok {
				return nil
			}
		} else if gi != nil && gi.MatchesPath(rel) {
			return nil
		}

		ft := filetype.Identify(p)
		if !filetype.Extractable(ft) {
			return nil
		}

		results = append(results, FileEntry{Path: filepath.ToSlash(rel), FileType: ft})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Path < results[j].Path
	})

	return results, nil
}

// Inventory discovers files under root and merges byte-identical files
// into one SourceFile whose InstallPaths lists every location. Install
// paths are prefixed with installPrefix when it is non-empty.
func Inventory(root, installPrefix string) ([]model.SourceFile, error) {
	entries, err := Files(root)
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	byHash := make(map[string]*model.SourceFile)
	var order []string
	for _, e := range entries {
		sum, err := hashFile(filepath.Join(root, filepath.FromSlash(e.Path)))
		if err != nil {
			return nil, err
		}
		installPath := e.Path
		if installPrefix != "" {
			installPath = path.Join(installPrefix, e.Path)
		}

		sf, ok := byHash[sum]
		if !ok {
			sf = &model.SourceFile{
				ID:         uuid.NewSHA1(idNamespace, []byte(sum)).String(),
				SHA256:     sum,
				FileType:   e.FileType,
				SourcePath: filepath.Join(root, filepath.FromSlash(e.Path)),
			}
			byHash[sum] = sf
			order = append(order, sum)
		}
		sf.InstallPaths = append(sf.InstallPaths, installPath)
	}

	files := make([]model.SourceFile, 0, len(order))
	for _, sum := range order {
		files = append(files, *byHash[sum])
	}
	return files, nil
}

func hashFile(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", p, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", p, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func gitLsFiles(root string) map[string]struct{} {
	gitDir := filepath.Join(root, ".git")
	info, err := os.Stat(gitDir)
	if err != nil || !info.IsDir() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return nil
	}

	files := make(map[string]struct{})
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line != "" {
			files[filepath.FromSlash(line)] = struct{}{}
		}
	}
	return files
}

func loadGitignore(root string) *ignore.GitIgnore {
	p := filepath.Join(root, ".gitignore")
	gi, err := ignore.CompileIgnoreFile(p)
	if err != nil {
		return nil
	}
	return gi
}
