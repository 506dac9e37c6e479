// Package classify decides whether an imported Python module is part of the
// analyzed project, the standard library or a third-party distribution.
package classify

import (
	"bufio"
	_ "embed"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/phobologic/pyrelate/internal/model"
)

//go:embed stdlib.txt
var stdlibList string

var stdlibModules = func() map[string]struct{} {
	m := make(map[string]struct{})
	sc := bufio.NewScanner(strings.NewReader(stdlibList))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m[line] = struct{}{}
	}
	return m
}()

// Classifier maps a dotted module name to its origin and a human-readable
// reason for the decision.
type Classifier interface {
	Classify(module string) (model.Origin, string)
}

// Options configures a ProjectClassifier.
type Options struct {
	Root            string
	KnownFirstParty []string
	KnownThirdParty []string
	// Manifest adds names from pyproject.toml. Explicit options win.
	Manifest *Manifest
}

// ProjectClassifier classifies modules relative to one project root.
// It is safe for concurrent use.
type ProjectClassifier struct {
	root       string
	firstParty []string
	thirdParty []string
	// located caches filesystem lookups by top-level module name.
	located sync.Map
}

// New creates a classifier for opts.Root.
func New(opts Options) *ProjectClassifier {
	c := &ProjectClassifier{
		root:       opts.Root,
		firstParty: normalize(slices.Concat(opts.KnownFirstParty, opts.Manifest.FirstParty())),
		thirdParty: normalize(slices.Concat(opts.KnownThirdParty, opts.Manifest.ThirdParty())),
	}
	return c
}

func normalize(names []string) []string {
	var out []string
	for _, n := range names {
		n = strings.Trim(strings.TrimSpace(n), ".")
		if n != "" {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// Classify implements Classifier.
func (c *ProjectClassifier) Classify(module string) (model.Origin, string) {
	if strings.HasPrefix(module, ".") {
		return model.FirstParty, "Relative import"
	}
	if !validModule(module) {
		return model.Unknown, "Invalid module name"
	}
	if module == "__future__" {
		return model.Stdlib, "Future import"
	}
	if k, ok := matchKnown(c.firstParty, module); ok {
		return model.FirstParty, "Matched known_first_party: " + k
	}
	if k, ok := matchKnown(c.thirdParty, module); ok {
		return model.ThirdParty, "Matched known_third_party: " + k
	}

	top, _, _ := strings.Cut(module, ".")
	if _, ok := stdlibModules[top]; ok {
		return model.Stdlib, "Standard library module: " + top
	}
	if p := c.locate(top); p != "" {
		return model.FirstParty, "Found in project root: " + p
	}
	return model.ThirdParty, "Default section"
}

func matchKnown(known []string, module string) (string, bool) {
	for _, k := range known {
		if module == k || strings.HasPrefix(module, k+".") {
			return k, true
		}
	}
	return "", false
}

// locate returns the project-relative path that provides the top-level
// module, or "" if none does.
func (c *ProjectClassifier) locate(top string) string {
	if c.root == "" {
		return ""
	}
	if v, ok := c.located.Load(top); ok {
		return v.(string)
	}
	found := ""
	for _, rel := range []string{
		top + ".py",
		top,
		filepath.Join("src", top+".py"),
		filepath.Join("src", top),
	} {
		if _, err := os.Stat(filepath.Join(c.root, rel)); err == nil {
			found = filepath.ToSlash(rel)
			break
		}
	}
	c.located.Store(top, found)
	return found
}

func validModule(module string) bool {
	if module == "" {
		return false
	}
	for _, seg := range strings.Split(module, ".") {
		if seg == "" {
			return false
		}
		for i, r := range seg {
			isLetter := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r > 127
			if !isLetter && (i == 0 || r < '0' || r > '9') {
				return false
			}
		}
	}
	return true
}
