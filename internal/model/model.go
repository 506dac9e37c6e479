// Package model defines core data structures for pyrelate.
package model

import (
	"maps"
	"path"
	"slices"
	"sort"
	"strings"
)

// Origin classifies where an imported module comes from.
type Origin string

const (
	FirstParty Origin = "first-party"
	ThirdParty Origin = "third-party"
	Stdlib     Origin = "stdlib"
	Unknown    Origin = "unknown"
)

// RelationshipKind is the type of edge between two files.
type RelationshipKind string

// Uses means the consumer imports something the producer provides.
const Uses RelationshipKind = "Uses"

// File type tags assigned by the file-type identifier.
const (
	FileTypePython         = "PYTHON"
	FileTypePythonManifest = "PYTHON_MANIFEST"
	FileTypeUnknown        = "UNKNOWN"
)

// InitFileName is the package initializer file name.
const InitFileName = "__init__.py"

// ImportInfo describes one imported module of a file.
type ImportInfo struct {
	// Symbols pulled from the module, in source order. Empty for
	// whole-module and wildcard imports.
	Symbols []string
	Origin  Origin
	Reason  string
}

// FactRecord holds the statically extracted facts of one Python file.
type FactRecord struct {
	Imports        map[string]ImportInfo
	DefinedSymbols []string
	ReExports      map[string]string
	// Aliases maps a name bound by "from m import name as alias" to the
	// name it has in m. Nil when the file has no such imports.
	Aliases map[string]string
}

// NewFactRecord returns a FactRecord with empty, non-nil collections.
func NewFactRecord() FactRecord {
	return FactRecord{
		Imports:        map[string]ImportInfo{},
		DefinedSymbols: []string{},
		ReExports:      map[string]string{},
	}
}

// Defines reports whether name is bound at module top level.
func (f *FactRecord) Defines(name string) bool {
	_, found := slices.BinarySearch(f.DefinedSymbols, name)
	return found
}

// DefinesAll reports whether every name is defined. Vacuously true for none.
func (f *FactRecord) DefinesAll(names []string) bool {
	for _, n := range names {
		if !f.Defines(n) {
			return false
		}
	}
	return true
}

// SourceName returns the name sym has in the module it was imported from.
func (f *FactRecord) SourceName(sym string) string {
	if src, ok := f.Aliases[sym]; ok {
		return src
	}
	return sym
}

// ImportedModules returns the import keys in sorted order.
func (f *FactRecord) ImportedModules() []string {
	keys := make([]string, 0, len(f.Imports))
	for k := range f.Imports {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy with DefinedSymbols sorted and deduplicated.
func (f *FactRecord) Clone() *FactRecord {
	c := NewFactRecord()
	for k, v := range f.Imports {
		v.Symbols = slices.Clone(v.Symbols)
		c.Imports[k] = v
	}
	c.DefinedSymbols = append(c.DefinedSymbols, f.DefinedSymbols...)
	sort.Strings(c.DefinedSymbols)
	c.DefinedSymbols = slices.Compact(c.DefinedSymbols)
	for k, v := range f.ReExports {
		c.ReExports[k] = v
	}
	if f.Aliases != nil {
		c.Aliases = maps.Clone(f.Aliases)
	}
	return &c
}

// SourceFile is one entry of the software inventory.
type SourceFile struct {
	ID string
	// InstallPaths are slash-separated locations of identical content.
	InstallPaths []string
	SHA256       string
	FileType     string
	// SourcePath is the on-disk location the facts were read from.
	SourcePath string
	// Facts is nil until the extractor has analyzed the file.
	Facts *FactRecord
}

// Relationship is a directed edge: Consumer uses Producer.
type Relationship struct {
	Consumer string
	Producer string
	Kind     RelationshipKind
}

// ModulePath converts an install path into a dotted module name:
// "pkg/sub/mod.py" becomes "pkg.sub.mod".
func ModulePath(installPath string) string {
	p := strings.ReplaceAll(installPath, `\`, "/")
	p = strings.TrimSuffix(p, path.Ext(p))
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" && s != "." {
			segs = append(segs, s)
		}
	}
	return strings.Join(segs, ".")
}

// PackagePath is the ModulePath without its final segment.
func PackagePath(installPath string) string {
	mp := ModulePath(installPath)
	if i := strings.LastIndexByte(mp, '.'); i >= 0 {
		return mp[:i]
	}
	return ""
}

// HasDottedSuffix reports whether name is a whole-segment suffix of dotted.
// "a.pkg.mod" has the dotted suffix "pkg.mod" but not "kg.mod".
func HasDottedSuffix(dotted, name string) bool {
	if name == "" {
		return false
	}
	return dotted == name || strings.HasSuffix(dotted, "."+name)
}

// IsInitFile reports whether the install path names a package initializer.
func IsInitFile(installPath string) bool {
	return path.Base(strings.ReplaceAll(installPath, `\`, "/")) == InitFileName
}

// Snapshot is the immutable inventory handed to the resolver. It can only
// be built from files whose extraction phase has completed.
type Snapshot struct {
	files []*SourceFile
	byID  map[string]*SourceFile
}

// NewSnapshot deep-copies files and orders them by first install path.
func NewSnapshot(files []SourceFile) *Snapshot {
	s := &Snapshot{byID: make(map[string]*SourceFile, len(files))}
	for i := range files {
		f := files[i]
		f.InstallPaths = slices.Clone(f.InstallPaths)
		sort.Strings(f.InstallPaths)
		if f.Facts != nil {
			f.Facts = f.Facts.Clone()
		}
		s.files = append(s.files, &f)
		s.byID[f.ID] = &f
	}
	sort.Slice(s.files, func(i, j int) bool {
		return firstPath(s.files[i]) < firstPath(s.files[j])
	})
	return s
}

func firstPath(f *SourceFile) string {
	if len(f.InstallPaths) == 0 {
		return ""
	}
	return f.InstallPaths[0]
}

// Files returns the files in snapshot order. Callers must not modify them.
func (s *Snapshot) Files() []*SourceFile {
	return s.files
}

// File returns the file with the given ID.
func (s *Snapshot) File(id string) (*SourceFile, bool) {
	f, ok := s.byID[id]
	return f, ok
}

// Len returns the number of files.
func (s *Snapshot) Len() int {
	return len(s.files)
}
