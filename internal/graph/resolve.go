// Package graph resolves first-party Python imports into "Uses"
// relationships between inventory files.
package graph

import (
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/phobologic/pyrelate/internal/model"
)

// Strategy names the rule that produced an edge.
type Strategy string

const (
	// StrategyDirect matched a module file whose definitions cover every
	// imported symbol.
	StrategyDirect Strategy = "direct"
	// StrategyPackageInit matched a whole-package import to its initializer.
	StrategyPackageInit Strategy = "package-init"
	// StrategySubmodule matched an imported name to a sibling module of the
	// package initializer.
	StrategySubmodule Strategy = "submodule"
	// StrategyReExport followed the initializer's __all__ re-export table.
	StrategyReExport Strategy = "reexport"
	// StrategyInitLocal matched a name defined in the initializer itself.
	StrategyInitLocal Strategy = "init-local"
	// StrategyForwarded followed one level of imports in the initializer.
	StrategyForwarded Strategy = "forwarded"
)

// Reason explains why an import produced no edge.
type Reason string

const (
	ReasonNoMatch          Reason = "no-match"
	ReasonMissingInit      Reason = "missing-init"
	ReasonUnresolvedSymbol Reason = "unresolved-symbol"
	ReasonRelativeEscape   Reason = "relative-escape"
)

// Diagnostic records a first-party import the resolver could not map to a
// producer. Symbol is empty when the whole import failed.
type Diagnostic struct {
	Consumer string
	Module   string
	Symbol   string
	Reason   Reason
}

// Result is the outcome of resolving one consumer.
type Result struct {
	Relationships []model.Relationship
	Diagnostics   []Diagnostic
}

// Resolver maps first-party imports to producing files. It holds no
// per-snapshot state and is safe for concurrent use.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver creates a Resolver. A nil logger means slog.Default().
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

// Resolve returns the relationships justified by consumer's first-party
// imports. Files without facts or without first-party imports yield an
// empty Result.
func (r *Resolver) Resolve(snap *model.Snapshot, consumer *model.SourceFile) Result {
	return r.resolve(newIndex(snap), consumer)
}

// located is one install path of an inventory file.
type located struct {
	file *model.SourceFile
	path string
}

func (l located) dir() string {
	return path.Dir(l.path)
}

// index is the read-only lookup structure shared by all consumers of a
// snapshot.
type index struct {
	snap   *model.Snapshot
	byPath map[string]located
	// all lists every analyzed install path in snapshot order.
	all []located
}

func newIndex(snap *model.Snapshot) *index {
	idx := &index{snap: snap, byPath: make(map[string]located)}
	for _, f := range snap.Files() {
		if f.Facts == nil {
			continue
		}
		for _, p := range f.InstallPaths {
			p = cleanPath(p)
			loc := located{file: f, path: p}
			idx.byPath[p] = loc
			idx.all = append(idx.all, loc)
		}
	}
	return idx
}

func cleanPath(p string) string {
	return path.Clean(strings.ReplaceAll(p, `\`, "/"))
}

// request carries the state of resolving one consumer.
type request struct {
	idx      *index
	consumer *model.SourceFile
	edges    map[string]struct{}
	diags    []Diagnostic
}

func (r *Resolver) resolve(idx *index, consumer *model.SourceFile) Result {
	if consumer == nil || consumer.Facts == nil || len(consumer.Facts.Imports) == 0 {
		return Result{}
	}

	req := &request{idx: idx, consumer: consumer, edges: make(map[string]struct{})}
	for _, mod := range consumer.Facts.ImportedModules() {
		info := consumer.Facts.Imports[mod]
		if info.Origin != model.FirstParty {
			continue
		}
		name, ok := absoluteModule(consumer, mod)
		if !ok {
			r.unresolved(req, mod, "", ReasonRelativeEscape)
			continue
		}
		r.resolveImport(req, mod, name, info.Symbols)
	}

	producers := make([]string, 0, len(req.edges))
	for p := range req.edges {
		producers = append(producers, p)
	}
	sort.Strings(producers)

	res := Result{Diagnostics: req.diags}
	for _, p := range producers {
		res.Relationships = append(res.Relationships, model.Relationship{
			Consumer: consumer.ID,
			Producer: p,
			Kind:     model.Uses,
		})
	}
	return res
}

// addEdge records a Uses edge. Self edges are dropped and not counted.
func (req *request) addEdge(producer *model.SourceFile, strategy Strategy) {
	if producer.ID == req.consumer.ID {
		return
	}
	importsResolved.WithLabelValues(string(strategy)).Inc()
	req.edges[producer.ID] = struct{}{}
}

func (r *Resolver) unresolved(req *request, module, symbol string, reason Reason) {
	importsUnresolved.WithLabelValues(string(reason)).Inc()
	req.diags = append(req.diags, Diagnostic{
		Consumer: req.consumer.ID,
		Module:   module,
		Symbol:   symbol,
		Reason:   reason,
	})
	attrs := []any{
		slog.String("consumer", req.consumer.ID),
		slog.String("module", module),
		slog.String("reason", string(reason)),
	}
	if len(req.consumer.InstallPaths) > 0 {
		attrs = append(attrs, slog.String("path", req.consumer.InstallPaths[0]))
	}
	if symbol != "" {
		attrs = append(attrs, slog.String("symbol", symbol))
	}
	r.logger.Warn("unable to resolve python import", attrs...)
}

// absoluteModule rewrites a relative module name against the consumer's
// first install path. One leading dot is the consumer's own package; each
// further dot ascends one level.
func absoluteModule(consumer *model.SourceFile, module string) (string, bool) {
	dots := len(module) - len(strings.TrimLeft(module, "."))
	if dots == 0 {
		return module, true
	}
	if len(consumer.InstallPaths) == 0 {
		return "", false
	}
	var segs []string
	if pkg := model.PackagePath(consumer.InstallPaths[0]); pkg != "" {
		segs = strings.Split(pkg, ".")
	}
	up := dots - 1
	if up > len(segs) {
		return "", false
	}
	segs = segs[:len(segs)-up]
	if rest := module[dots:]; rest != "" {
		segs = append(segs, rest)
	}
	if len(segs) == 0 {
		return "", false
	}
	return strings.Join(segs, "."), true
}

// resolveImport applies the direct match first and falls back to package
// resolution only when it fails. display is the module as written.
func (r *Resolver) resolveImport(req *request, display, name string, symbols []string) {
	if producer, ok := req.idx.directMatch(req.consumer, name, symbols); ok {
		req.addEdge(producer, StrategyDirect)
		return
	}

	groups := req.idx.packageGroups(name)
	if len(groups) == 0 {
		r.unresolved(req, display, "", ReasonNoMatch)
		return
	}

	var inits []packageGroup
	for _, g := range groups {
		if g.init != nil {
			inits = append(inits, g)
		}
	}
	if len(inits) == 0 {
		r.unresolved(req, display, "", ReasonMissingInit)
		return
	}

	if len(symbols) == 0 {
		req.addEdge(inits[0].init.file, StrategyPackageInit)
		return
	}

	for _, sym := range symbols {
		resolved := false
		for _, g := range inits {
			if producer, strategy, ok := req.idx.resolveSymbol(g, sym); ok {
				req.addEdge(producer, strategy)
				resolved = true
				break
			}
		}
		if !resolved {
			r.unresolved(req, display, sym, ReasonUnresolvedSymbol)
		}
	}
}

// directMatch finds the first other file, over all aliases, whose module
// path ends with name and which defines every symbol.
func (idx *index) directMatch(consumer *model.SourceFile, name string, symbols []string) (*model.SourceFile, bool) {
	for _, loc := range idx.all {
		if loc.file.ID == consumer.ID {
			continue
		}
		if model.HasDottedSuffix(model.ModulePath(loc.path), name) && loc.file.Facts.DefinesAll(symbols) {
			return loc.file, true
		}
	}
	return nil, false
}

// packageGroup is the set of package members living in one directory.
type packageGroup struct {
	dir     string
	members map[string]located
	init    *located
}

// packageGroups collects every install path whose package path ends with
// name, grouped by directory in sorted order.
func (idx *index) packageGroups(name string) []packageGroup {
	byDir := make(map[string]*packageGroup)
	for _, loc := range idx.all {
		if !model.HasDottedSuffix(model.PackagePath(loc.path), name) {
			continue
		}
		g, ok := byDir[loc.dir()]
		if !ok {
			g = &packageGroup{dir: loc.dir(), members: make(map[string]located)}
			byDir[loc.dir()] = g
		}
		g.members[loc.path] = loc
		if model.IsInitFile(loc.path) {
			l := loc
			g.init = &l
		}
	}

	dirs := make([]string, 0, len(byDir))
	for d := range byDir {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	groups := make([]packageGroup, 0, len(dirs))
	for _, d := range dirs {
		groups = append(groups, *byDir[d])
	}
	return groups
}

// symbolStrategy tries to resolve sym against a package initializer.
type symbolStrategy struct {
	name Strategy
	try  func(idx *index, g packageGroup, sym string) (*model.SourceFile, bool)
}

// symbolStrategies are evaluated in order; the first success wins.
var symbolStrategies = []symbolStrategy{
	{StrategySubmodule, (*index).submodule},
	{StrategyReExport, (*index).reExport},
	{StrategyInitLocal, (*index).initLocal},
	{StrategyForwarded, (*index).forwarded},
}

func (idx *index) resolveSymbol(g packageGroup, sym string) (*model.SourceFile, Strategy, bool) {
	for _, s := range symbolStrategies {
		if producer, ok := s.try(idx, g, sym); ok {
			return producer, s.name, true
		}
	}
	return nil, "", false
}

// submodule treats sym as a module reference relative to the initializer:
// "from pkg import mod" where pkg/mod.py exists. Plain module files must be
// package members; subpackage initializers are accepted as well.
func (idx *index) submodule(g packageGroup, sym string) (*model.SourceFile, bool) {
	for _, p := range relativeCandidates(sym, g.dir) {
		loc, ok := idx.byPath[p]
		if !ok {
			continue
		}
		if _, member := g.members[p]; member || model.IsInitFile(p) {
			return loc.file, true
		}
	}
	return nil, false
}

// reExport follows __all__: the re-exported symbol must be defined by the
// module it was imported from, under its source name when it was aliased.
func (idx *index) reExport(g packageGroup, sym string) (*model.SourceFile, bool) {
	facts := g.init.file.Facts
	src, ok := facts.ReExports[sym]
	if !ok {
		return nil, false
	}
	return idx.locateDefinition(src, *g.init, facts.SourceName(sym))
}

func (idx *index) initLocal(g packageGroup, sym string) (*model.SourceFile, bool) {
	if g.init.file.Facts.Defines(sym) {
		return g.init.file, true
	}
	return nil, false
}

// forwarded chases one level of imports in the initializer: when it
// imports sym from another module, that module is the producer.
func (idx *index) forwarded(g packageGroup, sym string) (*model.SourceFile, bool) {
	facts := g.init.file.Facts
	name := facts.SourceName(sym)
	for _, mod := range facts.ImportedModules() {
		if !contains(facts.Imports[mod].Symbols, name) {
			continue
		}
		if producer, ok := idx.locateDefinition(mod, *g.init, name); ok {
			return producer, true
		}
	}
	return nil, false
}

// locateDefinition resolves a module reference made from the file at from
// and returns it if it defines sym. Relative references are resolved by
// path; absolute ones by dotted suffix, preferring the candidate closest
// to from.
func (idx *index) locateDefinition(ref string, from located, sym string) (*model.SourceFile, bool) {
	if strings.HasPrefix(ref, ".") {
		for _, p := range relativeCandidates(ref, from.dir()) {
			if loc, ok := idx.byPath[p]; ok && loc.file.ID != from.file.ID && loc.file.Facts.Defines(sym) {
				return loc.file, true
			}
		}
		return nil, false
	}

	var best *model.SourceFile
	bestScore := -1
	for _, loc := range idx.all {
		if loc.file.ID == from.file.ID || !loc.file.Facts.Defines(sym) {
			continue
		}
		if !providesModule(loc.path, ref) {
			continue
		}
		if score := commonDirPrefix(loc.path, from.path); score > bestScore {
			best, bestScore = loc.file, score
		}
	}
	return best, best != nil
}

// providesModule reports whether the install path implements the dotted
// module ref, either as a module file or as a package initializer.
func providesModule(p, ref string) bool {
	if model.HasDottedSuffix(model.ModulePath(p), ref) {
		return true
	}
	return model.IsInitFile(p) && model.HasDottedSuffix(model.PackagePath(p), ref)
}

// relativeCandidates lists the install paths a module reference may point
// to, relative to dir. Without leading dots the reference names a sibling;
// each dot beyond the first ascends one directory.
func relativeCandidates(ref, dir string) []string {
	dots := len(ref) - len(strings.TrimLeft(ref, "."))
	for i := 1; i < dots; i++ {
		if dir == "." || dir == "/" {
			return nil
		}
		dir = path.Dir(dir)
	}
	rest := strings.ReplaceAll(ref[dots:], ".", "/")
	if rest == "" {
		return []string{path.Join(dir, model.InitFileName)}
	}
	base := path.Join(dir, rest)
	return []string{base + ".py", path.Join(base, model.InitFileName)}
}

func commonDirPrefix(a, b string) int {
	as := strings.Split(path.Dir(a), "/")
	bs := strings.Split(path.Dir(b), "/")
	n := 0
	for n < len(as) && n < len(bs) && as[n] == bs[n] {
		n++
	}
	return n
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
