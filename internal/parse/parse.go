// Package parse extracts import and definition facts from Python source
// files using tree-sitter.
package parse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/pyrelate/internal/classify"
	"github.com/phobologic/pyrelate/internal/filetype"
	"github.com/phobologic/pyrelate/internal/lang"
	"github.com/phobologic/pyrelate/internal/model"
)

// DefaultMaxFileSize is the largest file the extractor will read.
const DefaultMaxFileSize = 1_000_000

// ErrFileTooLarge is reported when a file exceeds the configured size limit.
var ErrFileTooLarge = errors.New("file exceeds size limit")

// Option configures an Extractor.
type Option func(*Extractor)

// WithClassifier replaces the default project-root classifier.
func WithClassifier(c classify.Classifier) Option {
	return func(e *Extractor) {
		e.classifier = c
	}
}

// WithLogger sets the logger used for per-file diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMaxFileSize sets the maximum file size in bytes. Non-positive values
// are ignored.
func WithMaxFileSize(n int64) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxFileSize = n
		}
	}
}

// Extractor produces a FactRecord per file. It is safe for concurrent use;
// every call creates its own tree-sitter parser.
type Extractor struct {
	classifier  classify.Classifier
	logger      *slog.Logger
	maxFileSize int64

	// perRoot holds default classifiers keyed by project root when no
	// classifier was injected.
	perRoot sync.Map
}

// NewExtractor creates an Extractor.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		logger:      slog.Default(),
		maxFileSize: DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract reads the file at path and returns its facts. It never fails:
// unreadable or malformed files yield an empty FactRecord and a log entry.
func (e *Extractor) Extract(ctx context.Context, path, projectRoot string) model.FactRecord {
	if filetype.IsManifest(path) {
		e.logger.Debug("manifest has no python facts", slog.String("file", path))
		return model.NewFactRecord()
	}

	source, err := e.readFile(path)
	if err != nil {
		e.logger.Warn("reading python file",
			slog.String("file", path),
			slog.String("error", err.Error()))
		recordExtractMetrics(ctx, 0, "read")
		return model.NewFactRecord()
	}
	return e.ExtractSource(ctx, source, path, projectRoot)
}

func (e *Extractor) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, e.maxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if int64(len(data)) > e.maxFileSize {
		return nil, fmt.Errorf("%s: %w (%d bytes)", path, ErrFileTooLarge, e.maxFileSize)
	}
	return data, nil
}

// ExtractSource extracts facts from in-memory source. filePath is used for
// diagnostics only.
func (e *Extractor) ExtractSource(ctx context.Context, source []byte, filePath, projectRoot string) model.FactRecord {
	ctx, span := startExtractSpan(ctx, filePath)
	defer span.End()
	start := time.Now()

	facts := model.NewFactRecord()
	if len(source) == 0 {
		recordExtractMetrics(ctx, time.Since(start), "")
		return facts
	}

	parser := lang.Python().NewParser()
	defer parser.Close()

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		e.logger.Warn("parsing python file",
			slog.String("file", filePath),
			slog.String("error", err.Error()))
		recordExtractMetrics(ctx, time.Since(start), "parse")
		return facts
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		e.logger.Warn("python syntax error, skipping file",
			slog.String("file", filePath),
			slog.Int("line", firstErrorLine(root)))
		recordExtractMetrics(ctx, time.Since(start), "syntax")
		return facts
	}

	query, err := lang.Python().GetTagQuery()
	if err != nil {
		e.logger.Error("loading python tag query", slog.String("error", err.Error()))
		recordExtractMetrics(ctx, time.Since(start), "query")
		return facts
	}

	c := newCollector(source)
	c.collect(query, root)

	for _, mod := range c.order {
		facts.Imports[mod] = model.ImportInfo{Symbols: c.imports[mod]}
	}
	Reclassify(&facts, e.classifierFor(projectRoot))
	for name := range c.defined {
		facts.DefinedSymbols = append(facts.DefinedSymbols, name)
	}
	sort.Strings(facts.DefinedSymbols)
	facts.ReExports = c.reExports()
	if len(c.aliases) > 0 {
		facts.Aliases = c.aliases
	}

	setExtractSpanResult(span, factCounts{
		imports:   len(facts.Imports),
		defined:   len(facts.DefinedSymbols),
		reExports: len(facts.ReExports),
	})
	recordExtractMetrics(ctx, time.Since(start), "")
	return facts
}

// Reclassify sets the origin of every import in facts using c. Origins
// depend on the project layout, not only on the file, so records read back
// from a cache must be reclassified before resolution.
func Reclassify(facts *model.FactRecord, c classify.Classifier) {
	for mod, info := range facts.Imports {
		info.Origin, info.Reason = c.Classify(mod)
		facts.Imports[mod] = info
	}
}

type factCounts struct {
	imports, defined, reExports int
}

func (e *Extractor) classifierFor(root string) classify.Classifier {
	if e.classifier != nil {
		return e.classifier
	}
	if c, ok := e.perRoot.Load(root); ok {
		return c.(classify.Classifier)
	}
	opts := classify.Options{Root: root}
	if root != "" {
		m, err := classify.LoadManifest(root)
		if err != nil {
			e.logger.Warn("ignoring project manifest",
				slog.String("root", root),
				slog.String("error", err.Error()))
		}
		opts.Manifest = m
	}
	c, _ := e.perRoot.LoadOrStore(root, classify.New(opts))
	return c.(classify.Classifier)
}

// firstErrorLine returns the 1-based line of the first ERROR or missing node.
func firstErrorLine(n *sitter.Node) int {
	if n.IsError() || n.IsMissing() {
		return int(n.StartPoint().Row) + 1
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child.HasError() {
			return firstErrorLine(child)
		}
	}
	return int(n.StartPoint().Row) + 1
}

// collector accumulates facts from the tag query matches of one file.
type collector struct {
	source  []byte
	imports map[string][]string
	order   []string
	defined map[string]struct{}
	aliases map[string]string
	all     []string
}

func newCollector(source []byte) *collector {
	return &collector{
		source:  source,
		imports: make(map[string][]string),
		defined: make(map[string]struct{}),
		aliases: make(map[string]string),
	}
}

// collect runs the tag query over root. Import statements are handled in
// source order once all matches are in, since that order decides
// re-export sources.
func (c *collector) collect(query *sitter.Query, root *sitter.Node) {
	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(query, root)

	var imports []*sitter.Node
	for {
		match, ok := qc.NextMatch()
		if !ok {
			break
		}
		match = qc.FilterPredicates(match, c.source)

		for _, capture := range match.Captures {
			n := capture.Node
			switch query.CaptureNameForId(capture.Index) {
			case "import":
				imports = append(imports, n)
			case "definition":
				c.defineNamed(n)
			case "assignment":
				c.assignment(n)
			case "assignment.augmented":
				c.augmentedAssignment(n)
			}
		}
	}

	sort.Slice(imports, func(i, j int) bool {
		return imports[i].StartByte() < imports[j].StartByte()
	})
	for _, n := range imports {
		if n.Type() == "import_statement" {
			c.importStatement(n)
		} else {
			c.importFromStatement(n)
		}
	}
}

func (c *collector) text(n *sitter.Node) string {
	return lang.NodeText(n, c.source)
}

func (c *collector) addImport(module string, symbols []string) {
	existing, seen := c.imports[module]
	if !seen {
		c.order = append(c.order, module)
		existing = []string{}
	}
	for _, s := range symbols {
		if !contains(existing, s) {
			existing = append(existing, s)
		}
	}
	c.imports[module] = existing
}

// importStatement handles "import a.b" and "import a.b as c".
func (c *collector) importStatement(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			c.addImport(c.text(child), nil)
		case "aliased_import":
			if name := child.ChildByFieldName("name"); name != nil {
				c.addImport(c.text(name), nil)
			}
		}
	}
}

// importFromStatement handles "from m import x, y as z", wildcard and
// relative forms. Imported names are recorded by their source name; the
// local name of an aliased import is kept in aliases.
func (c *collector) importFromStatement(n *sitter.Node) {
	var module string
	var symbols []string
	sawImport := false
	if n.Type() == "future_import_statement" {
		module = "__future__"
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		switch child.Type() {
		case "import":
			sawImport = true
		case "relative_import":
			module = strings.Join(strings.Fields(c.text(child)), "")
		case "dotted_name":
			if sawImport {
				symbols = append(symbols, c.text(child))
			} else {
				module = c.text(child)
			}
		case "aliased_import":
			name := child.ChildByFieldName("name")
			if name == nil {
				continue
			}
			symbols = append(symbols, c.text(name))
			if alias := child.ChildByFieldName("alias"); alias != nil {
				c.aliases[c.text(alias)] = c.text(name)
			}
		}
	}
	if module != "" {
		c.addImport(module, symbols)
	}
}

func (c *collector) defineNamed(def *sitter.Node) {
	if name := def.ChildByFieldName("name"); name != nil {
		c.defined[c.text(name)] = struct{}{}
	}
}

func (c *collector) assignment(n *sitter.Node) {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	if left == nil {
		return
	}

	switch left.Type() {
	case "identifier":
		name := c.text(left)
		c.defined[name] = struct{}{}
		if name == "__all__" && right != nil {
			c.all = append(c.all, c.literalStrings(right)...)
		}
	case "pattern_list", "tuple_pattern", "list_pattern":
		for i := 0; i < int(left.NamedChildCount()); i++ {
			if el := left.NamedChild(i); el.Type() == "identifier" {
				c.defined[c.text(el)] = struct{}{}
			}
		}
	}

	// a = b = value
	if right != nil && right.Type() == "assignment" {
		c.assignment(right)
	}
}

// augmentedAssignment handles "__all__ += [...]".
func (c *collector) augmentedAssignment(n *sitter.Node) {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	if left == nil || right == nil || left.Type() != "identifier" || c.text(left) != "__all__" {
		return
	}
	c.all = append(c.all, c.literalStrings(right)...)
}

// literalStrings returns the plain string elements of a list or tuple
// literal. Elements that are not string constants are skipped.
func (c *collector) literalStrings(n *sitter.Node) []string {
	switch n.Type() {
	case "list", "tuple", "expression_list":
	default:
		return nil
	}
	var out []string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if s, ok := lang.PythonStringLiteral(n.NamedChild(i), c.source); ok {
			out = append(out, s)
		}
	}
	return out
}

// reExports maps every __all__ entry that is an imported symbol to the
// first module (in source order) it was imported from. Entries naming an
// alias are matched by the alias's source name.
func (c *collector) reExports() map[string]string {
	out := make(map[string]string)
	for _, name := range c.all {
		if _, done := out[name]; done {
			continue
		}
		src := name
		if orig, ok := c.aliases[name]; ok {
			src = orig
		}
		for _, mod := range c.order {
			if contains(c.imports[mod], src) {
				out[name] = mod
				break
			}
		}
	}
	return out
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
