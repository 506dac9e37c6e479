package parse

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/pyrelate/internal/model"
)

// prefixClassifier treats modules starting with "pkg" or "." as first-party.
type prefixClassifier struct{}

func (prefixClassifier) Classify(module string) (model.Origin, string) {
	if strings.HasPrefix(module, "pkg") || strings.HasPrefix(module, ".") {
		return model.FirstParty, "test"
	}
	return model.ThirdParty, "test"
}

type classifierFunc func(string) (model.Origin, string)

func (f classifierFunc) Classify(module string) (model.Origin, string) {
	return f(module)
}

func setup(t *testing.T) (*Extractor, *bytes.Buffer, func(source string) model.FactRecord) {
	t.Helper()
	var logs bytes.Buffer
	var mu sync.Mutex
	logger := slog.New(slog.NewTextHandler(&lockedWriter{w: &logs, mu: &mu}, nil))
	e := NewExtractor(WithClassifier(prefixClassifier{}), WithLogger(logger))
	return e, &logs, func(source string) model.FactRecord {
		return e.ExtractSource(context.Background(), []byte(source), "test.py", "")
	}
}

type lockedWriter struct {
	w  *bytes.Buffer
	mu *sync.Mutex
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func TestExtractImports(t *testing.T) {
	t.Parallel()
	_, _, extract := setup(t)

	facts := extract(`import os
import pkg.a as alias
from pkg.b import foo, bar as baz
from pkg.b import foo, qux
from . import sibling
from ..up.mod import thing
from pkg.star import *
`)

	require.Len(t, facts.Imports, 6)

	assert.Empty(t, facts.Imports["os"].Symbols)
	assert.Equal(t, model.ThirdParty, facts.Imports["os"].Origin)

	assert.Empty(t, facts.Imports["pkg.a"].Symbols)
	assert.Equal(t, model.FirstParty, facts.Imports["pkg.a"].Origin)

	assert.Equal(t, []string{"foo", "bar", "qux"}, facts.Imports["pkg.b"].Symbols)
	assert.Equal(t, []string{"sibling"}, facts.Imports["."].Symbols)
	assert.Equal(t, []string{"thing"}, facts.Imports["..up.mod"].Symbols)
	assert.Equal(t, model.FirstParty, facts.Imports["..up.mod"].Origin)
	assert.Empty(t, facts.Imports["pkg.star"].Symbols)
	assert.Equal(t, "test", facts.Imports["pkg.star"].Reason)
}

func TestExtractNestedImports(t *testing.T) {
	t.Parallel()
	_, _, extract := setup(t)

	facts := extract(`try:
    import json
except ImportError:
    import simplejson as json

def load():
    from pkg.lazy import helper
    return helper()
`)

	assert.Contains(t, facts.Imports, "json")
	assert.Contains(t, facts.Imports, "simplejson")
	assert.Equal(t, []string{"helper"}, facts.Imports["pkg.lazy"].Symbols)
	assert.Equal(t, []string{"load"}, facts.DefinedSymbols)
}

func TestExtractFutureImport(t *testing.T) {
	t.Parallel()
	_, _, extract := setup(t)

	facts := extract("from __future__ import annotations\n")
	require.Contains(t, facts.Imports, "__future__")
	assert.Equal(t, []string{"annotations"}, facts.Imports["__future__"].Symbols)
}

func TestExtractDefinitions(t *testing.T) {
	t.Parallel()
	_, _, extract := setup(t)

	facts := extract(`class Foo(Base):
    inner = 1

    def method(self):
        local = 2

def hello(name: str) -> None:
    pass

@decorator
def decorated():
    pass

@dataclass
class Data:
    pass

CONSTANT = 1
typed: int = 2
a, b = 1, 2
(c, d) = 3, 4
[e, *rest] = [5, 6]
x = y = 0
obj.attr = 1
counter += 1

if True:
    conditional = 1
`)

	assert.Equal(t, []string{
		"CONSTANT", "Data", "Foo", "a", "b", "c", "d", "decorated", "e",
		"hello", "typed", "x", "y",
	}, facts.DefinedSymbols)
}

func TestExtractReExports(t *testing.T) {
	t.Parallel()
	_, _, extract := setup(t)

	facts := extract(`from pkg.a import foo
from .b import bar, shared
from .c import shared
from os import path

def local():
    pass

__all__ = ["foo", "bar", "shared", "local", "path", make_name(), "missing"]
`)

	assert.Equal(t, map[string]string{
		"foo":    "pkg.a",
		"bar":    ".b",
		"shared": ".b",
		"path":   "os",
	}, facts.ReExports)
	assert.Contains(t, facts.DefinedSymbols, "__all__")
}

func TestExtractAliasedReExports(t *testing.T) {
	t.Parallel()
	_, _, extract := setup(t)

	facts := extract(`from .a import foo as bar
from pkg.b import baz
__all__ = ["bar", "baz"]
`)

	assert.Equal(t, []string{"foo"}, facts.Imports[".a"].Symbols)
	assert.Equal(t, map[string]string{"bar": "foo"}, facts.Aliases)
	assert.Equal(t, map[string]string{"bar": ".a", "baz": "pkg.b"}, facts.ReExports)
	assert.Equal(t, "foo", facts.SourceName("bar"))
}

func TestExtractWithoutAliases(t *testing.T) {
	t.Parallel()
	_, _, extract := setup(t)

	facts := extract("import pkg.a as a\nfrom pkg.b import c\n")
	assert.Nil(t, facts.Aliases)
}

func TestReclassify(t *testing.T) {
	t.Parallel()
	_, _, extract := setup(t)

	facts := extract("from pkg.a import foo\nimport helpers\n")
	require.Equal(t, model.ThirdParty, facts.Imports["helpers"].Origin)

	Reclassify(&facts, classifierFunc(func(string) (model.Origin, string) {
		return model.FirstParty, "layout changed"
	}))
	assert.Equal(t, model.FirstParty, facts.Imports["helpers"].Origin)
	assert.Equal(t, "layout changed", facts.Imports["helpers"].Reason)
	assert.Equal(t, []string{"foo"}, facts.Imports["pkg.a"].Symbols)
}

func TestExtractReExportsTupleAndAugmented(t *testing.T) {
	t.Parallel()
	_, _, extract := setup(t)

	facts := extract(`from .a import one, two
__all__ = ("one",)
__all__ += ["two"]
`)

	assert.Equal(t, map[string]string{"one": ".a", "two": ".a"}, facts.ReExports)
}

func TestExtractNonLiteralAllIgnored(t *testing.T) {
	t.Parallel()
	_, _, extract := setup(t)

	facts := extract(`from .a import one
__all__ = list_names()
`)

	assert.Empty(t, facts.ReExports)
}

func TestExtractSyntaxError(t *testing.T) {
	t.Parallel()
	_, logs, extract := setup(t)

	facts := extract("from pkg.a import foo\ndef broken(:\n    pass\n")

	assert.Empty(t, facts.Imports)
	assert.Empty(t, facts.DefinedSymbols)
	assert.Empty(t, facts.ReExports)
	assert.NotNil(t, facts.Imports, "collections must be non-nil")
	assert.Contains(t, logs.String(), "python syntax error")
}

func TestExtractEmpty(t *testing.T) {
	t.Parallel()
	_, _, extract := setup(t)

	facts := extract("")
	assert.Empty(t, facts.Imports)
	assert.Empty(t, facts.DefinedSymbols)
}

func TestExtractFromFile(t *testing.T) {
	t.Parallel()
	e, _, _ := setup(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "mod.py")
	require.NoError(t, os.WriteFile(path, []byte("from pkg.x import y\ndef f(): pass\n"), 0o644))

	facts := e.Extract(context.Background(), path, dir)
	assert.Equal(t, []string{"f"}, facts.DefinedSymbols)
	assert.Contains(t, facts.Imports, "pkg.x")
}

func TestExtractMissingFile(t *testing.T) {
	t.Parallel()
	e, logs, _ := setup(t)

	facts := e.Extract(context.Background(), filepath.Join(t.TempDir(), "nope.py"), "")
	assert.Empty(t, facts.Imports)
	assert.Contains(t, logs.String(), "reading python file")
}

func TestExtractTooLarge(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	e := NewExtractor(
		WithClassifier(prefixClassifier{}),
		WithMaxFileSize(10),
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
	)
	path := filepath.Join(t.TempDir(), "big.py")
	require.NoError(t, os.WriteFile(path, []byte("x = 1\ny = 2\nz = 3\n"), 0o644))

	facts := e.Extract(context.Background(), path, "")
	assert.Empty(t, facts.DefinedSymbols)
	assert.Contains(t, logs.String(), ErrFileTooLarge.Error())
}

func TestExtractManifest(t *testing.T) {
	t.Parallel()
	e, _, _ := setup(t)

	path := filepath.Join(t.TempDir(), "pyproject.toml")
	require.NoError(t, os.WriteFile(path, []byte("[project]\nname = \"x\"\n"), 0o644))

	facts := e.Extract(context.Background(), path, "")
	assert.Empty(t, facts.Imports)
	assert.NotNil(t, facts.ReExports)
}

func TestExtractDefaultClassifierUsesRoot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "localpkg"), 0o755))
	e := NewExtractor()

	facts := e.ExtractSource(context.Background(),
		[]byte("import localpkg.mod\nimport sys\nimport requests\n"), "m.py", root)

	assert.Equal(t, model.FirstParty, facts.Imports["localpkg.mod"].Origin)
	assert.Equal(t, model.Stdlib, facts.Imports["sys"].Origin)
	assert.Equal(t, model.ThirdParty, facts.Imports["requests"].Origin)
}

func TestExtractDefaultClassifierReadsManifest(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "pyproject.toml"),
		[]byte("[project]\nname = \"acme-core\"\n"), 0o644))
	e := NewExtractor()

	facts := e.ExtractSource(context.Background(), []byte("from acme_core.api import Client\n"), "m.py", root)
	assert.Equal(t, model.FirstParty, facts.Imports["acme_core.api"].Origin)
}

func TestExtractConcurrent(t *testing.T) {
	t.Parallel()
	_, _, extract := setup(t)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			facts := extract("from pkg.a import foo\nclass C: pass\n")
			assert.Equal(t, []string{"C"}, facts.DefinedSymbols)
		}()
	}
	wg.Wait()
}
