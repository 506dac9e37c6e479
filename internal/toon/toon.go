// Package toon implements TOON (Token-Oriented Object Notation) encoding.
package toon

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/phobologic/pyrelate/internal/graph"
	"github.com/phobologic/pyrelate/internal/model"
	"github.com/phobologic/pyrelate/internal/ranking"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// Encode renders the analyzed inventory, its imports and the resolved
// relationships in TOON format. Files are listed most used first and are
// referred to by their first install path.
func Encode(root string, snap *model.Snapshot, g *graph.Graph) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("root: %s", encodeValue(root)))

	var fileRows [][]string
	for _, r := range ranking.Rank(snap, g.Relationships) {
		f := r.File
		var aliases string
		if len(f.InstallPaths) > 1 {
			aliases = strings.Join(f.InstallPaths[1:], " ")
		}
		defined := "-"
		if f.Facts != nil {
			defined = fmt.Sprintf("%d", len(f.Facts.DefinedSymbols))
		}
		fileRows = append(fileRows, []string{
			displayPath(f),
			f.FileType,
			defined,
			fmt.Sprintf("%d", r.UsedBy),
			aliases,
		})
	}

	var importRows, exportRows [][]string
	for _, f := range snap.Files() {
		if f.Facts == nil {
			continue
		}
		p := displayPath(f)
		for _, mod := range f.Facts.ImportedModules() {
			info := f.Facts.Imports[mod]
			importRows = append(importRows, []string{
				p,
				mod,
				string(info.Origin),
				strings.Join(info.Symbols, " "),
			})
		}
		names := make([]string, 0, len(f.Facts.ReExports))
		for name := range f.Facts.ReExports {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			exportRows = append(exportRows, []string{p, name, f.Facts.ReExports[name]})
		}
	}
	parts = append(parts, formatTabular("files", []string{"path", "type", "defined", "used_by", "aliases"}, fileRows))
	parts = append(parts, formatTabular("imports", []string{"file", "module", "origin", "symbols"}, importRows))
	parts = append(parts, formatTabular("exports", []string{"file", "name", "source"}, exportRows))

	var useRows [][]string
	for _, rel := range g.Relationships {
		useRows = append(useRows, []string{pathOf(snap, rel.Consumer), pathOf(snap, rel.Producer)})
	}
	parts = append(parts, formatTabular("uses", []string{"consumer", "producer"}, useRows))

	if len(g.Diagnostics) > 0 {
		var diagRows [][]string
		for _, d := range g.Diagnostics {
			diagRows = append(diagRows, []string{
				pathOf(snap, d.Consumer),
				d.Module,
				d.Symbol,
				string(d.Reason),
			})
		}
		parts = append(parts, formatTabular("unresolved", []string{"file", "module", "symbol", "reason"}, diagRows))
	}

	return strings.Join(parts, "\n")
}

func displayPath(f *model.SourceFile) string {
	if len(f.InstallPaths) == 0 {
		return f.ID
	}
	return f.InstallPaths[0]
}

func pathOf(snap *model.Snapshot, id string) string {
	if f, ok := snap.File(id); ok {
		return displayPath(f)
	}
	return id
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) {
		return quote(value)
	}

	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return value
	}

	if needsQuoting.MatchString(value) {
		return quote(value)
	}

	if strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
