// Package sbom renders the inventory and its relationships as an SBOM
// document and converts FactRecords to and from per-file metadata.
package sbom

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"path"
	"slices"

	"github.com/phobologic/pyrelate/internal/model"
)

// Classification strings stored in pyImports entries.
const (
	ClassFirstParty = "FIRSTPARTY"
	ClassThirdParty = "THIRDPARTY"
	ClassStdlib     = "STDLIB"
	ClassUnknown    = "UNKNOWN"
)

var originClass = map[model.Origin]string{
	model.FirstParty: ClassFirstParty,
	model.ThirdParty: ClassThirdParty,
	model.Stdlib:     ClassStdlib,
	model.Unknown:    ClassUnknown,
}

// Document is the top-level SBOM.
type Document struct {
	Software      []Software     `json:"software"`
	Relationships []Relationship `json:"relationships"`
}

// Software is one inventory entry.
type Software struct {
	UUID        string     `json:"UUID"`
	FileName    []string   `json:"fileName"`
	InstallPath []string   `json:"installPath"`
	SHA256      string     `json:"sha256"`
	FileType    string     `json:"fileType,omitempty"`
	Metadata    []Metadata `json:"metadata"`
}

// Metadata is the Python fact blob attached to a Software entry.
type Metadata struct {
	PyImports        map[string]PyImport `json:"pyImports"`
	PyDefinedObjects []string            `json:"pyDefinedObjects"`
	PyLinkedObjects  map[string]string   `json:"pyLinkedObjects"`
	PyImportAliases  map[string]string   `json:"pyImportAliases,omitempty"`
}

// PyImport describes one imported module. Type holds the classification
// string followed by the reason.
type PyImport struct {
	ImportedObjects []string `json:"imported_objects"`
	Type            []string `json:"type"`
}

// Relationship states that XUUID uses YUUID.
type Relationship struct {
	XUUID        string `json:"xUUID"`
	YUUID        string `json:"yUUID"`
	Relationship string `json:"relationship"`
}

// ToMetadata converts facts into their metadata form.
func ToMetadata(facts *model.FactRecord) Metadata {
	md := Metadata{
		PyImports:        make(map[string]PyImport, len(facts.Imports)),
		PyDefinedObjects: slices.Clone(facts.DefinedSymbols),
		PyLinkedObjects:  make(map[string]string, len(facts.ReExports)),
	}
	if md.PyDefinedObjects == nil {
		md.PyDefinedObjects = []string{}
	}
	for mod, info := range facts.Imports {
		class, ok := originClass[info.Origin]
		if !ok {
			class = ClassUnknown
		}
		objs := slices.Clone(info.Symbols)
		if objs == nil {
			objs = []string{}
		}
		md.PyImports[mod] = PyImport{ImportedObjects: objs, Type: []string{class, info.Reason}}
	}
	for k, v := range facts.ReExports {
		md.PyLinkedObjects[k] = v
	}
	if len(facts.Aliases) > 0 {
		md.PyImportAliases = maps.Clone(facts.Aliases)
	}
	return md
}

// FromMetadata decodes metadata back into a FactRecord.
func FromMetadata(md Metadata) (model.FactRecord, error) {
	facts := model.NewFactRecord()
	for mod, imp := range md.PyImports {
		if len(imp.Type) == 0 {
			return model.FactRecord{}, fmt.Errorf("import %q: missing type", mod)
		}
		origin, err := parseClass(imp.Type[0])
		if err != nil {
			return model.FactRecord{}, fmt.Errorf("import %q: %w", mod, err)
		}
		info := model.ImportInfo{Symbols: slices.Clone(imp.ImportedObjects), Origin: origin}
		if len(imp.Type) > 1 {
			info.Reason = imp.Type[1]
		}
		if len(info.Symbols) == 0 {
			info.Symbols = nil
		}
		facts.Imports[mod] = info
	}
	facts.DefinedSymbols = append(facts.DefinedSymbols, md.PyDefinedObjects...)
	slices.Sort(facts.DefinedSymbols)
	facts.DefinedSymbols = slices.Compact(facts.DefinedSymbols)
	for k, v := range md.PyLinkedObjects {
		facts.ReExports[k] = v
	}
	if len(md.PyImportAliases) > 0 {
		facts.Aliases = maps.Clone(md.PyImportAliases)
	}
	return facts, nil
}

func parseClass(s string) (model.Origin, error) {
	for origin, class := range originClass {
		if class == s {
			return origin, nil
		}
	}
	return "", fmt.Errorf("unknown classification %q", s)
}

// New builds a Document from the snapshot and resolved relationships.
func New(snap *model.Snapshot, rels []model.Relationship) *Document {
	doc := &Document{
		Software:      make([]Software, 0, snap.Len()),
		Relationships: make([]Relationship, 0, len(rels)),
	}
	for _, f := range snap.Files() {
		sw := Software{
			UUID:        f.ID,
			InstallPath: slices.Clone(f.InstallPaths),
			SHA256:      f.SHA256,
			FileType:    f.FileType,
			Metadata:    []Metadata{},
		}
		for _, p := range f.InstallPaths {
			name := path.Base(p)
			if !slices.Contains(sw.FileName, name) {
				sw.FileName = append(sw.FileName, name)
			}
		}
		if f.Facts != nil {
			sw.Metadata = append(sw.Metadata, ToMetadata(f.Facts))
		}
		doc.Software = append(doc.Software, sw)
	}
	for _, r := range rels {
		doc.Relationships = append(doc.Relationships, Relationship{
			XUUID:        r.Consumer,
			YUUID:        r.Producer,
			Relationship: string(r.Kind),
		})
	}
	return doc
}

// Write encodes doc as indented JSON.
func Write(w io.Writer, doc *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding sbom: %w", err)
	}
	return nil
}

// Read decodes a document written by Write.
func Read(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding sbom: %w", err)
	}
	return &doc, nil
}
