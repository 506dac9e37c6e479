package classify

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ManifestFile is the project manifest read for classification hints.
const ManifestFile = "pyproject.toml"

// Manifest is the subset of pyproject.toml that affects classification.
type Manifest struct {
	Project struct {
		Name string `toml:"name"`
	} `toml:"project"`
	Tool struct {
		Isort struct {
			KnownFirstParty []string `toml:"known_first_party"`
			KnownThirdParty []string `toml:"known_third_party"`
		} `toml:"isort"`
	} `toml:"tool"`
}

// LoadManifest reads pyproject.toml from root. A missing file returns
// (nil, nil).
func LoadManifest(root string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(root, ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", ManifestFile, err)
	}
	return &m, nil
}

// FirstParty returns the import name of the project plus any isort
// known_first_party entries.
func (m *Manifest) FirstParty() []string {
	if m == nil {
		return nil
	}
	var out []string
	if name := importName(m.Project.Name); name != "" {
		out = append(out, name)
	}
	return append(out, m.Tool.Isort.KnownFirstParty...)
}

// ThirdParty returns isort known_third_party entries.
func (m *Manifest) ThirdParty() []string {
	if m == nil {
		return nil
	}
	return m.Tool.Isort.KnownThirdParty
}

// importName converts a distribution name such as "my-project" into the
// conventional import name "my_project".
func importName(dist string) string {
	dist = strings.TrimSpace(strings.ToLower(dist))
	return strings.NewReplacer("-", "_", ".", "_").Replace(dist)
}
