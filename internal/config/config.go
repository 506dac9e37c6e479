// Package config loads the .pyrelate.yaml project configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/phobologic/pyrelate/internal/parse"
)

// FileName is the configuration file looked up in the project root.
const FileName = ".pyrelate.yaml"

// Output formats.
const (
	FormatJSON = "json"
	FormatTOON = "toon"
)

// Formats lists the accepted values of Config.Format.
var Formats = []string{FormatJSON, FormatTOON}

// Config holds project settings. CLI flags override loaded values.
type Config struct {
	// ProjectRoots lists candidate project roots. Only the first is used.
	ProjectRoots []string `yaml:"project_roots"`
	// KnownFirstParty and KnownThirdParty force the classification of
	// module prefixes.
	KnownFirstParty []string `yaml:"known_first_party"`
	KnownThirdParty []string `yaml:"known_third_party"`
	// InstallPrefix is prepended to every install path.
	InstallPrefix string `yaml:"install_prefix"`
	MaxFileSize   int64  `yaml:"max_file_size"`
	// Workers bounds extraction and resolution concurrency; 0 means
	// GOMAXPROCS.
	Workers  int    `yaml:"workers"`
	Format   string `yaml:"format"`
	CacheDir string `yaml:"cache_dir"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		MaxFileSize: parse.DefaultMaxFileSize,
		Format:      FormatJSON,
	}
}

// Load reads the file at path on top of Default. A missing file is not an
// error. Relative project roots and cache directories are resolved against
// the file's directory.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := decode(bytes.NewReader(data), &cfg); err != nil {
		return Default(), fmt.Errorf("parsing %s: %w", path, err)
	}

	base := filepath.Dir(path)
	for i, r := range cfg.ProjectRoots {
		if r != "" && !filepath.IsAbs(r) {
			cfg.ProjectRoots[i] = filepath.Join(base, r)
		}
	}
	if cfg.CacheDir != "" && !filepath.IsAbs(cfg.CacheDir) {
		cfg.CacheDir = filepath.Join(base, cfg.CacheDir)
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains(Formats, c.Format) {
		errs = append(errs, fmt.Errorf("format %q: must be one of %v", c.Format, Formats))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers %d: must not be negative", c.Workers))
	}
	if c.MaxFileSize <= 0 {
		errs = append(errs, fmt.Errorf("max_file_size %d: must be positive", c.MaxFileSize))
	}
	for i, r := range c.ProjectRoots {
		if r == "" {
			errs = append(errs, fmt.Errorf("project_roots[%d]: empty path", i))
		}
	}
	return errors.Join(errs...)
}

// ProjectRoot returns the first configured root, or "" when none is set.
// Extra roots are ignored with a warning.
func (c *Config) ProjectRoot(logger *slog.Logger) string {
	if len(c.ProjectRoots) == 0 {
		return ""
	}
	if len(c.ProjectRoots) > 1 {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("multiple project roots configured, using the first",
			slog.String("root", c.ProjectRoots[0]),
			slog.Int("ignored", len(c.ProjectRoots)-1))
	}
	return c.ProjectRoots[0]
}

// Template is the commented default configuration written by `pyrelate init`.
const Template = `# Directories scanned for Python sources. Only the first entry is used.
project_roots: []

# Module prefixes always treated as part of the project.
known_first_party: []

# Module prefixes always treated as external distributions.
known_third_party: []

# Prefix prepended to every install path in the SBOM, e.g. /usr/lib/app.
install_prefix: ""

# Files larger than this many bytes are skipped.
max_file_size: 1000000

# Parallel workers; 0 uses every CPU.
workers: 0

# Output format: json or toon.
format: json

# BadgerDB directory for cached extraction results; empty disables caching.
cache_dir: ""`
