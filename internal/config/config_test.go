package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingReturnsDefault(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
project_roots: [src, /abs/root]
known_first_party: [acme]
known_third_party: [vendored]
install_prefix: /usr/lib/app
workers: 3
format: toon
cache_dir: .cache
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	base := filepath.Dir(path)
	assert.Equal(t, []string{filepath.Join(base, "src"), "/abs/root"}, cfg.ProjectRoots)
	assert.Equal(t, []string{"acme"}, cfg.KnownFirstParty)
	assert.Equal(t, []string{"vendored"}, cfg.KnownThirdParty)
	assert.Equal(t, "/usr/lib/app", cfg.InstallPrefix)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, FormatTOON, cfg.Format)
	assert.Equal(t, filepath.Join(base, ".cache"), cfg.CacheDir)
	assert.Equal(t, Default().MaxFileSize, cfg.MaxFileSize, "unset fields keep defaults")
}

func TestLoadEmptyFile(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsUnknownField(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, "formatt: json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "formatt")
}

func TestLoadTemplate(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, Template))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, FormatJSON, cfg.Format)
	assert.Equal(t, Default().MaxFileSize, cfg.MaxFileSize)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Format = "xml"
	cfg.Workers = -1
	cfg.MaxFileSize = 0
	cfg.ProjectRoots = []string{""}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"format", "workers", "max_file_size", "project_roots[0]"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestProjectRoot(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	cfg := Default()
	assert.Equal(t, "", cfg.ProjectRoot(logger))

	cfg.ProjectRoots = []string{"one"}
	assert.Equal(t, "one", cfg.ProjectRoot(logger))
	assert.Empty(t, logs.String())

	cfg.ProjectRoots = []string{"one", "two"}
	assert.Equal(t, "one", cfg.ProjectRoot(logger))
	assert.True(t, strings.Contains(logs.String(), "multiple project roots"))
}
