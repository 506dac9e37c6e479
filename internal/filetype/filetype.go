// Package filetype tags inventory files so only Python sources reach the
// extractor.
package filetype

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/phobologic/pyrelate/internal/lang"
	"github.com/phobologic/pyrelate/internal/model"
)

var manifestNames = map[string]struct{}{
	"pyproject.toml": {},
}

// Identify returns the type tag for the file at path. The file is only
// opened when the name alone is not conclusive.
func Identify(path string) string {
	if t := fromName(path); t != model.FileTypeUnknown {
		return t
	}
	f, err := os.Open(path)
	if err != nil {
		return model.FileTypeUnknown
	}
	defer f.Close()
	return FromHeader(f)
}

func fromName(path string) string {
	base := filepath.Base(path)
	if _, ok := manifestNames[base]; ok {
		return model.FileTypePythonManifest
	}
	if lang.ForExtension(filepath.Ext(base)) == "python" {
		return model.FileTypePython
	}
	return model.FileTypeUnknown
}

// FromHeader inspects the first line for a python shebang.
func FromHeader(r io.Reader) string {
	line, err := bufio.NewReader(io.LimitReader(r, 256)).ReadBytes('\n')
	if err != nil && err != io.EOF {
		return model.FileTypeUnknown
	}
	if bytes.HasPrefix(line, []byte("#!")) && bytes.Contains(line, []byte("python")) {
		return model.FileTypePython
	}
	return model.FileTypeUnknown
}

// Extractable reports whether the extractor should run for the tag.
func Extractable(fileType string) bool {
	return fileType == model.FileTypePython || fileType == model.FileTypePythonManifest
}

// IsManifest reports whether path names a Python project manifest.
func IsManifest(path string) bool {
	_, ok := manifestNames[filepath.Base(path)]
	return ok
}
