package lang

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

func init() {
	Languages["python"] = &Language{
		Name:       "python",
		Extensions: []string{".py", ".pyi", ".pyw"},
		lang:       python.GetLanguage(),
	}
}

// Python returns the registered Python language.
func Python() *Language {
	return Languages["python"]
}

// PythonStringLiteral returns the value of a plain Python string literal
// node. f-strings, byte strings and literals containing escapes are
// rejected.
func PythonStringLiteral(node *sitter.Node, source []byte) (string, bool) {
	if node == nil || node.Type() != "string" {
		return "", false
	}
	text := NodeText(node, source)
	prefixEnd := strings.IndexAny(text, `"'`)
	if prefixEnd < 0 {
		return "", false
	}
	prefix := strings.ToLower(text[:prefixEnd])
	if strings.ContainsAny(prefix, "bf") {
		return "", false
	}
	body := text[prefixEnd:]
	if strings.Contains(body, `\`) {
		return "", false
	}
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(body) >= 2*len(q) && strings.HasPrefix(body, q) && strings.HasSuffix(body, q) {
			return body[len(q) : len(body)-len(q)], true
		}
	}
	return "", false
}
