// Package syntax renders memory documents with terminal syntax highlighting.
package syntax

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// DefaultStyle is the chroma style used when none is given.
const DefaultStyle = "dracula"

// Highlight colours source written in language (a chroma lexer name such as
// "json" or "yaml") for a 256-colour terminal. Unknown languages fall back to
// plain text.
func Highlight(source, language, style string) (string, error) {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	if style == "" {
		style = DefaultStyle
	}
	s := styles.Get(style)
	if s == nil {
		s = styles.Fallback
	}

	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, source)
	if err != nil {
		return "", fmt.Errorf("syntax: tokenise: %w", err)
	}
	var buf bytes.Buffer
	if err := formatter.Format(&buf, s, iterator); err != nil {
		return "", fmt.Errorf("syntax: format: %w", err)
	}
	return buf.String(), nil
}

// JSON pretty-prints v and highlights it. When highlighting fails the plain
// indented document is returned together with the error.
func JSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("syntax: encode: %w", err)
	}
	plain := strings.TrimRight(buf.String(), "\n")

	out, err := Highlight(plain, "json", "")
	if err != nil {
		return plain, err
	}
	return out, nil
}
