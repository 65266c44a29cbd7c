package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// render writes v in the --output format.
func render(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
		return nil
	}
}

// document is the shape accepted by --file.
type document struct {
	Content  map[string]any `yaml:"content"`
	Tags     []string       `yaml:"tags"`
	Metadata map[string]any `yaml:"metadata"`
}

// readDocument loads an entry document from a YAML (or JSON) file, or from
// stdin when path is "-".
func readDocument(path string, stdin io.Reader) (*document, error) {
	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if doc.Content == nil {
		return nil, fmt.Errorf("%s has no content mapping", path)
	}
	return &doc, nil
}

// parseContent decodes a --content JSON object.
func parseContent(s string) (map[string]any, error) {
	var content map[string]any
	if err := json.Unmarshal([]byte(s), &content); err != nil {
		return nil, fmt.Errorf("--content must be a JSON object: %w", err)
	}
	if content == nil {
		return nil, fmt.Errorf("--content must be a JSON object")
	}
	return content, nil
}
