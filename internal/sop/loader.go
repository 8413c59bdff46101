package sop

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ParseTemplate decodes a single YAML template document and validates it.
//
// Decoding is strict: unknown fields are rejected so authoring typos surface
// immediately instead of silently dropping constraints.
func ParseTemplate(r io.Reader) (*SOPTemplate, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var t SOPTemplate
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid template: %w", err)
	}
	return &t, nil
}

// LoadTemplate reads and validates a YAML template file.
func LoadTemplate(path string) (*SOPTemplate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := ParseTemplate(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}
