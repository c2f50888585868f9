package schema

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default_schema.yaml
var defaultSchemaYAML []byte

// Default returns the built-in SMS hazard identification & risk assessment
// form schema.
func Default() *Schema {
	s, err := Parse(defaultSchemaYAML)
	if err != nil {
		panic(fmt.Sprintf("built-in schema is invalid: %v", err))
	}
	return s
}

// Load reads a schema definition from a YAML file.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a YAML schema document. Unknown keys are
// rejected so typos do not silently drop a definition.
func Parse(data []byte) (*Schema, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Schema
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return &s, nil
}
