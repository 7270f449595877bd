package enumerate

import (
	"bytes"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	jsonschemav5 "github.com/santhosh-tekuri/jsonschema/v5"
)

func bytesReader(b []byte) io.Reader { return bytes.NewReader(b) }

// configSchemas maps each registered enumerator type to the Go struct its
// config decodes into, mirroring the teacher's schema-generator tool but
// applied at request time instead of at build time: before an enumerator
// config is handed to mapstructure, it is checked against the schema
// reflected from its target struct.
var configSchemas = map[string]any{
	"file": &FileEnumeratorConfig{},
	"csv":  &CSVEnumeratorConfig{},
	"json": &JSONEnumeratorConfig{},
	"sql":  &SQLEnumeratorConfig{},
}

// validateConfig reflects a JSON Schema from the enumerator type's config
// struct and validates the raw request config against it, catching
// unknown fields and wrong-typed values before enumeration ever runs.
func validateConfig(enumeratorType string, config map[string]any) error {
	target, ok := configSchemas[enumeratorType]
	if !ok {
		return nil // unknown types are reported by Registry.Build, not here
	}

	reflector := &jsonschema.Reflector{FieldNameTag: "mapstructure"}
	schema := reflector.Reflect(target)
	schema.Required = nil

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal reflected schema for %s: %w", enumeratorType, err)
	}

	compiler := jsonschemav5.NewCompiler()
	resourceName := enumeratorType + "-config.json"
	if err := compiler.AddResource(resourceName, bytesReader(schemaJSON)); err != nil {
		return fmt.Errorf("load schema for %s: %w", enumeratorType, err)
	}
	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", enumeratorType, err)
	}

	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshal config for validation: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(configJSON, &decoded); err != nil {
		return fmt.Errorf("decode config for validation: %w", err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("%s enumerator config: %w", enumeratorType, err)
	}
	return nil
}
