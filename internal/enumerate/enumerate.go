// Package enumerate implements pluggable producers of work-unit payloads.
// spec.md marks concrete enumerators as "deliberately out of scope"
// external collaborators; this package supplies the registry pattern and
// a few concrete implementations (file glob, CSV, JSON) the original
// Python implementation shipped, so create_job is exercisable end to end.
package enumerate

import "context"

// Payload is one work unit's input, always a flat JSON object.
type Payload map[string]any

// Result is what Enumerate returns: either a populated payload list, or
// an error — never both.
type Result struct {
	Payloads []Payload
	Metadata map[string]any // e.g. column names, sample keys — used to enrich prompt synthesis
}

// Enumerator is the capability interface spec.md §9 names: the core
// depends only on Enumerate returning payloads or an error.
type Enumerator interface {
	Enumerate(ctx context.Context) (Result, error)
}

// Factory builds an Enumerator from a decoded config map. Concrete
// enumerator packages register a Factory under their type name.
type Factory func(config map[string]any) (Enumerator, error)

// Registry is a simple type->Factory lookup, grounded on the original
// implementation's enumerators/registry.py.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("file", NewFileEnumerator)
	r.Register("csv", NewCSVEnumerator)
	r.Register("json", NewJSONEnumerator)
	r.Register("sql", NewSQLEnumerator)
	return r
}

func (r *Registry) Register(name string, f Factory) { r.factories[name] = f }

// Build validates that the named enumerator type exists, validates its
// config against the schema reflected from that type's config struct, and
// constructs it.
func (r *Registry) Build(enumeratorType string, config map[string]any) (Enumerator, error) {
	factory, ok := r.factories[enumeratorType]
	if !ok {
		return nil, &UnknownTypeError{Type: enumeratorType}
	}
	if err := validateConfig(enumeratorType, config); err != nil {
		return nil, err
	}
	return factory(config)
}

// UnknownTypeError is returned when create_job names an enumerator type
// the registry has no factory for.
type UnknownTypeError struct{ Type string }

func (e *UnknownTypeError) Error() string { return "unknown enumerator type: " + e.Type }
