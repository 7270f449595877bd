package enumerate

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/mitchellh/mapstructure"
)

// JSONEnumeratorConfig reads a JSON file containing an array of objects
// and emits one payload per element.
type JSONEnumeratorConfig struct {
	Path string `mapstructure:"path"`
}

type JSONEnumerator struct {
	cfg JSONEnumeratorConfig
}

func NewJSONEnumerator(config map[string]any) (Enumerator, error) {
	var cfg JSONEnumeratorConfig
	if err := mapstructure.Decode(config, &cfg); err != nil {
		return nil, fmt.Errorf("decode json enumerator config: %w", err)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("json enumerator requires non-empty path")
	}
	return &JSONEnumerator{cfg: cfg}, nil
}

func (e *JSONEnumerator) Enumerate(ctx context.Context) (Result, error) {
	data, err := os.ReadFile(e.cfg.Path)
	if err != nil {
		return Result{}, fmt.Errorf("read json %s: %w", e.cfg.Path, err)
	}

	var items []map[string]any
	if err := json.Unmarshal(data, &items); err != nil {
		return Result{}, fmt.Errorf("parse json array %s: %w", e.cfg.Path, err)
	}

	payloads := make([]Payload, 0, len(items))
	var sampleKeys []string
	for i, item := range items {
		if i == 0 {
			for k := range item {
				if len(k) > 0 && k[0] != '_' {
					sampleKeys = append(sampleKeys, k)
				}
			}
		}
		payloads = append(payloads, Payload(item))
	}

	return Result{Payloads: payloads, Metadata: map[string]any{"sample_keys": sampleKeys}}, nil
}

// SQLEnumeratorConfig is validated but not executed: wiring a second,
// user-supplied SQL engine for arbitrary enumeration queries is outside
// this system's own storage layer (which is SQLite, reserved for the
// job/unit repository itself). Config validation still lets create_job
// reject a malformed SQL enumerator request before anything is persisted.
type SQLEnumeratorConfig struct {
	DSN   string `mapstructure:"dsn"`
	Query string `mapstructure:"query"`
}

type SQLEnumerator struct {
	cfg SQLEnumeratorConfig
}

func NewSQLEnumerator(config map[string]any) (Enumerator, error) {
	var cfg SQLEnumeratorConfig
	if err := mapstructure.Decode(config, &cfg); err != nil {
		return nil, fmt.Errorf("decode sql enumerator config: %w", err)
	}
	if cfg.DSN == "" || cfg.Query == "" {
		return nil, fmt.Errorf("sql enumerator requires both dsn and query")
	}
	return &SQLEnumerator{cfg: cfg}, nil
}

func (e *SQLEnumerator) Enumerate(ctx context.Context) (Result, error) {
	return Result{}, fmt.Errorf("sql enumerator: no driver bundled for arbitrary user data sources; run the query yourself and use the json enumerator with its output")
}
