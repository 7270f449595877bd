package enumerate

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
)

// CSVEnumeratorConfig reads a CSV file with a header row and emits one
// payload per data row, keyed by column name.
type CSVEnumeratorConfig struct {
	Path string `mapstructure:"path"`
}

type CSVEnumerator struct {
	cfg CSVEnumeratorConfig
}

func NewCSVEnumerator(config map[string]any) (Enumerator, error) {
	var cfg CSVEnumeratorConfig
	if err := mapstructure.Decode(config, &cfg); err != nil {
		return nil, fmt.Errorf("decode csv enumerator config: %w", err)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("csv enumerator requires non-empty path")
	}
	return &CSVEnumerator{cfg: cfg}, nil
}

func (e *CSVEnumerator) Enumerate(ctx context.Context) (Result, error) {
	f, err := os.Open(e.cfg.Path)
	if err != nil {
		return Result{}, fmt.Errorf("open csv %s: %w", e.cfg.Path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return Result{}, fmt.Errorf("parse csv %s: %w", e.cfg.Path, err)
	}
	if len(rows) == 0 {
		return Result{}, nil
	}

	header := rows[0]
	payloads := make([]Payload, 0, len(rows)-1)
	for _, row := range rows[1:] {
		p := make(Payload, len(header))
		for i, col := range header {
			if i < len(row) {
				p[col] = row[i]
			}
		}
		payloads = append(payloads, p)
	}

	return Result{Payloads: payloads, Metadata: map[string]any{"columns": header}}, nil
}
