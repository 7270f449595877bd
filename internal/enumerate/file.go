package enumerate

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
)

// FileEnumeratorConfig globs a directory for files and emits one payload
// per match with a file_path field, the contract the file-processing
// prompt-synthesis variant expects.
type FileEnumeratorConfig struct {
	Glob string `mapstructure:"glob"`
}

type FileEnumerator struct {
	cfg FileEnumeratorConfig
}

func NewFileEnumerator(config map[string]any) (Enumerator, error) {
	var cfg FileEnumeratorConfig
	if err := mapstructure.Decode(config, &cfg); err != nil {
		return nil, fmt.Errorf("decode file enumerator config: %w", err)
	}
	if cfg.Glob == "" {
		return nil, fmt.Errorf("file enumerator requires non-empty glob")
	}
	return &FileEnumerator{cfg: cfg}, nil
}

func (e *FileEnumerator) Enumerate(ctx context.Context) (Result, error) {
	matches, err := filepath.Glob(e.cfg.Glob)
	if err != nil {
		return Result{}, fmt.Errorf("glob %q: %w", e.cfg.Glob, err)
	}

	payloads := make([]Payload, 0, len(matches))
	for _, m := range matches {
		payloads = append(payloads, Payload{"file_path": m})
	}
	return Result{Payloads: payloads, Metadata: map[string]any{"file_typed": true}}, nil
}
