// Package synth implements prompt synthesis: turning a user's high-level
// intent into a per-unit worker_prompt_template string. spec.md §1 marks
// this "out of scope... treated as a pure string transform"; this package
// gives create_job a concrete, testable default instead of a stub.
package synth

import (
	"fmt"
	"strings"
)

// FilePromptTemplate builds the file-processing variant, which always
// carries a {file_path} contract so the rendered prompt can name the file
// an agent invocation is meant to act on.
func FilePromptTemplate(intent string) string {
	return fmt.Sprintf("%s\n\nProcess the file at: {file_path}", strings.TrimSpace(intent))
}

// GenericPromptTemplate builds the non-file variant, optionally enriched
// with a payload_description line extracted from enumerator metadata
// (column names, or sample-item keys skipping underscore-prefixed
// fields).
func GenericPromptTemplate(intent string, payloadDescription string) string {
	intent = strings.TrimSpace(intent)
	if payloadDescription == "" {
		return fmt.Sprintf("%s\n\nWork unit data: {payload}", intent)
	}
	return fmt.Sprintf("%s\n\nEach work unit has the following fields: %s.\n\nWork unit data: {payload}", intent, payloadDescription)
}

// DescribePayload turns enumerator metadata into a human-readable field
// list: CSV/SQL column names take precedence, falling back to
// underscore-filtered sample keys from a JSON/dynamic source.
func DescribePayload(metadata map[string]any) string {
	if cols, ok := metadata["columns"].([]string); ok && len(cols) > 0 {
		return strings.Join(cols, ", ")
	}
	if keys, ok := metadata["sample_keys"].([]string); ok && len(keys) > 0 {
		return strings.Join(keys, ", ")
	}
	return ""
}

// PostProcessingTemplate builds the synthesis-step prompt, combining the
// user-specified post-processing intent with the aggregate context the
// job executor assembles (counts, name, description).
func PostProcessingTemplate(intent string) string {
	return fmt.Sprintf("%s\n\nAggregate context: {payload}", strings.TrimSpace(intent))
}
