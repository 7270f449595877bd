package synth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilePromptTemplateAlwaysCarriesFilePathPlaceholder(t *testing.T) {
	out := FilePromptTemplate("  Summarize each file  ")
	assert.Contains(t, out, "Summarize each file")
	assert.Contains(t, out, "{file_path}")
}

func TestGenericPromptTemplateWithoutDescription(t *testing.T) {
	out := GenericPromptTemplate("Classify the row", "")
	assert.Equal(t, "Classify the row\n\nWork unit data: {payload}", out)
}

func TestGenericPromptTemplateWithDescription(t *testing.T) {
	out := GenericPromptTemplate("Classify the row", "name, age")
	assert.Contains(t, out, "Each work unit has the following fields: name, age.")
	assert.Contains(t, out, "{payload}")
}

func TestDescribePayloadPrefersColumnsOverSampleKeys(t *testing.T) {
	desc := DescribePayload(map[string]any{
		"columns":     []string{"a", "b"},
		"sample_keys": []string{"x", "y"},
	})
	assert.Equal(t, "a, b", desc)
}

func TestDescribePayloadFallsBackToSampleKeys(t *testing.T) {
	desc := DescribePayload(map[string]any{"sample_keys": []string{"title", "body"}})
	assert.Equal(t, "title, body", desc)
}

func TestDescribePayloadEmptyWhenNeitherPresent(t *testing.T) {
	assert.Equal(t, "", DescribePayload(map[string]any{}))
}

func TestPostProcessingTemplateCarriesPayloadPlaceholder(t *testing.T) {
	out := PostProcessingTemplate(" Summarize all results ")
	assert.Contains(t, out, "Summarize all results")
	assert.Contains(t, out, "Aggregate context: {payload}")
}
