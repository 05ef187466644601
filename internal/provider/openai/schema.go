package openai

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Both fields are optional; missing ones are filled from the fallback
// analysis. Wrong types are rejected.
const analysisSchema = `{
  "type": "object",
  "properties": {
    "description": {"type": "string"},
    "styleNotes": {
      "type": "array",
      "items": {"type": "string"}
    }
  }
}`

var analysisValidator = jsonschema.MustCompileString("analysis.json", analysisSchema)

func validateAnalysis(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal analysis: %w", err)
	}
	if err := analysisValidator.Validate(v); err != nil {
		return fmt.Errorf("analysis does not match schema: %w", err)
	}
	return nil
}
