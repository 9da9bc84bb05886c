package httpapi

import (
	_ "embed"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/datasets.json
var datasetsSchemaJSON []byte

// validator checks request bodies against the embedded JSON schemas.
type validator struct {
	datasetsSchema *gojsonschema.Schema
}

func newValidator() (*validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(datasetsSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to compile datasets schema: %w", err)
	}
	return &validator{datasetsSchema: schema}, nil
}

// validateDataset validates raw request body bytes against the
// "datasets" schema (spec.md §4.4 validation rule 1). On failure it
// returns the human-readable validation error strings to surface in the
// 400 response body.
func (v *validator) validateDataset(body []byte) ([]string, error) {
	result, err := v.datasetsSchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to validate request body: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}
	details := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		details = append(details, e.String())
	}
	return details, nil
}
