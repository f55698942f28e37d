package dispatch

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// validateResponseFormatSchema checks a client-supplied OpenAI-style
// response_format.json_schema.schema for well-formedness before the request
// goes anywhere upstream: a malformed schema would otherwise fail only once
// the provider rejects it, burning a candidate attempt and a concurrency
// slot for something the client controls entirely.
//
// Bodies without a response_format.json_schema field pass through untouched.
func validateResponseFormatSchema(body []byte) error {
	schemaJSON := gjson.GetBytes(body, "response_format.json_schema.schema")
	if !schemaJSON.Exists() {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("response_format.json", strings.NewReader(schemaJSON.Raw)); err != nil {
		return fmt.Errorf("invalid response_format.json_schema.schema: %w", err)
	}
	if _, err := compiler.Compile("response_format.json"); err != nil {
		return fmt.Errorf("invalid response_format.json_schema.schema: %w", err)
	}
	return nil
}
