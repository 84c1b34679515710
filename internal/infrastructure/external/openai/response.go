package openai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const classificationSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reason": {"type": "string"}
  }
}`

// amounts may come back as numbers despite the prompt
const extractionSchema = `{
  "type": "object",
  "additionalProperties": {"type": ["string", "number", "null"]}
}`

func compileSchema(name, src string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("failed to add schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	return schema, nil
}

func mustCompileSchema(name, src string) *jsonschema.Schema {
	schema, err := compileSchema(name, src)
	if err != nil {
		panic(err)
	}
	return schema
}

var (
	classificationValidator = mustCompileSchema("classification.json", classificationSchema)
	extractionValidator     = mustCompileSchema("extraction.json", extractionSchema)
)

// decodeResponse pulls the JSON object out of a reply, validates it and
// decodes it into out. Numbers are kept as json.Number.
func decodeResponse(content string, schema *jsonschema.Schema, out interface{}) error {
	raw := strings.TrimSpace(content)
	if !json.Valid([]byte(raw)) {
		raw = extractJSON(content)
		if raw == "" {
			return fmt.Errorf("%w: no JSON object in response", ErrInvalidResponse)
		}
	}

	var generic interface{}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if err := schema.Validate(generic); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	dec = json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// extractJSON returns the first balanced JSON object in content, which
// may be wrapped in markdown code fences
func extractJSON(content string) string {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return ""
	}
	end := findJSONEnd(content, start)
	if end <= start {
		return ""
	}
	return content[start:end]
}

func findJSONEnd(content string, start int) int {
	depth := 0
	inString := false
	escapeNext := false

	for i := start; i < len(content); i++ {
		char := content[i]

		if escapeNext {
			escapeNext = false
			continue
		}
		if char == '\\' {
			escapeNext = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch char {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}
