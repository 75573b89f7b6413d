package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/nodegraph/pkg/schema"
)

const requestSchemaURL = "https://nodegraph.dev/schemas/execute-request.json"

// requestSchemaJSON describes the invocation envelope. Per-kind config
// shapes are checked by decoding, which also yields MALFORMED_CONFIG codes.
const requestSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://nodegraph.dev/schemas/execute-request.json",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "initialContext": {
      "type": ["object", "null"]
    }
  },
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id":     { "type": "string", "minLength": 1 },
        "type":   { "type": "string", "minLength": 1 },
        "name":   { "type": "string" },
        "config": { "type": ["object", "null"] }
      }
    }
  }
}`

// structuralValidator checks raw request documents against the envelope
// schema. Safe for concurrent use; compiled schemas are immutable.
type structuralValidator struct {
	request *jsonschema.Schema
}

func newStructuralValidator() (*structuralValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(requestSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal request schema: %w", err)
	}
	if err := c.AddResource(requestSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add request schema resource: %w", err)
	}
	compiled, err := c.Compile(requestSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile request schema: %w", err)
	}
	return &structuralValidator{request: compiled}, nil
}

// validate reports every schema violation in raw as a VALIDATION_ERROR
// issue located at its JSON pointer.
func (v *structuralValidator) validate(raw []byte) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, "request is not valid JSON: "+err.Error())
		return result
	}

	if err := v.request.Validate(doc); err != nil {
		verr, ok := err.(*jsonschema.ValidationError)
		if !ok {
			result.AddError("/", schema.ErrCodeValidation, err.Error())
			return result
		}
		for _, violation := range collectViolations(verr) {
			result.AddError(violation.path, schema.ErrCodeValidation, violation.message)
		}
	}
	return result
}

type violation struct {
	path    string
	message string
}

// collectViolations walks a ValidationError tree and returns its leaves.
func collectViolations(verr *jsonschema.ValidationError) []violation {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []violation{{path: loc, message: verr.Error()}}
	}

	var out []violation
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}

// toRawNodes splits the request's nodes into raw documents so each config can
// be decoded on its own.
func toRawNodes(raw []byte) ([]rawNode, error) {
	var envelope struct {
		Nodes []rawNode `json:"nodes"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	return envelope.Nodes, nil
}

type rawNode struct {
	ID     string          `json:"id"`
	Type   schema.NodeType `json:"type"`
	Name   string          `json:"name,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}
