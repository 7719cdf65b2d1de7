package api

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const executeSchemaURL = "https://geolink.dev/schemas/execute-request.schema.json"

// executeSchema bounds the shape of POST /v1/execute before any field is
// decoded. Structural intent rules are enforced again by intent.Validate.
const executeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["intent", "signature_bundle", "public_key", "rp_id_hash"],
  "additionalProperties": false,
  "properties": {
    "intent": {
      "type": "object",
      "required": ["v", "contract_id", "fn_name", "signer", "nonce", "iat", "exp"],
      "additionalProperties": false,
      "properties": {
        "v":           {"type": "integer", "minimum": 0, "maximum": 4294967295},
        "contract_id": {"type": "string", "minLength": 1},
        "fn_name":     {"type": "string", "minLength": 1},
        "signer":      {"type": "string", "minLength": 1},
        "args":        {"type": ["array", "null"], "maxItems": 64, "items": {"$ref": "#/$defs/base64"}},
        "nonce":       {"type": "string", "pattern": "^[0-9a-fA-F]{64}$"},
        "iat":         {"type": "integer", "minimum": 0},
        "exp":         {"type": "integer", "minimum": 0}
      }
    },
    "signature_bundle": {
      "type": "object",
      "required": ["signature", "authenticator_data", "client_data_json"],
      "additionalProperties": false,
      "properties": {
        "signature":          {"$ref": "#/$defs/base64"},
        "authenticator_data": {"$ref": "#/$defs/base64"},
        "client_data_json":   {"$ref": "#/$defs/base64"},
        "signature_payload":  {"$ref": "#/$defs/base64"}
      }
    },
    "public_key": {"$ref": "#/$defs/base64"},
    "rp_id_hash": {"$ref": "#/$defs/base64"}
  },
  "$defs": {
    "base64": {"type": "string", "pattern": "^[A-Za-z0-9+/]*={0,2}$"}
  }
}`

func compileExecuteSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(executeSchemaURL, strings.NewReader(executeSchema)); err != nil {
		return nil, fmt.Errorf("execute schema load failed: %w", err)
	}
	s, err := c.Compile(executeSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("execute schema compile failed: %w", err)
	}
	return s, nil
}
