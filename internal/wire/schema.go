package wire

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Inbound frames and message bodies are checked against embedded JSON
// Schemas before dispatch. The schemas pin the envelope shapes, including
// opTimestamp being a plain integer so tie-break comparisons cannot be
// broken by a float on the wire.

const frameSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["command"],
  "properties": {
    "command": {"enum": ["SEND", "SUBSCRIBE", "UNSUBSCRIBE", "MESSAGE"]},
    "destination": {"type": "string", "minLength": 1},
    "id": {"type": "string", "minLength": 1},
    "body": {}
  },
  "additionalProperties": false,
  "allOf": [
    {
      "if": {"properties": {"command": {"const": "MESSAGE"}}},
      "then": {"required": ["destination", "body"]}
    },
    {
      "if": {"properties": {"command": {"const": "SEND"}}},
      "then": {"required": ["destination", "body"]}
    },
    {
      "if": {"properties": {"command": {"const": "SUBSCRIBE"}}},
      "then": {"required": ["destination", "id"]}
    },
    {
      "if": {"properties": {"command": {"const": "UNSUBSCRIBE"}}},
      "then": {"required": ["id"]}
    }
  ]
}`

const messageSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {"enum": ["applied", "saved", "presence-join", "presence-leave", "join-response"]},
    "userId": {"type": "string"},
    "clientId": {"type": "string"},
    "op": {
      "type": "object",
      "required": ["opId", "clientId", "opTimestamp", "type", "day"],
      "properties": {
        "opId": {"type": "string", "minLength": 1},
        "clientId": {"type": "string", "minLength": 1},
        "opTimestamp": {"type": "integer"},
        "type": {"enum": ["insert", "move", "moveDay", "update", "delete"]},
        "day": {"type": "integer", "minimum": 1},
        "insert": {"type": "object"},
        "move": {"type": "object"},
        "moveDay": {"type": "object"},
        "update": {"type": "object"},
        "delete": {"type": "object"}
      }
    },
    "snapshot": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["items"],
        "properties": {
          "items": {"type": "array"},
          "lastStreamOffset": {"type": "string"}
        }
      }
    }
  },
  "allOf": [
    {
      "if": {"properties": {"type": {"const": "applied"}}},
      "then": {"required": ["op"]}
    },
    {
      "if": {"properties": {"type": {"const": "join-response"}}},
      "then": {"required": ["snapshot"]}
    }
  ]
}`

var (
	frameSchema   = mustCompileSchema("frame.json", frameSchemaJSON)
	messageSchema = mustCompileSchema("message.json", messageSchemaJSON)
)

func mustCompileSchema(name, src string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		panic(fmt.Sprintf("wire: schema %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("wire: schema %s: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("wire: schema %s: %v", name, err))
	}
	return schema
}

func validateAgainst(schema *jsonschema.Schema, data []byte) error {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	return schema.Validate(instance)
}
