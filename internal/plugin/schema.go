// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugins

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// SchemaID is the $id of the manifest schema, for use in plugin.yaml files.
const SchemaID = "https://plugbus.holomush.dev/schemas/plugin.schema.json"

var (
	schemaMu    sync.Mutex
	schemaCache *jschema.Schema
)

// GenerateSchema generates a JSON Schema from the Manifest struct.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&Manifest{})

	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "plugbus plugin manifest"
	schema.Description = "Schema for plugin.yaml manifest files"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.With("operation", "generate_manifest_schema").Wrap(err)
	}
	return data, nil
}

// ValidateSchema validates YAML data against the plugin manifest JSON Schema.
func ValidateSchema(data []byte) error {
	if len(data) == 0 {
		return manifestError("").Errorf("manifest data is empty")
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return manifestError("").Wrapf(err, "invalid YAML")
	}

	sch, err := compiledSchema()
	if err != nil {
		return err
	}

	if err := sch.Validate(ToJSONTypes(doc)); err != nil {
		return manifestError("").Wrapf(err, "schema validation failed")
	}
	return nil
}

func compiledSchema() (*jschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	if schemaCache != nil {
		return schemaCache, nil
	}

	raw, err := GenerateSchema()
	if err != nil {
		return nil, err
	}
	sch, err := CompileSchema("plugin.schema.json", raw)
	if err != nil {
		return nil, err
	}
	schemaCache = sch
	return sch, nil
}

// CompileSchema compiles a JSON Schema document registered under name.
func CompileSchema(name string, raw []byte) (*jschema.Schema, error) {
	doc, err := jschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, oops.With("schema", name).Wrapf(err, "parse schema JSON")
	}

	c := jschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, oops.With("schema", name).Wrapf(err, "add schema resource")
	}
	sch, err := c.Compile(name)
	if err != nil {
		return nil, oops.With("schema", name).Wrapf(err, "compile schema")
	}
	return sch, nil
}

// ToJSONTypes converts YAML-decoded values into the types a JSON decoder
// would have produced, so they can be validated against a JSON Schema.
func ToJSONTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = ToJSONTypes(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = ToJSONTypes(item)
		}
		return out
	case string, int, int64, float64, bool, nil:
		return val
	default:
		if b, err := json.Marshal(val); err == nil {
			var out any
			if err := json.Unmarshal(b, &out); err == nil {
				return out
			}
		}
		return val
	}
}

// ResetSchemaCache clears the cached schema. Used for testing.
func ResetSchemaCache() {
	schemaMu.Lock()
	schemaCache = nil
	schemaMu.Unlock()
}

// FormatSchemaError strips the wrapping from a schema validation error for display.
func FormatSchemaError(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimPrefix(err.Error(), "schema validation failed: ")
}
