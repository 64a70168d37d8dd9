// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	plugins "github.com/holomush/plugbus/internal/plugin"
)

// SchemaID is the $id of the config file schema.
const SchemaID = "https://plugbus.holomush.dev/schemas/config.schema.json"

var (
	schemaOnce sync.Once
	schema     *jschema.Schema
	schemaErr  error
)

// GenerateSchema generates a JSON Schema from the Config struct.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}
	s := r.Reflect(&Config{})
	s.ID = jsonschema.ID(SchemaID)
	s.Title = "plugbus configuration"
	s.Description = "Schema for the plugbus config.yaml file"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, oops.With("operation", "generate_config_schema").Wrap(err)
	}
	return data, nil
}

func compiled() (*jschema.Schema, error) {
	schemaOnce.Do(func() {
		raw, err := GenerateSchema()
		if err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = plugins.CompileSchema("config.schema.json", raw)
	})
	return schema, schemaErr
}

// ValidateFile checks YAML config data against the config schema. Unknown
// keys and wrongly typed values are rejected. An empty document is valid.
func ValidateFile(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return oops.Code(CodeInvalid).Wrapf(err, "invalid YAML")
	}
	if doc == nil {
		doc = map[string]any{}
	}

	sch, err := compiled()
	if err != nil {
		return err
	}
	if err := sch.Validate(plugins.ToJSONTypes(doc)); err != nil {
		return oops.Code(CodeInvalid).Wrapf(err, "schema validation failed")
	}
	return nil
}
