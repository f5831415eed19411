package repository

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MetadataFile is the name of the per-package metadata file.
const MetadataFile = ".metadata"

// metadataSchemaJSON describes a well-formed metadata file: an array of flat
// records with the three mandatory keys. Every other value must be a scalar.
const metadataSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["platform", "package", "resources"],
    "properties": {
      "platform":  {"type": "string"},
      "package":   {"type": "string"},
      "resources": {"type": "array", "items": {"type": "string"}}
    },
    "additionalProperties": {"type": ["string", "number", "boolean", "null"]}
  }
}`

var metadataSchema = jsonschema.MustCompileString("metadata.schema.json", metadataSchemaJSON)

// ParseMetadata decodes and validates the contents of a metadata file.
// Numbers and booleans are kept as their literal JSON text; null values
// are treated as absent attributes.
func ParseMetadata(data []byte) ([]Version, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("metadata is empty")
	}

	// jsonschema expects json.Number for numeric values
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("metadata is not valid JSON: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("metadata has trailing content after the JSON array")
	}

	if err := metadataSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("metadata does not match schema: %w", err)
	}

	records, ok := doc.([]interface{})
	if !ok {
		return nil, fmt.Errorf("metadata is not an array")
	}

	versions := make([]Version, 0, len(records))
	for i, rec := range records {
		v, err := versionFromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		versions = append(versions, v)
	}
	return versions, nil
}

func versionFromRecord(rec interface{}) (Version, error) {
	obj, ok := rec.(map[string]interface{})
	if !ok {
		return Version{}, fmt.Errorf("record is not an object")
	}

	attrs := make(map[string]string, len(obj))
	var resources []string
	for k, raw := range obj {
		if k == AttrResources {
			list, ok := raw.([]interface{})
			if !ok {
				return Version{}, fmt.Errorf("resources is not an array")
			}
			for _, item := range list {
				s, ok := item.(string)
				if !ok {
					return Version{}, fmt.Errorf("resource %v is not a string", item)
				}
				resources = append(resources, s)
			}
			continue
		}

		switch val := raw.(type) {
		case string:
			attrs[k] = val
		case json.Number:
			attrs[k] = val.String()
		case bool:
			attrs[k] = strconv.FormatBool(val)
		case nil:
			// absent
		default:
			return Version{}, fmt.Errorf("attribute %s is not a scalar", k)
		}
	}

	return Version{attrs: attrs, resources: resources}, nil
}

// EncodeMetadata renders versions in metadata file format.
func EncodeMetadata(versions []Version) ([]byte, error) {
	if versions == nil {
		versions = []Version{}
	}
	return json.MarshalIndent(versions, "", "  ")
}
