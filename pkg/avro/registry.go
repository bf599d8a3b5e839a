package avro

import (
	"fmt"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"github.com/riferrei/srclient"
)

// Sorted map keys make the re-marshalled form canonical.
var canonicalJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// EnsureSchema registers schemaJSON under subject unless the subject already
// holds an equivalent schema. A different existing schema is kept and
// returned; evolving it is left to the registry's compatibility rules.
func EnsureSchema(client srclient.ISchemaRegistryClient, subject, schemaJSON string) (*srclient.Schema, bool, error) {
	existing, err := client.GetLatestSchema(subject)
	if err != nil {
		created, cerr := client.CreateSchema(subject, schemaJSON, srclient.Avro)
		if cerr != nil {
			return nil, false, fmt.Errorf("register schema %s: %w", subject, cerr)
		}
		return created, true, nil
	}

	want, err := normalizeSchemaJSON(schemaJSON)
	if err != nil {
		return nil, false, err
	}
	have, err := normalizeSchemaJSON(existing.Schema())
	if err != nil || have != want {
		return existing, false, fmt.Errorf("subject %s already holds a different schema (id %d)", subject, existing.ID())
	}
	return existing, false, nil
}

// normalizeSchemaJSON re-encodes a schema with sorted object keys and record
// fields sorted by name, so equivalent schemas compare equal as strings.
func normalizeSchemaJSON(schemaJSON string) (string, error) {
	var schema any
	if err := canonicalJSON.UnmarshalFromString(schemaJSON, &schema); err != nil {
		return "", fmt.Errorf("parse schema JSON: %w", err)
	}
	out, err := canonicalJSON.MarshalToString(normalize(schema))
	if err != nil {
		return "", fmt.Errorf("marshal schema JSON: %w", err)
	}
	return out, nil
}

func normalize(node any) any {
	switch n := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, v := range n {
			out[k] = normalize(v)
		}
		if fields, ok := out["fields"].([]any); ok {
			sort.SliceStable(fields, func(i, j int) bool { return fieldName(fields[i]) < fieldName(fields[j]) })
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, v := range n {
			out[i] = normalize(v)
		}
		return out
	default:
		return n
	}
}

func fieldName(field any) string {
	m, ok := field.(map[string]any)
	if !ok {
		return ""
	}
	name, _ := m["name"].(string)
	return name
}
