package source

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/JakeFAU/egp-watch/internal/procurement"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	envelopeSchema      = mustCompile("schemas/envelope.json")
	packageSearchSchema = mustCompile("schemas/package_search.json")
)

func mustCompile(path string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	f, err := schemaFS.Open(path)
	if err != nil {
		panic(fmt.Sprintf("open schema %s: %v", path, err))
	}
	defer func() { _ = f.Close() }()
	if err := compiler.AddResource(path, f); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", path, err))
	}
	schema, err := compiler.Compile(path)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", path, err))
	}
	return schema
}

var errPortalFailure = errors.New("portal reported success=false")

// decodeEnvelope parses body with json.Number precision, rejects CKAN error
// envelopes, and validates the rest against schema.
func decodeEnvelope(origin string, body json.RawMessage, schema *jsonschema.Schema) (map[string]any, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, &procurement.DecodeError{Transport: origin, Body: procurement.Excerpt(body), Err: err}
	}
	obj, _ := doc.(map[string]any)
	if success, ok := obj["success"].(bool); ok && !success {
		err := errPortalFailure
		if detail, ok := obj["error"]; ok {
			err = fmt.Errorf("%w: %v", errPortalFailure, detail)
		}
		return nil, &procurement.DecodeError{Transport: origin, Body: procurement.Excerpt(body), Err: err}
	}
	if err := schema.Validate(doc); err != nil {
		return nil, &procurement.DecodeError{Transport: origin, Body: procurement.Excerpt(body), Err: fmt.Errorf("unexpected envelope: %w", err)}
	}
	return obj, nil
}

// DecodeRecords extracts result.records from a datastore response.
func DecodeRecords(origin string, body json.RawMessage) ([]procurement.Record, error) {
	obj, err := decodeEnvelope(origin, body, envelopeSchema)
	if err != nil {
		return nil, err
	}
	result, _ := obj["result"].(map[string]any)
	raw, _ := result["records"].([]any)
	records := make([]procurement.Record, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			records = append(records, procurement.Record(m))
		}
	}
	return records, nil
}
