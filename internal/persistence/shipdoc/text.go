package shipdoc

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed ship.schema.json
var shipSchemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// ErrEmpty is returned for an empty or whitespace-only document.
var ErrEmpty = errors.New("empty ship document")

func shipSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("ship.schema.json", shipSchemaJSON)
	})
	return schema, schemaErr
}

// Marshal renders the document as YAML.
func Marshal(doc *ShipDocument) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode ship yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode ship yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses YAML text and checks it against the ship schema before mapping it onto
// the model. Any failure means the text is not a ship document.
func Decode(text []byte) (*ShipDocument, error) {
	if len(bytes.TrimSpace(text)) == 0 {
		return nil, ErrEmpty
	}
	var root yaml.Node
	if err := yaml.Unmarshal(text, &root); err != nil {
		return nil, fmt.Errorf("ship yaml: %w", err)
	}
	var raw any
	if err := root.Decode(&raw); err != nil {
		return nil, fmt.Errorf("ship yaml: %w", err)
	}
	if err := validateRaw(raw); err != nil {
		return nil, err
	}
	var doc ShipDocument
	if err := root.Decode(&doc); err != nil {
		return nil, fmt.Errorf("ship yaml: %w", err)
	}
	return &doc, nil
}

func validateRaw(raw any) error {
	s, err := shipSchema()
	if err != nil {
		return fmt.Errorf("compile ship schema: %w", err)
	}
	// jsonschema validates JSON values; a JSON round trip normalises yaml scalars and
	// rejects mappings with non-string keys.
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("ship document is not json-compatible: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("ship document is not json-compatible: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("ship schema: %w", err)
	}
	return nil
}
