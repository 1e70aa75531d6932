package spec

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaSource string

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func documentSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("loadctl.json", strings.NewReader(schemaSource)); err != nil {
			schemaErr = fmt.Errorf("invalid schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("loadctl.json")
	})
	return compiledSchema, schemaErr
}

// Load loads a test specification from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
//
// A spec without an id takes the file's base name.
func Load(path string) (*LoadTestSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec file: %w", err)
	}

	s, err := decode(data, path)
	if err != nil {
		return nil, err
	}
	if s.ID == "" {
		base := filepath.Base(path)
		s.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	ApplyDefaults(s)
	return s, nil
}

// Parse checks the document against the embedded schema, decodes it and
// applies defaults. It does not run Validate.
//
// The format is determined by the file extension in path, defaulting to YAML.
func Parse(data []byte, path string) (*LoadTestSpec, error) {
	s, err := decode(data, path)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(s)
	return s, nil
}

func decode(data []byte, path string) (*LoadTestSpec, error) {
	isJSON := strings.ToLower(filepath.Ext(path)) == ".json"

	if err := CheckSchema(data, isJSON); err != nil {
		return nil, err
	}

	var s LoadTestSpec
	if isJSON {
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&s); err != nil {
			return nil, fmt.Errorf("failed to parse JSON spec: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to parse YAML spec: %w", err)
		}
	}

	return &s, nil
}

// CheckSchema validates a raw document against the embedded JSON schema.
// YAML documents are normalised to JSON values first.
func CheckSchema(data []byte, isJSON bool) error {
	schema, err := documentSchema()
	if err != nil {
		return err
	}

	var doc interface{}
	if isJSON {
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}
	} else {
		var raw interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("failed to parse YAML spec: %w", err)
		}
		encoded, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("spec is not representable as JSON: %w", err)
		}
		if err := json.Unmarshal(encoded, &doc); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}
	}

	if doc == nil {
		return fmt.Errorf("spec document is empty")
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("spec does not match schema: %w", err)
	}
	return nil
}
