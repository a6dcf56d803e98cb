package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

type format string

const (
	formatJSON format = "json"
	formatYAML format = "yaml"
)

func formatOf(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	}
	return formatJSON
}

// coerceToJSONBytes returns the file as JSON so both formats go through the
// same strict decoder.
func coerceToJSONBytes(path string, data []byte) ([]byte, format, error) {
	f := formatOf(path)
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, f, errors.New("config file is empty")
	}
	if f == formatJSON {
		return data, f, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, f, fmt.Errorf("parse yaml: %w", err)
	}
	if _, ok := doc.(map[string]any); !ok {
		return nil, f, fmt.Errorf("yaml config must be a mapping, got %T", doc)
	}
	j, err := json.Marshal(stringKeys(doc))
	if err != nil {
		return nil, f, fmt.Errorf("convert yaml to json: %w", err)
	}
	return j, f, nil
}

// stringKeys rewrites nested map[any]any (non-string YAML keys such as
// numbers) into map[string]any, which encoding/json requires.
func stringKeys(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = stringKeys(e)
		}
		return x
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[fmt.Sprint(k)] = stringKeys(e)
		}
		return m
	case []any:
		for i, e := range x {
			x[i] = stringKeys(e)
		}
		return x
	}
	return v
}
