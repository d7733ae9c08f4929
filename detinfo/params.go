package detinfo

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ParameterSet is a provider configuration block.
type ParameterSet map[string]interface{}

// LoadParameterSet reads a YAML parameter set.
func LoadParameterSet(path string) (ParameterSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read parameter set: %v", err)
	}
	params := ParameterSet{}
	if err := yaml.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("invalid parameter set %s: %v", path, err)
	}
	return params, nil
}

// Table returns the nested parameter set stored under key.
func (p ParameterSet) Table(key string) (ParameterSet, bool) {
	switch v := p[key].(type) {
	case ParameterSet:
		return v, true
	case map[string]interface{}:
		return ParameterSet(v), true
	case map[interface{}]interface{}:
		out := make(ParameterSet, len(v))
		for k, val := range v {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func (p ParameterSet) String(key string) (string, bool) {
	v, ok := p[key].(string)
	return v, ok
}

// Float returns a numeric parameter. Integers are widened.
func (p ParameterSet) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
