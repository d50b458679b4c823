package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat indicates a config file whose extension is not
// .yaml, .yml or .json.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// Values wraps a decoded YAML/JSON document for typed lookups.
// Keys are dotted paths into nested maps ("retry.base"). Every accessor
// returns its default when the key is missing or has the wrong type.
type Values struct {
	data map[string]any
}

// NewValues creates Values from the given map.
// If data is nil, empty Values are returned.
func NewValues(data map[string]any) Values {
	if data == nil {
		data = make(map[string]any)
	}
	return Values{data: data}
}

// ReadValues decodes the config file at path. The extension picks the
// decoder and is checked before the file is read.
func ReadValues(path string) (Values, error) {
	var unmarshal func([]byte, any) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		unmarshal = yaml.Unmarshal
	case ".json":
		unmarshal = json.Unmarshal
	default:
		return Values{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Values{}, err
	}
	var m map[string]any
	if err := unmarshal(data, &m); err != nil {
		return Values{}, fmt.Errorf("config %s: %w", path, err)
	}
	return NewValues(m), nil
}

// lookup walks the dotted key through nested maps.
func (v Values) lookup(key string) (any, bool) {
	var cur any = v.data
	for _, seg := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[seg]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the string value for key, or defaultVal.
func (v Values) String(key, defaultVal string) string {
	raw, ok := v.lookup(key)
	if !ok {
		return defaultVal
	}
	if s, ok := raw.(string); ok {
		return s
	}
	return defaultVal
}

// Duration returns the duration value for key, or defaultVal.
//
// Accepts:
//   - string: parsed with time.ParseDuration
//   - int, int64, float64: interpreted as seconds
func (v Values) Duration(key string, defaultVal time.Duration) time.Duration {
	raw, ok := v.lookup(key)
	if !ok {
		return defaultVal
	}
	switch val := raw.(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	case float64:
		return time.Duration(val * float64(time.Second))
	case int:
		return time.Duration(val) * time.Second
	case int64:
		return time.Duration(val) * time.Second
	}
	return defaultVal
}

// Bool returns the boolean value for key, or defaultVal.
func (v Values) Bool(key string, defaultVal bool) bool {
	raw, ok := v.lookup(key)
	if !ok {
		return defaultVal
	}
	if b, ok := raw.(bool); ok {
		return b
	}
	return defaultVal
}

// Float returns the float64 value for key, or defaultVal.
func (v Values) Float(key string, defaultVal float64) float64 {
	raw, ok := v.lookup(key)
	if !ok {
		return defaultVal
	}
	switch val := raw.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	}
	return defaultVal
}

// Int returns the integer value for key, or defaultVal. Floats (JSON
// numbers) are accepted only when they are whole.
func (v Values) Int(key string, defaultVal int) int {
	raw, ok := v.lookup(key)
	if !ok {
		return defaultVal
	}
	switch val := raw.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		if val == float64(int(val)) {
			return int(val)
		}
	}
	return defaultVal
}

// StringSlice returns the string list for key, or defaultVal if any
// element is not a string.
func (v Values) StringSlice(key string, defaultVal []string) []string {
	raw, ok := v.lookup(key)
	if !ok {
		return defaultVal
	}
	switch val := raw.(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return defaultVal
			}
			out = append(out, s)
		}
		return out
	}
	return defaultVal
}

// Has reports whether key is present.
func (v Values) Has(key string) bool {
	_, ok := v.lookup(key)
	return ok
}
