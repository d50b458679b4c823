package dag

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// taskDoc is the on-disk task shape. retry_count (retryCount in JSON) is
// accepted as an older spelling of max_retries.
type taskDoc struct {
	ID         string   `json:"id" yaml:"id"`
	Handler    string   `json:"handler" yaml:"handler"`
	Triggers   []string `json:"triggers" yaml:"triggers"`
	MaxRetries *int     `json:"max_retries" yaml:"max_retries"`
	RetryCount *int     `json:"retryCount" yaml:"retry_count"`
}

type definitionDoc struct {
	ID    string    `json:"id" yaml:"id"`
	Tasks []taskDoc `json:"tasks" yaml:"tasks"`
}

func (d definitionDoc) definition() Definition {
	def := Definition{ID: d.ID, Tasks: make([]Task, 0, len(d.Tasks))}
	for _, t := range d.Tasks {
		task := Task{ID: t.ID, Handler: t.Handler, Triggers: t.Triggers}
		switch {
		case t.MaxRetries != nil:
			task.MaxRetries = *t.MaxRetries
		case t.RetryCount != nil:
			task.MaxRetries = *t.RetryCount
		}
		def.Tasks = append(def.Tasks, task)
	}
	return def
}

// LoadFile reads a definition, auto-detecting format by extension.
// Supported extensions: .yaml, .yml, .json
func LoadFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read dag file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".json":
		return ParseJSON(data)
	default:
		return Definition{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

// ParseYAML parses and validates a YAML definition.
func ParseYAML(data []byte) (Definition, error) {
	var doc definitionDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Definition{}, fmt.Errorf("parse yaml: %w", err)
	}
	def := doc.definition()
	return def, def.Validate()
}

// ParseJSON parses and validates a JSON definition.
func ParseJSON(data []byte) (Definition, error) {
	var doc definitionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return Definition{}, fmt.Errorf("parse json: %w", err)
	}
	def := doc.definition()
	return def, def.Validate()
}
