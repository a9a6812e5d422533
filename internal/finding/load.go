package finding

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// validate is a singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()

	_ = validate.RegisterValidation("severity", func(fl validator.FieldLevel) bool {
		return Severity(fl.Field().String()).Valid()
	})
}

// envelope is the wrapped input shape: {"findings": [...]}.
type envelope struct {
	Findings []Finding `json:"findings" yaml:"findings"`
}

// Load reads findings from a JSON or YAML file. Both a bare list and an
// object with a "findings" key are accepted. YAML is chosen by extension.
func Load(fs afero.Fs, path string) ([]Finding, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read findings: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	var findings []Finding
	if ext == ".yaml" || ext == ".yml" {
		findings, err = decodeYAML(data)
	} else {
		findings, err = decodeJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	if err := ValidateAll(findings); err != nil {
		return nil, err
	}
	return findings, nil
}

func decodeJSON(data []byte) ([]Finding, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, err
		}
		return env.Findings, nil
	}
	var findings []Finding
	if err := json.Unmarshal(data, &findings); err != nil {
		return nil, err
	}
	return findings, nil
}

func decodeYAML(data []byte) ([]Finding, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	if node.Content[0].Kind == yaml.MappingNode {
		var env envelope
		if err := node.Decode(&env); err != nil {
			return nil, err
		}
		return env.Findings, nil
	}
	var findings []Finding
	if err := node.Decode(&findings); err != nil {
		return nil, err
	}
	return findings, nil
}

// ValidateAll checks required fields on every finding. The first invalid
// finding is reported with its index.
func ValidateAll(findings []Finding) error {
	for i := range findings {
		if err := validate.Struct(findings[i]); err != nil {
			return fmt.Errorf("finding %d (%s): %w", i, findings[i].ID, err)
		}
	}
	return nil
}
