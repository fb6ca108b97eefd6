package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aescanero/dagflow/pkg/domain"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a workflow definition.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks a format from a file extension.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Parse decodes a workflow definition.
func Parse(data []byte, format Format) (*domain.Workflow, error) {
	var wf domain.Workflow
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &wf); err != nil {
			return nil, fmt.Errorf("failed to parse workflow: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &wf); err != nil {
			return nil, fmt.Errorf("failed to parse workflow: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported workflow format %q", format)
	}
	return &wf, nil
}

// LoadFile reads a workflow definition from disk.
func LoadFile(path string) (*domain.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow %s: %w", path, err)
	}
	wf, err := Parse(data, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wf, nil
}
