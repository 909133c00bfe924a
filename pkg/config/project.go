package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kilnproject/kiln/pkg/types"
	"gopkg.in/yaml.v3"
)

// LoadProject reads a project config file. YAML and JSON both parse
// (JSON is a YAML subset).
func LoadProject(path string) (*types.Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project file: %w", err)
	}

	var project types.Project
	if err := yaml.Unmarshal(data, &project); err != nil {
		return nil, fmt.Errorf("failed to parse project file: %w", err)
	}
	if len(project.Sequences) == 0 {
		return nil, fmt.Errorf("project %s has no sequences", path)
	}
	return &project, nil
}

// SequenceName derives a job name from a sequence path: the last path
// segment with any asset suffix stripped.
func SequenceName(seq string) string {
	trimmed := strings.TrimRight(seq, "/")
	parts := strings.Split(trimmed, "/")
	last := parts[len(parts)-1]
	return strings.SplitN(last, ".", 2)[0]
}
