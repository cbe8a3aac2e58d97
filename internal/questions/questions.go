// Package questions loads the ordered interview question bank.
package questions

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pavelanni/interviewer/internal/model"
)

//go:embed default.yaml
var defaultBank []byte

type bankFile struct {
	Questions []model.Question `yaml:"questions"`
}

// Default returns the built-in ten-question bank.
func Default() []model.Question {
	qs, err := Parse(defaultBank)
	if err != nil {
		panic(fmt.Sprintf("embedded question bank: %v", err))
	}
	return qs
}

// Load reads a bank from path, or returns the default bank when path is empty.
func Load(path string) ([]model.Question, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	qs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return qs, nil
}

// Parse decodes and validates a YAML bank.
func Parse(data []byte) ([]model.Question, error) {
	var f bankFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if len(f.Questions) == 0 {
		return nil, fmt.Errorf("question bank is empty")
	}
	for i, q := range f.Questions {
		if strings.TrimSpace(q.Text) == "" {
			return nil, fmt.Errorf("question %d has no text", i+1)
		}
		if len(q.Keywords) == 0 {
			return nil, fmt.Errorf("question %d has no keywords", i+1)
		}
	}
	return f.Questions, nil
}
