// Package toolengine implements the hot-reloadable tool catalog: manifest
// loading, indexing, parameter validation, concurrency control, result
// caching, and audit recording.
package toolengine

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"weave/internal/domain/tool"
	"weave/internal/errors"
)

// manifest mirrors the on-disk tool definition. Decoding is strict: unknown
// top-level keys fail the load.
type manifest struct {
	Name        string         `yaml:"name"`
	Version     string         `yaml:"version"`
	Description string         `yaml:"description"`
	Category    string         `yaml:"category"`
	Tags        []string       `yaml:"tags"`
	Parameters  []tool.Param   `yaml:"parameters"`
	Returns     map[string]any `yaml:"returns"`
	Entry       tool.Entry     `yaml:"entry"`
	Concurrency int            `yaml:"concurrency"`
	Lenient     bool           `yaml:"lenient"`
	Author      string         `yaml:"author"`
}

var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?$`)

// ParseManifest decodes and validates one manifest document.
func ParseManifest(data []byte) (*tool.Tool, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var m manifest
	if err := decoder.Decode(&m); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "manifest is not valid YAML")
	}

	var problems []string
	if strings.TrimSpace(m.Name) == "" {
		problems = append(problems, "name is required")
	}
	if !semverPattern.MatchString(m.Version) {
		problems = append(problems, fmt.Sprintf("version %q is not semver", m.Version))
	}
	if strings.TrimSpace(m.Description) == "" {
		problems = append(problems, "description is required")
	}
	category := tool.Category(m.Category)
	if !category.Valid() {
		problems = append(problems, fmt.Sprintf("category %q is not in the closed set", m.Category))
	}
	if !m.Entry.Kind.Valid() {
		problems = append(problems, fmt.Sprintf("entry type %q is not in the closed set", m.Entry.Kind))
	} else {
		switch m.Entry.Kind {
		case tool.EntryHTTP:
			if strings.TrimSpace(m.Entry.URL) == "" {
				problems = append(problems, "http entry requires a url")
			}
		default:
			if strings.TrimSpace(m.Entry.Handler) == "" {
				problems = append(problems, fmt.Sprintf("%s entry requires a handler", m.Entry.Kind))
			}
		}
	}
	seen := make(map[string]bool, len(m.Parameters))
	for _, p := range m.Parameters {
		if strings.TrimSpace(p.Name) == "" {
			problems = append(problems, "parameter name is required")
			continue
		}
		if seen[p.Name] {
			problems = append(problems, fmt.Sprintf("duplicate parameter %q", p.Name))
		}
		seen[p.Name] = true
		if !p.Type.Valid() {
			problems = append(problems, fmt.Sprintf("parameter %q has unknown type %q", p.Name, p.Type))
		}
	}
	if m.Concurrency < 0 {
		problems = append(problems, "concurrency must be non-negative")
	}

	if len(problems) > 0 {
		return nil, errors.New(errors.KindValidation,
			"manifest for %q is invalid", m.Name).
			WithMeta("problems", problems)
	}

	return &tool.Tool{
		ID:          "tool-" + strings.TrimSpace(m.Name),
		Name:        strings.TrimSpace(m.Name),
		Version:     m.Version,
		Description: m.Description,
		Category:    category,
		Tags:        m.Tags,
		Params:      m.Parameters,
		Returns:     m.Returns,
		Entry:       m.Entry,
		Concurrency: m.Concurrency,
		Lenient:     m.Lenient,
		Author:      m.Author,
		// Directory manifests describe the deployed catalog.
		Status: tool.StatusPublished,
	}, nil
}

// loadManifestFile reads and parses one manifest from disk.
func loadManifestFile(path string) (*tool.Tool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindRepositoryUnavailable, "cannot read manifest %s", path)
	}
	t, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// isManifestPath reports whether path looks like a tool manifest.
func isManifestPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
