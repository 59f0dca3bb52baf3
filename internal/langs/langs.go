// Package langs holds the process-wide, immutable supported-languages
// registry (spec.md §3), loaded from an embedded YAML fixture the way the
// teacher loads its sites/pipeline YAML config
// (internal/config/config.go's LoadRoot/LoadSites), repurposed here from a
// config loader into a registry loader.
package langs

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed languages.yaml
var embedded embed.FS

// Language describes one entry in the registry.
type Language struct {
	Code                  string `yaml:"code"`
	DisplayName           string `yaml:"display_name"`
	PlatformTag           string `yaml:"platform_tag"`
	SummarizationRequired bool   `yaml:"summarization_required"`
}

type document struct {
	Languages []Language `yaml:"languages"`
}

// Registry is the immutable, process-wide mapping from code to metadata.
type Registry struct {
	byCode map[string]Language
}

// Load reads the registry from path, or from the embedded default fixture
// when path is empty (LANGUAGES_FILE is optional per SPEC_FULL.md §6).
func Load(path string) (*Registry, error) {
	var data []byte
	var err error
	if path == "" {
		data, err = embedded.ReadFile("languages.yaml")
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read languages registry: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal languages registry: %w", err)
	}
	if len(doc.Languages) == 0 {
		return nil, fmt.Errorf("languages registry is empty")
	}

	byCode := make(map[string]Language, len(doc.Languages))
	for _, l := range doc.Languages {
		code := strings.ToLower(strings.TrimSpace(l.Code))
		if code == "" {
			continue
		}
		l.Code = code
		byCode[code] = l
	}

	return &Registry{byCode: byCode}, nil
}

// Supports reports whether code is a member of the registry (spec invariant 3).
func (r *Registry) Supports(code string) bool {
	_, ok := r.byCode[strings.ToLower(strings.TrimSpace(code))]
	return ok
}

// Get returns the Language for code, if present.
func (r *Registry) Get(code string) (Language, bool) {
	l, ok := r.byCode[strings.ToLower(strings.TrimSpace(code))]
	return l, ok
}

// Codes returns every supported code, for "unsupported language" replies.
func (r *Registry) Codes() []string {
	codes := make([]string, 0, len(r.byCode))
	for c := range r.byCode {
		codes = append(codes, c)
	}
	return codes
}
