package docstore

import (
	_ "embed"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed formats.yaml
var formatsYAML []byte

type formatEntry struct {
	Ext         string `yaml:"ext"`
	ContentType string `yaml:"content_type"`
}

type formatRegistry struct {
	Formats []formatEntry `yaml:"formats"`

	byExt map[string]formatEntry
}

var registry = mustLoadFormats()

func mustLoadFormats() *formatRegistry {
	var reg formatRegistry
	if err := yaml.Unmarshal(formatsYAML, &reg); err != nil {
		panic(fmt.Sprintf("docstore: parse format registry: %v", err))
	}
	reg.byExt = make(map[string]formatEntry, len(reg.Formats))
	for _, f := range reg.Formats {
		reg.byExt[strings.ToLower(f.Ext)] = f
	}
	return &reg
}

// SupportedFormats returns the accepted file extensions, sorted.
func SupportedFormats() []string {
	exts := make([]string, 0, len(registry.byExt))
	for ext := range registry.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// FormatSupported reports whether the filename's extension is accepted.
func FormatSupported(filename string) bool {
	_, ok := registry.byExt[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// ContentTypeFor returns the registered content type for the filename,
// or application/octet-stream for unknown extensions.
func ContentTypeFor(filename string) string {
	if f, ok := registry.byExt[strings.ToLower(filepath.Ext(filename))]; ok {
		return f.ContentType
	}
	return "application/octet-stream"
}
