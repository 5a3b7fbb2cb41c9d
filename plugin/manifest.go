package plugin

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ManifestFileName is the manifest every plugin directory must contain
const ManifestFileName = "plugin.json"

//go:embed manifest_schema.json
var manifestSchemaJSON []byte

var (
	manifestSchema     *gojsonschema.Schema
	manifestSchemaErr  error
	manifestSchemaOnce sync.Once
)

func compiledManifestSchema() (*gojsonschema.Schema, error) {
	manifestSchemaOnce.Do(func() {
		manifestSchema, manifestSchemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(manifestSchemaJSON))
	})
	return manifestSchema, manifestSchemaErr
}

// ManifestError represents a manifest that cannot be turned into an Info
type ManifestError struct {
	Type    string `json:"type"`
	Path    string `json:"path,omitempty"`
	Details string `json:"details"`
}

func (e *ManifestError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("invalid plugin manifest %s: %s", e.Path, e.Details)
	}
	return fmt.Sprintf("invalid plugin manifest: %s", e.Details)
}

// manifestFile mirrors plugin.json; pointers mark optional fields
type manifestFile struct {
	ID                 string       `json:"id"`
	Entry              string       `json:"entry"`
	MinProtocolVersion *int         `json:"minProtocolVersion"`
	MaxProtocolVersion *int         `json:"maxProtocolVersion"`
	Dependencies       []Dependency `json:"dependencies"`
	Permissions        []Permission `json:"permissions"`
	Services           []string     `json:"services"`
}

// ParseManifest validates a plugin.json document against the manifest
// schema and returns its Info with optional fields defaulted.
func ParseManifest(data []byte) (*Info, error) {
	schema, err := compiledManifestSchema()
	if err != nil {
		return nil, &ManifestError{Type: "SchemaCompilation", Details: err.Error()}
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, &ManifestError{Type: "InvalidJson", Details: err.Error()}
	}
	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, fmt.Sprintf("  - %s", desc))
		}
		return nil, &ManifestError{Type: "SchemaValidation", Details: "\n" + strings.Join(details, "\n")}
	}

	var m manifestFile
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &ManifestError{Type: "InvalidJson", Details: err.Error()}
	}

	info := &Info{
		ID:                 m.ID,
		Entry:              m.Entry,
		MinProtocolVersion: 0,
		MaxProtocolVersion: UnboundedProtocolVersion,
		Dependencies:       m.Dependencies,
		Permissions:        dedupe(m.Permissions),
		Services:           dedupe(m.Services),
	}
	if m.MinProtocolVersion != nil {
		info.MinProtocolVersion = *m.MinProtocolVersion
	}
	if m.MaxProtocolVersion != nil {
		info.MaxProtocolVersion = *m.MaxProtocolVersion
	}
	if info.Dependencies == nil {
		info.Dependencies = []Dependency{}
	}
	if info.MinProtocolVersion > info.MaxProtocolVersion {
		return nil, &ManifestError{
			Type:    "SchemaValidation",
			Details: fmt.Sprintf("minProtocolVersion %d exceeds maxProtocolVersion %d", info.MinProtocolVersion, info.MaxProtocolVersion),
		}
	}
	return info, nil
}

// ReadManifest reads and parses the manifest at path
func ReadManifest(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ManifestError{Type: "Read", Path: path, Details: err.Error()}
	}
	info, err := ParseManifest(data)
	if err != nil {
		if me, ok := err.(*ManifestError); ok {
			me.Path = path
		}
		return nil, err
	}
	return info, nil
}

// dedupe keeps the first occurrence of every value, never returning nil
func dedupe[T comparable](values []T) []T {
	out := make([]T, 0, len(values))
	seen := make(map[T]struct{}, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
