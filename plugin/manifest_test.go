package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TEST201: a minimal manifest gets default protocol range and empty sets
func Test201_parse_minimal_manifest(t *testing.T) {
	info, err := ParseManifest([]byte(`{"id":"square","entry":"main.ts"}`))
	require.NoError(t, err)

	assert.Equal(t, "square", info.ID)
	assert.Equal(t, "main.ts", info.Entry)
	assert.Equal(t, 0, info.MinProtocolVersion)
	assert.Equal(t, UnboundedProtocolVersion, info.MaxProtocolVersion)
	assert.NotNil(t, info.Dependencies)
	assert.Empty(t, info.Dependencies)
	assert.NotNil(t, info.Permissions)
	assert.Empty(t, info.Permissions)
	assert.NotNil(t, info.Services)
	assert.Empty(t, info.Services)
}

// TEST202: full manifest, duplicate set entries collapse in first-seen order
func Test202_parse_full_manifest(t *testing.T) {
	data := []byte(`{
		"id": "math",
		"entry": "index.ts",
		"minProtocolVersion": 1,
		"maxProtocolVersion": 3,
		"dependencies": [{"id": "core", "required": true}, {"id": "extra", "required": false}],
		"permissions": ["network", "file-read", "network"],
		"services": ["square", "cube", "square"]
	}`)
	info, err := ParseManifest(data)
	require.NoError(t, err)

	assert.Equal(t, 1, info.MinProtocolVersion)
	assert.Equal(t, 3, info.MaxProtocolVersion)
	assert.Equal(t, []Dependency{{ID: "core", Required: true}, {ID: "extra", Required: false}}, info.Dependencies)
	assert.Equal(t, []Permission{PermissionNetwork, PermissionFileRead}, info.Permissions)
	assert.Equal(t, []string{"square", "cube"}, info.Services)
	assert.True(t, info.HasPermission(PermissionNetwork))
	assert.False(t, info.HasPermission(PermissionFileWrite))
	assert.True(t, info.HasService("cube"))
	assert.True(t, info.SupportsProtocol(2))
	assert.False(t, info.SupportsProtocol(4))
}

// TEST203: schema violations are reported as ManifestError
func Test203_manifest_schema_violations(t *testing.T) {
	cases := map[string]string{
		"missing id":         `{"entry":"main.ts"}`,
		"missing entry":      `{"id":"x"}`,
		"empty id":           `{"id":"","entry":"main.ts"}`,
		"id not string":      `{"id":5,"entry":"main.ts"}`,
		"version not int":    `{"id":"x","entry":"e","minProtocolVersion":"1"}`,
		"negative version":   `{"id":"x","entry":"e","maxProtocolVersion":-1}`,
		"unknown permission": `{"id":"x","entry":"e","permissions":["root"]}`,
		"dependency no flag": `{"id":"x","entry":"e","dependencies":[{"id":"y"}]}`,
		"services not array": `{"id":"x","entry":"e","services":"square"}`,
		"not an object":      `["x"]`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseManifest([]byte(doc))
			require.Error(t, err)
			var me *ManifestError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, "SchemaValidation", me.Type)
		})
	}
}

// TEST204: malformed JSON and an inverted range are rejected
func Test204_manifest_invalid_json_and_range(t *testing.T) {
	_, err := ParseManifest([]byte(`{"id":`))
	var me *ManifestError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "InvalidJson", me.Type)

	_, err = ParseManifest([]byte(`{"id":"x","entry":"e","minProtocolVersion":4,"maxProtocolVersion":2}`))
	require.ErrorAs(t, err, &me)
	assert.Contains(t, me.Error(), "exceeds")
}

// TEST205: Discover reads every subdirectory with a manifest and reports bad ones
func Test205_discover(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "alpha", `{"id":"alpha","entry":"main.ts"}`)
	writeManifest(t, dir, "beta", `{"id":"beta","entry":"main.ts","services":["b"]}`)
	writeManifest(t, dir, "broken", `{"entry":"main.ts"}`)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("x"), 0o644))

	found, err := Discover(dir, quietLogger())
	require.Error(t, err)
	var me *ManifestError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, filepath.Join(dir, "broken", ManifestFileName), me.Path)

	require.Len(t, found, 2)
	assert.Equal(t, "alpha", found[0].Info.ID)
	assert.Equal(t, "beta", found[1].Info.ID)
	assert.Equal(t, filepath.Join(dir, "beta", "main.ts"), found[1].EntryPath())
}

// TEST206: Discover fails on a missing directory
func Test206_discover_missing_dir(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "nope"), quietLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func writeManifest(t *testing.T, root, name, doc string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFileName), []byte(doc), 0o644))
	return dir
}

// TEST207: the bundled sample manifest is valid
func Test207_sample_manifest(t *testing.T) {
	info, err := ReadManifest(filepath.Join("..", "examples", "plugins", "square", ManifestFileName))
	require.NoError(t, err)
	assert.Equal(t, "square", info.ID)
	assert.Equal(t, []string{"square", "square.sum"}, info.Services)
	assert.True(t, info.SupportsProtocol(1))
}
