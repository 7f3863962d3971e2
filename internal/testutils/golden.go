// Package testutils provides helper functions for tests.
package testutils

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var update bool

func init() {
	flag.BoolVar(&update, "update", false, "update golden files")
}

// GoldenPath returns the golden path for the provided test.
func GoldenPath(t *testing.T) string {
	t.Helper()

	return filepath.Join("testdata", "golden", NormalizeGoldenName(t, t.Name()))
}

// NormalizeGoldenName returns the name of the golden file with illegal Windows
// characters replaced or removed.
func NormalizeGoldenName(t *testing.T, name string) string {
	t.Helper()

	name = strings.ReplaceAll(name, `\`, "_")
	name = strings.ReplaceAll(name, ":", "")
	name = strings.ToLower(name)
	return name
}

// LoadWithUpdateFromGolden loads the element from a plaintext golden file.
// It will update the file if the update flag is used prior to loading it.
func LoadWithUpdateFromGolden(t *testing.T, data string) string {
	t.Helper()

	goldPath := GoldenPath(t)

	if update {
		t.Logf("updating golden file %s", goldPath)
		err := os.MkdirAll(filepath.Dir(goldPath), 0750)
		require.NoError(t, err, "Cannot create directory for updating golden files")
		err = os.WriteFile(goldPath, []byte(data), 0600)
		require.NoError(t, err, "Cannot write golden file")
	}

	want, err := os.ReadFile(goldPath)
	require.NoError(t, err, "Cannot load golden file")

	return string(want)
}

// LoadWithUpdateFromGoldenYAML load the generic element from a YAML serialized golden file.
// It will update the file if the update flag is used prior to deserializing it.
func LoadWithUpdateFromGoldenYAML[E any](t *testing.T, got E) E {
	t.Helper()

	t.Logf("Golden file: %s", GoldenPath(t))

	if update {
		data, err := yaml.Marshal(got)
		require.NoError(t, err, "Cannot marshal object to YAML")
		LoadWithUpdateFromGolden(t, string(data))
	}

	data, err := os.ReadFile(GoldenPath(t))
	require.NoError(t, err, "Cannot load golden file")

	var want E
	err = yaml.Unmarshal(data, &want)
	require.NoError(t, err, "Cannot deserialize golden file content to expected type")

	return want
}
