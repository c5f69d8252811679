package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()
	assert.Equal(t, "palletd", cmd.Use)

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Use] = true
		assert.NotNil(t, c.RunE, c.Use)
	}
	for _, want := range []string{"run", "migrate", "seed", "recompute", "report", "cellsim"} {
		assert.True(t, names[want], "missing %s command", want)
	}

	flag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
	assert.Equal(t, "config/palletd.yaml", flag.DefValue)
}

func TestSeedRequiresFile(t *testing.T) {
	cmd := buildSeedCommand()
	flag := cmd.Flags().Lookup("file")
	require.NotNil(t, flag)
	assert.Equal(t, "f", flag.Shorthand)
	assert.Equal(t, []string{"true"}, flag.Annotations["cobra_annotation_bash_completion_one_required_flag"])
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := BuildCLI()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestMigrateSeedReport(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "palletd.yaml")
	dbPath := filepath.Join(dir, "store.sqlite")
	require.NoError(t, os.WriteFile(cfgPath, []byte("storage:\n  db_path: "+dbPath+"\nlog:\n  level: error\n"), 0o644))

	out, err := execute(t, "migrate", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "schema up to date")

	catalog := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(catalog, []byte("loading_patterns:\n  - {name: column}\n"), 0o644))
	out, err = execute(t, "seed", "-c", cfgPath, "-f", catalog)
	require.NoError(t, err)
	assert.Contains(t, out, `"loadingPatterns": 1`)

	_, err = execute(t, "report", "-c", cfgPath, "-o", filepath.Join(dir, "out.csv"))
	assert.Error(t, err, "no robot registered yet")

	_, err = execute(t, "recompute", "-c", cfgPath)
	assert.Error(t, err, "--job is required")
}

func TestExplicitConfigMustExist(t *testing.T) {
	_, err := execute(t, "migrate", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
