package cmd_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/modhost/cmd/modhost/cmd"
	"github.com/GoCodeAlone/modhost/config"
	"github.com/GoCodeAlone/modhost/internal/testutil"
)

func TestRootCommand(t *testing.T) {
	rootCmd := cmd.NewRootCommand()
	assert.NotNil(t, rootCmd)
	assert.Equal(t, "modhost", rootCmd.Use)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"--help"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, rootCmd.Short, "dynamic module runtime")
	assert.Contains(t, buf.String(), "dynamic module runtime")
	assert.Contains(t, buf.String(), "inspect")
	assert.Contains(t, buf.String(), "run")
}

func TestVersionInfo(t *testing.T) {
	assert.Contains(t, cmd.PrintVersion(), "modhost v")

	rootCmd := cmd.NewRootCommand()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"--version"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "modhost vdev")
}

func writeModule(t *testing.T, dir, descriptor string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "MODULE-INF"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "MODULE-INF", "module.yaml"), []byte(descriptor), 0o644))
	return dir
}

func inspect(t *testing.T, args ...string) (string, error) {
	t.Helper()
	testutil.Isolate(t, config.EnvPrefix+"_")
	rootCmd := cmd.NewRootCommand()
	out, errOut := new(bytes.Buffer), new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	rootCmd.SetArgs(append([]string{"inspect", "--log-level", "error"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestInspect(t *testing.T) {
	root := t.TempDir()
	api := writeModule(t, filepath.Join(root, "api"), "name: api\nversion: 1.0.0\nexports:\n  - package: com.acme.api\n    version: 1.0.0\n")
	impl := writeModule(t, filepath.Join(root, "impl"), "name: impl\nversion: 2.0.0\nimports:\n  - package: com.acme.api\n    version: \"[1.0,2.0)\"\n")
	orphan := writeModule(t, filepath.Join(root, "orphan"), "name: orphan\nversion: 1.0.0\nimports:\n  - package: com.acme.missing\n")

	out, err := inspect(t, api, impl, orphan)
	require.NoError(t, err)
	assert.Contains(t, out, "RESOLVED")
	assert.Contains(t, out, "INSTALLED")
	assert.Contains(t, out, "com.acme.api -> api 1.0.0 (module 1)")
	assert.Contains(t, out, "unresolved  com.acme.missing")
}

func TestInspectJSON(t *testing.T) {
	root := t.TempDir()
	api := writeModule(t, filepath.Join(root, "api"), "name: api\nversion: 1.0.0\nexports:\n  - package: com.acme.api\n    version: 1.0.0\n")

	out, err := inspect(t, "--output", "json", api, filepath.Join(root, "missing"))
	require.NoError(t, err)

	var reports []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 2)
	assert.NotEmpty(t, reports[0]["error"], "install failures are reported first")
	assert.Equal(t, "api", reports[1]["name"])
	assert.Equal(t, "RESOLVED", reports[1]["state"])
}

func TestInspectRejectsUnknownOutput(t *testing.T) {
	api := writeModule(t, t.TempDir(), "name: api\nversion: 1.0.0\n")
	_, err := inspect(t, "--output", "xml", api)
	assert.Error(t, err)
}

func TestInspectRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modhost.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool:\n  maxWorkers: -1\n"), 0o644))
	api := writeModule(t, t.TempDir(), "name: api\nversion: 1.0.0\n")
	_, err := inspect(t, "--config", path, api)
	assert.Error(t, err)
}

func TestInspectConfigSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte("modhost:\n  pool:\n    maxWorkers: -1\n"), 0o644))
	api := writeModule(t, t.TempDir(), "name: api\nversion: 1.0.0\n")

	_, err := inspect(t, "--config", path, api)
	require.NoError(t, err, "nested settings are ignored without a section")

	_, err = inspect(t, "--config", path, "--config-section", "modhost", api)
	assert.Error(t, err)
}
