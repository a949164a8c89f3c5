package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	exsi "github.com/wagiedev/exsi-sdk-go"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)

	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()

	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	require.Equal(t, "exsi version "+exsi.Version+"\n", out)
}

func TestConfigSchemaCommand(t *testing.T) {
	out, err := execute(t, "config", "schema")
	require.NoError(t, err)
	require.Contains(t, out, `"host"`)
	require.Contains(t, out, `"in_flight_policy"`)
}

func TestConfigValidateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: scanner.local\nproduct: newHV\npassword: hunter2\n"), 0o600))

	out, err := execute(t, "config", "validate", path)
	require.NoError(t, err)
	require.Contains(t, out, `"host": "scanner.local"`)
	require.Contains(t, out, `"password": "********"`)
	require.NotContains(t, out, "hunter2")
}

func TestConfigValidateCommand_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 8010\n"), 0o600))

	_, err := execute(t, "config", "validate", path)
	require.Error(t, err)
}
