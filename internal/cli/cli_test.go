package cli

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/exsi-sdk-go/internal/config"
	"github.com/wagiedev/exsi-sdk-go/internal/errors"
)

// TestDiscoverer_NotFound tests that an invalid explicit path returns
// WorkerNotFoundError.
func TestDiscoverer_NotFound(t *testing.T) {
	discoverer := NewDiscoverer(&Config{
		WorkerPath:       "/nonexistent/path/to/exsi",
		SkipVersionCheck: true,
		Logger:           slog.Default(),
	})

	_, err := discoverer.Discover(context.Background())

	require.Error(t, err)
	require.IsType(t, &errors.WorkerNotFoundError{}, err)
}

// TestDiscoverer_ExplicitPath tests discovery with an explicit path.
func TestDiscoverer_ExplicitPath(t *testing.T) {
	fakeWorker := filepath.Join(t.TempDir(), "exsi")

	err := os.WriteFile(fakeWorker, []byte("#!/bin/sh\necho exsi 0.1.0"), 0o755)
	require.NoError(t, err)

	discoverer := NewDiscoverer(&Config{
		WorkerPath:       fakeWorker,
		SkipVersionCheck: true,
		Logger:           slog.Default(),
	})

	path, err := discoverer.Discover(context.Background())

	require.NoError(t, err)
	require.Equal(t, fakeWorker, path)
}

// TestDiscoverer_RunningExecutable tests that an exsi binary hosts its own
// worker.
func TestDiscoverer_RunningExecutable(t *testing.T) {
	d := &discoverer{
		cfg: &Config{},
		log: slog.Default(),
		executable: func() (string, error) {
			return "/opt/tools/exsi", nil
		},
	}

	path, self, err := d.findWorker()

	require.NoError(t, err)
	require.True(t, self)
	require.Equal(t, "/opt/tools/exsi", path)
}

// TestDiscoverer_OtherExecutableFallsBackToPath tests that a library caller
// (not the exsi binary) searches PATH.
func TestDiscoverer_OtherExecutableFallsBackToPath(t *testing.T) {
	binDir := t.TempDir()
	fakeWorker := filepath.Join(binDir, WorkerBinary)

	require.NoError(t, os.WriteFile(fakeWorker, []byte("#!/bin/sh\n"), 0o755))
	t.Setenv("PATH", binDir)

	d := &discoverer{
		cfg: &Config{},
		log: slog.Default(),
		executable: func() (string, error) {
			return "/usr/local/bin/myscanapp", nil
		},
	}

	path, self, err := d.findWorker()

	require.NoError(t, err)
	require.False(t, self)
	require.Equal(t, fakeWorker, path)
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"0.1.0", "0.1.0", 0},
		{"0.2.0", "0.1.9", 1},
		{"0.1.0", "1.0.0", -1},
		{"1.10.0", "1.9.0", 1},
		{"1.0", "1.0.0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			require.Equal(t, tt.want, compareVersions(tt.a, tt.b))
		})
	}
}

func TestBuildArgs(t *testing.T) {
	require.Equal(t, []string{"worker"}, BuildArgs(&config.BridgeOptions{}))

	opts := &config.BridgeOptions{WorkerArgs: []string{"worker", "--log-level", "debug"}}
	args := BuildArgs(opts)

	require.Equal(t, []string{"worker", "--log-level", "debug"}, args)

	args[0] = "changed"
	require.Equal(t, "worker", opts.WorkerArgs[0], "BuildArgs must not alias options")
}

func TestBuildEnvironment(t *testing.T) {
	env := BuildEnvironment(&config.BridgeOptions{
		Env: map[string]string{"B_VAR": "2", "A_VAR": "1"},
	})

	require.Contains(t, env, EnvWorker+"=1")
	require.Contains(t, env, EnvVersion+"="+Version)

	a := slices.Index(env, "A_VAR=1")
	b := slices.Index(env, "B_VAR=2")

	require.GreaterOrEqual(t, a, 0)
	require.Greater(t, b, a, "user variables are appended in sorted order")
}

func TestBuildCommand(t *testing.T) {
	cmd := BuildCommand("/usr/bin/exsi", &config.BridgeOptions{})

	require.Equal(t, "/usr/bin/exsi", cmd.Path)
	require.Equal(t, "/usr/bin/exsi worker", cmd.String())
}
