package cli

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/wagiedev/exsi-sdk-go/internal/config"
)

// Environment variables set for every worker process.
const (
	// EnvWorker marks a process as a bridge worker.
	EnvWorker = "EXSI_BRIDGE_WORKER"

	// EnvVersion carries the parent's SDK version to the worker.
	EnvVersion = "EXSI_SDK_VERSION"
)

// Command represents the worker command to execute.
type Command struct {
	// Path is the worker executable.
	Path string

	// Args are the command line arguments.
	Args []string

	// Env are the environment variables.
	Env []string
}

// BuildCommand assembles the worker command for a discovered executable.
func BuildCommand(path string, options *config.BridgeOptions) *Command {
	return &Command{
		Path: path,
		Args: BuildArgs(options),
		Env:  BuildEnvironment(options),
	}
}

// BuildArgs constructs the worker command arguments.
func BuildArgs(options *config.BridgeOptions) []string {
	if len(options.WorkerArgs) == 0 {
		return []string{config.DefaultWorkerCommand}
	}

	return slices.Clone(options.WorkerArgs)
}

// BuildEnvironment constructs the environment variables for the worker
// process. User-provided variables are appended in sorted order so they
// override inherited ones deterministically.
func BuildEnvironment(options *config.BridgeOptions) []string {
	env := os.Environ()

	env = append(env, EnvWorker+"=1")
	env = append(env, EnvVersion+"="+Version)

	keys := make([]string, 0, len(options.Env))
	for key := range options.Env {
		keys = append(keys, key)
	}

	slices.Sort(keys)

	for _, key := range keys {
		env = append(env, fmt.Sprintf("%s=%s", key, options.Env[key]))
	}

	return env
}

// String renders the command for logs.
func (c *Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}
