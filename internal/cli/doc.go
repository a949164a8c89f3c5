// Package cli provides worker discovery, version validation, and command
// building for the bridge worker executable.
//
// # Worker Discovery
//
// The Discoverer interface locates the executable that hosts the worker:
//
//	discoverer := cli.NewDiscoverer(&cli.Config{
//	    WorkerPath: "",           // Optional explicit path
//	    Logger:     slog.Default(),
//	})
//	path, err := discoverer.Discover(ctx)
//
// Discovery searches in the following order:
//  1. Explicit path in Config.WorkerPath (if provided)
//  2. The running executable, when it is the exsi binary
//  3. "exsi" on the system PATH
//  4. Common installation directories (/usr/local/bin, /usr/bin, ~/go/bin)
//
// # Version Validation
//
// A discovered worker other than the running binary is asked for its
// version with "<worker> version" and compared against MinimumWorkerVersion.
// A warning is logged if it is older. The check can be skipped via
// Config.SkipVersionCheck or the EXSI_SKIP_VERSION_CHECK environment
// variable.
//
// # Command Building
//
//	cmd := cli.BuildCommand(path, options)
package cli
