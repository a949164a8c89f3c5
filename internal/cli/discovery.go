package cli

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wagiedev/exsi-sdk-go/internal/errors"
)

const (
	// Version is the SDK and worker protocol version.
	Version = "0.1.0"

	// MinimumWorkerVersion is the oldest worker the bridge can talk to.
	MinimumWorkerVersion = "0.1.0"

	// VersionCheckTimeout is the timeout for the worker version check command.
	VersionCheckTimeout = 2 * time.Second

	// WorkerBinary is the executable name searched on PATH.
	WorkerBinary = "exsi"
)

// Config holds configuration for worker discovery.
type Config struct {
	// WorkerPath is an explicit executable path that skips the search.
	WorkerPath string

	// SkipVersionCheck skips version validation during discovery.
	// Can also be controlled via EXSI_SKIP_VERSION_CHECK env var.
	SkipVersionCheck bool

	// Logger is an optional logger for discovery operations.
	// If nil, a default no-op logger is used.
	Logger *slog.Logger
}

// Discoverer locates and validates the worker executable.
type Discoverer interface {
	// Discover locates the worker executable and validates its version.
	// Returns the path to the executable or an error.
	Discover(ctx context.Context) (string, error)
}

// discoverer implements the Discoverer interface.
type discoverer struct {
	cfg        *Config
	log        *slog.Logger
	executable func() (string, error)
}

// Compile-time verification that discoverer implements Discoverer.
var _ Discoverer = (*discoverer)(nil)

// NewDiscoverer creates a new worker discoverer with the given configuration.
func NewDiscoverer(cfg *Config) Discoverer {
	if cfg == nil {
		cfg = &Config{}
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &discoverer{
		cfg:        cfg,
		log:        log,
		executable: os.Executable,
	}
}

// Discover locates the worker executable and validates its version.
//
// The search order is:
//  1. Config.WorkerPath, if set (and only it)
//  2. The running executable, when it is an exsi binary
//  3. "exsi" on PATH
//  4. Common installation directories
func (d *discoverer) Discover(ctx context.Context) (string, error) {
	d.log.Debug("Discovering worker executable")

	path, self, err := d.findWorker()
	if err != nil {
		d.log.Error("Failed to find worker executable", "error", err)

		return "", err
	}

	d.log.Debug("Found worker executable", "worker_path", path)

	// The running binary is by definition the right version.
	if !self {
		d.checkVersion(ctx, path)
	}

	return path, nil
}

// findWorker locates the worker executable. self reports whether the
// result is the running executable.
func (d *discoverer) findWorker() (path string, self bool, err error) {
	if d.cfg.WorkerPath != "" {
		d.log.Debug("Using explicit worker path", "worker_path", d.cfg.WorkerPath)

		if _, err := os.Stat(d.cfg.WorkerPath); err == nil {
			return d.cfg.WorkerPath, false, nil
		}

		return "", false, &errors.WorkerNotFoundError{SearchedPaths: []string{d.cfg.WorkerPath}}
	}

	searchedPaths := make([]string, 0, 4)

	if exe, err := d.executable(); err == nil {
		base := strings.TrimSuffix(filepath.Base(exe), filepath.Ext(exe))
		if base == WorkerBinary {
			return exe, true, nil
		}

		searchedPaths = append(searchedPaths, exe)
	}

	d.log.Debug("Searching for worker in PATH", "binary", WorkerBinary)

	if path, err := exec.LookPath(WorkerBinary); err == nil {
		return path, false, nil
	}

	searchedPaths = append(searchedPaths, "$PATH")

	commonPaths := []string{
		"/usr/local/bin/" + WorkerBinary,
		"/usr/bin/" + WorkerBinary,
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		commonPaths = append(commonPaths, filepath.Join(homeDir, "go", "bin", WorkerBinary))
	}

	for _, path := range commonPaths {
		searchedPaths = append(searchedPaths, path)

		if _, err := os.Stat(path); err == nil {
			d.log.Debug("Found worker at common path", "path", path)

			return path, false, nil
		}
	}

	d.log.Warn("Worker executable not found in any searched paths", "searched_paths", searchedPaths)

	return "", false, &errors.WorkerNotFoundError{SearchedPaths: searchedPaths}
}

var versionPattern = regexp.MustCompile(`([0-9]+\.[0-9]+\.[0-9]+)`)

// checkVersion warns if the worker is older than MinimumWorkerVersion.
// Errors are logged and otherwise ignored.
func (d *discoverer) checkVersion(ctx context.Context, path string) {
	if d.cfg.SkipVersionCheck {
		d.log.Debug("Skipping worker version check (configured)")

		return
	}

	if os.Getenv("EXSI_SKIP_VERSION_CHECK") != "" {
		d.log.Debug("Skipping worker version check (EXSI_SKIP_VERSION_CHECK set)")

		return
	}

	ctx, cancel := context.WithTimeout(ctx, VersionCheckTimeout)
	defer cancel()

	//nolint:gosec // G204: the worker path comes from discovery
	output, err := exec.CommandContext(ctx, path, "version").Output()
	if err != nil {
		d.log.Debug("Worker version check failed", "error", err)

		return
	}

	match := versionPattern.FindStringSubmatch(strings.TrimSpace(string(output)))
	if match == nil {
		d.log.Debug("Could not parse worker version", "output", string(output))

		return
	}

	version := match[1]
	if compareVersions(version, MinimumWorkerVersion) < 0 {
		d.log.Warn("Worker version is unsupported",
			"version", version,
			"minimum_required", MinimumWorkerVersion,
		)

		return
	}

	d.log.Debug("Worker version check passed", "version", version, "minimum", MinimumWorkerVersion)
}

// compareVersions compares two semantic versions.
// Returns -1 if a < b, 0 if a == b, 1 if a > b.
func compareVersions(a, b string) int {
	aParts := strings.Split(a, ".")
	bParts := strings.Split(b, ".")

	for i := range 3 {
		aNum := 0
		bNum := 0

		if i < len(aParts) {
			aNum, _ = strconv.Atoi(aParts[i])
		}

		if i < len(bParts) {
			bNum, _ = strconv.Atoi(bParts[i])
		}

		if aNum < bNum {
			return -1
		}

		if aNum > bNum {
			return 1
		}
	}

	return 0
}
