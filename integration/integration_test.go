//go:build integration

package integration

import (
	"os"
	"testing"
	"time"

	exsi "github.com/wagiedev/exsi-sdk-go"
)

// controllerConfig loads the controller from EXSI_* variables and skips the
// test when none is configured.
func controllerConfig(t *testing.T) *exsi.Config {
	t.Helper()

	if os.Getenv("EXSI_HOST") == "" {
		t.Skip("EXSI_HOST not set")
	}

	cfg, err := exsi.LoadConfig(os.Getenv("EXSI_CONFIG"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	return cfg
}

// testProtocol is the protocol loaded by acquisition tests.
func testProtocol() string {
	if p := os.Getenv("EXSI_TEST_PROTOCOL"); p != "" {
		return p
	}

	return "BPT_EXSI"
}

const milestoneTimeout = 2 * time.Minute
