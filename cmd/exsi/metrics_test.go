package main

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	exsi "github.com/wagiedev/exsi-sdk-go"
)

func TestMetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := exsi.NewMetrics(reg)
	m.CommandSent("LoadProtocol")

	var health error

	srv := httptest.NewServer(newMetricsHandler(reg, func() error { return health }))
	t.Cleanup(srv.Close)

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)

		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		return resp.StatusCode, string(body)
	}

	t.Run("metrics are exposed", func(t *testing.T) {
		code, body := get("/metrics")
		require.Equal(t, http.StatusOK, code)
		require.Contains(t, body, `command="LoadProtocol"`)
	})

	t.Run("healthy session", func(t *testing.T) {
		code, body := get("/healthz")
		require.Equal(t, http.StatusOK, code)
		require.Equal(t, "ok\n", body)
	})

	t.Run("ended session", func(t *testing.T) {
		health = errors.New("connection reset")

		code, body := get("/healthz")
		require.Equal(t, http.StatusServiceUnavailable, code)
		require.Contains(t, body, "connection reset")
	})
}
