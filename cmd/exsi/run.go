package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	exsi "github.com/wagiedev/exsi-sdk-go"
)

// scenario is one acquisition run: load a protocol, then prepare and
// optionally acquire each selected task.
type scenario struct {
	Protocol    string
	TaskKeys    []string
	PrescanAuto bool
	Scan        bool
	WaitTimeout time.Duration
}

// scenarioReport is printed when a scenario completes.
type scenarioReport struct {
	Protocol string            `json:"protocol"`
	TaskKeys []string          `json:"task_keys"`
	Ran      []string          `json:"ran"`
	ExamInfo map[string]string `json:"exam_info"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load a protocol and run its tasks",
	Long: `run connects to the controller, loads a protocol and walks the selected
tasks: select, activate, prescan and, with --scan, acquire. Without
--task-key every task of the protocol is run in order.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().String("protocol", "", "Protocol to load (required)")
	runCmd.Flags().StringSlice("task-key", nil, "Task key to run; repeatable. Defaults to every task")
	runCmd.Flags().Bool("prescan-auto", true, "Run the prescan in automatic mode")
	runCmd.Flags().Bool("scan", false, "Acquire after the prescan")
	runCmd.Flags().Bool("isolated", false, "Host the session in a worker process")
	runCmd.Flags().Uint("retries", 3, "Connection attempts before giving up")
	runCmd.Flags().Duration("wait-timeout", 2*time.Minute, "Timeout for each milestone")
	runCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")

	_ = runCmd.MarkFlagRequired("protocol")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	log, err := newLogger(cmd)
	if err != nil {
		return err
	}

	configPath, _ := cmd.Flags().GetString("config")
	protocolName, _ := cmd.Flags().GetString("protocol")
	taskKeys, _ := cmd.Flags().GetStringSlice("task-key")
	prescanAuto, _ := cmd.Flags().GetBool("prescan-auto")
	scan, _ := cmd.Flags().GetBool("scan")
	isolated, _ := cmd.Flags().GetBool("isolated")
	retries, _ := cmd.Flags().GetUint("retries")
	waitTimeout, _ := cmd.Flags().GetDuration("wait-timeout")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	cfg, err := exsi.LoadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []exsi.Option{exsi.WithConfig(cfg), exsi.WithLogger(log)}
	if isolated {
		opts = append(opts, exsi.WithIsolation())
	}

	var reg *prometheus.Registry
	if metricsAddr != "" {
		reg = prometheus.NewRegistry()
		opts = append(opts, exsi.WithMetrics(exsi.NewMetrics(reg)))
	}

	client, err := connect(ctx, log, retries, opts)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			log.Warn("Failed to close client", "error", closeErr)
		}
	}()

	if reg != nil {
		if err := serveMetrics(ctx, log, metricsAddr, newMetricsHandler(reg, sessionHealth(client))); err != nil {
			return err
		}
	}

	return runScenario(ctx, log, client, scenario{
		Protocol:    protocolName,
		TaskKeys:    taskKeys,
		PrescanAuto: prescanAuto,
		Scan:        scan,
		WaitTimeout: waitTimeout,
	}, cmd.OutOrStdout())
}

// connect starts a client, retrying transport failures with exponential
// backoff. Handshake rejections and a missing worker are not retried.
func connect(ctx context.Context, log *slog.Logger, attempts uint, opts []exsi.Option) (exsi.Client, error) {
	attempt := 0

	operation := func() (exsi.Client, error) {
		attempt++

		client := exsi.NewClient()

		err := client.Start(ctx, opts...)
		if err == nil {
			return client, nil
		}

		_ = client.Close()

		log.Warn("Connection attempt failed", "attempt", attempt, "error", err)

		if _, ok := errors.AsType[*exsi.HandshakeError](err); ok {
			return nil, backoff.Permanent(err)
		}

		if _, ok := errors.AsType[*exsi.WorkerNotFoundError](err); ok {
			return nil, backoff.Permanent(err)
		}

		return nil, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(max(attempts, 1)),
		backoff.WithNotify(func(_ error, d time.Duration) {
			log.Info("Retrying connection", "delay", d)
		}),
	)
}

// sessionHealth reports an error once the client's session has ended.
func sessionHealth(client exsi.Client) func() error {
	return func() error {
		select {
		case <-client.Done():
			if err := client.Err(); err != nil {
				return err
			}

			return exsi.ErrSessionClosed
		default:
			return nil
		}
	}
}

// runScenario drives sc on a started client and writes a JSON report to out.
func runScenario(ctx context.Context, log *slog.Logger, client exsi.Client, sc scenario, out io.Writer) error {
	log.Info("Loading protocol", "protocol", sc.Protocol)

	if err := client.LoadProtocol(ctx, sc.Protocol); err != nil {
		return fmt.Errorf("load protocol %s: %w", sc.Protocol, err)
	}

	if err := await(ctx, client, exsi.SignalProtocolReady, sc.WaitTimeout); err != nil {
		return err
	}

	available, err := client.TaskKeys(ctx)
	if err != nil {
		return err
	}

	keys := sc.TaskKeys
	if len(keys) == 0 {
		keys = available
	}

	report := scenarioReport{Protocol: sc.Protocol, TaskKeys: available, Ran: []string{}}

	for _, key := range keys {
		if err := runTask(ctx, log, client, sc, key); err != nil {
			return fmt.Errorf("task %s: %w", key, err)
		}

		report.Ran = append(report.Ran, key)
	}

	if err := client.RequestExamInfo(ctx); err != nil {
		return err
	}

	if err := await(ctx, client, exsi.SignalCommandAcknowledged, sc.WaitTimeout); err != nil {
		return err
	}

	if report.ExamInfo, err = client.ExamInfo(ctx); err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	return enc.Encode(&report)
}

func runTask(ctx context.Context, log *slog.Logger, client exsi.Client, sc scenario, key string) error {
	log.Info("Running task", "task_key", key)

	steps := []struct {
		name string
		do   func(context.Context) error
	}{
		{"select", func(ctx context.Context) error { return client.SelectTaskKey(ctx, key) }},
		{"activate", client.ActivateTask},
		{"prescan", func(ctx context.Context) error { return client.Prescan(ctx, sc.PrescanAuto) }},
	}

	for _, step := range steps {
		if err := step.do(ctx); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}

		if err := await(ctx, client, exsi.SignalCommandAcknowledged, sc.WaitTimeout); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}

	if !sc.Scan {
		return nil
	}

	if err := client.Scan(ctx); err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	if err := await(ctx, client, exsi.SignalAcquisitionComplete, sc.WaitTimeout); err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	log.Info("Acquisition complete", "task_key", key)

	return nil
}

// await turns a wait that did not end signaled into an error.
func await(ctx context.Context, client exsi.Client, name exsi.SignalName, timeout time.Duration) error {
	result, err := client.WaitFor(ctx, name, timeout)
	if err != nil {
		return err
	}

	switch result {
	case exsi.WaitSignaled:
		return nil
	case exsi.WaitClosed:
		if err := client.Err(); err != nil {
			return err
		}

		return exsi.ErrSessionClosed
	default:
		return &exsi.TimeoutError{Op: "wait for " + string(name), Timeout: timeout}
	}
}
