package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	exsi "github.com/wagiedev/exsi-sdk-go"
)

// workerCmd hosts the session of an isolated client. Requests arrive on
// stdin and responses leave on stdout; stderr carries the log.
var workerCmd = &cobra.Command{
	Use:    exsi.WorkerCommand,
	Short:  "Serve an isolated session on stdin and stdout",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		log, err := newLogger(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("Worker started", "pid", os.Getpid(), "version", exsi.Version)

		if err := exsi.ServeWorker(ctx, exsi.WithLogger(log)); err != nil {
			return err
		}

		log.Info("Worker stopped")

		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
