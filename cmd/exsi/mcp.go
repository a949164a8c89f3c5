package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	exsi "github.com/wagiedev/exsi-sdk-go"
	"github.com/wagiedev/exsi-sdk-go/internal/bridge"
	"github.com/wagiedev/exsi-sdk-go/internal/config"
	"github.com/wagiedev/exsi-sdk-go/internal/mcp"
)

// mcpCmd exposes the scanner as MCP tools on stdio. The session lives in a
// worker process so a controller fault cannot take the server down.
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve scanner operations as MCP tools on stdio",
	Long: `mcp runs a Model Context Protocol server on stdin and stdout. Each
scanner operation is a tool; call "connect" first. Values from --config are
the defaults for "connect".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		log, err := newLogger(cmd)
		if err != nil {
			return err
		}

		configPath, _ := cmd.Flags().GetString("config")

		// Connection fields may be supplied later through the connect tool.
		defaults, err := config.LoadUnvalidated(configPath)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		b, err := bridge.Start(ctx, &config.BridgeOptions{Logger: log})
		if err != nil {
			return fmt.Errorf("start worker: %w", err)
		}

		defer func() {
			if stopErr := b.Stop(context.WithoutCancel(ctx)); stopErr != nil {
				log.Warn("Failed to stop worker", "error", stopErr)
			}
		}()

		server, err := mcp.NewToolServer(log, bridge.NewClient(b), defaults, exsi.Version)
		if err != nil {
			return err
		}

		log.Info("Serving MCP tools", "tools", len(server.ToolNames()))

		return server.Run(ctx, &mcpsdk.StdioTransport{})
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
