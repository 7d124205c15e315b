package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	igmcp "github.com/ppiankov/intentgate/internal/mcp"
	"github.com/ppiankov/intentgate/internal/policy"
)

var (
	mcpPolicy policyFlags
	mcpChain  chainFlags
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpPolicy.register(mcpCmd)
	mcpChain.register(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs intentgate as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes tools: intent_authorize, intent_validate, intent_hash, intent_example.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	opts, closeFn, err := mcpChain.pipeline(false)
	if err != nil {
		return err
	}
	defer closeFn()

	policyPath := mcpPolicy.path
	if policyPath == "" {
		policyPath = policy.DefaultPath()
	}

	srv, err := igmcp.New(igmcp.Config{
		PolicyPath: policyPath,
		Overrides:  mcpPolicy.overrides(cmd),
		Pipeline:   opts,
		Version:    version,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startReloader(ctx, srv, policyPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
		cancel()
	}()

	fmt.Fprintln(os.Stderr, "intentgate MCP server running on stdio")
	fmt.Fprintf(os.Stderr, "Policy: %s (hot-reload enabled)\n", policyPath)
	fmt.Fprintln(os.Stderr)

	return srv.Run(ctx)
}
