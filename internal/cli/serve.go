package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/intentgate/internal/policy"
	"github.com/ppiankov/intentgate/internal/redact"
	"github.com/ppiankov/intentgate/internal/server"
)

var (
	servePort   int
	servePolicy policyFlags
	serveChain  chainFlags
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 50051, "gRPC listen port")
	servePolicy.register(serveCmd)
	serveChain.register(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start gRPC authorization server",
	Long: "Runs intentgate as a central authorization server over gRPC\n" +
		"(intentgate.v1.IntentGate/Authorize, Validate, Hash).\n" +
		"Supports hot-reload of the policy file.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	opts, closeFn, err := serveChain.pipeline(false)
	if err != nil {
		return err
	}
	defer closeFn()

	policyPath := servePolicy.path
	if policyPath == "" {
		policyPath = policy.DefaultPath()
	}

	srv, err := server.New(server.Config{
		Port:       servePort,
		PolicyPath: policyPath,
		Overrides:  servePolicy.overrides(cmd),
		Pipeline:   opts,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startReloader(ctx, srv, policyPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down authorization server...")
		cancel()
		srv.GracefulStop()
	}()

	fmt.Fprintf(os.Stderr, "intentgate server listening on :%d\n", servePort)
	fmt.Fprintf(os.Stderr, "Policy: %s (hot-reload enabled)\n", policyPath)
	if serveChain.payer == "" {
		fmt.Fprintln(os.Stderr, "Recording: disabled (no --payer)")
	} else if endpoint, err := serveChain.endpoint(); err == nil {
		fmt.Fprintf(os.Stderr, "Recording: enabled via %s\n", redact.URL(endpoint))
	}
	fmt.Fprintln(os.Stderr)

	return srv.Serve()
}

// startReloader watches policyPath until ctx is done. Failure to watch
// only disables hot-reload.
func startReloader(ctx context.Context, target server.Reloadable, policyPath string) {
	reloader, err := server.NewReloader(target, policyPath, logger)
	if err != nil {
		logger.Warn("hot-reload disabled", zap.Error(err))
		return
	}
	go reloader.Run(ctx)
}
