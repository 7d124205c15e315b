package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/intentgate/internal/authorize"
	"github.com/ppiankov/intentgate/internal/txbuild"
)

var (
	buildIntent string
	buildPolicy policyFlags
	buildChain  chainFlags
)

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.Flags().StringVar(&buildIntent, "intent", "", "Path to intent JSON, or - for stdin (required)")
	buildPolicy.register(buildCmd)
	buildCmd.Flags().StringVar(&buildChain.rpc, "rpc", "", "Solana JSON-RPC endpoint (default: public endpoint for --network)")
	buildCmd.Flags().StringVar(&buildChain.network, "network", "devnet", "Network for the default RPC endpoint (devnet|mainnet)")
	buildCmd.MarkFlagRequired("intent")
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Print the unsigned action transaction for an approved intent",
	Long: "Evaluates the intent and, if policy approves it, prints the base64 unsigned\n" +
		"transaction message. Nothing is signed or submitted and no receipt is recorded.\n" +
		"memo_only intents have no action transaction and are refused.\n\n" +
		"Exit code 0 on success, 2 on REJECT, 1 on invalid input or failure.",
	RunE: runBuild,
}

func runBuild(cmd *cobra.Command, args []string) error {
	raw, err := readIntent(cmd, buildIntent)
	if err != nil {
		return err
	}
	pol, err := buildPolicy.load(cmd)
	if err != nil {
		return err
	}
	c, err := buildChain.client()
	if err != nil {
		return err
	}

	p := authorize.New(authorize.WithChain(c), authorize.WithLogger(logger))
	res, err := p.Authorize(commandContext(cmd), raw, pol)
	if err != nil {
		return describeInvalid(cmd.ErrOrStderr(), err)
	}
	if !res.Approved() {
		fmt.Fprintf(cmd.ErrOrStderr(), "REJECT: %v\n", res.Reasons)
		exit(2)
	}

	tx, err := p.BuildAction(commandContext(cmd), res)
	if err != nil {
		return err
	}
	msg, err := txbuild.EncodeMessage(tx)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), msg)
	return nil
}
