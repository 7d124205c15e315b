package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/intentgate/internal/authorize"
	"github.com/ppiankov/intentgate/internal/client"
	"github.com/ppiankov/intentgate/internal/txbuild"
)

var (
	approveIntent string
	approveBuild  bool
	approveServer string
	approvePolicy policyFlags
	approveChain  chainFlags
)

func init() {
	rootCmd.AddCommand(approveCmd)
	approveCmd.Flags().StringVar(&approveIntent, "intent", "", "Path to intent JSON, or - for stdin (required)")
	approveCmd.Flags().BoolVar(&approveBuild, "build", false, "Also build the unsigned action transaction when approved")
	approveCmd.Flags().StringVar(&approveServer, "server", "", "Ask a remote intentgate server (host:port) instead of evaluating locally")
	approvePolicy.register(approveCmd)
	approveChain.register(approveCmd)
	approveCmd.MarkFlagRequired("intent")
}

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Validate, evaluate and issue a receipt for an intent",
	Long: "Runs the full authorization pipeline on one intent and prints the receipt.\n" +
		"With --payer the receipt is recorded on-chain as a memo before anything else happens.\n" +
		"With --server the remote server's policy, recorder and journal are used instead.\n\n" +
		"Exit code 0 on APPROVE, 2 on REJECT, 1 on invalid input or failure.",
	RunE: runApprove,
}

// approveOutput is the receipt plus the optional unsigned action message.
type approveOutput struct {
	*authorize.Result
	PolicyHash      string `json:"policyHash"`
	UnsignedMessage string `json:"unsignedMessage,omitempty"`
}

func runApprove(cmd *cobra.Command, args []string) error {
	raw, err := readIntent(cmd, approveIntent)
	if err != nil {
		return err
	}
	if approveServer != "" {
		return runApproveRemote(cmd, raw)
	}
	pol, err := approvePolicy.load(cmd)
	if err != nil {
		return err
	}
	opts, closeFn, err := approveChain.pipeline(approveBuild)
	if err != nil {
		return err
	}
	defer closeFn()

	p := authorize.New(opts...)
	res, err := p.Authorize(commandContext(cmd), raw, pol)
	if err != nil {
		return describeInvalid(cmd.ErrOrStderr(), err)
	}

	out := approveOutput{Result: res, PolicyHash: pol.Hash}
	if approveBuild && res.Approved() {
		tx, err := p.BuildAction(commandContext(cmd), res)
		switch {
		case errors.Is(err, txbuild.ErrNoActionTransaction):
			fmt.Fprintf(cmd.ErrOrStderr(), "%s intents carry no action transaction; the receipt is the result.\n", res.Kind)
		case err != nil:
			return err
		default:
			if out.UnsignedMessage, err = txbuild.EncodeMessage(tx); err != nil {
				return err
			}
		}
	}

	if err := printJSON(cmd.OutOrStdout(), out); err != nil {
		return err
	}
	if !p.CanRecord() {
		fmt.Fprintln(cmd.ErrOrStderr(), "No --payer provided; skipping on-chain receipt.")
	}
	if !res.Approved() {
		closeFn()
		exit(2)
	}
	return nil
}

func runApproveRemote(cmd *cobra.Command, raw []byte) error {
	c, err := client.New(approveServer)
	if err != nil {
		return err
	}
	defer c.Close()

	o := approvePolicy.overrides(cmd)
	d, err := c.Authorize(commandContext(cmd), raw, client.AuthorizeOptions{
		MaxLamports:     o.MaxLamportsPerTx,
		AllowRecipients: o.AllowRecipients,
		Build:           approveBuild,
	})
	if err != nil {
		return fmt.Errorf("remote authorize: %w", err)
	}
	if err := printJSON(cmd.OutOrStdout(), d); err != nil {
		return err
	}
	if !d.Approved() {
		c.Close()
		exit(2)
	}
	return nil
}
