package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/intentgate/internal/authorize"
	"github.com/ppiankov/intentgate/internal/chain"
	"github.com/ppiankov/intentgate/internal/intent"
	"github.com/ppiankov/intentgate/internal/ledger"
	"github.com/ppiankov/intentgate/internal/policy"
	"github.com/ppiankov/intentgate/internal/redact"
	"github.com/ppiankov/intentgate/internal/signer"
	"github.com/ppiankov/intentgate/internal/txbuild"
)

const lamportsPerSOL = 1_000_000_000

var (
	demoIntent   string
	demoRPC      string
	demoOut      string
	demoAirdrop  uint64
	demoPolicy   policyFlags
	demoAuditLog string
)

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().StringVar(&demoIntent, "intent", "", "Path to intent JSON, or - for stdin (required)")
	demoCmd.Flags().StringVar(&demoRPC, "rpc", chain.Endpoint(intent.Devnet), "Devnet JSON-RPC endpoint")
	demoCmd.Flags().StringVar(&demoOut, "out", "", "Directory to write demo.result.json into")
	demoCmd.Flags().Uint64Var(&demoAirdrop, "airdrop-lamports", lamportsPerSOL, "Lamports to request from the devnet faucet")
	demoCmd.Flags().StringVar(&demoAuditLog, "audit-log", "", "Append the decision to this hash-chained JSONL journal")
	demoPolicy.register(demoCmd)
	demoCmd.MarkFlagRequired("intent")
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "End-to-end devnet run with a throwaway payer",
	Long: "Generates an ephemeral payer, funds it from the devnet faucet, records the\n" +
		"policy receipt on-chain, and builds (but does not sign) the action transaction.\n\n" +
		"Without --policy the demo policy is the default cap with the intent's own\n" +
		"recipient allowlisted.",
	RunE: runDemo,
}

// demoResult is written to stdout and, with --out, to demo.result.json.
type demoResult struct {
	RPC              string            `json:"rpc"`
	PayerPubkey      string            `json:"payerPubkey"`
	AirdropSig       string            `json:"airdropSig"`
	PolicyReceiptSig string            `json:"policyReceiptSig"`
	ExplorerURL      string            `json:"explorerUrl"`
	Decision         *authorize.Result `json:"decision"`
	TxMessageBase64  string            `json:"txMessageBase64,omitempty"`
	Note             string            `json:"note"`
}

func runDemo(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	raw, err := readIntent(cmd, demoIntent)
	if err != nil {
		return err
	}
	in, err := intent.NewValidator(intent.Limits{}).Validate(raw)
	if err != nil {
		return describeInvalid(cmd.ErrOrStderr(), err)
	}
	pol, err := demoPolicyFor(cmd, in)
	if err != nil {
		return err
	}

	payer, err := signer.Ephemeral()
	if err != nil {
		return err
	}
	c := chain.NewRPCClient(demoRPC, chain.Options{Logger: logger})

	fmt.Fprintf(cmd.ErrOrStderr(), "Payer %s: requesting %d lamports from the faucet...\n", payer.PublicKey(), demoAirdrop)
	airdropSig, err := c.RequestAirdrop(ctx, payer.PublicKey(), demoAirdrop)
	if errors.Is(err, chain.ErrRateLimited) {
		return fmt.Errorf("devnet airdrop rate-limited (429); retry in a few minutes or use a different devnet RPC: %w", err)
	}
	if err != nil {
		return err
	}
	if err := c.Confirm(ctx, airdropSig); err != nil {
		return fmt.Errorf("airdrop not confirmed: %w", err)
	}
	logger.Info("payer funded", zap.Stringer("payer", payer.PublicKey()), zap.Stringer("signature", airdropSig))

	opts := []authorize.Option{
		authorize.WithLogger(logger),
		authorize.WithChain(c),
		authorize.WithRecorder(ledger.NewMemoRecorder(c, payer, logger)),
	}
	demoChain := chainFlags{auditLog: demoAuditLog}
	extra, closeFn, err := demoChain.pipeline(false)
	if err != nil {
		return err
	}
	defer closeFn()
	p := authorize.New(append(extra, opts...)...)

	res, err := p.Authorize(ctx, raw, pol)
	if err != nil {
		return err
	}

	out := demoResult{
		RPC:              redact.URL(demoRPC),
		PayerPubkey:      payer.PublicKey().String(),
		AirdropSig:       airdropSig.String(),
		PolicyReceiptSig: res.RecordingSignature,
		ExplorerURL:      res.ExplorerURL,
		Decision:         res,
		Note:             "This demo does not sign the action transaction. It demonstrates intent validation, policy evaluation, and the on-chain audit receipt.",
	}

	if res.Approved() {
		tx, err := p.BuildAction(ctx, res)
		switch {
		case errors.Is(err, txbuild.ErrNoActionTransaction):
		case err != nil:
			return err
		default:
			if out.TxMessageBase64, err = txbuild.EncodeMessage(tx); err != nil {
				return err
			}
		}
	}

	if demoOut != "" {
		if err := writeDemoResult(demoOut, out); err != nil {
			return err
		}
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func demoPolicyFor(cmd *cobra.Command, in intent.Intent) (authorize.Policy, error) {
	if demoPolicy.path != "" {
		return demoPolicy.load(cmd)
	}
	cfg := policy.DefaultConfig()
	if to := in.Recipient(); to != "" {
		cfg.AllowRecipients = []string{to}
	}
	return authorize.Policy{Config: cfg.WithOverrides(demoPolicy.overrides(cmd))}, nil
}

func writeDemoResult(dir string, out demoResult) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, "demo.result.json"))
	if err != nil {
		return fmt.Errorf("write demo result: %w", err)
	}
	defer f.Close()
	return printJSON(f, out)
}
