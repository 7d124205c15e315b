package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/intentgate/internal/receipt"
)

var (
	verifyIntent  string
	verifyHash    string
	verifyReceipt string
)

func init() {
	rootCmd.AddCommand(receiptCmd)
	receiptCmd.AddCommand(receiptVerifyCmd)
	receiptVerifyCmd.Flags().StringVar(&verifyIntent, "intent", "", "Path to intent JSON, or - for stdin (required)")
	receiptVerifyCmd.Flags().StringVar(&verifyHash, "hash", "", "Receipt intent hash (hex)")
	receiptVerifyCmd.Flags().StringVar(&verifyReceipt, "receipt", "", "Path to a receipt JSON (memo payload) instead of --hash")
	receiptVerifyCmd.MarkFlagRequired("intent")
	receiptVerifyCmd.MarkFlagsMutuallyExclusive("hash", "receipt")
	receiptVerifyCmd.MarkFlagsOneRequired("hash", "receipt")
}

var receiptCmd = &cobra.Command{
	Use:   "receipt",
	Short: "Receipt operations",
}

var receiptVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that an intent payload matches a receipt",
	Long: "Re-hashes the exact payload bytes and compares them to the receipt's intent hash.\n" +
		"Exit 0 if they match, 1 otherwise.",
	RunE: runReceiptVerify,
}

func runReceiptVerify(cmd *cobra.Command, args []string) error {
	raw, err := readIntent(cmd, verifyIntent)
	if err != nil {
		return err
	}

	hash := verifyHash
	var rc *receipt.Receipt
	if verifyReceipt != "" {
		data, err := os.ReadFile(verifyReceipt)
		if err != nil {
			return fmt.Errorf("read receipt: %w", err)
		}
		r, err := receipt.ParseMemo(data)
		if err != nil {
			return err
		}
		rc = &r
		hash = r.IntentHash
	}

	if err := receipt.Verify(raw, hash); err != nil {
		if errors.Is(err, receipt.ErrHashMismatch) {
			fmt.Fprintf(cmd.ErrOrStderr(), "MISMATCH: %v\n", err)
			exit(1)
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "OK: payload matches %s\n", receipt.Hash(raw))
	if rc != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "decision %s at %s\n", rc.Decision, rc.Timestamp)
		for _, r := range rc.Reasons {
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", r)
		}
	}
	return nil
}
