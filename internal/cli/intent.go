package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/intentgate/internal/intent"
	"github.com/ppiankov/intentgate/internal/receipt"
	"github.com/ppiankov/intentgate/internal/signer"
)

var exampleKind string

func init() {
	rootCmd.AddCommand(intentCmd)
	intentCmd.AddCommand(intentExampleCmd)
	intentCmd.AddCommand(intentValidateCmd)
	intentCmd.AddCommand(intentHashCmd)
	intentExampleCmd.Flags().StringVar(&exampleKind, "kind", string(intent.KindSOLTransfer), "Intent kind (sol_transfer|token_transfer|memo_only)")
}

var intentCmd = &cobra.Command{
	Use:   "intent",
	Short: "Intent payload helpers",
}

var intentExampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Print an example intent",
	Long:  "Prints an example intent with fresh random addresses that expires in one hour.",
	Args:  cobra.NoArgs,
	RunE:  runIntentExample,
}

var intentValidateCmd = &cobra.Command{
	Use:   "validate <path|->",
	Short: "Check an intent against the schema",
	Long:  "Reports every schema violation. Exit 0 if valid, 1 otherwise. Policy is not consulted.",
	Args:  cobra.ExactArgs(1),
	RunE:  runIntentValidate,
}

var intentHashCmd = &cobra.Command{
	Use:   "hash <path|->",
	Short: "Print the receipt hash of an intent payload",
	Long:  "Prints the hex SHA-256 of the exact payload bytes, as it appears in receipts.",
	Args:  cobra.ExactArgs(1),
	RunE:  runIntentHash,
}

func runIntentExample(cmd *cobra.Command, args []string) error {
	kind, ok := intent.ParseKind(exampleKind)
	if !ok {
		return fmt.Errorf("unknown intent kind %q", exampleKind)
	}
	ex, err := intent.Example(kind, time.Now(), signer.RandomAddress)
	if err != nil {
		return err
	}
	data, err := intent.Marshal(ex)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func runIntentValidate(cmd *cobra.Command, args []string) error {
	raw, err := readIntent(cmd, args[0])
	if err != nil {
		return err
	}
	in, err := intent.NewValidator(intent.Limits{}).Validate(raw)
	if err != nil {
		return describeInvalid(cmd.ErrOrStderr(), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "OK: %s intent, hash %s\n", in.Kind(), receipt.Hash(raw))
	return nil
}

func runIntentHash(cmd *cobra.Command, args []string) error {
	raw, err := readIntent(cmd, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), receipt.Hash(raw))
	return nil
}
