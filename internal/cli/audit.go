package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/intentgate/internal/audit"
)

var (
	tailLines    int
	tailDecision string
	tailIntent   string
	tailFormat   string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	auditTailCmd.Flags().StringVar(&tailDecision, "decision", "", "Only show APPROVE or REJECT entries")
	auditTailCmd.Flags().StringVar(&tailIntent, "intent", "", "Only show entries whose intent hash starts with this prefix")
	auditTailCmd.Flags().StringVarP(&tailFormat, "format", "f", "text", "Output format (text|json)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Decision journal operations",
	Long:  "Commands for verifying and inspecting the hash-chained decision journal written with --audit-log.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <path>",
	Short: "Verify hash chain integrity of a journal",
	Long:  "Walks the JSONL journal and validates that every entry's prev_hash\nmatches the SHA-256 of the previous line. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail <path>",
	Short: "Show recent journal entries",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditTail,
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	result := audit.Verify(args[0])
	if result.Valid {
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d entries verified (%d approved, %d rejected)\n",
			result.Lines, result.Approved, result.Rejected)
		return nil
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	exit(1)
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	entries, err := audit.Tail(args[0], audit.TailFilter{
		Decision:   tailDecision,
		IntentHash: tailIntent,
		Limit:      tailLines,
	})
	if err != nil {
		return err
	}

	if tailFormat == "json" {
		out, err := audit.FormatJSON(entries)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), audit.FormatTable(entries))
	return nil
}
