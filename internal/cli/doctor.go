package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/ppiankov/intentgate/internal/audit"
	"github.com/ppiankov/intentgate/internal/policy"
	"github.com/ppiankov/intentgate/internal/redact"
	"github.com/ppiankov/intentgate/internal/signer"
)

var (
	doctorPolicy  string
	doctorChain   chainFlags
	doctorOffline bool
)

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorPolicy, "policy", "", "Policy file (default ~/.intentgate/policy.yaml)")
	doctorCmd.Flags().BoolVar(&doctorOffline, "offline", false, "Skip the RPC reachability check")
	doctorChain.register(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check policy, keypair, journal and RPC readiness",
	RunE:  runDoctor,
}

type checkResult struct {
	label  string
	ok     bool
	detail string
	fix    string
}

type blockhashSource interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	var rpc blockhashSource
	var endpoint string
	if !doctorOffline {
		c, err := doctorChain.client()
		if err != nil {
			return err
		}
		rpc = c
		endpoint, _ = doctorChain.endpoint()
	}

	checks := doctorChecks(commandContext(cmd), doctorPolicy, doctorChain.payer, doctorChain.auditLog, rpc, endpoint)
	if !printChecks(cmd.OutOrStdout(), checks) {
		return fmt.Errorf("doctor found issues")
	}
	return nil
}

// doctorChecks runs every readiness check. Optional inputs that are
// empty are skipped.
func doctorChecks(ctx context.Context, policyPath, payer, auditLog string, rpc blockhashSource, endpoint string) []checkResult {
	var checks []checkResult

	if exe, err := os.Executable(); err == nil {
		checks = append(checks, checkResult{label: "intentgate binary", ok: true, detail: fmt.Sprintf("%s (v%s)", exe, version)})
	} else {
		checks = append(checks, checkResult{label: "intentgate binary", detail: "cannot determine executable path"})
	}

	checks = append(checks, policyCheck(policyPath)...)

	if payer != "" {
		if s, err := signer.FromKeygenFile(payer); err == nil {
			checks = append(checks, checkResult{label: "payer keypair", ok: true, detail: s.PublicKey().String()})
		} else {
			checks = append(checks, checkResult{label: "payer keypair", detail: err.Error(), fix: "solana-keygen new -o " + payer})
		}
	}

	if auditLog != "" {
		if _, err := os.Stat(auditLog); os.IsNotExist(err) {
			checks = append(checks, checkResult{label: "audit journal", ok: true, detail: "not created yet"})
		} else if r := audit.Verify(auditLog); r.Valid {
			checks = append(checks, checkResult{label: "audit journal", ok: true, detail: fmt.Sprintf("%d entries, chain intact", r.Lines)})
		} else {
			checks = append(checks, checkResult{label: "audit journal", detail: fmt.Sprintf("broken at line %d: %s", r.ErrorLine, r.Error)})
		}
	}

	if rpc != nil {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if _, err := rpc.LatestBlockhash(ctx); err == nil {
			checks = append(checks, checkResult{label: "rpc endpoint", ok: true, detail: redact.URL(endpoint)})
		} else {
			checks = append(checks, checkResult{label: "rpc endpoint", detail: err.Error(), fix: "check --rpc or use --offline"})
		}
	}
	return checks
}

func policyCheck(path string) []checkResult {
	if path == "" {
		path = policy.DefaultPath()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return []checkResult{{label: "policy.yaml", ok: true, detail: "missing, built-in defaults apply", fix: "intentgate init-policy"}}
	}
	cfg, hash, err := policy.LoadConfigWithHash(path)
	if err != nil {
		return []checkResult{{label: "policy.yaml", detail: err.Error()}}
	}
	checks := []checkResult{{label: "policy.yaml", ok: true, detail: fmt.Sprintf("%s (%s)", path, hash)}}
	if cfg.RequireAllowlist && len(cfg.AllowRecipients) == 0 {
		checks = append(checks, checkResult{
			label:  "allowlist",
			detail: "require_allowlist is set with no recipients; every transfer is rejected",
			fix:    "add allow_recipients",
		})
	}
	return checks
}

// printChecks writes one line per check and reports whether all passed.
func printChecks(w io.Writer, checks []checkResult) bool {
	allOK := true
	for _, c := range checks {
		mark := "✓"
		if !c.ok {
			mark = "✗"
			allOK = false
		}
		line := fmt.Sprintf("%s %-20s %s", mark, c.label+":", c.detail)
		if !c.ok && c.fix != "" {
			line += "  ->  " + c.fix
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)
	if allOK {
		fmt.Fprintln(w, "All checks passed.")
	} else {
		fmt.Fprintln(w, "Some checks failed. Run the suggested commands to fix.")
	}
	return allOK
}
