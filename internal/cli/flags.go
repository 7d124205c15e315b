package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/intentgate/internal/audit"
	"github.com/ppiankov/intentgate/internal/authorize"
	"github.com/ppiankov/intentgate/internal/chain"
	"github.com/ppiankov/intentgate/internal/intent"
	"github.com/ppiankov/intentgate/internal/ledger"
	"github.com/ppiankov/intentgate/internal/policy"
	"github.com/ppiankov/intentgate/internal/signer"
)

// policyFlags binds --policy, --max-lamports and --allow.
type policyFlags struct {
	path        string
	maxLamports uint64
	allow       []string
}

func (f *policyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.path, "policy", "", "Path to policy YAML (default ~/.intentgate/policy.yaml)")
	cmd.Flags().Uint64Var(&f.maxLamports, "max-lamports", 0, "Override the per-transaction lamport cap")
	cmd.Flags().StringSliceVar(&f.allow, "allow", nil, "Override the recipient allowlist (repeatable)")
}

func (f *policyFlags) overrides(cmd *cobra.Command) policy.Overrides {
	o := policy.Overrides{AllowRecipients: f.allow}
	if cmd.Flags().Changed("max-lamports") {
		limit := f.maxLamports
		o.MaxLamportsPerTx = &limit
	}
	return o
}

func (f *policyFlags) load(cmd *cobra.Command) (authorize.Policy, error) {
	cfg, hash, err := policy.LoadConfigWithHash(f.path)
	if err != nil {
		return authorize.Policy{}, err
	}
	return authorize.Policy{Config: cfg.WithOverrides(f.overrides(cmd)), Hash: hash}, nil
}

// chainFlags binds --rpc, --network, --payer and --audit-log.
type chainFlags struct {
	rpc      string
	network  string
	payer    string
	auditLog string
}

func (f *chainFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.rpc, "rpc", "", "Solana JSON-RPC endpoint (default: public endpoint for --network)")
	cmd.Flags().StringVar(&f.network, "network", string(intent.Devnet), "Network for the default RPC endpoint (devnet|mainnet)")
	cmd.Flags().StringVar(&f.payer, "payer", "", "solana-keygen keypair file; enables on-chain receipt recording")
	cmd.Flags().StringVar(&f.auditLog, "audit-log", "", "Append decisions to this hash-chained JSONL journal")
}

func (f *chainFlags) endpoint() (string, error) {
	if f.rpc != "" {
		return f.rpc, nil
	}
	n := intent.Network(f.network)
	if !intent.IsValidNetwork(n) {
		return "", fmt.Errorf("unknown network %q (want devnet or mainnet)", f.network)
	}
	return chain.Endpoint(n), nil
}

func (f *chainFlags) client() (*chain.RPCClient, error) {
	endpoint, err := f.endpoint()
	if err != nil {
		return nil, err
	}
	return chain.NewRPCClient(endpoint, chain.Options{Logger: logger}), nil
}

// pipeline assembles pipeline options from the flags. A chain client is
// created when a payer is given or needChain is set. The returned close
// func releases the journal.
func (f *chainFlags) pipeline(needChain bool) ([]authorize.Option, func(), error) {
	opts := []authorize.Option{authorize.WithLogger(logger)}
	closeFn := func() {}

	if f.payer != "" || needChain {
		c, err := f.client()
		if err != nil {
			return nil, closeFn, err
		}
		opts = append(opts, authorize.WithChain(c))

		if f.payer != "" {
			s, err := signer.FromKeygenFile(f.payer)
			if err != nil {
				return nil, closeFn, err
			}
			opts = append(opts, authorize.WithRecorder(ledger.NewMemoRecorder(c, s, logger)))
		}
	}

	if f.auditLog != "" {
		j, err := audit.Open(f.auditLog)
		if err != nil {
			return nil, closeFn, fmt.Errorf("open audit log: %w", err)
		}
		opts = append(opts, authorize.WithJournal(j))
		closeFn = func() { _ = j.Close() }
	}
	return opts, closeFn, nil
}

// readIntent returns the exact payload bytes; "-" reads stdin.
func readIntent(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read intent from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intent: %w", err)
	}
	return data, nil
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// describeInvalid prints schema violations one per line and returns err
// for the caller to propagate.
func describeInvalid(w io.Writer, err error) error {
	var ve *intent.ValidationError
	if errors.As(err, &ve) {
		fmt.Fprintln(w, "intent does not match the schema:")
		for _, fe := range ve.Errors {
			fmt.Fprintf(w, "  %s: %s\n", fe.Path, fe.Message)
		}
		return fmt.Errorf("invalid intent: %d field error(s)", len(ve.Errors))
	}
	return err
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
