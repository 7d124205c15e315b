package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/intentgate/internal/authorize"
	"github.com/ppiankov/intentgate/internal/receipt"
	"github.com/ppiankov/intentgate/internal/scenario"
)

var (
	checkIntents  string
	checkScenario string
	checkFormat   string
	checkParallel int
	checkPolicy   policyFlags
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkIntents, "intents", "", "Glob pattern for intent JSON files")
	checkCmd.Flags().StringVar(&checkScenario, "scenario", "", "Glob pattern for scenario YAML files with expected decisions")
	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", "text", "Output format (text|json)")
	checkCmd.Flags().IntVar(&checkParallel, "parallel", 8, "Maximum intents evaluated concurrently")
	checkPolicy.register(checkCmd)
	checkCmd.MarkFlagsOneRequired("intents", "scenario")
	checkCmd.MarkFlagsMutuallyExclusive("intents", "scenario")
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate many intents against policy without recording",
	Long: "Loads intent files matching a glob pattern, validates and evaluates each\n" +
		"against the policy in parallel, and reports the decisions.\n\n" +
		"Exit code 0 if all are approved, 1 if any is rejected or invalid.\n" +
		"Use in CI to check that a policy change does not break known-good intents.\n\n" +
		"With --scenario, runs scenario files that pin each intent's expected\n" +
		"decision (approve, reject or invalid) and exits 1 on any mismatch.",
	RunE: runCheck,
}

// checkRow is one file's outcome.
type checkRow struct {
	File       string   `json:"file"`
	IntentHash string   `json:"intentHash"`
	Decision   string   `json:"decision"`
	Reasons    []string `json:"reasons"`
	Error      string   `json:"error,omitempty"`
}

const decisionInvalid = "INVALID"

func runCheck(cmd *cobra.Command, args []string) error {
	if checkScenario != "" {
		return runScenarios(cmd)
	}
	matches, err := filepath.Glob(checkIntents)
	if err != nil {
		return fmt.Errorf("invalid glob pattern: %w", err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("no intent files match pattern: %s", checkIntents)
	}
	pol, err := checkPolicy.load(cmd)
	if err != nil {
		return err
	}

	rows, err := checkFiles(commandContext(cmd), matches, pol, checkParallel)
	if err != nil {
		return err
	}

	switch checkFormat {
	case "json":
		if err := printJSON(cmd.OutOrStdout(), rows); err != nil {
			return err
		}
	default:
		fmt.Fprint(cmd.OutOrStdout(), formatCheckText(rows))
	}

	for _, r := range rows {
		if r.Decision != string(receipt.Approve) {
			exit(1)
		}
	}
	return nil
}

// checkFiles evaluates every file. Unreadable files are reported as
// INVALID rows rather than aborting the run.
func checkFiles(ctx context.Context, paths []string, pol authorize.Policy, parallel int) ([]checkRow, error) {
	sort.Strings(paths)
	rows := make([]checkRow, len(paths))
	var payloads [][]byte
	var slots []int

	for i, path := range paths {
		rows[i] = checkRow{File: path, Reasons: []string{}}
		raw, err := os.ReadFile(path)
		if err != nil {
			rows[i].Decision = decisionInvalid
			rows[i].Error = err.Error()
			continue
		}
		rows[i].IntentHash = receipt.Hash(raw)
		payloads = append(payloads, raw)
		slots = append(slots, i)
	}

	p := authorize.New(authorize.WithLogger(logger))
	items, err := p.Batch(ctx, payloads, pol, parallel)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		row := &rows[slots[it.Index]]
		if it.Err != nil {
			row.Decision = decisionInvalid
			row.Error = it.Err.Error()
			continue
		}
		row.Decision = string(it.Result.Decision)
		row.Reasons = it.Result.Reasons
	}
	return rows, nil
}

func formatCheckText(rows []checkRow) string {
	var b strings.Builder
	approved, rejected, invalid := 0, 0, 0
	for _, r := range rows {
		detail := strings.Join(r.Reasons, "; ")
		switch r.Decision {
		case string(receipt.Approve):
			approved++
		case string(receipt.Reject):
			rejected++
		default:
			invalid++
			detail = r.Error
		}
		if detail == "" {
			detail = "-"
		}
		fmt.Fprintf(&b, "%-8s %s  %s\n", r.Decision, r.File, detail)
	}
	fmt.Fprintf(&b, "\n%d intents: %d approved, %d rejected, %d invalid\n", len(rows), approved, rejected, invalid)
	return b.String()
}

func runScenarios(cmd *cobra.Command) error {
	matches, err := filepath.Glob(checkScenario)
	if err != nil {
		return fmt.Errorf("invalid glob pattern: %w", err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("no scenario files match pattern: %s", checkScenario)
	}
	pol, err := checkPolicy.load(cmd)
	if err != nil {
		return err
	}

	results, err := runScenarioFiles(matches, pol)
	if err != nil {
		return err
	}

	switch checkFormat {
	case "json":
		out, err := scenario.FormatJSON(results)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
	default:
		fmt.Fprint(cmd.OutOrStdout(), scenario.FormatText(results))
	}

	for _, r := range results {
		if r.Failed > 0 {
			exit(1)
		}
	}
	return nil
}

func runScenarioFiles(paths []string, pol authorize.Policy) ([]*scenario.RunResult, error) {
	sort.Strings(paths)
	results := make([]*scenario.RunResult, 0, len(paths))
	for _, path := range paths {
		r, err := scenario.LoadAndRun(path, pol.Config)
		if err != nil {
			return nil, err
		}
		logger.Debug("scenario checked", zap.String("file", path), zap.Int("passed", r.Passed), zap.Int("failed", r.Failed))
		results = append(results, r)
	}
	return results, nil
}
