package scenario

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ppiankov/intentgate/internal/policy"
)

const (
	testFrom = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	testTo   = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func solIntent(lamports int) map[string]any {
	return map[string]any{
		"kind":      "sol_transfer",
		"network":   "devnet",
		"from":      testFrom,
		"to":        testTo,
		"lamports":  lamports,
		"expiresAt": "2026-03-01T13:00:00Z",
	}
}

func TestAllCasesPass(t *testing.T) {
	s := &Scenario{
		Name: "caps",
		Now:  "2026-03-01T12:00:00Z",
		Cases: []Case{
			{Name: "small", Intent: solIntent(1000), Expect: "approve"},
			{Name: "large", Intent: solIntent(5_000_000), Expect: "REJECT",
				Reasons: []string{"maxLamports (5000000) exceeds policy cap (2000000)"}},
			{Name: "broken", Intent: map[string]any{"kind": "sol_transfer"}, Expect: "invalid"},
		},
	}

	result := Run(s, policy.DefaultConfig(), t.TempDir())
	if result.Failed != 0 {
		t.Fatalf("expected 0 failures, got %d: %+v", result.Failed, result.Cases)
	}
	if result.Passed != 3 {
		t.Errorf("expected 3 passed, got %d", result.Passed)
	}
}

func TestFailedAssertionDetected(t *testing.T) {
	s := &Scenario{
		Name: "wrong expectation",
		Now:  "2026-03-01T12:00:00Z",
		Cases: []Case{
			{Intent: solIntent(1000), Expect: "reject"},
		},
	}

	result := Run(s, policy.DefaultConfig(), t.TempDir())
	if result.Failed != 1 || result.Passed != 0 {
		t.Fatalf("expected 1 failure, got %+v", result)
	}
	c := result.Cases[0]
	if c.Expected != ExpectReject || c.Actual != ExpectApprove {
		t.Errorf("unexpected case result: %+v", c)
	}
}

func TestExpiryUsesPinnedNow(t *testing.T) {
	s := &Scenario{
		Now:   "2026-03-01T14:00:00Z",
		Cases: []Case{{Intent: solIntent(1), Expect: "reject", Reasons: []string{policy.ReasonExpired}}},
	}
	if r := Run(s, nil, ""); r.Failed != 0 {
		t.Fatalf("expected expired intent to be rejected: %+v", r.Cases)
	}
}

func TestMissingReasonFails(t *testing.T) {
	s := &Scenario{
		Now: "2026-03-01T12:00:00Z",
		Cases: []Case{{
			Intent:  solIntent(5_000_000),
			Expect:  "reject",
			Reasons: []string{policy.ReasonNotAllowlisted},
		}},
	}
	r := Run(s, policy.DefaultConfig(), "")
	if r.Failed != 1 {
		t.Fatalf("expected failure for missing reason, got %+v", r.Cases)
	}
	if !strings.Contains(r.Cases[0].Detail, policy.ReasonNotAllowlisted) {
		t.Errorf("detail = %q", r.Cases[0].Detail)
	}
}

func TestScenarioPolicyOverrides(t *testing.T) {
	limit := uint64(10)
	s := &Scenario{
		Now:    "2026-03-01T12:00:00Z",
		Policy: &PolicyOverrides{MaxLamportsPerTx: &limit, AllowRecipients: []string{"someone-else-entirely-0000000000"}},
		Cases:  []Case{{Intent: solIntent(5), Expect: "reject", Reasons: []string{policy.ReasonNotAllowlisted}}},
	}
	if r := Run(s, policy.DefaultConfig(), ""); r.Failed != 0 {
		t.Fatalf("unexpected failures: %+v", r.Cases)
	}
}

func TestBadCasesFailAlone(t *testing.T) {
	s := &Scenario{
		Now: "2026-03-01T12:00:00Z",
		Cases: []Case{
			{Expect: "approve"},
			{Intent: solIntent(1), Expect: "maybe"},
			{Intent: solIntent(1), File: "x.json", Expect: "approve"},
			{File: "missing.json", Expect: "approve"},
			{Intent: solIntent(1), Expect: "approve"},
		},
	}
	r := Run(s, nil, t.TempDir())
	if r.Failed != 4 || r.Passed != 1 {
		t.Fatalf("expected 4 failed and 1 passed, got %+v", r)
	}
	for _, c := range r.Cases[:4] {
		if c.Detail == "" {
			t.Errorf("case %d: expected detail", c.Index)
		}
	}
}

func TestLoadAndRunResolvesFilesRelative(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ok.json", `{"kind":"memo_only","network":"devnet","from":"`+testFrom+`","memo":"hi","expiresAt":"2026-03-01T13:00:00Z"}`)
	path := writeFile(t, dir, "memo.yaml", `
name: memo
now: "2026-03-01T12:00:00Z"
cases:
  - name: from file
    file: ok.json
    expect: approve
  - name: inline
    intent:
      kind: memo_only
      network: devnet
      from: `+testFrom+`
      memo: ""
      expiresAt: "2026-03-01T13:00:00Z"
    expect: invalid
`)

	r, err := LoadAndRun(path, policy.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if r.File != path || r.Name != "memo" {
		t.Errorf("unexpected header: %q %q", r.File, r.Name)
	}
	if r.Failed != 0 {
		t.Fatalf("unexpected failures: %+v", r.Cases)
	}
}

func TestLoadDefaultsNameAndRejectsBadYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "unnamed.yaml", "cases: []\n")
	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Name != "unnamed.yaml" {
		t.Errorf("name = %q", s.Name)
	}

	bad := writeFile(t, dir, "bad.yaml", "cases: [\n")
	if _, err := Load(bad); err == nil {
		t.Error("expected parse error")
	}
}

func TestFormatText(t *testing.T) {
	results := []*RunResult{
		{Name: "good", Total: 1, Passed: 1},
		{Name: "bad", Total: 2, Passed: 1, Failed: 1, Cases: []CaseResult{
			{Index: 1, Passed: true},
			{Index: 2, Name: "cap", Expected: "reject", Actual: "approve"},
		}},
	}
	got := FormatText(results)
	for _, want := range []string{
		"Checking 2 scenario files",
		"PASS  good (1/1)",
		"FAIL  bad (1/2)",
		"expected reject, got approve",
		"2 of 3 cases passed. 1 of 2 scenarios failed.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
}

func TestFormatJSONEmpty(t *testing.T) {
	got, err := FormatJSON(nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff("[]", got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}
