package policy

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ppiankov/intentgate/internal/intent"
)

const (
	testFrom  = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	testTo    = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
	testOther = "7bYxJQ3rXm1fT2k9wWvUuZcNDpG8sHqLaE5oPd6iR4nC"
	testMint  = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func header(expires time.Time) intent.Header {
	return intent.Header{Network: intent.Devnet, From: testFrom, ExpiresAt: expires}
}

func solTransfer(to string, lamports uint64, maxLamports *uint64, expires time.Time) *intent.SOLTransfer {
	return &intent.SOLTransfer{Header: header(expires), To: to, Lamports: lamports, MaxLamports: maxLamports}
}

func u64(v uint64) *uint64 { return &v }

func TestApproveWithinCapAndAllowlist(t *testing.T) {
	in := solTransfer(testTo, 1_000_000, u64(1_500_000), now.Add(time.Hour))
	cfg := &PolicyConfig{MaxLamportsPerTx: 2_000_000, AllowRecipients: []string{testTo}}

	d := Evaluate(in, cfg, now)

	if !d.Approved {
		t.Fatalf("expected approval, got reasons %v", d.Reasons)
	}
	if d.Reasons == nil || len(d.Reasons) != 0 {
		t.Errorf("expected empty non-nil reasons, got %#v", d.Reasons)
	}
}

func TestRejectAccumulatesCapAndAllowlist(t *testing.T) {
	in := solTransfer(testOther, 1_000_000, u64(5_000_000), now.Add(time.Hour))
	cfg := &PolicyConfig{MaxLamportsPerTx: 2_000_000, AllowRecipients: []string{testTo}}

	d := Evaluate(in, cfg, now)

	if d.Approved {
		t.Fatal("expected rejection")
	}
	want := []string{
		"maxLamports (5000000) exceeds policy cap (2000000)",
		ReasonNotAllowlisted,
	}
	if diff := cmp.Diff(want, d.Reasons); diff != "" {
		t.Errorf("reasons mismatch (-want +got):\n%s", diff)
	}
}

func TestCapFallsBackToLamports(t *testing.T) {
	in := solTransfer(testTo, 3_000_000, nil, now.Add(time.Hour))
	d := Evaluate(in, &PolicyConfig{MaxLamportsPerTx: 2_000_000}, now)
	want := []string{"maxLamports (3000000) exceeds policy cap (2000000)"}
	if diff := cmp.Diff(want, d.Reasons); diff != "" {
		t.Errorf("reasons mismatch (-want +got):\n%s", diff)
	}
}

func TestCapIsInclusive(t *testing.T) {
	in := solTransfer(testTo, 2_000_000, nil, now.Add(time.Hour))
	if d := Evaluate(in, &PolicyConfig{MaxLamportsPerTx: 2_000_000}, now); !d.Approved {
		t.Errorf("amount equal to cap must be approved, got %v", d.Reasons)
	}
}

func TestExpiryBoundary(t *testing.T) {
	cases := []struct {
		name    string
		expires time.Time
		expired bool
	}{
		{"one ms ahead", now.Add(time.Millisecond), false},
		{"exactly now", now, true},
		{"in the past", now.Add(-time.Minute), true},
		{"zero", time.Time{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Evaluate(solTransfer(testTo, 1, nil, tc.expires), DefaultConfig(), now)
			got := contains(d.Reasons, ReasonExpired)
			if got != tc.expired {
				t.Errorf("expired = %v, want %v (reasons %v)", got, tc.expired, d.Reasons)
			}
		})
	}
}

func TestEmptyAllowlistPermitsByDefault(t *testing.T) {
	in := solTransfer(testOther, 1, nil, now.Add(time.Hour))
	if d := Evaluate(in, DefaultConfig(), now); !d.Approved {
		t.Errorf("expected approval with empty allowlist, got %v", d.Reasons)
	}

	cfg := DefaultConfig()
	cfg.RequireAllowlist = true
	d := Evaluate(in, cfg, now)
	if diff := cmp.Diff([]string{ReasonAllowlistEmpty}, d.Reasons); diff != "" {
		t.Errorf("reasons mismatch (-want +got):\n%s", diff)
	}
}

func TestTokenTransferIgnoresCap(t *testing.T) {
	in := &intent.TokenTransfer{
		Header:   header(now.Add(time.Hour)),
		To:       testTo,
		Mint:     testMint,
		Amount:   "999999999999999999999",
		Decimals: 6,
	}
	cfg := &PolicyConfig{MaxLamportsPerTx: 1, AllowRecipients: []string{testTo}}
	if d := Evaluate(in, cfg, now); !d.Approved {
		t.Errorf("token transfer must not be capped, got %v", d.Reasons)
	}

	in.To = testOther
	d := Evaluate(in, cfg, now)
	if diff := cmp.Diff([]string{ReasonNotAllowlisted}, d.Reasons); diff != "" {
		t.Errorf("reasons mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoOnlySkipsRecipientRules(t *testing.T) {
	in := &intent.MemoOnly{Header: header(now.Add(time.Hour)), Memo: "checkpoint"}
	cfg := &PolicyConfig{MaxLamportsPerTx: 0, AllowRecipients: []string{testTo}, RequireAllowlist: true}
	if d := Evaluate(in, cfg, now); !d.Approved {
		t.Errorf("memo intent must be approved, got %v", d.Reasons)
	}
}

func TestKindSanityRechecks(t *testing.T) {
	cfg := DefaultConfig()

	d := Evaluate(&intent.MemoOnly{Header: header(now.Add(time.Hour)), Memo: "  "}, cfg, now)
	if diff := cmp.Diff([]string{ReasonMissingMemo}, d.Reasons); diff != "" {
		t.Errorf("memo reasons mismatch (-want +got):\n%s", diff)
	}

	tok := &intent.TokenTransfer{Header: header(now.Add(time.Hour)), Amount: "1"}
	d = Evaluate(tok, cfg, now)
	if diff := cmp.Diff([]string{ReasonMissingMint, ReasonMissingRecipient}, d.Reasons); diff != "" {
		t.Errorf("token reasons mismatch (-want +got):\n%s", diff)
	}
}

func TestReasonsAreDistinct(t *testing.T) {
	in := solTransfer("", 5, nil, now.Add(-time.Hour))
	cfg := &PolicyConfig{MaxLamportsPerTx: 1, AllowRecipients: []string{testTo}}
	d := Evaluate(in, cfg, now)
	seen := make(map[string]bool)
	for _, r := range d.Reasons {
		if seen[r] {
			t.Errorf("duplicate reason %q in %v", r, d.Reasons)
		}
		seen[r] = true
	}
	if len(d.Reasons) != 4 {
		t.Errorf("expected 4 reasons, got %v", d.Reasons)
	}
}

func TestNilConfigUsesDefaults(t *testing.T) {
	in := solTransfer(testTo, DefaultMaxLamportsPerTx+1, nil, now.Add(time.Hour))
	if d := Evaluate(in, nil, now); d.Approved {
		t.Error("expected default cap to reject")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
