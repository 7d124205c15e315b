package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/intentgate/internal/intent"
)

// Rejection reasons. The cap reason is formatted with capReasonFormat.
const (
	ReasonExpired          = "intent expired"
	ReasonNotAllowlisted   = "recipient not allowlisted"
	ReasonAllowlistEmpty   = "recipient allowlist is empty"
	ReasonMissingRecipient = "missing recipient"
	ReasonMissingMint      = "missing mint"
	ReasonMissingMemo      = "missing memo"

	capReasonFormat = "maxLamports (%d) exceeds policy cap (%d)"
)

// Decision is the outcome of evaluating one intent. Approved is true iff
// Reasons is empty. Rejection is a normal value, not an error.
type Decision struct {
	Approved bool     `json:"approved"`
	Reasons  []string `json:"reasons"`
}

// Evaluate runs every rule against in and accumulates distinct reasons.
// It reads no state other than its arguments.
//
// Rules (all run, none short-circuit):
//  1. Expiry: now must be strictly before expiresAt (zero time counts as expired)
//  2. Cap: sol_transfer effective cap must not exceed MaxLamportsPerTx
//  3. Allowlist: transfer recipients must be listed when the list is non-empty
//  4. Kind sanity: recipient, mint, memo must be non-empty
func Evaluate(in intent.Intent, cfg *PolicyConfig, now time.Time) Decision {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	e := &evaluator{cfg: cfg, seen: make(map[string]bool)}

	expiresAt := in.Common().ExpiresAt
	if expiresAt.IsZero() || !now.Before(expiresAt) {
		e.reject(ReasonExpired)
	}

	// Kind-specific rules; the visitor never returns an error.
	_ = in.Accept(e)

	reasons := e.reasons
	if reasons == nil {
		reasons = []string{}
	}
	return Decision{Approved: len(reasons) == 0, Reasons: reasons}
}

type evaluator struct {
	cfg     *PolicyConfig
	reasons []string
	seen    map[string]bool
}

func (e *evaluator) reject(reason string) {
	if e.seen[reason] {
		return
	}
	e.seen[reason] = true
	e.reasons = append(e.reasons, reason)
}

func (e *evaluator) checkRecipient(to string) {
	if strings.TrimSpace(to) == "" {
		e.reject(ReasonMissingRecipient)
	}
	if len(e.cfg.AllowRecipients) == 0 {
		if e.cfg.RequireAllowlist {
			e.reject(ReasonAllowlistEmpty)
		}
		return
	}
	for _, allowed := range e.cfg.AllowRecipients {
		if allowed == to {
			return
		}
	}
	e.reject(ReasonNotAllowlisted)
}

func (e *evaluator) VisitSOLTransfer(t *intent.SOLTransfer) error {
	if limit := t.EffectiveCap(); limit > e.cfg.MaxLamportsPerTx {
		e.reject(fmt.Sprintf(capReasonFormat, limit, e.cfg.MaxLamportsPerTx))
	}
	e.checkRecipient(t.To)
	return nil
}

// Token amounts carry no native-currency cost, so only the allowlist applies.
func (e *evaluator) VisitTokenTransfer(t *intent.TokenTransfer) error {
	if strings.TrimSpace(t.Mint) == "" {
		e.reject(ReasonMissingMint)
	}
	e.checkRecipient(t.To)
	return nil
}

func (e *evaluator) VisitMemoOnly(m *intent.MemoOnly) error {
	if strings.TrimSpace(m.Memo) == "" {
		e.reject(ReasonMissingMemo)
	}
	return nil
}
