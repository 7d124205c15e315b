// Package receipt binds an authorization decision to the exact bytes of the
// intent payload it was made for.
package receipt

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/ppiankov/intentgate/internal/policy"
)

// TimestampFormat is RFC 3339 in UTC with millisecond precision.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// ErrHashMismatch is returned by Verify when a payload does not match a receipt.
var ErrHashMismatch = errors.New("intent hash mismatch")

// Verdict is the receipt-level rendering of a decision.
type Verdict string

const (
	Approve Verdict = "APPROVE"
	Reject  Verdict = "REJECT"
)

// VerdictOf maps a policy decision onto its verdict.
func VerdictOf(d policy.Decision) Verdict {
	if d.Approved {
		return Approve
	}
	return Reject
}

// Receipt is the audit record posted on-chain for every decision.
type Receipt struct {
	Decision           Verdict  `json:"decision"`
	IntentHash         string   `json:"intentHash"`
	Reasons            []string `json:"reasons"`
	Timestamp          string   `json:"timestamp"`
	RecordingSignature string   `json:"recordingSignature,omitempty"`
}

// Hash returns the lowercase hex SHA-256 of raw, byte for byte.
func Hash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Assemble builds the receipt for a decision. clock is read exactly once.
func Assemble(digest string, d policy.Decision, clock func() time.Time) Receipt {
	reasons := append([]string{}, d.Reasons...)
	return Receipt{
		Decision:   VerdictOf(d),
		IntentHash: digest,
		Reasons:    reasons,
		Timestamp:  clock().UTC().Format(TimestampFormat),
	}
}

// MemoPayload returns the RFC 8785 canonical JSON recorded on-chain. The
// recording signature is never part of the payload it signs over.
func (r Receipt) MemoPayload() ([]byte, error) {
	r.RecordingSignature = ""
	if r.Reasons == nil {
		r.Reasons = []string{}
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("receipt: marshal: %w", err)
	}
	out, err := jcs.Transform(data)
	if err != nil {
		return nil, fmt.Errorf("receipt: canonicalize: %w", err)
	}
	return out, nil
}

// PayloadDigest is the hex SHA-256 of MemoPayload, for logs and for callers
// that skip recording.
func (r Receipt) PayloadDigest() (string, error) {
	payload, err := r.MemoPayload()
	if err != nil {
		return "", err
	}
	return Hash(payload), nil
}

// ParseMemo decodes a recorded memo payload back into a receipt.
func ParseMemo(data []byte) (Receipt, error) {
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return Receipt{}, fmt.Errorf("receipt: parse memo: %w", err)
	}
	if r.Decision != Approve && r.Decision != Reject {
		return Receipt{}, fmt.Errorf("receipt: parse memo: unknown decision %q", r.Decision)
	}
	return r, nil
}

// Verify re-hashes raw and compares it against hash. Hex case is ignored.
func Verify(raw []byte, hash string) error {
	got := Hash(raw)
	if !strings.EqualFold(got, strings.TrimSpace(hash)) {
		return fmt.Errorf("%w: payload hashes to %s, receipt has %s", ErrHashMismatch, got, hash)
	}
	return nil
}
