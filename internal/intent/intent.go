// Package intent defines the declarative action requests an agent submits
// for authorization, and the closed schema those requests are validated
// against before any policy runs.
package intent

import (
	"math/big"
	"time"
)

// Kind discriminates the intent variants.
type Kind string

const (
	KindSOLTransfer   Kind = "sol_transfer"
	KindTokenTransfer Kind = "token_transfer"
	KindMemoOnly      Kind = "memo_only"
)

// kindAliases maps legacy wire names onto canonical kinds.
var kindAliases = map[string]Kind{
	"spl_transfer": KindTokenTransfer,
}

// validKinds is the set of recognized intent kinds.
var validKinds = map[Kind]bool{
	KindSOLTransfer:   true,
	KindTokenTransfer: true,
	KindMemoOnly:      true,
}

// ParseKind resolves a wire kind, including aliases.
func ParseKind(s string) (Kind, bool) {
	if k, ok := kindAliases[s]; ok {
		return k, true
	}
	k := Kind(s)
	return k, validKinds[k]
}

// Kinds returns the canonical kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindSOLTransfer, KindTokenTransfer, KindMemoOnly}
}

// Network is the cluster an intent targets.
type Network string

const (
	Devnet  Network = "devnet"
	Mainnet Network = "mainnet"
)

// IsValidNetwork returns true if n is a recognized network.
func IsValidNetwork(n Network) bool {
	return n == Devnet || n == Mainnet
}

// Header carries the fields every intent kind shares.
type Header struct {
	Network   Network
	From      string
	ExpiresAt time.Time
	Note      string
}

// Common returns the shared header.
func (h Header) Common() Header { return h }

// Intent is one of *SOLTransfer, *TokenTransfer or *MemoOnly.
// Values are immutable once returned by the validator.
type Intent interface {
	Kind() Kind
	Common() Header
	// Recipient returns the destination owner, or "" when the kind has none.
	Recipient() string
	// Accept dispatches to the Visitor method for the concrete kind.
	Accept(v Visitor) error
	sealed()
}

// Visitor handles every intent kind. Adding a kind adds a method here,
// so every consumer stops compiling until it handles the new kind.
type Visitor interface {
	VisitSOLTransfer(t *SOLTransfer) error
	VisitTokenTransfer(t *TokenTransfer) error
	VisitMemoOnly(m *MemoOnly) error
}

// SOLTransfer moves native lamports between two accounts.
type SOLTransfer struct {
	Header
	To          string
	Lamports    uint64
	MaxLamports *uint64
	// AllowRecipients is the agent's own declared hint. Policy never reads it.
	AllowRecipients []string
}

func (t *SOLTransfer) Kind() Kind { return KindSOLTransfer }
func (t *SOLTransfer) Recipient() string { return t.To }
func (t *SOLTransfer) Accept(v Visitor) error { return v.VisitSOLTransfer(t) }
func (t *SOLTransfer) sealed() {}

// EffectiveCap is MaxLamports when set, otherwise Lamports.
func (t *SOLTransfer) EffectiveCap() uint64 {
	if t.MaxLamports != nil {
		return *t.MaxLamports
	}
	return t.Lamports
}

// TokenTransfer moves an SPL token amount between the owners' associated
// token accounts.
type TokenTransfer struct {
	Header
	To   string
	Mint string
	// Amount is the base-unit amount as decimal digits, kept as received.
	Amount          string
	Decimals        uint8
	AllowRecipients []string
}

func (t *TokenTransfer) Kind() Kind { return KindTokenTransfer }
func (t *TokenTransfer) Recipient() string { return t.To }
func (t *TokenTransfer) Accept(v Visitor) error { return v.VisitTokenTransfer(t) }
func (t *TokenTransfer) sealed() {}

// AmountValue parses Amount into a fresh big.Int.
func (t *TokenTransfer) AmountValue() (*big.Int, bool) {
	return new(big.Int).SetString(t.Amount, 10)
}

// MemoOnly is authorized purely for its receipt; it has no action transaction.
type MemoOnly struct {
	Header
	Memo string
}

func (m *MemoOnly) Kind() Kind { return KindMemoOnly }
func (m *MemoOnly) Recipient() string { return "" }
func (m *MemoOnly) Accept(v Visitor) error { return v.VisitMemoOnly(m) }
func (m *MemoOnly) sealed() {}
