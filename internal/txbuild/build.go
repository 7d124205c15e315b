// Package txbuild turns an approved intent into an unsigned Solana
// transaction. It never re-evaluates policy and never signs.
package txbuild

import (
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/ppiankov/intentgate/internal/intent"
	"github.com/ppiankov/intentgate/internal/policy"
)

// createIdempotent is the associated-token-account program's CreateIdempotent
// instruction discriminator.
const createIdempotent byte = 1

// ChainContext is the per-build input fetched from the chain client.
// A blockhash is single-use: callers fetch a fresh one for every build.
type ChainContext struct {
	RecentBlockhash solana.Hash
	// RecipientAccountExists skips the create-recipient-account instruction
	// for token transfers when the chain reports it is already there.
	RecipientAccountExists bool
}

// Build maps an approved intent onto its action transaction. The decision
// must be the one produced for in; a rejected decision is misuse.
func Build(in intent.Intent, d policy.Decision, cc ChainContext) (*solana.Transaction, error) {
	if err := CheckActionable(in, d); err != nil {
		return nil, err
	}
	if cc.RecentBlockhash == (solana.Hash{}) {
		return nil, &MisuseError{Kind: in.Kind(), Reason: "missing recent blockhash"}
	}

	b := &builder{cc: cc}
	if err := in.Accept(b); err != nil {
		return nil, err
	}

	tx, err := solana.NewTransaction(b.instructions, cc.RecentBlockhash, solana.TransactionPayer(b.payer))
	if err != nil {
		return nil, fmt.Errorf("txbuild: assemble %s: %w", in.Kind(), err)
	}
	return tx, nil
}

// CheckActionable reports, without touching the chain, whether Build would
// accept in under d. Callers use it before fetching a blockhash.
func CheckActionable(in intent.Intent, d policy.Decision) error {
	if in == nil {
		return &MisuseError{Reason: "nil intent"}
	}
	if !d.Approved {
		return &MisuseError{Kind: in.Kind(), Reason: "intent was rejected by policy"}
	}
	return in.Accept(actionable{})
}

// actionable accepts every kind that has an action transaction.
type actionable struct{}

func (actionable) VisitSOLTransfer(*intent.SOLTransfer) error { return nil }
func (actionable) VisitTokenTransfer(*intent.TokenTransfer) error { return nil }
func (actionable) VisitMemoOnly(m *intent.MemoOnly) error { return noAction(m) }

func noAction(m *intent.MemoOnly) error {
	return &MisuseError{Kind: m.Kind(), Reason: "authorized for its receipt only", Err: ErrNoActionTransaction}
}

// EncodeMessage returns the base64 wire encoding of the unsigned message,
// the form wallets and signers accept.
func EncodeMessage(tx *solana.Transaction) (string, error) {
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("txbuild: encode message: %w", err)
	}
	return base64.StdEncoding.EncodeToString(msg), nil
}

// AssociatedTokenAddress derives owner's token account for mint without a
// network round-trip.
func AssociatedTokenAddress(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("txbuild: derive associated token address: %w", err)
	}
	return ata, nil
}

type builder struct {
	cc           ChainContext
	payer        solana.PublicKey
	instructions []solana.Instruction
}

func (b *builder) VisitSOLTransfer(t *intent.SOLTransfer) error {
	from, to, err := parsePair(t.Kind(), t.From, t.To)
	if err != nil {
		return err
	}
	b.payer = from
	b.instructions = append(b.instructions,
		system.NewTransferInstruction(t.Lamports, from, to).Build())
	return nil
}

func (b *builder) VisitTokenTransfer(t *intent.TokenTransfer) error {
	from, to, err := parsePair(t.Kind(), t.From, t.To)
	if err != nil {
		return err
	}
	mint, err := parseKey(t.Kind(), "mint", t.Mint)
	if err != nil {
		return err
	}
	amount, err := tokenAmount(t)
	if err != nil {
		return err
	}

	fromATA, err := AssociatedTokenAddress(from, mint)
	if err != nil {
		return err
	}
	toATA, err := AssociatedTokenAddress(to, mint)
	if err != nil {
		return err
	}

	b.payer = from
	if !b.cc.RecipientAccountExists {
		b.instructions = append(b.instructions, createAccountIdempotent(from, toATA, to, mint))
	}
	b.instructions = append(b.instructions,
		token.NewTransferCheckedInstruction(amount, t.Decimals, fromATA, mint, toATA, from, nil).Build())
	return nil
}

func (b *builder) VisitMemoOnly(m *intent.MemoOnly) error {
	return noAction(m)
}

func createAccountIdempotent(payer, ata, owner, mint solana.PublicKey) solana.Instruction {
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(ata, true, false),
		solana.NewAccountMeta(owner, false, false),
		solana.NewAccountMeta(mint, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	return solana.NewInstruction(solana.SPLAssociatedTokenAccountProgramID, accounts, []byte{createIdempotent})
}

func tokenAmount(t *intent.TokenTransfer) (uint64, error) {
	v, ok := t.AmountValue()
	if !ok || v.Sign() < 0 {
		return 0, &MisuseError{Kind: t.Kind(), Reason: fmt.Sprintf("amount %q is not a base-10 integer", t.Amount)}
	}
	if v.Cmp(new(big.Int).SetUint64(^uint64(0))) > 0 {
		return 0, &MisuseError{Kind: t.Kind(), Reason: fmt.Sprintf("amount %s", t.Amount), Err: ErrAmountOverflow}
	}
	return v.Uint64(), nil
}

func parsePair(kind intent.Kind, from, to string) (solana.PublicKey, solana.PublicKey, error) {
	f, err := parseKey(kind, "from", from)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	t, err := parseKey(kind, "to", to)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	return f, t, nil
}

// parseKey is where address semantics are checked; the schema only bounds length.
func parseKey(kind intent.Kind, field, s string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("txbuild: %s %s %q: %w: %v", kind, field, s, ErrInvalidAddress, err)
	}
	return pk, nil
}
