// Package ledger posts receipts on-chain as Memo program annotations.
package ledger

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/ppiankov/intentgate/internal/chain"
	"github.com/ppiankov/intentgate/internal/receipt"
	"github.com/ppiankov/intentgate/internal/signer"
)

// MemoProgramID is the SPL Memo program (v2).
var MemoProgramID = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

// MaxMemoBytes keeps the memo within a single legacy transaction.
const MaxMemoBytes = 566

// Recorder records a receipt and returns the recording transaction signature.
type Recorder interface {
	Record(ctx context.Context, r receipt.Receipt) (string, error)
}

// MemoRecorder signs memo transactions with its payer and submits them
// through a chain client.
type MemoRecorder struct {
	chain  chain.Client
	signer signer.Signer
	log    *zap.Logger
}

// NewMemoRecorder creates a recorder. A nil logger is replaced by a no-op.
func NewMemoRecorder(c chain.Client, s signer.Signer, log *zap.Logger) *MemoRecorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &MemoRecorder{chain: c, signer: s, log: log.Named("ledger")}
}

// MemoTransaction builds the unsigned memo transaction carrying payload.
func MemoTransaction(payer solana.PublicKey, blockhash solana.Hash, payload []byte) (*solana.Transaction, error) {
	if len(payload) > MaxMemoBytes {
		return nil, fmt.Errorf("ledger: memo payload is %d bytes, limit %d", len(payload), MaxMemoBytes)
	}
	ix := solana.NewInstruction(MemoProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(payer, false, true),
	}, payload)
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("ledger: build memo transaction: %w", err)
	}
	return tx, nil
}

// Record posts r's canonical payload and waits for confirmation. Chain
// failures are returned unchanged so callers can tell whether it landed.
func (m *MemoRecorder) Record(ctx context.Context, r receipt.Receipt) (string, error) {
	payload, err := r.MemoPayload()
	if err != nil {
		return "", err
	}

	blockhash, err := m.chain.LatestBlockhash(ctx)
	if err != nil {
		return "", err
	}
	tx, err := MemoTransaction(m.signer.PublicKey(), blockhash, payload)
	if err != nil {
		return "", err
	}
	if err := m.signer.Sign(tx); err != nil {
		return "", err
	}

	sig, err := m.chain.Submit(ctx, tx)
	if err != nil {
		return "", err
	}
	if err := m.chain.Confirm(ctx, sig); err != nil {
		return "", err
	}

	m.log.Info("receipt recorded",
		zap.String("intent_hash", r.IntentHash),
		zap.String("decision", string(r.Decision)),
		zap.Stringer("signature", sig))
	return sig.String(), nil
}
