// Package chain is the Solana JSON-RPC collaborator: it supplies blockhashes,
// submits and confirms transactions, and funds devnet payers.
package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/ppiankov/intentgate/internal/intent"
)

var (
	// ErrRateLimited matches HTTP 429 responses. It is never retried.
	ErrRateLimited = errors.New("rate limited by RPC endpoint")
	// ErrTransactionFailed matches a transaction the cluster executed with an error.
	ErrTransactionFailed = errors.New("transaction failed on chain")
	// ErrNotConfirmed matches a signature that did not reach confirmed in time.
	ErrNotConfirmed = errors.New("transaction not confirmed")
)

// Client is everything the authorization pipeline needs from a cluster.
type Client interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	AccountExists(ctx context.Context, account solana.PublicKey) (bool, error)
	Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	Confirm(ctx context.Context, sig solana.Signature) error
	RequestAirdrop(ctx context.Context, account solana.PublicKey, lamports uint64) (solana.Signature, error)
}

// Error is a collaborator failure. It is surfaced to callers unchanged.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("chain: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Endpoint returns the public RPC URL for a network.
func Endpoint(network intent.Network) string {
	if network == intent.Mainnet {
		return rpc.MainNetBeta_RPC
	}
	return rpc.DevNet_RPC
}

// ExplorerURL links a transaction signature on solscan.
func ExplorerURL(sig string, network intent.Network) string {
	if network == intent.Mainnet {
		return "https://solscan.io/tx/" + sig
	}
	return "https://solscan.io/tx/" + sig + "?cluster=devnet"
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	if isRateLimited(err) && !errors.Is(err, ErrRateLimited) {
		err = fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return &Error{Op: op, Err: err}
}

func isRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "too many requests")
}
