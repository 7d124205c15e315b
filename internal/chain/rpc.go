package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options tunes the RPC client. Zero values take defaults.
type Options struct {
	RequestsPerSecond float64
	Burst             int
	ConfirmTimeout    time.Duration
	PollInterval      time.Duration
	// AirdropTries bounds faucet attempts; only transient failures are retried.
	AirdropTries         uint
	RetryInitialInterval time.Duration
	Logger               *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 10
	}
	if o.Burst <= 0 {
		o.Burst = 5
	}
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = 60 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.AirdropTries == 0 {
		o.AirdropTries = 5
	}
	if o.RetryInitialInterval <= 0 {
		o.RetryInitialInterval = 800 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// RPCClient implements Client over Solana JSON-RPC.
type RPCClient struct {
	rpc     *rpc.Client
	limiter *rate.Limiter
	opts    Options
	log     *zap.Logger
}

// NewRPCClient creates a client for endpoint.
func NewRPCClient(endpoint string, opts Options) *RPCClient {
	opts = opts.withDefaults()
	return &RPCClient{
		rpc:     rpc.New(endpoint),
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		opts:    opts,
		log:     opts.Logger.Named("chain"),
	}
}

func (c *RPCClient) wait(ctx context.Context, op string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Op: op, Err: err}
	}
	return nil
}

// LatestBlockhash fetches a fresh blockhash at confirmed commitment.
func (c *RPCClient) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	if err := c.wait(ctx, "latest blockhash"); err != nil {
		return solana.Hash{}, err
	}
	res, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Hash{}, wrap("latest blockhash", err)
	}
	if res == nil || res.Value == nil {
		return solana.Hash{}, &Error{Op: "latest blockhash", Err: errors.New("empty response")}
	}
	c.log.Debug("fetched blockhash", zap.Stringer("blockhash", res.Value.Blockhash))
	return res.Value.Blockhash, nil
}

// AccountExists reports whether account holds any data on chain.
func (c *RPCClient) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	if err := c.wait(ctx, "get account"); err != nil {
		return false, err
	}
	_, err := c.rpc.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, wrap("get account", err)
	}
	return true, nil
}

// Submit sends a signed transaction with preflight at confirmed commitment.
func (c *RPCClient) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := c.wait(ctx, "send transaction"); err != nil {
		return solana.Signature{}, err
	}
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, wrap("send transaction", err)
	}
	c.log.Debug("submitted transaction", zap.Stringer("signature", sig))
	return sig, nil
}

// Confirm polls until sig is confirmed, fails, or ConfirmTimeout passes.
func (c *RPCClient) Confirm(ctx context.Context, sig solana.Signature) error {
	op := func() (struct{}, error) {
		if err := c.wait(ctx, "confirm"); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		res, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			err = wrap("confirm", err)
			if errors.Is(err, ErrRateLimited) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
			return struct{}{}, ErrNotConfirmed
		}
		status := res.Value[0]
		if status.Err != nil {
			return struct{}{}, backoff.Permanent(&Error{Op: "confirm", Err: fmt.Errorf("%w: %v", ErrTransactionFailed, status.Err)})
		}
		switch status.ConfirmationStatus {
		case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
			return struct{}{}, nil
		}
		return struct{}{}, ErrNotConfirmed
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.opts.PollInterval)),
		backoff.WithMaxElapsedTime(c.opts.ConfirmTimeout),
	)
	if err != nil {
		return wrap("confirm", err)
	}
	c.log.Debug("confirmed transaction", zap.Stringer("signature", sig))
	return nil
}

// RequestAirdrop asks the devnet faucet for lamports. Transient failures are
// retried with exponential backoff; rate limiting is terminal.
func (c *RPCClient) RequestAirdrop(ctx context.Context, account solana.PublicKey, lamports uint64) (solana.Signature, error) {
	attempt := 0
	op := func() (solana.Signature, error) {
		attempt++
		if err := c.wait(ctx, "airdrop"); err != nil {
			return solana.Signature{}, backoff.Permanent(err)
		}
		sig, err := c.rpc.RequestAirdrop(ctx, account, lamports, rpc.CommitmentConfirmed)
		if err != nil {
			err = wrap("airdrop", err)
			if errors.Is(err, ErrRateLimited) {
				return solana.Signature{}, backoff.Permanent(err)
			}
			c.log.Warn("airdrop attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return solana.Signature{}, err
		}
		return sig, nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.opts.RetryInitialInterval
	sig, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(c.opts.AirdropTries),
	)
	if err != nil {
		return solana.Signature{}, wrap("airdrop", err)
	}
	c.log.Info("airdrop requested",
		zap.Stringer("account", account),
		zap.Uint64("lamports", lamports),
		zap.Stringer("signature", sig))
	return sig, nil
}
