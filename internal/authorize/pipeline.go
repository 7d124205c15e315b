// Package authorize runs the intent authorization pipeline: validate,
// evaluate, hash, record, and on approval build the action transaction.
package authorize

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/ppiankov/intentgate/internal/alert"
	"github.com/ppiankov/intentgate/internal/audit"
	"github.com/ppiankov/intentgate/internal/chain"
	"github.com/ppiankov/intentgate/internal/intent"
	"github.com/ppiankov/intentgate/internal/ledger"
	"github.com/ppiankov/intentgate/internal/policy"
	"github.com/ppiankov/intentgate/internal/receipt"
	"github.com/ppiankov/intentgate/internal/txbuild"
)

// Policy is the configuration an intent is judged against, plus the hash
// of the file it came from.
type Policy struct {
	Config *policy.PolicyConfig
	Hash   string
}

// Result is what every invocation surface returns. The JSON field names
// are part of the external contract.
type Result struct {
	IntentHash         string          `json:"intentHash"`
	Decision           receipt.Verdict `json:"decision"`
	Reasons            []string        `json:"reasons"`
	Timestamp          string          `json:"timestamp"`
	Kind               intent.Kind     `json:"kind"`
	RecordingSignature string          `json:"recordingSignature,omitempty"`
	ExplorerURL        string          `json:"explorerUrl,omitempty"`

	Intent         intent.Intent   `json:"-"`
	Receipt        receipt.Receipt `json:"-"`
	PolicyDecision policy.Decision `json:"-"`
}

// Approved reports whether policy approved the intent.
func (r *Result) Approved() bool { return r.PolicyDecision.Approved }

// Recorded reports whether the receipt was posted on-chain.
func (r *Result) Recorded() bool { return r.RecordingSignature != "" }

// Pipeline is safe for concurrent use. Everything it holds is read-only
// after New, except the journal which serializes its own writes.
type Pipeline struct {
	validator *intent.Validator
	recorder  ledger.Recorder
	chain     chain.Client
	journal   *audit.Journal
	alerts    *alert.Dispatcher
	clock     func() time.Time
	log       *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithValidator replaces the default-limits validator.
func WithValidator(v *intent.Validator) Option { return func(p *Pipeline) { p.validator = v } }

// WithRecorder enables on-chain receipt recording.
func WithRecorder(r ledger.Recorder) Option { return func(p *Pipeline) { p.recorder = r } }

// WithChain supplies the chain client used by BuildAction.
func WithChain(c chain.Client) Option { return func(p *Pipeline) { p.chain = c } }

// WithJournal appends every decision to a local hash-chained journal.
func WithJournal(j *audit.Journal) Option { return func(p *Pipeline) { p.journal = j } }

// WithAlerts dispatches decision webhooks.
func WithAlerts(d *alert.Dispatcher) Option { return func(p *Pipeline) { p.alerts = d } }

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option { return func(p *Pipeline) { p.clock = clock } }

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option { return func(p *Pipeline) { p.log = l } }

// New creates a pipeline. Without a recorder, receipts are assembled and
// returned but not posted.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{clock: time.Now, log: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	if p.validator == nil {
		p.validator = intent.NewValidator(intent.Limits{})
	}
	p.log = p.log.Named("authorize")
	return p
}

// CanRecord reports whether receipts will be posted on-chain.
func (p *Pipeline) CanRecord() bool { return p.recorder != nil }

// Authorize runs one raw payload through the pipeline. A policy rejection is
// a normal Result; errors are malformed input, schema violations, or
// collaborator failures, and no Result is returned with them.
func (p *Pipeline) Authorize(ctx context.Context, raw []byte, pol Policy) (*Result, error) {
	digest := receipt.Hash(raw)

	in, err := p.validator.Validate(raw)
	if err != nil {
		p.log.Debug("intent invalid", zap.String("intent_hash", digest), zap.Error(err))
		return nil, err
	}

	now := p.clock()
	decision := policy.Evaluate(in, pol.Config, now)
	rc := receipt.Assemble(digest, decision, func() time.Time { return now })

	res := &Result{
		IntentHash:     digest,
		Decision:       rc.Decision,
		Reasons:        rc.Reasons,
		Timestamp:      rc.Timestamp,
		Kind:           in.Kind(),
		Intent:         in,
		Receipt:        rc,
		PolicyDecision: decision,
	}
	p.log.Debug("intent evaluated",
		zap.String("intent_hash", digest),
		zap.String("kind", string(in.Kind())),
		zap.String("decision", string(rc.Decision)),
		zap.Strings("reasons", rc.Reasons))

	if p.recorder != nil {
		sig, err := p.recorder.Record(ctx, rc)
		if err != nil {
			return nil, fmt.Errorf("authorize: record receipt %s: %w", digest, err)
		}
		res.RecordingSignature = sig
		res.Receipt.RecordingSignature = sig
		res.ExplorerURL = chain.ExplorerURL(sig, in.Common().Network)
	}

	if p.journal != nil {
		if _, err := p.journal.Record(journalEntry(res, pol.Hash)); err != nil {
			return nil, fmt.Errorf("authorize: journal: %w", err)
		}
	}
	p.alerts.Dispatch(alertEvent(res, pol.Hash))

	return res, nil
}

// BuildAction builds the unsigned action transaction for an approved
// result, fetching a fresh blockhash and, for token transfers, checking
// whether the recipient token account already exists.
func (p *Pipeline) BuildAction(ctx context.Context, res *Result) (*solana.Transaction, error) {
	if err := txbuild.CheckActionable(res.Intent, res.PolicyDecision); err != nil {
		return nil, err
	}
	if p.chain == nil {
		return nil, fmt.Errorf("authorize: build action: no chain client configured")
	}

	cc := txbuild.ChainContext{}
	if t, ok := res.Intent.(*intent.TokenTransfer); ok {
		exists, err := p.recipientAccountExists(ctx, t)
		if err != nil {
			return nil, err
		}
		cc.RecipientAccountExists = exists
	}

	hash, err := p.chain.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	cc.RecentBlockhash = hash

	return txbuild.Build(res.Intent, res.PolicyDecision, cc)
}

func (p *Pipeline) recipientAccountExists(ctx context.Context, t *intent.TokenTransfer) (bool, error) {
	owner, err := solana.PublicKeyFromBase58(t.To)
	if err != nil {
		return false, fmt.Errorf("authorize: recipient %q: %w: %v", t.To, txbuild.ErrInvalidAddress, err)
	}
	mint, err := solana.PublicKeyFromBase58(t.Mint)
	if err != nil {
		return false, fmt.Errorf("authorize: mint %q: %w: %v", t.Mint, txbuild.ErrInvalidAddress, err)
	}
	ata, err := txbuild.AssociatedTokenAddress(owner, mint)
	if err != nil {
		return false, err
	}
	return p.chain.AccountExists(ctx, ata)
}

func journalEntry(res *Result, policyHash string) audit.Entry {
	h := res.Intent.Common()
	return audit.Entry{
		IntentHash:         res.IntentHash,
		Kind:               string(res.Kind),
		Network:            string(h.Network),
		Recipient:          res.Intent.Recipient(),
		Decision:           string(res.Decision),
		Reasons:            res.Reasons,
		PolicyHash:         policyHash,
		RecordingSignature: res.RecordingSignature,
	}
}

func alertEvent(res *Result, policyHash string) alert.Event {
	return alert.Event{
		Timestamp:          res.Timestamp,
		IntentHash:         res.IntentHash,
		Kind:               string(res.Kind),
		Network:            string(res.Intent.Common().Network),
		Recipient:          res.Intent.Recipient(),
		Decision:           string(res.Decision),
		Reasons:            res.Reasons,
		PolicyHash:         policyHash,
		RecordingSignature: res.RecordingSignature,
		ExplorerURL:        res.ExplorerURL,
	}
}
