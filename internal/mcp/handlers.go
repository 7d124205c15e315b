package mcp

import (
	"context"
	"errors"
	"strconv"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/intentgate/internal/intent"
	"github.com/ppiankov/intentgate/internal/receipt"
	"github.com/ppiankov/intentgate/internal/signer"
	"github.com/ppiankov/intentgate/internal/txbuild"
)

// --- Input/Output types ---

// AuthorizeInput defines parameters for the intent_authorize tool.
type AuthorizeInput struct {
	Intent string `json:"intent" jsonschema:"intent JSON payload, passed verbatim as a string so its hash is preserved"`
	Build  bool   `json:"build,omitempty" jsonschema:"also build the unsigned action transaction when approved"`
}

// AuthorizeOutput is the decision for one intent, or the reason it could
// not be evaluated.
type AuthorizeOutput struct {
	IntentHash         string       `json:"intentHash"`
	Decision           string       `json:"decision,omitempty"`
	Reasons            []string     `json:"reasons"`
	Timestamp          string       `json:"timestamp,omitempty"`
	Kind               string       `json:"kind,omitempty"`
	RecordingSignature string       `json:"recordingSignature,omitempty"`
	ExplorerURL        string       `json:"explorerUrl,omitempty"`
	PolicyHash         string       `json:"policyHash,omitempty"`
	UnsignedMessage    string       `json:"unsignedMessage,omitempty"`
	Errors             []FieldError `json:"errors,omitempty"`
	Error              string       `json:"error,omitempty"`
}

// FieldError is one schema violation.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// IntentInput carries a raw intent payload.
type IntentInput struct {
	Intent string `json:"intent" jsonschema:"intent JSON payload as a string"`
}

// ValidateOutput reports schema validity.
type ValidateOutput struct {
	Valid      bool         `json:"valid"`
	IntentHash string       `json:"intentHash"`
	Kind       string       `json:"kind,omitempty"`
	Errors     []FieldError `json:"errors"`
}

// HashOutput carries the receipt hash.
type HashOutput struct {
	IntentHash string `json:"intentHash"`
}

// ExampleInput selects the example kind.
type ExampleInput struct {
	Kind string `json:"kind,omitempty" jsonschema:"sol_transfer (default), token_transfer or memo_only"`
}

// ExampleOutput carries a ready-to-edit intent payload.
type ExampleOutput struct {
	Intent string `json:"intent"`
}

// --- Handlers ---

func (s *Server) handleAuthorize(ctx context.Context, req *mcpsdk.CallToolRequest, input AuthorizeInput) (*mcpsdk.CallToolResult, AuthorizeOutput, error) {
	raw := []byte(input.Intent)
	p, pol, release := s.current()
	defer release()

	res, err := p.Authorize(ctx, raw, pol)
	if err != nil {
		out := AuthorizeOutput{IntentHash: receipt.Hash(raw), Reasons: []string{}}
		var ve *intent.ValidationError
		switch {
		case errors.As(err, &ve):
			out.Errors = fieldErrors(ve.Errors)
			out.Error = "intent does not match the schema"
		case errors.Is(err, intent.ErrMalformed):
			out.Error = err.Error()
		default:
			// collaborator failure: surface as a tool error
			return nil, AuthorizeOutput{}, err
		}
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}

	out := AuthorizeOutput{
		IntentHash:         res.IntentHash,
		Decision:           string(res.Decision),
		Reasons:            res.Reasons,
		Timestamp:          res.Timestamp,
		Kind:               string(res.Kind),
		RecordingSignature: res.RecordingSignature,
		ExplorerURL:        res.ExplorerURL,
		PolicyHash:         pol.Hash,
	}

	if input.Build && res.Approved() {
		tx, err := p.BuildAction(ctx, res)
		switch {
		case errors.Is(err, txbuild.ErrNoActionTransaction):
		case err != nil:
			s.log.Warn("build action failed", zap.String("intent_hash", res.IntentHash), zap.Error(err))
			out.Error = err.Error()
			return &mcpsdk.CallToolResult{IsError: true}, out, nil
		default:
			msg, err := txbuild.EncodeMessage(tx)
			if err != nil {
				return nil, AuthorizeOutput{}, err
			}
			out.UnsignedMessage = msg
		}
	}
	return nil, out, nil
}

func (s *Server) handleValidate(ctx context.Context, req *mcpsdk.CallToolRequest, input IntentInput) (*mcpsdk.CallToolResult, ValidateOutput, error) {
	raw := []byte(input.Intent)
	out := ValidateOutput{IntentHash: receipt.Hash(raw), Errors: []FieldError{}}

	in, err := s.validator.Validate(raw)
	var ve *intent.ValidationError
	switch {
	case err == nil:
		out.Valid = true
		out.Kind = string(in.Kind())
	case errors.As(err, &ve):
		out.Errors = fieldErrors(ve.Errors)
	default:
		out.Errors = []FieldError{{Path: "(root)", Message: err.Error()}}
	}
	return nil, out, nil
}

func (s *Server) handleHash(ctx context.Context, req *mcpsdk.CallToolRequest, input IntentInput) (*mcpsdk.CallToolResult, HashOutput, error) {
	return nil, HashOutput{IntentHash: receipt.Hash([]byte(input.Intent))}, nil
}

func (s *Server) handleExample(ctx context.Context, req *mcpsdk.CallToolRequest, input ExampleInput) (*mcpsdk.CallToolResult, ExampleOutput, error) {
	kind := intent.KindSOLTransfer
	if input.Kind != "" {
		k, ok := intent.ParseKind(input.Kind)
		if !ok {
			return &mcpsdk.CallToolResult{
				IsError: true,
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "unknown intent kind " + strconv.Quote(input.Kind)}},
			}, ExampleOutput{}, nil
		}
		kind = k
	}
	ex, err := intent.Example(kind, time.Now(), signer.RandomAddress)
	if err != nil {
		return nil, ExampleOutput{}, err
	}
	data, err := intent.Marshal(ex)
	if err != nil {
		return nil, ExampleOutput{}, err
	}
	return nil, ExampleOutput{Intent: string(data)}, nil
}

func fieldErrors(errs []intent.FieldError) []FieldError {
	out := make([]FieldError, len(errs))
	for i, fe := range errs {
		out[i] = FieldError{Path: fe.Path, Message: fe.Message}
	}
	return out
}
