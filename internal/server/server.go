// Package server exposes the authorization pipeline over gRPC.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/intentgate/internal/alert"
	"github.com/ppiankov/intentgate/internal/authorize"
	"github.com/ppiankov/intentgate/internal/chain"
	"github.com/ppiankov/intentgate/internal/intent"
	"github.com/ppiankov/intentgate/internal/policy"
	"github.com/ppiankov/intentgate/internal/receipt"
	"github.com/ppiankov/intentgate/internal/txbuild"
)

// Config holds gRPC server configuration.
type Config struct {
	Port       int
	PolicyPath string
	Overrides  policy.Overrides
	// Pipeline options shared by every request: recorder, chain, journal.
	Pipeline []authorize.Option
	Logger   *zap.Logger
}

// Server implements IntentGateServer.
type Server struct {
	cfg       Config
	store     *policy.Store
	log       *zap.Logger
	validator *intent.Validator
	pipelines authorize.Swapper

	grpcServer *grpc.Server
}

// New loads the policy and registers the service.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	store, err := policy.NewStore(cfg.PolicyPath, cfg.Overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy config: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		store:     store,
		log:       cfg.Logger.Named("server"),
		validator: intent.NewValidator(intent.DefaultLimits()),
	}
	s.rebuild()

	s.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(s.logUnary))
	s.grpcServer.RegisterService(&ServiceDesc, s)
	return s, nil
}

// rebuild swaps in a pipeline whose alert webhooks match the current policy.
func (s *Server) rebuild() {
	cfg, _ := s.store.Current()
	alerts := alert.NewDispatcher(cfg.Alerts, s.cfg.Logger)
	opts := append([]authorize.Option{
		authorize.WithLogger(s.cfg.Logger),
		authorize.WithValidator(s.validator),
		authorize.WithAlerts(alerts),
	}, s.cfg.Pipeline...)
	s.pipelines.Swap(authorize.New(opts...), alerts)
}

// current returns the serving pipeline and policy. Call release when done.
func (s *Server) current() (p *authorize.Pipeline, pol authorize.Policy, release func()) {
	p, release = s.pipelines.Acquire()
	cfg, hash := s.store.Current()
	return p, authorize.Policy{Config: cfg, Hash: hash}, release
}

// ReloadPolicy re-reads the policy file. Called by the hot-reloader.
func (s *Server) ReloadPolicy() error {
	if err := s.store.Reload(); err != nil {
		return err
	}
	s.rebuild()
	return nil
}

// Serve starts the gRPC server on the configured port. Blocks until stopped.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.cfg.Port, err)
	}
	return s.grpcServer.Serve(lis)
}

// ServeOn starts the gRPC server on the given listener.
func (s *Server) ServeOn(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop drains in-flight calls and pending webhooks.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
	s.pipelines.Drain()
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.log.Info("rpc",
		zap.String("method", info.FullMethod),
		zap.Stringer("code", status.Code(err)),
		zap.Duration("elapsed", time.Since(start)))
	return resp, err
}

// Authorize runs the full pipeline on the "intent" string field.
// Optional fields:
//
//	maxLamports     number   per-request cap override
//	allowRecipients []string per-request allowlist override
//	build           bool     return the base64 unsigned action message
func (s *Server) Authorize(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	raw, err := rawIntent(req)
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	p, pol, release := s.current()
	defer release()

	o, err := requestOverrides(req)
	if err != nil {
		return nil, err
	}
	pol.Config = pol.Config.WithOverrides(o)

	res, err := p.Authorize(ctx, raw, pol)
	if err != nil {
		return nil, toStatus(err)
	}

	out := resultFields(res)
	out["policyHash"] = pol.Hash
	out["requestId"] = requestID

	if req.GetFields()["build"].GetBoolValue() && res.Approved() {
		tx, err := p.BuildAction(ctx, res)
		switch {
		case errors.Is(err, txbuild.ErrNoActionTransaction):
			// receipt-only kinds answer without a message
		case err != nil:
			return nil, toStatus(err)
		default:
			msg, err := txbuild.EncodeMessage(tx)
			if err != nil {
				return nil, status.Error(codes.Internal, err.Error())
			}
			out["unsignedMessage"] = msg
		}
	}
	return structpb.NewStruct(out)
}

// Validate checks the schema only. Schema violations are part of the
// response, not an error.
func (s *Server) Validate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	raw, err := rawIntent(req)
	if err != nil {
		return nil, err
	}
	out := map[string]any{"intentHash": receipt.Hash(raw)}

	in, err := s.validator.Validate(raw)
	var ve *intent.ValidationError
	switch {
	case err == nil:
		out["valid"] = true
		out["kind"] = string(in.Kind())
		out["errors"] = []any{}
	case errors.As(err, &ve):
		out["valid"] = false
		out["errors"] = fieldErrors(ve.Errors)
	default:
		out["valid"] = false
		out["errors"] = []any{map[string]any{"path": "(root)", "message": err.Error()}}
	}
	return structpb.NewStruct(out)
}

// Hash returns the receipt hash of the raw payload.
func (s *Server) Hash(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	raw, err := rawIntent(req)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"intentHash": receipt.Hash(raw)})
}

func rawIntent(req *structpb.Struct) ([]byte, error) {
	v, ok := req.GetFields()["intent"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, `missing "intent" field`)
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return nil, status.Error(codes.InvalidArgument, `"intent" must be the raw JSON payload as a string`)
	}
	return []byte(sv.StringValue), nil
}

func requestOverrides(req *structpb.Struct) (policy.Overrides, error) {
	var o policy.Overrides
	fields := req.GetFields()
	if v, ok := fields["maxLamports"]; ok {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok || n.NumberValue < 0 || n.NumberValue != float64(uint64(n.NumberValue)) {
			return o, status.Error(codes.InvalidArgument, `"maxLamports" must be a non-negative integer`)
		}
		limit := uint64(n.NumberValue)
		o.MaxLamportsPerTx = &limit
	}
	if v, ok := fields["allowRecipients"]; ok {
		list := v.GetListValue()
		if list == nil {
			return o, status.Error(codes.InvalidArgument, `"allowRecipients" must be a list of strings`)
		}
		for _, item := range list.GetValues() {
			sv, ok := item.GetKind().(*structpb.Value_StringValue)
			if !ok {
				return o, status.Error(codes.InvalidArgument, `"allowRecipients" must be a list of strings`)
			}
			o.AllowRecipients = append(o.AllowRecipients, sv.StringValue)
		}
	}
	return o, nil
}

func resultFields(res *authorize.Result) map[string]any {
	reasons := make([]any, len(res.Reasons))
	for i, r := range res.Reasons {
		reasons[i] = r
	}
	out := map[string]any{
		"intentHash": res.IntentHash,
		"decision":   string(res.Decision),
		"reasons":    reasons,
		"timestamp":  res.Timestamp,
		"kind":       string(res.Kind),
	}
	if res.RecordingSignature != "" {
		out["recordingSignature"] = res.RecordingSignature
		out["explorerUrl"] = res.ExplorerURL
	}
	return out
}

func fieldErrors(errs []intent.FieldError) []any {
	out := make([]any, len(errs))
	for i, fe := range errs {
		out[i] = map[string]any{"path": fe.Path, "message": fe.Message}
	}
	return out
}

// toStatus maps the error taxonomy onto gRPC codes.
func toStatus(err error) error {
	var ce *chain.Error
	switch {
	case errors.Is(err, intent.ErrMalformed), errors.Is(err, intent.ErrSchema):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, txbuild.ErrMisuse), errors.Is(err, txbuild.ErrInvalidAddress):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.As(err, &ce):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
