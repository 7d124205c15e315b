// Package mcp exposes intent authorization as MCP tools for agents.
package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/intentgate/internal/alert"
	"github.com/ppiankov/intentgate/internal/authorize"
	"github.com/ppiankov/intentgate/internal/intent"
	"github.com/ppiankov/intentgate/internal/policy"
)

// Config holds MCP server configuration.
type Config struct {
	PolicyPath string
	Overrides  policy.Overrides
	// Pipeline options shared by every call: recorder, chain, journal.
	Pipeline []authorize.Option
	Version  string
	Logger   *zap.Logger
}

// Server wraps the MCP SDK server around the authorization pipeline.
type Server struct {
	mcpServer *mcpsdk.Server
	cfg       Config
	store     *policy.Store
	log       *zap.Logger
	validator *intent.Validator
	pipelines authorize.Swapper
}

// New creates an MCP server with the policy loaded and tools registered.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	store, err := policy.NewStore(cfg.PolicyPath, cfg.Overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy config: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		store:     store,
		log:       cfg.Logger.Named("mcp"),
		validator: intent.NewValidator(intent.DefaultLimits()),
	}
	s.rebuild()

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "intentgate",
			Version: cfg.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

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

func (s *Server) current() (p *authorize.Pipeline, pol authorize.Policy, release func()) {
	p, release = s.pipelines.Acquire()
	cfg, hash := s.store.Current()
	return p, authorize.Policy{Config: cfg, Hash: hash}, release
}

// ReloadPolicy re-reads the policy file. A failed reload keeps the
// previous policy.
func (s *Server) ReloadPolicy() error {
	if err := s.store.Reload(); err != nil {
		return err
	}
	s.rebuild()
	return nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.RunTransport(ctx, &mcpsdk.StdioTransport{})
}

// RunTransport serves on an arbitrary transport and drains pending
// webhooks before returning.
func (s *Server) RunTransport(ctx context.Context, t mcpsdk.Transport) error {
	err := s.mcpServer.Run(ctx, t)
	s.pipelines.Drain()
	return err
}

// registerTools adds all intentgate tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "intent_authorize",
		Description: "Validate an intent JSON payload, evaluate it against the operator policy, and return an APPROVE or REJECT receipt with reasons. Set build=true to also get the unsigned action transaction for approved transfers.",
	}, s.handleAuthorize)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "intent_validate",
		Description: "Check an intent JSON payload against the intent schema without evaluating policy. Returns every field violation.",
	}, s.handleValidate)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "intent_hash",
		Description: "Return the receipt hash (hex SHA-256 of the exact payload bytes) for an intent payload.",
	}, s.handleHash)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "intent_example",
		Description: "Return an example intent of the given kind (sol_transfer, token_transfer, memo_only) expiring in one hour.",
	}, s.handleExample)
}
