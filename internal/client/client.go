// Package client talks to a remote intentgate authorization server.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/intentgate/internal/server"
)

const defaultTimeout = 30 * time.Second

// Decision is the server's answer for one intent.
type Decision struct {
	IntentHash         string   `json:"intentHash"`
	Decision           string   `json:"decision"`
	Reasons            []string `json:"reasons"`
	Timestamp          string   `json:"timestamp"`
	Kind               string   `json:"kind"`
	RecordingSignature string   `json:"recordingSignature,omitempty"`
	ExplorerURL        string   `json:"explorerUrl,omitempty"`
	PolicyHash         string   `json:"policyHash"`
	RequestID          string   `json:"requestId"`
	UnsignedMessage    string   `json:"unsignedMessage,omitempty"`
}

// Approved reports whether the server approved the intent.
func (d *Decision) Approved() bool { return d.Decision == "APPROVE" }

// FieldError is one schema violation reported by Validate.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// AuthorizeOptions are per-request policy overrides.
type AuthorizeOptions struct {
	MaxLamports     *uint64
	AllowRecipients []string
	Build           bool
}

// Client connects to an intentgate gRPC server.
type Client struct {
	conn    *grpc.ClientConn
	rpc     *server.Client
	timeout time.Duration
}

// New creates a gRPC client for addr. The connection is established lazily.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to authorization server: %w", err)
	}
	return &Client{conn: conn, rpc: server.NewClient(conn), timeout: defaultTimeout}, nil
}

// Authorize sends the exact payload bytes to the server.
func (c *Client) Authorize(ctx context.Context, raw []byte, opts AuthorizeOptions) (*Decision, error) {
	fields := map[string]any{"intent": string(raw)}
	if opts.MaxLamports != nil {
		fields["maxLamports"] = float64(*opts.MaxLamports)
	}
	if len(opts.AllowRecipients) > 0 {
		list := make([]any, len(opts.AllowRecipients))
		for i, r := range opts.AllowRecipients {
			list[i] = r
		}
		fields["allowRecipients"] = list
	}
	if opts.Build {
		fields["build"] = true
	}

	var d Decision
	if err := c.call(ctx, c.rpc.Authorize, fields, &d); err != nil {
		return nil, err
	}
	if d.Reasons == nil {
		d.Reasons = []string{}
	}
	return &d, nil
}

// Validate returns the schema violations of raw; none means valid.
func (c *Client) Validate(ctx context.Context, raw []byte) ([]FieldError, error) {
	var out struct {
		Valid  bool         `json:"valid"`
		Errors []FieldError `json:"errors"`
	}
	if err := c.call(ctx, c.rpc.Validate, map[string]any{"intent": string(raw)}, &out); err != nil {
		return nil, err
	}
	if out.Valid {
		return nil, nil
	}
	return out.Errors, nil
}

// Hash returns the server-computed receipt hash of raw.
func (c *Client) Hash(ctx context.Context, raw []byte) (string, error) {
	var out struct {
		IntentHash string `json:"intentHash"`
	}
	if err := c.call(ctx, c.rpc.Hash, map[string]any{"intent": string(raw)}, &out); err != nil {
		return "", err
	}
	return out.IntentHash, nil
}

// Gate is the fail-closed check for callers that only need yes or no:
// an unreachable server or invalid intent is a denial, with the cause
// as the reason.
func (c *Client) Gate(ctx context.Context, raw []byte) (bool, []string) {
	d, err := c.Authorize(ctx, raw, AuthorizeOptions{})
	if err != nil {
		return false, []string{fmt.Sprintf("authorization unavailable: %v", err)}
	}
	return d.Approved(), d.Reasons
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

type unaryFunc func(context.Context, *structpb.Struct, ...grpc.CallOption) (*structpb.Struct, error)

func (c *Client) call(ctx context.Context, fn unaryFunc, fields map[string]any, out any) error {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := fn(ctx, req)
	if err != nil {
		return err
	}
	data, err := protojson.Marshal(resp)
	if err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}
