package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/intentgate/internal/alert"
)

// DefaultMaxLamportsPerTx is the per-transaction cap used when no policy file exists.
const DefaultMaxLamportsPerTx = 2_000_000

// PolicyConfig holds all configurable policy parameters. It is read-only
// once loaded; overrides produce a copy.
type PolicyConfig struct {
	MaxLamportsPerTx uint64   `yaml:"max_lamports_per_tx"`
	AllowRecipients  []string `yaml:"allow_recipients"`
	// RequireAllowlist turns an empty allowlist from "anyone" into "no one".
	RequireAllowlist bool                `yaml:"require_allowlist"`
	Alerts           []alert.AlertConfig `yaml:"alerts"`
}

// Overrides are per-invocation adjustments supplied by the caller.
type Overrides struct {
	MaxLamportsPerTx *uint64
	AllowRecipients  []string
}

// DefaultConfig returns the built-in policy: a 0.002 SOL cap and no allowlist.
func DefaultConfig() *PolicyConfig {
	return &PolicyConfig{
		MaxLamportsPerTx: DefaultMaxLamportsPerTx,
	}
}

// WithOverrides returns a copy of c with the overrides applied.
// A non-empty AllowRecipients override replaces the configured list.
func (c *PolicyConfig) WithOverrides(o Overrides) *PolicyConfig {
	out := *c
	out.AllowRecipients = append([]string(nil), c.AllowRecipients...)
	out.Alerts = append([]alert.AlertConfig(nil), c.Alerts...)
	if o.MaxLamportsPerTx != nil {
		out.MaxLamportsPerTx = *o.MaxLamportsPerTx
	}
	if len(o.AllowRecipients) > 0 {
		out.AllowRecipients = append([]string(nil), o.AllowRecipients...)
	}
	return &out
}

// DefaultPath returns ~/.intentgate/policy.yaml, or "" if home is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".intentgate", "policy.yaml")
}

// LoadConfig loads policy configuration from a YAML file.
// Empty path falls back to ~/.intentgate/policy.yaml.
// Missing file returns defaults. Invalid YAML returns an error.
func LoadConfig(path string) (*PolicyConfig, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads policy configuration and returns its SHA-256 hash.
// The hash is computed over the raw YAML bytes on disk.
// When no file exists (defaults used), the hash is the SHA-256 of empty input.
func LoadConfigWithHash(path string) (*PolicyConfig, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, "", fmt.Errorf("failed to read policy config: %w", err)
		}
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("failed to parse policy config: %w", err)
		}
	}

	return cfg, hash, nil
}

// DefaultConfigYAML returns a commented YAML string for init-policy.
func DefaultConfigYAML() string {
	return `# intentgate policy configuration
# Generated by: intentgate init-policy
#
# Every rule runs on every intent; all violations are reported together.
#   1. Expiry: now must be strictly before expiresAt
#   2. Cap (sol_transfer only): maxLamports (or lamports) <= max_lamports_per_tx
#   3. Allowlist (sol_transfer, token_transfer): recipient must be listed
#   4. Kind sanity: recipient, mint and memo must be non-empty

# Per-transaction cap in lamports (1 SOL = 1000000000 lamports).
max_lamports_per_tx: 2000000

# Recipients allowed to receive transfers. Empty means unrestricted
# unless require_allowlist is true.
allow_recipients: []

# Reject every transfer while allow_recipients is empty.
require_allowlist: false

# Decision webhooks. events: APPROVE, REJECT. format: generic | slack
alerts: []
#  - url: https://hooks.example.com/intentgate
#    format: slack
#    events: [REJECT]
`
}
