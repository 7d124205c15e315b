package alert

// AlertConfig is one webhook destination from the policy file.
type AlertConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // ["APPROVE", "REJECT"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// Event describes one authorization decision.
type Event struct {
	Timestamp          string   `json:"timestamp"`
	IntentHash         string   `json:"intent_hash"`
	Kind               string   `json:"kind"`
	Network            string   `json:"network"`
	Recipient          string   `json:"recipient,omitempty"`
	Decision           string   `json:"decision"`
	Reasons            []string `json:"reasons"`
	PolicyHash         string   `json:"policy_hash,omitempty"`
	RecordingSignature string   `json:"recording_signature,omitempty"`
	ExplorerURL        string   `json:"explorer_url,omitempty"`
}
