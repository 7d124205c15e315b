package scenario

// Expected outcomes a case may assert.
const (
	ExpectApprove = "approve"
	ExpectReject  = "reject"
	ExpectInvalid = "invalid"
)

// Case is one assertion: an intent (inline or from a file) and the
// decision the policy must reach for it.
type Case struct {
	Name string `yaml:"name,omitempty"`
	// Intent is the intent payload written as YAML. It is converted to
	// JSON before validation.
	Intent map[string]any `yaml:"intent,omitempty"`
	// File is an intent JSON file, relative to the scenario file.
	File   string `yaml:"file,omitempty"`
	Expect string `yaml:"expect"`
	// Reasons must all appear among the rejection reasons.
	Reasons []string `yaml:"reasons,omitempty"`
}

// PolicyOverrides adjusts the loaded policy for every case in a scenario.
type PolicyOverrides struct {
	MaxLamportsPerTx *uint64  `yaml:"max_lamports_per_tx,omitempty"`
	AllowRecipients  []string `yaml:"allow_recipients,omitempty"`
}

// Scenario is a named collection of policy assertions.
type Scenario struct {
	Name string `yaml:"name"`
	// Now pins evaluation time (RFC 3339) so expiry checks are repeatable.
	Now    string           `yaml:"now,omitempty"`
	Policy *PolicyOverrides `yaml:"policy,omitempty"`
	Cases  []Case           `yaml:"cases"`
}

// CaseResult is the outcome of evaluating one case.
type CaseResult struct {
	Index    int      `json:"index"`
	Name     string   `json:"name,omitempty"`
	Passed   bool     `json:"passed"`
	Expected string   `json:"expected"`
	Actual   string   `json:"actual"`
	Reasons  []string `json:"reasons"`
	Detail   string   `json:"detail,omitempty"`
}

// RunResult is the outcome of running all cases in one scenario file.
type RunResult struct {
	File   string       `json:"file"`
	Name   string       `json:"name"`
	Total  int          `json:"total"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Cases  []CaseResult `json:"cases"`
}
