package scenario

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/intentgate/internal/intent"
	"github.com/ppiankov/intentgate/internal/policy"
)

// Run evaluates all cases in s against cfg. Relative case files resolve
// against baseDir. Cases are independent; a broken case fails alone.
func Run(s *Scenario, cfg *policy.PolicyConfig, baseDir string) *RunResult {
	if cfg == nil {
		cfg = policy.DefaultConfig()
	}
	if s.Policy != nil {
		cfg = cfg.WithOverrides(policy.Overrides{
			MaxLamportsPerTx: s.Policy.MaxLamportsPerTx,
			AllowRecipients:  s.Policy.AllowRecipients,
		})
	}

	result := &RunResult{Name: s.Name, Total: len(s.Cases)}

	now := time.Now()
	var nowErr error
	if s.Now != "" {
		now, nowErr = time.Parse(time.RFC3339, s.Now)
	}

	v := intent.NewValidator(intent.DefaultLimits())
	for i, c := range s.Cases {
		cr := CaseResult{
			Index:    i + 1,
			Name:     c.Name,
			Expected: strings.ToLower(c.Expect),
			Reasons:  []string{},
		}
		if nowErr != nil {
			cr.Detail = fmt.Sprintf("invalid now: %v", nowErr)
		} else {
			evaluate(&cr, c, v, cfg, now, baseDir)
		}
		if cr.Passed {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Cases = append(result.Cases, cr)
	}
	return result
}

func evaluate(cr *CaseResult, c Case, v *intent.Validator, cfg *policy.PolicyConfig, now time.Time, baseDir string) {
	switch cr.Expected {
	case ExpectApprove, ExpectReject, ExpectInvalid:
	default:
		cr.Detail = fmt.Sprintf("unknown expectation %q", c.Expect)
		return
	}

	raw, err := payload(c, baseDir)
	if err != nil {
		cr.Detail = err.Error()
		return
	}

	in, err := v.Validate(raw)
	if err != nil {
		cr.Actual = ExpectInvalid
		cr.Detail = err.Error()
	} else {
		d := policy.Evaluate(in, cfg, now)
		cr.Reasons = d.Reasons
		cr.Actual = ExpectReject
		if d.Approved {
			cr.Actual = ExpectApprove
		}
	}

	if cr.Actual != cr.Expected {
		return
	}
	if missing := missingReasons(c.Reasons, cr.Reasons); len(missing) > 0 {
		cr.Detail = "missing reasons: " + strings.Join(missing, "; ")
		return
	}
	cr.Passed = true
}

func payload(c Case, baseDir string) ([]byte, error) {
	switch {
	case c.File != "" && c.Intent != nil:
		return nil, fmt.Errorf("case sets both intent and file")
	case c.File != "":
		path := c.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read intent: %w", err)
		}
		return data, nil
	case c.Intent != nil:
		data, err := json.Marshal(c.Intent)
		if err != nil {
			return nil, fmt.Errorf("encode intent: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("case has no intent")
	}
}

func missingReasons(want, got []string) []string {
	var missing []string
	for _, w := range want {
		found := false
		for _, g := range got {
			if g == w {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, w)
		}
	}
	return missing
}

// Load parses a scenario YAML file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = filepath.Base(path)
	}
	return &s, nil
}

// LoadAndRun loads a scenario file and runs it against cfg.
func LoadAndRun(path string, cfg *policy.PolicyConfig) (*RunResult, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	result := Run(s, cfg, filepath.Dir(path))
	result.File = path
	return result, nil
}
